package voicestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voicemimic/pkg/audio"
)

// fakeClock is a settable clock shared between a test and a store.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// storeFactory opens a fresh store for one test.
type storeFactory func(t *testing.T, opts ...Option) Store

func testVoice(id string, emb ...float32) Voice {
	return Voice{
		UserID:     id,
		SourceName: id + ".wav",
		Reference:  audio.New([]float64{0, 0.25, -0.5, 0.75}, 22050),
		Embedding:  emb,
		ModelID:    "test",
	}
}

// suiteOptions adapts the shared suite to backend limits.
type suiteOptions struct {
	// serial disables t.Parallel for backends whose tests share state.
	serial bool
	// fixedDims skips embeddings whose length differs from the others.
	fixedDims bool
}

// runStoreSuite exercises the Store contract against one implementation.
func runStoreSuite(t *testing.T, so suiteOptions, open storeFactory) {
	ctx := context.Background()
	parallel := func(t *testing.T) {
		if !so.serial {
			t.Parallel()
		}
	}

	t.Run("PutGet", func(t *testing.T) {
		parallel(t)
		clk := newFakeClock()
		s := open(t, WithClock(clk.Now), WithTTL(time.Hour))

		if err := s.Put(ctx, testVoice("alice", 1, 0, 0)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "alice")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.SourceName != "alice.wav" || got.ModelID != "test" {
			t.Errorf("got %+v", got)
		}
		if got.Reference.SampleRate != 22050 || got.Reference.Len() != 4 {
			t.Errorf("reference = %d samples at %d Hz", got.Reference.Len(), got.Reference.SampleRate)
		}
		if d := got.Reference.Samples[3] - 0.75; d > 1e-3 || d < -1e-3 {
			t.Errorf("sample 3 = %v, want ~0.75", got.Reference.Samples[3])
		}
		if len(got.Embedding) != 3 || got.Embedding[0] != 1 {
			t.Errorf("embedding = %v", got.Embedding)
		}
		if !got.CreatedAt.Equal(clk.Now()) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, clk.Now())
		}
		if !got.ExpiresAt.Equal(clk.Now().Add(time.Hour)) {
			t.Errorf("ExpiresAt = %v, want +1h", got.ExpiresAt)
		}
		if !got.Usable() {
			t.Error("voice should be usable")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		parallel(t)
		s := open(t)
		if _, err := s.Get(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("PutReplaces", func(t *testing.T) {
		parallel(t)
		s := open(t)
		s.Put(ctx, testVoice("bob", 1, 0, 0))
		replacement := testVoice("bob")
		replacement.Failure = &Failure{Type: FailureProcessing, Message: "boom", Solution: "retry"}
		replacement.Reference = audio.Waveform{}
		if err := s.Put(ctx, replacement); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "bob")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Failure == nil || got.Failure.Type != FailureProcessing || got.Failure.Solution != "retry" {
			t.Errorf("failure = %+v", got.Failure)
		}
		if got.Usable() {
			t.Error("failed voice should not be usable")
		}
		if len(got.Embedding) != 0 {
			t.Errorf("embedding = %v, want none", got.Embedding)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		parallel(t)
		s := open(t)
		s.Put(ctx, testVoice("carol"))
		if err := s.Delete(ctx, "carol"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, "carol"); !errors.Is(err, ErrNotFound) {
			t.Errorf("after delete: err = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "carol"); err != nil {
			t.Errorf("second Delete: %v", err)
		}
	})

	t.Run("ExpiryAndSweep", func(t *testing.T) {
		parallel(t)
		clk := newFakeClock()
		s := open(t, WithClock(clk.Now), WithTTL(time.Hour))
		s.Put(ctx, testVoice("old"))
		clk.Advance(30 * time.Minute)
		s.Put(ctx, testVoice("new"))
		clk.Advance(45 * time.Minute)

		if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expired Get: err = %v, want ErrNotFound", err)
		}
		if _, err := s.Get(ctx, "new"); err != nil {
			t.Errorf("live Get: %v", err)
		}
		list, _ := s.List(ctx)
		if len(list) != 1 || list[0].UserID != "new" {
			t.Errorf("List = %v, want [new]", ids(list))
		}
		n, err := s.Sweep(ctx)
		if err != nil {
			t.Fatalf("Sweep: %v", err)
		}
		if n != 1 {
			t.Errorf("Sweep removed %d, want 1", n)
		}
		if n, _ := s.Sweep(ctx); n != 0 {
			t.Errorf("second Sweep removed %d, want 0", n)
		}
	})

	t.Run("SetTTL", func(t *testing.T) {
		parallel(t)
		clk := newFakeClock()
		s := open(t, WithClock(clk.Now))
		s.Put(ctx, testVoice("forever"))
		s.SetTTL(time.Minute)
		s.Put(ctx, testVoice("brief"))
		clk.Advance(2 * time.Minute)

		if _, err := s.Get(ctx, "forever"); err != nil {
			t.Errorf("no-TTL voice expired: %v", err)
		}
		if _, err := s.Get(ctx, "brief"); !errors.Is(err, ErrNotFound) {
			t.Errorf("TTL voice: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListOrder", func(t *testing.T) {
		parallel(t)
		clk := newFakeClock()
		s := open(t, WithClock(clk.Now))
		for _, id := range []string{"z", "a", "m"} {
			s.Put(ctx, testVoice(id))
			clk.Advance(time.Second)
		}
		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if got := ids(list); len(got) != 3 || got[0] != "z" || got[1] != "a" || got[2] != "m" {
			t.Errorf("List = %v, want [z a m]", got)
		}
	})

	t.Run("Nearest", func(t *testing.T) {
		parallel(t)
		s := open(t)
		s.Put(ctx, testVoice("east", 1, 0, 0))
		s.Put(ctx, testVoice("north", 0, 1, 0))
		s.Put(ctx, testVoice("northeast", 1, 1, 0))
		if !so.fixedDims {
			s.Put(ctx, testVoice("short", 1, 0))
		}
		s.Put(ctx, testVoice("none"))

		got, err := s.Nearest(ctx, []float32{1, 0.1, 0}, 2)
		if err != nil {
			t.Fatalf("Nearest: %v", err)
		}
		if len(got) != 2 || got[0].UserID != "east" || got[1].UserID != "northeast" {
			t.Fatalf("Nearest = %+v, want [east northeast]", got)
		}
		if got[0].Similarity < got[1].Similarity || got[0].Similarity > 1.0001 {
			t.Errorf("similarities = %v, %v", got[0].Similarity, got[1].Similarity)
		}

		if got, _ := s.Nearest(ctx, []float32{1, 0, 0}, 0); len(got) != 0 {
			t.Errorf("k=0 returned %d matches", len(got))
		}
		if got, _ := s.Nearest(ctx, nil, 3); len(got) != 0 {
			t.Errorf("empty query returned %d matches", len(got))
		}
	})
}

func ids(vs []Voice) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.UserID
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, suiteOptions{}, func(t *testing.T, opts ...Option) Store {
		return NewMemory(opts...)
	})
}

func TestBadgerStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, suiteOptions{}, func(t *testing.T, opts ...Option) Store {
		s, err := NewBadger(BadgerOptions{InMemory: true}, opts...)
		if err != nil {
			t.Fatalf("NewBadger: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryMaxEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := newFakeClock()
	s := NewMemory(WithClock(clk.Now), WithMaxEntries(2))
	for _, id := range []string{"a", "b"} {
		s.Put(ctx, testVoice(id))
		clk.Advance(time.Second)
	}
	// Replacing an existing user never evicts.
	s.Put(ctx, testVoice("a"))
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	clk.Advance(time.Second)
	s.Put(ctx, testVoice("c"))
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if _, err := s.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest entry b not evicted: err = %v", err)
	}
	for _, id := range []string{"a", "c"} {
		if _, err := s.Get(ctx, id); err != nil {
			t.Errorf("Get(%q): %v", id, err)
		}
	}
}

func TestMemoryIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()
	v := testVoice("iso", 1, 2)
	v.Failure = &Failure{Type: "x"}
	s.Put(ctx, v)
	v.Reference.Samples[0] = 99
	v.Embedding[0] = 99
	v.Failure.Type = "mutated"

	got, _ := s.Get(ctx, "iso")
	if got.Reference.Samples[0] == 99 || got.Embedding[0] == 99 || got.Failure.Type != "x" {
		t.Error("store shares memory with the caller's Put argument")
	}
	got.Reference.Samples[1] = 42
	again, _ := s.Get(ctx, "iso")
	if again.Reference.Samples[1] == 42 {
		t.Error("store shares memory with a Get result")
	}
}

func TestMemoryConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory(WithTTL(time.Hour))
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			for range 50 {
				s.Put(ctx, testVoice(id, 1, float32(i)))
				s.Get(ctx, id)
				s.Nearest(ctx, []float32{1, 1}, 3)
				s.List(ctx)
				s.Sweep(ctx)
			}
		}()
	}
	wg.Wait()
	if s.Len() != 8 {
		t.Errorf("Len = %d, want 8", s.Len())
	}
}

func TestBadgerOptions(t *testing.T) {
	t.Parallel()
	if _, err := NewBadger(BadgerOptions{}); err == nil {
		t.Error("expected error without dir")
	}
	s, err := NewBadger(BadgerOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewBadger on disk: %v", err)
	}
	ctx := context.Background()
	s.Put(ctx, testVoice("disk", 0.5))
	if _, err := s.Sweep(ctx); err != nil {
		t.Errorf("Sweep on disk: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBadgerPersists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadger(BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	s.Put(ctx, testVoice("kept", 0.1, 0.2))
	s.Close()

	s, err = NewBadger(BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, "kept")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if len(got.Embedding) != 2 || got.Embedding[1] != 0.2 {
		t.Errorf("embedding = %v", got.Embedding)
	}
}

func TestRank(t *testing.T) {
	t.Parallel()
	voices := []Voice{
		{UserID: "b", Embedding: []float32{1, 0}},
		{UserID: "a", Embedding: []float32{1, 0}},
		{UserID: "c", Embedding: []float32{-1, 0}},
	}
	got := rank(voices, []float32{1, 0}, 5)
	if len(got) != 3 || got[0].UserID != "a" || got[1].UserID != "b" || got[2].UserID != "c" {
		t.Errorf("rank = %+v, want ties broken by id then c last", got)
	}
}
