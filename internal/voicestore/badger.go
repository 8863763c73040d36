package voicestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/voicemimic/pkg/audio"
)

var _ Store = (*Badger)(nil)

var keyPrefix = []byte("voice:")

// BadgerOptions configures a Badger store.
type BadgerOptions struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory keeps all data in memory. Useful for tests.
	InMemory bool

	// Logger receives badger's warnings and errors. Nil uses slog.Default().
	Logger *slog.Logger
}

// Badger is a Store backed by BadgerDB. Records are msgpack-encoded and carry
// badger's native TTL, so expired voices disappear even if Sweep never runs.
type Badger struct {
	db       *badger.DB
	inMemory bool
	now      func() time.Time

	mu  sync.RWMutex
	ttl time.Duration
}

// record is the msgpack wire form of a Voice. Times are Unix nanoseconds with
// zero meaning unset.
type record struct {
	UserID     string    `msgpack:"user_id"`
	SourceName string    `msgpack:"source_name,omitempty"`
	Rate       int       `msgpack:"rate"`
	Samples    []float64 `msgpack:"samples"`
	Embedding  []float32 `msgpack:"embedding,omitempty"`
	ModelID    string    `msgpack:"model_id,omitempty"`
	Failure    *Failure  `msgpack:"failure,omitempty"`
	CreatedAt  int64     `msgpack:"created_at"`
	ExpiresAt  int64     `msgpack:"expires_at"`
}

// NewBadger opens a Badger store.
func NewBadger(bopts BadgerOptions, opts ...Option) (*Badger, error) {
	if !bopts.InMemory && bopts.Dir == "" {
		return nil, errors.New("voicestore: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(bopts.Dir)
	if bopts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := bopts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{l: logger.With("component", "badger")})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("voicestore: open badger: %w", err)
	}
	o := buildOptions(opts)
	return &Badger{db: db, inMemory: bopts.InMemory, now: o.now, ttl: o.ttl}, nil
}

func voiceKey(userID string) []byte {
	return append(append([]byte{}, keyPrefix...), userID...)
}

// Put implements Store.
func (b *Badger) Put(_ context.Context, v Voice) error {
	b.mu.RLock()
	ttl := b.ttl
	b.mu.RUnlock()

	now := b.now()
	v = stamp(v, now, ttl)
	data, err := msgpack.Marshal(toRecord(v))
	if err != nil {
		return fmt.Errorf("voicestore: encode %q: %w", v.UserID, err)
	}
	e := badger.NewEntry(voiceKey(v.UserID), data)
	if !v.ExpiresAt.IsZero() {
		left := v.ExpiresAt.Sub(now)
		if left <= 0 {
			return b.Delete(context.Background(), v.UserID)
		}
		e = e.WithTTL(left)
	}
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) }); err != nil {
		return fmt.Errorf("voicestore: put %q: %w", v.UserID, err)
	}
	return nil
}

// Get implements Store.
func (b *Badger) Get(_ context.Context, userID string) (Voice, error) {
	var v Voice
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(voiceKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var derr error
			v, derr = decodeRecord(val)
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Voice{}, ErrNotFound
	}
	if err != nil {
		return Voice{}, fmt.Errorf("voicestore: get %q: %w", userID, err)
	}
	if v.Expired(b.now()) {
		return Voice{}, ErrNotFound
	}
	return v, nil
}

// Delete implements Store.
func (b *Badger) Delete(_ context.Context, userID string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(voiceKey(userID))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("voicestore: delete %q: %w", userID, err)
	}
	return nil
}

// scan calls fn for every decodable record under the voice prefix.
func (b *Badger) scan(fn func(Voice)) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: keyPrefix, PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				v, err := decodeRecord(val)
				if err != nil {
					return err
				}
				fn(v)
				return nil
			})
			if err != nil {
				slog.Warn("voicestore: skipping undecodable record",
					"key", string(it.Item().Key()), "err", err)
			}
		}
		return nil
	})
}

// List implements Store.
func (b *Badger) List(_ context.Context) ([]Voice, error) {
	now := b.now()
	out := []Voice{}
	err := b.scan(func(v Voice) {
		if !v.Expired(now) {
			out = append(out, v)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("voicestore: list: %w", err)
	}
	sortByCreated(out)
	return out, nil
}

// Nearest implements Store.
func (b *Badger) Nearest(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	live, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	return rank(live, embedding, k), nil
}

// Sweep implements Store. Besides deleting records past their expiry it runs
// one round of value log garbage collection for on-disk databases.
func (b *Badger) Sweep(_ context.Context) (int, error) {
	now := b.now()
	var expired [][]byte
	err := b.scan(func(v Voice) {
		if v.Expired(now) {
			expired = append(expired, voiceKey(v.UserID))
		}
	})
	if err != nil {
		return 0, fmt.Errorf("voicestore: sweep: %w", err)
	}
	if len(expired) > 0 {
		wb := b.db.NewWriteBatch()
		defer wb.Cancel()
		for _, k := range expired {
			if err := wb.Delete(k); err != nil {
				return 0, fmt.Errorf("voicestore: sweep: %w", err)
			}
		}
		if err := wb.Flush(); err != nil {
			return 0, fmt.Errorf("voicestore: sweep: %w", err)
		}
	}
	if !b.inMemory {
		if err := b.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			slog.Warn("voicestore: value log gc failed", "err", err)
		}
	}
	return len(expired), nil
}

// SetTTL implements Store.
func (b *Badger) SetTTL(ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ttl = ttl
}

// Close implements Store.
func (b *Badger) Close() error {
	return b.db.Close()
}

func toRecord(v Voice) record {
	return record{
		UserID:     v.UserID,
		SourceName: v.SourceName,
		Rate:       v.Reference.SampleRate,
		Samples:    v.Reference.Samples,
		Embedding:  v.Embedding,
		ModelID:    v.ModelID,
		Failure:    v.Failure,
		CreatedAt:  unixNano(v.CreatedAt),
		ExpiresAt:  unixNano(v.ExpiresAt),
	}
}

func decodeRecord(data []byte) (Voice, error) {
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return Voice{}, err
	}
	return Voice{
		UserID:     r.UserID,
		SourceName: r.SourceName,
		Reference:  audio.Waveform{Samples: r.Samples, SampleRate: r.Rate},
		Embedding:  r.Embedding,
		ModelID:    r.ModelID,
		Failure:    r.Failure,
		CreatedAt:  fromUnixNano(r.CreatedAt),
		ExpiresAt:  fromUnixNano(r.ExpiresAt),
	}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// badgerLogger routes badger's log output through slog, dropping info and
// debug chatter.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn(fmt.Sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...any)          {}
func (badgerLogger) Debugf(string, ...any)         {}
