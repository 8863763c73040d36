// Package voicestore keeps per-user reference voices with a time-to-live.
//
// A [Voice] holds the uploaded reference waveform at its native sample rate,
// the speaker embedding computed from it, and the failure recorded when
// processing the upload went wrong. Stores are keyed by user id; a later
// [Store.Put] for the same user replaces the earlier record.
//
// Three implementations exist: [Memory] (process-local), [Badger] (embedded
// on-disk key/value store with native TTL) and [Postgres] (pgvector-backed,
// shared between replicas). All are safe for concurrent use.
package voicestore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
)

// ErrNotFound is returned by Get when no live record exists for the user.
var ErrNotFound = errors.New("voicestore: voice not found")

// Failure types recorded on a Voice and reported over HTTP.
const (
	FailureMissingDependency = "missing_dependency"
	FailureProcessing        = "processing_failed"
	FailureEncoderNotLoaded  = "encoder_not_loaded"
	FailureNoVoiceSample     = "no_voice_sample"
)

// Failure describes why a voice upload could not be used for adaptation.
type Failure struct {
	Type     string `json:"error_type" msgpack:"type"`
	Message  string `json:"message" msgpack:"message"`
	Solution string `json:"solution" msgpack:"solution"`
}

// Voice is the stored record for one user.
type Voice struct {
	UserID string

	// SourceName is the original upload file name.
	SourceName string

	// Reference is the decoded upload at its native rate. Empty when
	// processing failed before decoding finished.
	Reference audio.Waveform

	// Embedding is the speaker embedding of the 16 kHz trimmed reference, and
	// ModelID names the extractor that produced it. Nil when unavailable.
	Embedding []float32
	ModelID   string

	// Failure is non-nil when the upload could not be fully processed.
	Failure *Failure

	CreatedAt time.Time
	ExpiresAt time.Time // zero means never
}

// Usable reports whether v can drive voice adaptation.
func (v Voice) Usable() bool {
	return v.Failure == nil && v.Reference.Len() > 0
}

// Expired reports whether v has passed its expiry at now.
func (v Voice) Expired(now time.Time) bool {
	return !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt)
}

// Match is one result of a similarity search.
type Match struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
}

// Store is the persistence contract for user voices.
type Store interface {
	// Put inserts or replaces the record for v.UserID. A zero CreatedAt is set
	// to the current time; a zero ExpiresAt is derived from the store TTL.
	Put(ctx context.Context, v Voice) error

	// Get returns the live record for userID or ErrNotFound.
	Get(ctx context.Context, userID string) (Voice, error)

	// Delete removes the record for userID. Deleting a missing user is not an
	// error.
	Delete(ctx context.Context, userID string) error

	// List returns all live records ordered by CreatedAt.
	List(ctx context.Context) ([]Voice, error)

	// Nearest returns up to k live voices whose embeddings are most similar
	// (cosine) to embedding, best first. Voices without an embedding of the
	// same length are ignored.
	Nearest(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// Sweep deletes expired records and returns how many were removed.
	Sweep(ctx context.Context) (int, error)

	// SetTTL changes the lifetime applied to subsequent Puts. Zero disables
	// expiry.
	SetTTL(ttl time.Duration)

	// Close releases the resources held by the store.
	Close() error
}

// Option configures the stores in this package.
type Option func(*options)

type options struct {
	ttl        time.Duration
	now        func() time.Time
	maxEntries int
}

// WithTTL sets the lifetime of stored voices. Zero disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMaxEntries caps the number of records held by Memory; the oldest record
// is evicted when a new user would exceed the cap. Other stores ignore it.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// stamp fills CreatedAt and ExpiresAt on v.
func stamp(v Voice, now time.Time, ttl time.Duration) Voice {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.ExpiresAt.IsZero() && ttl > 0 {
		v.ExpiresAt = now.Add(ttl)
	}
	return v
}

// rank scores candidates against embedding and keeps the best k.
func rank(candidates []Voice, embedding []float32, k int) []Match {
	if k <= 0 || len(embedding) == 0 {
		return []Match{}
	}
	matches := make([]Match, 0, len(candidates))
	for _, v := range candidates {
		if len(v.Embedding) != len(embedding) {
			continue
		}
		matches = append(matches, Match{
			UserID:     v.UserID,
			Similarity: speaker.CosineSimilarity(embedding, v.Embedding),
		})
	}
	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func sortByCreated(vs []Voice) {
	slices.SortFunc(vs, func(a, b Voice) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
}

func cloneVoice(v Voice) Voice {
	v.Reference = v.Reference.Clone()
	v.Embedding = slices.Clone(v.Embedding)
	if v.Failure != nil {
		f := *v.Failure
		v.Failure = &f
	}
	return v
}
