package voicestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voicemimic/pkg/audio"
)

var _ Store = (*Postgres)(nil)

// ddlUserVoices returns the schema with the embedding dimension substituted.
// The dimension is baked into the column type at creation time.
func ddlUserVoices(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS user_voices (
    user_id      TEXT         PRIMARY KEY,
    source_name  TEXT         NOT NULL DEFAULT '',
    reference    BYTEA,
    embedding    vector(%d),
    model_id     TEXT         NOT NULL DEFAULT '',
    failure      JSONB,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    expires_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_user_voices_expires_at
    ON user_voices (expires_at);

CREATE INDEX IF NOT EXISTS idx_user_voices_embedding
    ON user_voices USING hnsw (embedding vector_cosine_ops);
`, dims)
}

// Postgres is a Store backed by a PostgreSQL table with a pgvector embedding
// column. References are kept as 16-bit WAV blobs. Several service replicas can
// share one database.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time

	mu  sync.RWMutex
	ttl time.Duration
}

// NewPostgres connects to dsn, registers pgvector types on every connection
// and creates the user_voices table if needed. dims must match the speaker
// extractor's Dimensions; changing it later requires a manual schema change.
func NewPostgres(ctx context.Context, dsn string, dims int, opts ...Option) (*Postgres, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("voicestore: postgres: embedding dimension must be positive, got %d", dims)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("voicestore: postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("voicestore: postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("voicestore: postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlUserVoices(dims)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("voicestore: postgres: migrate: %w", err)
	}

	o := buildOptions(opts)
	return &Postgres{pool: pool, now: o.now, ttl: o.ttl}, nil
}

// Ping checks connectivity. Used by the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Put implements Store.
func (p *Postgres) Put(ctx context.Context, v Voice) error {
	p.mu.RLock()
	ttl := p.ttl
	p.mu.RUnlock()
	v = stamp(v, p.now(), ttl)

	var ref []byte
	if v.Reference.Len() > 0 {
		var err error
		if ref, err = audio.EncodeWAVBytes(v.Reference); err != nil {
			return fmt.Errorf("voicestore: put %q: %w", v.UserID, err)
		}
	}
	var vec *pgvector.Vector
	if len(v.Embedding) > 0 {
		pv := pgvector.NewVector(v.Embedding)
		vec = &pv
	}
	var failure []byte
	if v.Failure != nil {
		var err error
		if failure, err = json.Marshal(v.Failure); err != nil {
			return fmt.Errorf("voicestore: put %q: %w", v.UserID, err)
		}
	}

	const q = `
		INSERT INTO user_voices
		    (user_id, source_name, reference, embedding, model_id, failure, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
		    source_name = EXCLUDED.source_name,
		    reference   = EXCLUDED.reference,
		    embedding   = EXCLUDED.embedding,
		    model_id    = EXCLUDED.model_id,
		    failure     = EXCLUDED.failure,
		    created_at  = EXCLUDED.created_at,
		    expires_at  = EXCLUDED.expires_at`

	_, err := p.pool.Exec(ctx, q,
		v.UserID,
		v.SourceName,
		ref,
		vec,
		v.ModelID,
		failure,
		v.CreatedAt,
		nullTime(v.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("voicestore: put %q: %w", v.UserID, err)
	}
	return nil
}

const selectVoice = `
	SELECT user_id, source_name, reference, embedding, model_id, failure, created_at, expires_at
	FROM   user_voices`

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, userID string) (Voice, error) {
	rows, err := p.pool.Query(ctx, selectVoice+`
	WHERE  user_id = $1 AND (expires_at IS NULL OR expires_at > $2)`, userID, p.now())
	if err != nil {
		return Voice{}, fmt.Errorf("voicestore: get %q: %w", userID, err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanVoice)
	if errors.Is(err, pgx.ErrNoRows) {
		return Voice{}, ErrNotFound
	}
	if err != nil {
		return Voice{}, fmt.Errorf("voicestore: get %q: %w", userID, err)
	}
	return v, nil
}

// Delete implements Store.
func (p *Postgres) Delete(ctx context.Context, userID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM user_voices WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("voicestore: delete %q: %w", userID, err)
	}
	return nil
}

// List implements Store.
func (p *Postgres) List(ctx context.Context) ([]Voice, error) {
	rows, err := p.pool.Query(ctx, selectVoice+`
	WHERE  expires_at IS NULL OR expires_at > $1
	ORDER  BY created_at, user_id`, p.now())
	if err != nil {
		return nil, fmt.Errorf("voicestore: list: %w", err)
	}
	voices, err := pgx.CollectRows(rows, scanVoice)
	if err != nil {
		return nil, fmt.Errorf("voicestore: list: %w", err)
	}
	if voices == nil {
		voices = []Voice{}
	}
	return voices, nil
}

// Nearest implements Store using the pgvector cosine distance operator.
func (p *Postgres) Nearest(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if k <= 0 || len(embedding) == 0 {
		return []Match{}, nil
	}
	const q = `
		SELECT user_id, 1 - (embedding <=> $1) AS similarity
		FROM   user_voices
		WHERE  embedding IS NOT NULL
		  AND  vector_dims(embedding) = $2
		  AND  (expires_at IS NULL OR expires_at > $3)
		ORDER  BY embedding <=> $1, user_id
		LIMIT  $4`

	rows, err := p.pool.Query(ctx, q, pgvector.NewVector(embedding), len(embedding), p.now(), k)
	if err != nil {
		return nil, fmt.Errorf("voicestore: nearest: %w", err)
	}
	matches, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Match])
	if err != nil {
		return nil, fmt.Errorf("voicestore: nearest: %w", err)
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}

// Sweep implements Store.
func (p *Postgres) Sweep(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM user_voices WHERE expires_at <= $1`, p.now())
	if err != nil {
		return 0, fmt.Errorf("voicestore: sweep: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SetTTL implements Store.
func (p *Postgres) SetTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ttl = ttl
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanVoice(row pgx.CollectableRow) (Voice, error) {
	var (
		v       Voice
		ref     []byte
		vec     *pgvector.Vector
		failure []byte
		expires *time.Time
	)
	if err := row.Scan(&v.UserID, &v.SourceName, &ref, &vec, &v.ModelID, &failure, &v.CreatedAt, &expires); err != nil {
		return Voice{}, err
	}
	if len(ref) > 0 {
		w, err := audio.DecodeWAVBytes(ref)
		if err != nil {
			return Voice{}, fmt.Errorf("decode reference of %q: %w", v.UserID, err)
		}
		v.Reference = w
	}
	if vec != nil {
		v.Embedding = vec.Slice()
	}
	if len(failure) > 0 {
		v.Failure = &Failure{}
		if err := json.Unmarshal(failure, v.Failure); err != nil {
			return Voice{}, fmt.Errorf("decode failure of %q: %w", v.UserID, err)
		}
	}
	if expires != nil {
		v.ExpiresAt = *expires
	}
	return v, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
