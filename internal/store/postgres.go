package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/aboutnine/internal/record"
	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS chemistry_results (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		score      INTEGER NOT NULL,
		tier       TEXT NOT NULL,
		body       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chemistry_results_session_idx
		ON chemistry_results (session_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS transcript_entries (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		speaker    TEXT NOT NULL,
		text       TEXT NOT NULL,
		ts_ms      BIGINT NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
}

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) SaveResult(ctx context.Context, r record.Record) error {
	body, err := encodeForStore(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chemistry_results (id, session_id, score, tier, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.SessionID, r.Score, string(r.Tier), body, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Postgres) GetResult(ctx context.Context, id string) (record.Record, error) {
	return s.queryOne(ctx, id, `SELECT body FROM chemistry_results WHERE id = $1`, id)
}

func (s *Postgres) LatestForSession(ctx context.Context, sessionID string) (record.Record, error) {
	return s.queryOne(ctx, sessionID, `
		SELECT body FROM chemistry_results
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, sessionID)
}

func (s *Postgres) queryOne(ctx context.Context, key, query string, args ...any) (record.Record, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, query, args...).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return record.Record{}, fmt.Errorf("%w: result %s", ErrNotFound, key)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("query result: %w", err)
	}
	return decodeStored(key, body)
}

// SaveTranscript replaces the stored transcript for sessionID.
func (s *Postgres) SaveTranscript(ctx context.Context, sessionID string, entries []transcript.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM transcript_entries WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"transcript_entries"},
		[]string{"session_id", "seq", "speaker", "text", "ts_ms"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{sessionID, i, string(e.Speaker), e.Text, e.Timestamp}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy transcript: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Postgres) Transcript(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT speaker, text, ts_ms FROM transcript_entries
		WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var entries []transcript.Entry
	for rows.Next() {
		var speaker, text string
		var ts int64
		if err := rows.Scan(&speaker, &text, &ts); err != nil {
			return nil, fmt.Errorf("scan transcript entry: %w", err)
		}
		entries = append(entries, transcript.Entry{Speaker: transcript.Speaker(speaker), Text: text, Timestamp: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return entries, nil
}
