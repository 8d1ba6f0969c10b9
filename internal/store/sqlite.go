package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/MikeSquared-Agency/aboutnine/internal/record"
	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS chemistry_results (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		score      INTEGER NOT NULL,
		tier       TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chemistry_results_session_idx
		ON chemistry_results (session_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS transcript_entries (
		session_id TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		speaker    TEXT NOT NULL,
		text       TEXT NOT NULL,
		ts_ms      INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
}

// createdAtLayout is fixed width so that created_at text sorts in time order.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is the single-file backend.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) SaveResult(ctx context.Context, r record.Record) error {
	body, err := encodeForStore(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chemistry_results (id, session_id, score, tier, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Score, string(r.Tier), string(body), r.CreatedAt.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *SQLite) GetResult(ctx context.Context, id string) (record.Record, error) {
	return s.queryOne(ctx, id, `SELECT body FROM chemistry_results WHERE id = ?`, id)
}

// LatestForSession orders on created_at text, written in UTC with
// createdAtLayout.
func (s *SQLite) LatestForSession(ctx context.Context, sessionID string) (record.Record, error) {
	return s.queryOne(ctx, sessionID, `
		SELECT body FROM chemistry_results
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, sessionID)
}

func (s *SQLite) queryOne(ctx context.Context, key, query string, args ...any) (record.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("%w: result %s", ErrNotFound, key)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("query result: %w", err)
	}
	return decodeStored(key, []byte(body))
}

// SaveTranscript replaces the stored transcript for sessionID.
func (s *SQLite) SaveTranscript(ctx context.Context, sessionID string, entries []transcript.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_entries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transcript_entries (session_id, seq, speaker, text, ts_ms)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, sessionID, i, string(e.Speaker), e.Text, e.Timestamp); err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) Transcript(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT speaker, text, ts_ms FROM transcript_entries
		WHERE session_id = ? ORDER BY seq`, sessionID)
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
