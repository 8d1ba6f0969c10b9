// Package store persists chemistry records and the transcripts they were
// scored from. Postgres is used in production; SQLite serves local runs.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/aboutnine/internal/record"
	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

var ErrNotFound = errors.New("store: not found")

// Results is the persistence surface shared by both backends.
type Results interface {
	SaveResult(ctx context.Context, r record.Record) error
	GetResult(ctx context.Context, id string) (record.Record, error)
	LatestForSession(ctx context.Context, sessionID string) (record.Record, error)
	SaveTranscript(ctx context.Context, sessionID string, entries []transcript.Entry) error
	Transcript(ctx context.Context, sessionID string) ([]transcript.Entry, error)
	Close() error
}

// decodeStored turns a stored body back into a record. Bodies go through
// the schema decoder so rows written by older versions are migrated.
func decodeStored(id string, body []byte) (record.Record, error) {
	r, err := record.Decode(body)
	if err != nil {
		return record.Record{}, fmt.Errorf("decode stored result %s: %w", id, err)
	}
	return r, nil
}

func encodeForStore(r record.Record) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return record.Encode(r)
}
