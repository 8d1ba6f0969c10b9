// Package record defines the persisted chemistry result. There is one
// schema, identified by its version field; the legacy unversioned shape is
// migrated explicitly and everything else is rejected.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/aboutnine/internal/chemistry"
)

// Version is the current schema version.
const Version = 1

var (
	ErrUnknownSchema      = errors.New("record: unknown schema")
	ErrUnsupportedVersion = errors.New("record: unsupported version")
	ErrInvalidRecord      = errors.New("record: invalid record")
)

type Record struct {
	Version      int                 `json:"version"`
	ID           string              `json:"id"`
	SessionID    string              `json:"session_id"`
	Score        int                 `json:"score"`
	Tier         chemistry.Tier      `json:"tier"`
	Hint         string              `json:"hint"`
	Breakdown    chemistry.Breakdown `json:"breakdown"`
	Meta         chemistry.Meta      `json:"meta"`
	CreatedAt    time.Time           `json:"created_at"`
	MigratedFrom *int                `json:"migrated_from,omitempty"`
}

// New wraps a scoring result in a fresh v1 record.
func New(sessionID string, res chemistry.Result) Record {
	return newAt(sessionID, res, time.Now().UTC())
}

func newAt(sessionID string, res chemistry.Result, at time.Time) Record {
	tier := res.Tier()
	return Record{
		Version:   Version,
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Score:     res.Score,
		Tier:      tier,
		Hint:      tier.Hint(),
		Breakdown: res.Breakdown,
		Meta:      res.Meta,
		CreatedAt: at,
	}
}

// Result returns the scoring result carried by r.
func (r Record) Result() chemistry.Result {
	return chemistry.Result{Score: r.Score, Breakdown: r.Breakdown, Meta: r.Meta}
}

// Validate checks r against the v1 schema.
func (r Record) Validate() error {
	if r.Version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.Version)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	pcts := map[string]int{
		"score":        r.Score,
		"lsm":          r.Breakdown.LSM,
		"empathy":      r.Breakdown.Empathy,
		"turnTaking":   r.Breakdown.TurnTaking,
		"responseTime": r.Breakdown.ResponseTime,
	}
	for name, v := range pcts {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidRecord, name, v)
		}
	}
	if r.Meta.Turns < 0 {
		return fmt.Errorf("%w: negative turns", ErrInvalidRecord)
	}
	if avg := r.Meta.AvgResponseSeconds; avg != nil && (*avg < 0 || math.IsInf(*avg, 0)) {
		return fmt.Errorf("%w: avgResponseSeconds %v", ErrInvalidRecord, *avg)
	}
	if want := chemistry.TierFor(r.Score); r.Tier != want {
		return fmt.Errorf("%w: tier %q does not match score %d", ErrInvalidRecord, r.Tier, r.Score)
	}
	return nil
}

// Encode serializes r as JSON.
func Encode(r Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// Decode parses a stored result. Version 1 documents are decoded strictly.
// Documents without a version are accepted only in the legacy v0 shape and
// are migrated to v1.
func Decode(data []byte) (Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnknownSchema, err)
	}

	raw, versioned := fields["version"]
	if !versioned {
		return decodeV0(data)
	}

	var version int
	if err := json.Unmarshal(raw, &version); err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrUnsupportedVersion, raw)
	}
	if version != Version {
		return Record{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	var r Record
	if err := strictUnmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("%w: v1: %v", ErrUnknownSchema, err)
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after document")
	}
	return nil
}
