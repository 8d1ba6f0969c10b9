package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyText        = errors.New("transcript: empty text")
	ErrInvalidSpeaker   = errors.New("transcript: invalid speaker")
	ErrInvalidTimestamp = errors.New("transcript: negative timestamp")
	ErrMissingTimestamp = errors.New("transcript: missing timestamp")
)

// Speaker identifies one of the two parties in a conversation.
type Speaker string

const (
	Local  Speaker = "local"
	Remote Speaker = "remote"
)

// ParseSpeaker accepts the canonical names plus the capture UI badges
// ("me" for the local side, "them" for the remote side).
func ParseSpeaker(s string) (Speaker, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "me":
		return Local, nil
	case "remote", "them":
		return Remote, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSpeaker, s)
	}
}

// Valid reports whether s is one of the two enumerated values.
func (s Speaker) Valid() bool {
	return s == Local || s == Remote
}

// Other returns the opposite party.
func (s Speaker) Other() Speaker {
	if s == Local {
		return Remote
	}
	return Local
}

// Entry is one utterance. Timestamp is milliseconds since an arbitrary epoch.
type Entry struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
}

// NewEntry validates and cleans an utterance before it may enter a log.
func NewEntry(speaker Speaker, text string, timestamp int64) (Entry, error) {
	if !speaker.Valid() {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidSpeaker, string(speaker))
	}
	cleaned := CleanText(text)
	if cleaned == "" {
		return Entry{}, ErrEmptyText
	}
	if timestamp < 0 {
		return Entry{}, fmt.Errorf("%w: %d", ErrInvalidTimestamp, timestamp)
	}
	return Entry{Speaker: speaker, Text: cleaned, Timestamp: timestamp}, nil
}

// CleanText collapses whitespace runs and trims the result.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

type wireEntry struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp *int64 `json:"timestamp"`
}

// UnmarshalJSON runs decoded entries through NewEntry so that nothing
// malformed reaches a log.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Timestamp == nil {
		return ErrMissingTimestamp
	}
	speaker, err := ParseSpeaker(w.Speaker)
	if err != nil {
		return err
	}
	entry, err := NewEntry(speaker, w.Text, *w.Timestamp)
	if err != nil {
		return err
	}
	*e = entry
	return nil
}
