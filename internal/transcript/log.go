package transcript

import (
	"slices"
	"sync"
)

// Log is an append-only conversation log. Entries keep their append order,
// which is not necessarily timestamp order when two capture sources race.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(e Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Entries returns a copy of the log in append order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the most recent entry for speaker, if any.
func (l *Log) Last(speaker Speaker) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Speaker == speaker {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

func (l *Log) Reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// SortByTimestamp returns a copy of entries in timestamp order. Ties keep
// their append order.
func SortByTimestamp(entries []Entry) []Entry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	return sorted
}

// Texts returns the utterance text of each entry in order.
func Texts(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

// Speakers returns the speaker of each entry in order.
func Speakers(entries []Entry) []Speaker {
	out := make([]Speaker, len(entries))
	for i, e := range entries {
		out[i] = e.Speaker
	}
	return out
}
