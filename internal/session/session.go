// Package session owns live conversation logs. A Session replaces ambient
// capture state: it holds one log, binds the two peers of a room to
// speakers, consumes an injected signal.Channel and scores the log once
// when the conversation ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/aboutnine/internal/chemistry"
	"github.com/MikeSquared-Agency/aboutnine/internal/signal"
	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

var (
	ErrFinalized = errors.New("session: already finalized")
	ErrRoomFull  = errors.New("session: room already has two peers")
)

type Session struct {
	id       string
	scorer   *chemistry.Scorer
	log      *transcript.Log
	logger   *slog.Logger
	now      func() time.Time
	onSignal func(signal.Message)

	mu        sync.Mutex
	peers     map[string]transcript.Speaker
	lastStamp int64
	finalized bool
	result    chemistry.Result
	createdAt time.Time
}

type Option func(*Session)

// WithClock overrides the time source used to stamp utterances.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSignalObserver receives every non-transcript message seen by Run.
func WithSignalObserver(fn func(signal.Message)) Option {
	return func(s *Session) { s.onSignal = fn }
}

func New(id string, scorer *chemistry.Scorer, opts ...Option) *Session {
	s := &Session{
		id:     id,
		scorer: scorer,
		log:    transcript.NewLog(),
		logger: slog.Default(),
		now:    time.Now,
		peers:  make(map[string]transcript.Speaker, 2),
	}
	for _, o := range opts {
		o(s)
	}
	s.createdAt = s.now()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Len returns the number of logged utterances.
func (s *Session) Len() int { return s.log.Len() }

// Entries returns the log in append order.
func (s *Session) Entries() []transcript.Entry { return s.log.Entries() }

// Append adds a validated entry to the log.
func (s *Session) Append(e transcript.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return ErrFinalized
	}
	s.log.Append(e)
	return nil
}

// Record stamps text with the session clock and appends it.
func (s *Session) Record(speaker transcript.Speaker, text string) (transcript.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return transcript.Entry{}, ErrFinalized
	}
	e, err := transcript.NewEntry(speaker, text, s.stampLocked())
	if err != nil {
		return transcript.Entry{}, err
	}
	s.log.Append(e)
	return e, nil
}

// BindPeer returns the speaker for peer, binding it on first sight: the
// first peer of a room is local, the second remote.
func (s *Session) BindPeer(peer string) (transcript.Speaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindLocked(peer)
}

func (s *Session) bindLocked(peer string) (transcript.Speaker, error) {
	if sp, ok := s.peers[peer]; ok {
		return sp, nil
	}
	var sp transcript.Speaker
	switch len(s.peers) {
	case 0:
		sp = transcript.Local
	case 1:
		sp = transcript.Remote
	default:
		return "", fmt.Errorf("%w: %s", ErrRoomFull, peer)
	}
	s.peers[peer] = sp
	return sp, nil
}

// AppendChunk logs a recognizer result from peer. A chunk repeating the
// speaker's previous utterance is dropped and reported as not appended.
// Chunks without a timestamp are stamped on arrival; zero is a valid
// timestamp.
func (s *Session) AppendChunk(peer string, c signal.TranscriptChunk) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return false, ErrFinalized
	}
	speaker, err := s.bindLocked(peer)
	if err != nil {
		return false, err
	}

	var ts int64
	if c.Timestamp != nil {
		ts = *c.Timestamp
	} else {
		ts = s.stampLocked()
	}
	e, err := transcript.NewEntry(speaker, c.Text, ts)
	if err != nil {
		return false, err
	}
	if last, ok := s.log.Last(speaker); ok && last.Text == e.Text {
		return false, nil
	}
	s.log.Append(e)
	return true, nil
}

// HandleMessage appends transcript chunks and hands every other kind to
// the signal observer.
func (s *Session) HandleMessage(m signal.Message) error {
	if m.Kind == signal.KindTranscriptChunk {
		if m.Chunk == nil {
			return signal.ErrInvalidMessage
		}
		_, err := s.AppendChunk(m.From, *m.Chunk)
		return err
	}
	if s.onSignal != nil {
		s.onSignal(m)
	}
	return nil
}

// Run consumes ch until ctx ends or the channel closes. Rejected messages,
// including chunks arriving after Finalize, are logged and skipped.
func (s *Session) Run(ctx context.Context, ch signal.Channel) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch.Messages():
			if !ok {
				return nil
			}
			err := s.HandleMessage(m)
			switch {
			case errors.Is(err, ErrFinalized):
				s.logger.Debug("dropped message after finalize", "session_id", s.id, "kind", m.Kind)
			case err != nil:
				s.logger.Warn("rejected room message",
					"session_id", s.id,
					"kind", m.Kind,
					"from", m.From,
					"error", err,
				)
			}
		}
	}
}

// Finalize scores the log exactly once and discards it. The boolean is
// true only for the call that performed the scoring; the entries scored
// are returned to that caller.
func (s *Session) Finalize() (chemistry.Result, []transcript.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return s.result, nil, false
	}
	entries := s.log.Entries()
	s.result = s.scorer.Score(entries)
	s.finalized = true
	s.log.Reset()
	return s.result, entries, true
}

// Reopen undoes a Finalize whose result could not be kept, putting the
// scored entries back so the session can be finalized again.
func (s *Session) Reopen(entries []transcript.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finalized {
		return
	}
	for _, e := range entries {
		s.log.Append(e)
	}
	s.finalized = false
	s.result = chemistry.Result{}
}

func (s *Session) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// stampLocked returns a strictly increasing millisecond timestamp.
func (s *Session) stampLocked() int64 {
	ms := s.now().UnixMilli()
	if ms <= s.lastStamp {
		ms = s.lastStamp + 1
	}
	s.lastStamp = ms
	return ms
}
