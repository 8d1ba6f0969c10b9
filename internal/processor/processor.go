// Package processor runs the session lifecycle shared by the NATS consumer
// and the HTTP API: open a session, feed it utterances, finalize it into a
// stored and published record.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/aboutnine/internal/hermes"
	"github.com/MikeSquared-Agency/aboutnine/internal/observe"
	"github.com/MikeSquared-Agency/aboutnine/internal/record"
	"github.com/MikeSquared-Agency/aboutnine/internal/session"
	"github.com/MikeSquared-Agency/aboutnine/internal/signal"
	"github.com/MikeSquared-Agency/aboutnine/internal/store"
	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

// Sources label where a session operation came from in logs and metrics.
const (
	SourceAPI  = "api"
	SourceNATS = "nats"
	SourceRoom = "room"
)

// RecorderPeer is the peer ID a session uses to listen on a room.
const RecorderPeer = "recorder"

var ErrSessionNotFound = errors.New("processor: session not found")

// Publisher is the subset of hermes.Client used to announce results.
type Publisher interface {
	Publish(subject string, data any) error
}

type Processor struct {
	manager   *session.Manager
	store     store.Results
	publisher Publisher
	bus       signal.Bus
	metrics   *observe.Metrics
	logger    *slog.Logger

	mu         sync.Mutex
	running    map[string]*recorder     // keyed by session ID
	finalizing map[string]*finalizeCall // keyed by session ID
	wg         sync.WaitGroup
}

type recorder struct {
	cancel context.CancelFunc
}

// finalizeCall is an in-flight Finalize; done closes once rec and err are set.
type finalizeCall struct {
	done chan struct{}
	rec  record.Record
	err  error
}

// New builds a Processor. publisher and bus may be nil when NATS is not
// configured; results are then stored but not announced, and sessions can
// only listen on in-process rooms.
func New(m *session.Manager, s store.Results, pub Publisher, bus signal.Bus, met *observe.Metrics, logger *slog.Logger) *Processor {
	return &Processor{
		manager:    m,
		store:      s,
		publisher:  pub,
		bus:        bus,
		metrics:    met,
		logger:     logger,
		running:    make(map[string]*recorder),
		finalizing: make(map[string]*finalizeCall),
	}
}

// StartSession opens a new session. An empty id gets a generated one.
func (p *Processor) StartSession(ctx context.Context, id, source string) (*session.Session, error) {
	s, err := p.manager.Create(id, session.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}
	p.metrics.ActiveSessions.Add(ctx, 1)
	p.logger.Info("session started", "session_id", s.ID(), "source", source)
	return s, nil
}

// ensureSession returns the session for id, creating it when missing.
func (p *Processor) ensureSession(ctx context.Context, id, source string) *session.Session {
	s, created := p.manager.GetOrCreate(id, session.WithLogger(p.logger))
	if created {
		p.metrics.ActiveSessions.Add(ctx, 1)
		p.logger.Info("session started", "session_id", id, "source", source)
	}
	return s
}

// Attach runs the session for id on a channel from open until the session
// is finalized or the processor is closed. The session is created if
// needed. At most one channel is attached per session; when one is already
// running open is not called and Attach reports false.
func (p *Processor) Attach(ctx context.Context, id string, open func() (signal.Channel, error)) (bool, error) {
	p.mu.Lock()
	if _, ok := p.running[id]; ok {
		p.mu.Unlock()
		return false, nil
	}
	ch, err := open()
	if err != nil {
		p.mu.Unlock()
		return false, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rec := &recorder{cancel: cancel}
	p.running[id] = rec
	p.mu.Unlock()

	s := p.ensureSession(ctx, id, SourceRoom)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ch.Close()
		if err := s.Run(runCtx, ch); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("room recorder stopped", "session_id", id, "error", err)
		}
		p.mu.Lock()
		if p.running[id] == rec {
			delete(p.running, id)
		}
		p.mu.Unlock()
		cancel()
	}()
	return true, nil
}

// AttachRoom records transcript chunks relayed on room's NATS subject.
func (p *Processor) AttachRoom(ctx context.Context, id, room string) error {
	if p.bus == nil {
		return errors.New("processor: no message bus configured")
	}
	_, err := p.Attach(ctx, id, func() (signal.Channel, error) {
		return signal.NewNATSChannel(p.bus, room, RecorderPeer, p.logger)
	})
	return err
}

// AttachHub records transcript chunks published into room on hub. The
// room name doubles as the session ID.
func (p *Processor) AttachHub(ctx context.Context, hub *signal.Hub, room string) error {
	_, err := p.Attach(ctx, room, func() (signal.Channel, error) {
		return hub.Join(room, RecorderPeer), nil
	})
	return err
}

// Attached reports whether a recorder is running for id.
func (p *Processor) Attached(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[id]
	return ok
}

// Session returns the live session for id.
func (p *Processor) Session(id string) (*session.Session, bool) {
	return p.manager.Get(id)
}

// ActiveSessions returns the number of live sessions.
func (p *Processor) ActiveSessions() int {
	return p.manager.Len()
}

// Append adds a validated entry to a live session.
func (p *Processor) Append(ctx context.Context, id string, e transcript.Entry, source string) error {
	s, ok := p.manager.Get(id)
	if !ok {
		p.metrics.RecordRejected(ctx, source, "unknown_session")
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err := s.Append(e); err != nil {
		p.metrics.RecordRejected(ctx, source, rejectReason(err))
		return err
	}
	p.metrics.RecordAppended(ctx, source)
	return nil
}

// Record stamps text with the session clock and appends it.
func (p *Processor) Record(ctx context.Context, id string, speaker transcript.Speaker, text, source string) (transcript.Entry, error) {
	s, ok := p.manager.Get(id)
	if !ok {
		p.metrics.RecordRejected(ctx, source, "unknown_session")
		return transcript.Entry{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e, err := s.Record(speaker, text)
	if err != nil {
		p.metrics.RecordRejected(ctx, source, rejectReason(err))
		return transcript.Entry{}, err
	}
	p.metrics.RecordAppended(ctx, source)
	return e, nil
}

// Finalize scores the session, stores the transcript and the record,
// announces the record and forgets the session. Concurrent callers for the
// same session wait for the first one and share its outcome. When storing
// fails the session is reopened with its entries so Finalize can be retried.
func (p *Processor) Finalize(ctx context.Context, id, source string) (record.Record, error) {
	p.mu.Lock()
	if call, ok := p.finalizing[id]; ok {
		p.mu.Unlock()
		select {
		case <-call.done:
			return call.rec, call.err
		case <-ctx.Done():
			return record.Record{}, ctx.Err()
		}
	}
	s, ok := p.manager.Get(id)
	if !ok {
		p.mu.Unlock()
		return record.Record{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	call := &finalizeCall{done: make(chan struct{})}
	p.finalizing[id] = call
	p.mu.Unlock()

	call.rec, call.err = p.finalize(ctx, s, source)

	p.mu.Lock()
	delete(p.finalizing, id)
	p.mu.Unlock()
	close(call.done)
	return call.rec, call.err
}

func (p *Processor) finalize(ctx context.Context, s *session.Session, source string) (record.Record, error) {
	id := s.ID()
	res, entries, first := s.Finalize()
	if !first {
		return p.store.LatestForSession(ctx, id)
	}

	rec := record.New(id, res)
	if err := p.persist(ctx, rec, entries); err != nil {
		s.Reopen(entries)
		p.logger.Error("finalize not stored, session reopened",
			"session_id", id,
			"entries", len(entries),
			"error", err,
		)
		return record.Record{}, err
	}
	p.forget(ctx, id)
	p.metrics.RecordScore(ctx, source, res)

	if p.publisher != nil {
		if err := p.publisher.Publish(hermes.SubjectScored, hermes.ScoredEvent{SessionID: id, Record: rec}); err != nil {
			p.logger.Error("failed to publish scored event", "session_id", id, "error", err)
		}
	}

	p.logger.Info("session finalized",
		"session_id", id,
		"source", source,
		"score", rec.Score,
		"tier", rec.Tier,
		"turns", rec.Meta.Turns,
	)
	return rec, nil
}

func (p *Processor) persist(ctx context.Context, rec record.Record, entries []transcript.Entry) error {
	if err := p.store.SaveTranscript(ctx, rec.SessionID, entries); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	if err := p.store.SaveResult(ctx, rec); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (p *Processor) forget(ctx context.Context, id string) {
	if _, ok := p.manager.Remove(id); ok {
		p.metrics.ActiveSessions.Add(ctx, -1)
	}
	p.mu.Lock()
	rec, ok := p.running[id]
	p.mu.Unlock()
	if ok {
		rec.cancel()
	}
}

// Result returns the latest stored record for a session.
func (p *Processor) Result(ctx context.Context, id string) (record.Record, error) {
	return p.store.LatestForSession(ctx, id)
}

// Lookup returns a stored record by its ID.
func (p *Processor) Lookup(ctx context.Context, id string) (record.Record, error) {
	return p.store.GetResult(ctx, id)
}

// Transcript returns the stored transcript of a finalized session.
func (p *Processor) Transcript(ctx context.Context, id string) ([]transcript.Entry, error) {
	if _, err := p.store.LatestForSession(ctx, id); err != nil {
		return nil, err
	}
	return p.store.Transcript(ctx, id)
}

// Import stores a record decoded from an external document.
func (p *Processor) Import(ctx context.Context, r record.Record) error {
	if err := p.store.SaveResult(ctx, r); err != nil {
		return fmt.Errorf("import result: %w", err)
	}
	p.logger.Info("result imported", "result_id", r.ID, "session_id", r.SessionID, "migrated", r.MigratedFrom != nil)
	return nil
}

// Close stops every room recorder and waits for them to exit. Live
// sessions are left unscored.
func (p *Processor) Close() {
	p.mu.Lock()
	for _, rec := range p.running {
		rec.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, transcript.ErrEmptyText):
		return "empty_text"
	case errors.Is(err, transcript.ErrInvalidSpeaker):
		return "invalid_speaker"
	case errors.Is(err, transcript.ErrInvalidTimestamp), errors.Is(err, transcript.ErrMissingTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, session.ErrFinalized):
		return "finalized"
	case errors.Is(err, session.ErrRoomFull):
		return "room_full"
	default:
		return "other"
	}
}
