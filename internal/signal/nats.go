package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// SubjectPrefix is the NATS subject namespace for room traffic.
const SubjectPrefix = "aboutnine.signal."

var ErrInvalidRoom = errors.New("signal: invalid room name")

// Bus is the publish/subscribe surface NATSChannel needs. hermes.Client
// satisfies it.
type Bus interface {
	Publish(subject string, data any) error
	Subscribe(subject string, handler func(subject string, data []byte)) (func() error, error)
}

// ValidRoom reports whether room can be used as a single subject token.
func ValidRoom(room string) bool {
	return room != "" && !strings.ContainsAny(room, ".*> \t\r\n")
}

// Subject returns the NATS subject carrying room's messages.
func Subject(room string) string {
	return SubjectPrefix + room
}

// NATSChannel is a Channel over one NATS subject per room. Delivery is
// at-most-once: when the consumer falls behind, messages are dropped.
type NATSChannel struct {
	bus    Bus
	room   string
	peer   string
	logger *slog.Logger
	unsub  func() error

	mu     sync.Mutex
	closed bool
	in     chan Message
}

func NewNATSChannel(bus Bus, room, peer string, logger *slog.Logger) (*NATSChannel, error) {
	if !ValidRoom(room) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}
	c := &NATSChannel{
		bus:    bus,
		room:   room,
		peer:   peer,
		logger: logger,
		in:     make(chan Message, memberBuffer),
	}
	unsub, err := bus.Subscribe(Subject(room), c.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe room %s: %w", room, err)
	}
	c.unsub = unsub
	return c, nil
}

func (c *NATSChannel) handle(_ string, data []byte) {
	m, err := Decode(data)
	if err != nil {
		c.logger.Warn("dropping invalid signal message", "room", c.room, "error", err)
		return
	}
	if !m.deliverable(c.peer) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.in <- m:
	default:
		c.logger.Warn("signal buffer full, dropping message", "room", c.room, "kind", m.Kind)
	}
}

func (c *NATSChannel) Publish(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if m.From == "" {
		m.From = c.peer
	}
	m.Room = c.room
	if err := m.Validate(); err != nil {
		return err
	}
	return c.bus.Publish(Subject(c.room), m)
}

func (c *NATSChannel) Messages() <-chan Message {
	return c.in
}

func (c *NATSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.in)
	c.mu.Unlock()

	if c.unsub != nil {
		return c.unsub()
	}
	return nil
}
