package signal

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Channel is a room-scoped, at-most-once message channel bound to one peer.
type Channel interface {
	// Publish sends m to the other members of the room. From is set to the
	// channel's peer when empty.
	Publish(ctx context.Context, m Message) error
	// Messages delivers messages from other peers. It is closed by Close.
	Messages() <-chan Message
	Close() error
}

const memberBuffer = 64

// Hub is an in-process set of rooms.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*memberChannel
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*memberChannel)}
}

// Join adds peer to room. Joining twice with the same peer ID replaces the
// earlier membership.
func (h *Hub) Join(room, peer string) Channel {
	c := &memberChannel{
		hub:  h,
		room: room,
		peer: peer,
		in:   make(chan Message, memberBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*memberChannel)
		h.rooms[room] = members
	}
	old := members[peer]
	members[peer] = c
	h.mu.Unlock()

	if old != nil {
		old.shutdown()
	}
	return c
}

// Members returns the number of peers in room.
func (h *Hub) Members(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Peers returns the sorted peer IDs in room.
func (h *Hub) Peers(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Sorted(maps.Keys(h.rooms[room]))
}

func (h *Hub) leave(c *memberChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[c.room]
	if members[c.peer] == c {
		delete(members, c.peer)
	}
	if len(members) == 0 {
		delete(h.rooms, c.room)
	}
}

func (h *Hub) recipients(room string, m Message) []*memberChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*memberChannel
	for peer, c := range h.rooms[room] {
		if m.deliverable(peer) {
			out = append(out, c)
		}
	}
	return out
}

type memberChannel struct {
	hub  *Hub
	room string
	peer string
	in   chan Message

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func (c *memberChannel) Publish(ctx context.Context, m Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if m.From == "" {
		m.From = c.peer
	}
	m.Room = c.room
	if err := m.Validate(); err != nil {
		return err
	}
	for _, r := range c.hub.recipients(c.room, m) {
		if err := r.deliver(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// deliver blocks until the recipient has buffer space, ctx ends, or the
// recipient leaves. A departed recipient silently drops the message.
func (c *memberChannel) deliver(ctx context.Context, m Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.in <- m:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memberChannel) Messages() <-chan Message {
	return c.in
}

func (c *memberChannel) Close() error {
	c.hub.leave(c)
	c.shutdown()
	return nil
}

func (c *memberChannel) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		close(c.in)
		c.mu.Unlock()
	})
}
