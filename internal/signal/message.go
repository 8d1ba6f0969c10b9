// Package signal carries peer negotiation and live transcript messages
// between the two sides of a call.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind is the message variant.
type Kind string

const (
	KindReady           Kind = "ready"
	KindOffer           Kind = "offer"
	KindAnswer          Kind = "answer"
	KindICE             Kind = "ice"
	KindTranscriptChunk Kind = "transcript-chunk"
)

var (
	ErrUnknownKind    = errors.New("signal: unknown message kind")
	ErrInvalidMessage = errors.New("signal: invalid message")
	ErrClosed         = errors.New("signal: channel closed")
)

// TranscriptChunk is one finalized recognizer result from a peer. A nil
// Timestamp is stamped by the receiving session.
type TranscriptChunk struct {
	Text      string `json:"text"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Message is the envelope exchanged on a Channel.
type Message struct {
	Kind      Kind             `json:"type"`
	Room      string           `json:"room"`
	From      string           `json:"from"`
	To        string           `json:"to,omitempty"`
	SDP       string           `json:"sdp,omitempty"`
	Candidate string           `json:"candidate,omitempty"`
	Chunk     *TranscriptChunk `json:"chunk,omitempty"`
	// Offerer is set by the relay on ready messages once both peers are
	// present and names the peer that creates the offer.
	Offerer string `json:"offerer,omitempty"`
}

// Validate checks the fields each kind requires.
func (m Message) Validate() error {
	if m.From == "" {
		return fmt.Errorf("%w: missing from", ErrInvalidMessage)
	}
	switch m.Kind {
	case KindReady:
		return nil
	case KindOffer, KindAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrInvalidMessage, m.Kind)
		}
	case KindICE:
		if m.Candidate == "" {
			return fmt.Errorf("%w: ice without candidate", ErrInvalidMessage)
		}
	case KindTranscriptChunk:
		if m.Chunk == nil || strings.TrimSpace(m.Chunk.Text) == "" {
			return fmt.Errorf("%w: transcript-chunk without text", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	return nil
}

// Decode parses and validates a message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// deliverable reports whether a message published by m.From should reach
// peer: never back to its sender, and only to the addressee when To is set.
func (m Message) deliverable(peer string) bool {
	if m.From == peer {
		return false
	}
	return m.To == "" || m.To == peer
}

// ShouldOffer decides which side creates the offer when both announce
// ready: the lexically smaller peer ID.
func ShouldOffer(self, peer string) bool {
	return self < peer
}
