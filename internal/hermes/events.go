package hermes

import "github.com/MikeSquared-Agency/aboutnine/internal/record"

// Subjects consumed and produced by the chemistry service.
const (
	SubjectSessionStarted  = "aboutnine.session.started"
	SubjectTranscriptChunk = "aboutnine.transcript.chunk"
	SubjectSessionEnded    = "aboutnine.session.ended"
	SubjectScored          = "aboutnine.chemistry.scored"
	SubjectRegistered      = "aboutnine.agent.registered"
)

// SessionStartedEvent opens a session. When Room is set the session also
// records transcript chunks relayed on that room's signal subject.
type SessionStartedEvent struct {
	SessionID string `json:"session_id"`
	Room      string `json:"room,omitempty"`
}

// TranscriptChunkEvent carries one finished utterance. Speaker is local or
// remote; Timestamp is in milliseconds and stamped on arrival when absent.
type TranscriptChunkEvent struct {
	SessionID string `json:"session_id"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

type SessionEndedEvent struct {
	SessionID string `json:"session_id"`
}

// ScoredEvent announces a finalized session's stored result.
type ScoredEvent struct {
	SessionID string        `json:"session_id"`
	Record    record.Record `json:"record"`
}

// RegisteredEvent is published once at startup.
type RegisteredEvent struct {
	Timestamp string `json:"timestamp"`
	Port      int    `json:"port"`
	Store     string `json:"store"`
}
