package processor

import (
	"context"
	"encoding/json"

	"github.com/MikeSquared-Agency/aboutnine/internal/hermes"
	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

// HandleSessionStarted is the NATS handler for aboutnine.session.started.
func (p *Processor) HandleSessionStarted(subject string, data []byte) {
	ctx := context.Background()

	var evt hermes.SessionStartedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse session started event", "error", err)
		return
	}
	if evt.SessionID == "" {
		p.logger.Warn("session started event without session_id", "subject", subject)
		return
	}

	if evt.Room == "" {
		p.ensureSession(ctx, evt.SessionID, SourceNATS)
		return
	}
	if err := p.AttachRoom(ctx, evt.SessionID, evt.Room); err != nil {
		p.logger.Error("failed to attach room", "session_id", evt.SessionID, "room", evt.Room, "error", err)
	}
}

// HandleTranscriptChunk is the NATS handler for aboutnine.transcript.chunk.
func (p *Processor) HandleTranscriptChunk(subject string, data []byte) {
	ctx := context.Background()

	var evt hermes.TranscriptChunkEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse transcript chunk", "error", err)
		p.metrics.RecordRejected(ctx, SourceNATS, "malformed")
		return
	}

	speaker, err := transcript.ParseSpeaker(evt.Speaker)
	if err != nil {
		p.logger.Warn("rejected transcript chunk", "session_id", evt.SessionID, "error", err)
		p.metrics.RecordRejected(ctx, SourceNATS, rejectReason(err))
		return
	}

	if evt.Timestamp == nil {
		_, err = p.Record(ctx, evt.SessionID, speaker, evt.Text, SourceNATS)
	} else {
		var e transcript.Entry
		e, err = transcript.NewEntry(speaker, evt.Text, *evt.Timestamp)
		if err != nil {
			p.metrics.RecordRejected(ctx, SourceNATS, rejectReason(err))
		} else {
			err = p.Append(ctx, evt.SessionID, e, SourceNATS)
		}
	}
	if err != nil {
		p.logger.Warn("rejected transcript chunk", "session_id", evt.SessionID, "error", err)
	}
}

// HandleSessionEnded is the NATS handler for aboutnine.session.ended.
func (p *Processor) HandleSessionEnded(subject string, data []byte) {
	ctx := context.Background()

	var evt hermes.SessionEndedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Error("failed to parse session ended event", "error", err)
		return
	}

	if _, err := p.Finalize(ctx, evt.SessionID, SourceNATS); err != nil {
		p.logger.Error("failed to finalize session", "session_id", evt.SessionID, "error", err)
	}
}
