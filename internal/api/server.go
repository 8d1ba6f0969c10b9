package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/aboutnine/internal/chemistry"
	"github.com/MikeSquared-Agency/aboutnine/internal/observe"
	"github.com/MikeSquared-Agency/aboutnine/internal/processor"
	"github.com/MikeSquared-Agency/aboutnine/internal/record"
	"github.com/MikeSquared-Agency/aboutnine/internal/session"
	"github.com/MikeSquared-Agency/aboutnine/internal/signal"
	"github.com/MikeSquared-Agency/aboutnine/internal/store"
	"github.com/MikeSquared-Agency/aboutnine/internal/transcript"
)

const (
	maxImportBytes  = 1 << 20
	maxRequestBytes = 4 << 20
)

// Connectivity reports whether the message bus is reachable.
type Connectivity interface {
	Connected() bool
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Processor *processor.Processor
	Scorer    *chemistry.Scorer
	Hub       *signal.Hub
	Metrics   *observe.Metrics
	Logger    *slog.Logger

	// NATS is nil when no message bus is configured.
	NATS Connectivity

	// OriginPatterns lists hosts allowed to open room websockets from a
	// browser. Empty means same origin only.
	OriginPatterns []string
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
}

func NewServer(port int, apiToken string, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(observe.Middleware(deps.Metrics))

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/aboutnine/status", s.status)
		r.Post("/chemistry/score", s.score)
		r.Post("/sessions", s.createSession)
		r.Get("/sessions/{id}", s.getSession)
		r.Post("/sessions/{id}/entries", s.appendEntry)
		r.Post("/sessions/{id}/finalize", s.finalize)
		r.Get("/sessions/{id}/result", s.sessionResult)
		r.Get("/sessions/{id}/transcript", s.sessionTranscript)
		r.Get("/results/{id}", s.getResult)
		r.Post("/results/import", s.importResult)
	})

	router.With(BearerAuthMiddleware(apiToken)).Get("/ws/rooms/{room}", s.room)

	return s
}

// Handler exposes the router for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.port)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":           "aboutnine",
		"status":          "ok",
		"active_sessions": s.deps.Processor.ActiveSessions(),
		"latency_no_data": s.deps.Scorer.Policy().String(),
		"nats":            s.natsState(),
	})
}

func (s *Server) natsState() string {
	switch {
	case s.deps.NATS == nil:
		return "disabled"
	case s.deps.NATS.Connected():
		return "connected"
	default:
		return "disconnected"
	}
}

type scoreRequest struct {
	Entries         []transcript.Entry `json:"entries"`
	SortByTimestamp bool               `json:"sort_by_timestamp"`
}

// score handles POST /api/v1/chemistry/score. The result is not stored.
func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if status, err := decodeJSON(w, r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}
	entries := req.Entries
	if req.SortByTimestamp {
		entries = transcript.SortByTimestamp(entries)
	}
	writeJSON(w, http.StatusOK, record.New("", s.deps.Scorer.Score(entries)))
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if status, err := decodeJSON(w, r, &req); err != nil {
			writeError(w, status, err.Error())
			return
		}
	}
	sess, err := s.deps.Processor.StartSession(r.Context(), req.SessionID, processor.SourceAPI)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID()})
}

type sessionInfo struct {
	SessionID string    `json:"session_id"`
	Entries   int       `json:"entries"`
	Recording bool      `json:"recording"`
	CreatedAt time.Time `json:"created_at"`
}

// getSession handles GET /api/v1/sessions/{id} for live sessions.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.deps.Processor.Session(id)
	if !ok {
		writeError(w, http.StatusNotFound, processor.ErrSessionNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionInfo{
		SessionID: id,
		Entries:   sess.Len(),
		Recording: s.deps.Processor.Attached(id),
		CreatedAt: sess.CreatedAt(),
	})
}

type appendRequest struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp *int64 `json:"timestamp"`
}

// appendEntry handles POST /api/v1/sessions/{id}/entries. An entry without
// a timestamp is stamped by the session clock.
func (s *Server) appendEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req appendRequest
	if status, err := decodeJSON(w, r, &req); err != nil {
		writeError(w, status, err.Error())
		return
	}
	speaker, err := transcript.ParseSpeaker(req.Speaker)
	if err != nil {
		s.deps.Metrics.RecordRejected(r.Context(), processor.SourceAPI, "invalid_speaker")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var entry transcript.Entry
	if req.Timestamp == nil {
		entry, err = s.deps.Processor.Record(r.Context(), id, speaker, req.Text, processor.SourceAPI)
	} else {
		entry, err = transcript.NewEntry(speaker, req.Text, *req.Timestamp)
		if err == nil {
			err = s.deps.Processor.Append(r.Context(), id, entry, processor.SourceAPI)
		}
	}
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Processor.Finalize(r.Context(), chi.URLParam(r, "id"), processor.SourceAPI)
	if err != nil {
		s.deps.Logger.Error("finalize failed", "session_id", chi.URLParam(r, "id"), "error", err)
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) sessionResult(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Processor.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type transcriptResponse struct {
	SessionID string             `json:"session_id"`
	Entries   []transcript.Entry `json:"entries"`
}

// sessionTranscript handles GET /api/v1/sessions/{id}/transcript for
// finalized sessions.
func (s *Server) sessionTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := s.deps.Processor.Transcript(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{SessionID: id, Entries: entries})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Processor.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// importResult handles POST /api/v1/results/import. The body is any stored
// result document; legacy documents are migrated before storing.
func (s *Server) importResult(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r, maxImportBytes)
	if err != nil {
		writeError(w, bodyErrorStatus(err), err.Error())
		return
	}
	rec, err := record.Decode(data)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if err := s.deps.Processor.Import(r.Context(), rec); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, processor.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrExists), errors.Is(err, session.ErrFinalized), errors.Is(err, session.ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, transcript.ErrEmptyText),
		errors.Is(err, transcript.ErrInvalidSpeaker),
		errors.Is(err, transcript.ErrInvalidTimestamp),
		errors.Is(err, transcript.ErrMissingTimestamp):
		return http.StatusBadRequest
	case errors.Is(err, record.ErrUnknownSchema),
		errors.Is(err, record.ErrUnsupportedVersion),
		errors.Is(err, record.ErrInvalidRecord):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readBody reads at most limit bytes. A larger body fails with
// *http.MaxBytesError.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// decodeJSON decodes a body of at most maxRequestBytes into v and returns
// the status to answer with when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) (int, error) {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v)
	if err != nil {
		return bodyErrorStatus(err), fmt.Errorf("invalid JSON: %w", err)
	}
	return 0, nil
}

func bodyErrorStatus(err error) int {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
