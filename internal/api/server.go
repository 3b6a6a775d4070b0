// internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/user/soulsync/internal/crisis"
	"github.com/user/soulsync/internal/gateway"
	"github.com/user/soulsync/internal/memory"
	"github.com/user/soulsync/internal/scheduler"
	"github.com/user/soulsync/internal/session"
	"github.com/user/soulsync/internal/state"
	"github.com/user/soulsync/internal/types"
)

// Memory is the read side of the long-term memory exposed over HTTP.
type Memory interface {
	Retrieve(ctx context.Context, query string, k int) []string
	AggregatePatterns(lookback time.Duration) memory.Patterns
	CrisisHistory() []memory.CrisisHistoryItem
}

// CheckIns fires a named check-in on demand.
type CheckIns interface {
	Fire(name string) error
}

// Sessions runs session operations for a key and waits for the result.
type Sessions interface {
	Submit(ctx context.Context, kind gateway.RunKind, event *types.InboundEvent) (gateway.Result, error)
}

// Server is the HTTP front-end of the daemon.
type Server struct {
	gateway  Sessions
	index    types.SessionStore
	events   types.EventStore
	memory   Memory
	detector *crisis.Detector
	checkins CheckIns
	version  string
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

func WithCheckIns(c CheckIns) Option { return func(s *Server) { s.checkins = c } }

// NewServer wires the routes. index and events may be nil, in which case
// the session listing endpoints answer 503.
func NewServer(gw Sessions, index types.SessionStore, events types.EventStore, mem Memory, detector *crisis.Detector, opts ...Option) *Server {
	if detector == nil {
		detector = crisis.MustNew()
	}
	s := &Server{
		gateway:  gw,
		index:    index,
		events:   events,
		memory:   mem,
		detector: detector,
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{key}", func(r chi.Router) {
			r.Post("/start", s.handleStart)
			r.Post("/messages", s.handleMessage)
			r.Post("/end", s.handleEnd)
			r.Get("/events", s.handleEvents)
		})

		r.Get("/memory/search", s.handleMemorySearch)
		r.Get("/memory/patterns", s.handleMemoryPatterns)
		r.Get("/memory/crisis", s.handleMemoryCrisis)

		r.Get("/crisis/resources", s.handleCrisisResources)
		r.Get("/crisis/safety-plan", s.handleSafetyPlan)
		r.Get("/crisis/coping", s.handleCoping)

		r.Post("/checkins/{name}", s.handleCheckIn)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionError maps orchestrator errors to HTTP statuses.
func sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidReport):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "request cancelled")
	default:
		log.Error().Err(err).Msg("session operation failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func sessionKey(r *http.Request) types.SessionKey {
	return types.NewSessionKey("http", chi.URLParam(r, "key"))
}

func intQuery(r *http.Request, name string, def int) int {
	if q := r.URL.Query().Get(name); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

type sessionReply struct {
	SessionKey string `json:"session_key"`
	SessionID  string `json:"session_id,omitempty"`
	Response   string `json:"response,omitempty"`
	Continue   bool   `json:"continue"`
	Started    bool   `json:"started,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

func (s *Server) sessionID(ctx context.Context, key types.SessionKey) string {
	if s.index == nil {
		return ""
	}
	idx, err := s.index.Get(ctx, key)
	if err != nil {
		return ""
	}
	return string(idx.SessionID)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var report types.AnalysisReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if report.Source == "" {
		report.Source = "http"
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	key := sessionKey(r)
	res, err := s.gateway.Submit(r.Context(), gateway.RunStart, &types.InboundEvent{
		Source:     "http",
		SessionKey: key,
		Text:       report.Transcription,
		Report:     &report,
	})
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionReply{
		SessionKey: string(key),
		SessionID:  s.sessionID(r.Context(), key),
		Response:   res.Response,
		Continue:   res.Continue,
		Started:    true,
	})
}

type messageRequest struct {
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	key := sessionKey(r)
	res, err := s.gateway.Submit(r.Context(), gateway.RunMessage, &types.InboundEvent{
		Source:     "http",
		SessionKey: key,
		UserID:     req.UserID,
		Text:       req.Text,
	})
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionReply{
		SessionKey: string(key),
		SessionID:  s.sessionID(r.Context(), key),
		Response:   res.Response,
		Continue:   res.Continue,
		Started:    res.Started,
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	key := sessionKey(r)
	res, err := s.gateway.Submit(r.Context(), gateway.RunEnd, &types.InboundEvent{Source: "http", SessionKey: key})
	if err != nil {
		sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionReply{
		SessionKey: string(key),
		SessionID:  s.sessionID(r.Context(), key),
		Summary:    res.Response,
	})
}

type sessionResponse struct {
	SessionID  string `json:"session_id"`
	SessionKey string `json:"session_key"`
	Source     string `json:"source"`
	Status     string `json:"status"`
	Messages   int    `json:"messages"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	EventCount int64  `json:"event_count"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.index == nil || s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "session index not configured")
		return
	}
	ctx := r.Context()
	sessions, err := s.index.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list sessions failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		count, err := s.events.Count(ctx, sess.SessionID)
		if err != nil {
			log.Warn().Err(err).Str("session_id", string(sess.SessionID)).Msg("count events failed")
		}
		result = append(result, sessionResponse{
			SessionID:  string(sess.SessionID),
			SessionKey: string(sess.SessionKey),
			Source:     sess.Source,
			Status:     sess.Status,
			Messages:   sess.Messages,
			CreatedAt:  sess.CreatedAt.Format(time.RFC3339),
			UpdatedAt:  sess.UpdatedAt.Format(time.RFC3339),
			EventCount: count,
		})
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.index == nil || s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "session index not configured")
		return
	}
	key := sessionKey(r)
	idx, err := s.index.Get(r.Context(), key)
	if errors.Is(err, state.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_key", string(key)).Msg("get session failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	events, err := s.events.Tail(r.Context(), idx.SessionID, intQuery(r, "limit", 200))
	if err != nil {
		log.Error().Err(err).Str("session_id", string(idx.SessionID)).Msg("tail events failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if events == nil {
		events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	k := intQuery(r, "k", session.DefaultRecall)
	results := s.memory.Retrieve(r.Context(), q, k)
	if results == nil {
		results = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "k": k, "results": results})
}

func (s *Server) handleMemoryPatterns(w http.ResponseWriter, r *http.Request) {
	days := min(intQuery(r, "days", 30), memory.MaxLookbackDays)
	p := s.memory.AggregatePatterns(memory.LookbackWindow(days))
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "patterns": p})
}

func (s *Server) handleMemoryCrisis(w http.ResponseWriter, r *http.Request) {
	history := s.memory.CrisisHistory()
	if history == nil {
		history = []memory.CrisisHistoryItem{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleCrisisResources(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("level"); q != "" {
		level, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "level must be an integer")
			return
		}
		writeJSON(w, http.StatusOK, s.detector.GetCrisisResponse(crisis.Clamp(level)))
		return
	}
	writeJSON(w, http.StatusOK, s.detector.EmergencyResources())
}

func (s *Server) handleSafetyPlan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.CreateSafetyPlan())
}

func (s *Server) handleCoping(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	if typ == "" {
		typ = "general"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":       typ,
		"techniques": s.detector.GetImmediateCopingTechniques(typ),
	})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if s.checkins == nil {
		writeError(w, http.StatusServiceUnavailable, "check-ins not configured")
		return
	}
	name := chi.URLParam(r, "name")
	err := s.checkins.Fire(name)
	switch {
	case errors.Is(err, state.ErrCheckInNotFound):
		writeError(w, http.StatusNotFound, "check-in not found")
	case errors.Is(err, scheduler.ErrCheckInDisabled):
		writeError(w, http.StatusForbidden, "check-in is disabled")
	case err != nil:
		log.Error().Err(err).Str("name", name).Msg("fire check-in failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "name": name})
	}
}
