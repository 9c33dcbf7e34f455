package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// BackendHeader names the backend that answered a routed prompt.
const BackendHeader = "X-Thalamus-Backend"

const (
	defaultRecentLimit = 20
	maxBodyBytes       = 1 << 20
)

// QueryRouter is the single seam between HTTP and the routing core.
type QueryRouter interface {
	RouteQuery(ctx context.Context, text string) (repository.Descriptor, repository.ChunkSequence, error)
}

// Server handles the HTTP API.
type Server struct {
	router   QueryRouter
	registry *repository.Registry
	audit    repository.RouteAuditRepository
	log      logr.Logger
}

// NewServer creates a Server. audit may be nil, which disables /routes/recent.
func NewServer(router QueryRouter, registry *repository.Registry, audit repository.RouteAuditRepository, log logr.Logger) *Server {
	return &Server{
		router:   router,
		registry: registry,
		audit:    audit,
		log:      log.WithName("http"),
	}
}

// RouteRequest is the body of POST /routePrompt.
type RouteRequest struct {
	Text string `json:"text"`
}

// RouteResponse is the aggregated answer returned when streaming is off.
type RouteResponse struct {
	Backend string `json:"backend"`
	Text    string `json:"text"`
	Error   string `json:"error,omitempty"`
}

// StreamEvent is one Server-Sent Event of a streamed answer.
type StreamEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Backend string `json:"backend,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

type backendView struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Model         string `json:"model"`
	ContextWindow int    `json:"context_window,omitempty"`
	MaxTokens     int64  `json:"max_tokens,omitempty"`
}

type routeView struct {
	ID         string `json:"id"`
	Backend    string `json:"backend"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Fragments  int    `json:"fragments"`
	Bytes      int    `json:"bytes"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
}

// RegisterRoutes builds the chi router with every endpoint mounted.
func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/backends", s.handleBackends)
	r.Get("/routes/recent", s.handleRecentRoutes)
	r.Get("/routes/{id}", s.handleRoute)
	r.Post("/routePrompt", s.handleRoutePrompt)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBackends(w http.ResponseWriter, _ *http.Request) {
	all := s.registry.All()
	out := make([]backendView, 0, len(all))
	for _, d := range all {
		out = append(out, backendView{
			ID:            d.ID,
			Kind:          string(d.Kind),
			Model:         d.Model,
			ContextWindow: d.ContextWindow,
			MaxTokens:     d.MaxTokens,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecentRoutes(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		respondError(w, http.StatusNotFound, "route audit is disabled")
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.audit.RecentRoutes(r.Context(), limit)
	if err != nil {
		s.log.Error(err, "Failed to list recent routes")
		respondError(w, http.StatusInternalServerError, "failed to list recent routes")
		return
	}

	out := make([]routeView, 0, len(records))
	for _, rec := range records {
		out = append(out, toRouteView(rec))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		respondError(w, http.StatusNotFound, "route audit is disabled")
		return
	}

	rec, err := s.audit.Route(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		respondError(w, http.StatusNotFound, "route not found")
	case err != nil:
		s.log.Error(err, "Failed to load route")
		respondError(w, http.StatusInternalServerError, "failed to load route")
	default:
		respondJSON(w, http.StatusOK, toRouteView(rec))
	}
}

func toRouteView(rec repository.RouteOutcomeRecord) routeView {
	return routeView{
		ID:         rec.ID,
		Backend:    rec.BackendID,
		Kind:       string(rec.Kind),
		Status:     string(rec.Status),
		Fragments:  rec.Fragments,
		Bytes:      rec.Bytes,
		Error:      rec.Err,
		StartedAt:  rec.StartedAt.UTC().Format(time.RFC3339Nano),
		DurationMS: rec.Duration.Milliseconds(),
	}
}

func (s *Server) handleRoutePrompt(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	stream := r.URL.Query().Get("stream") != "false"
	flusher, ok := w.(http.Flusher)
	if stream && !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	d, seq, err := s.router.RouteQuery(r.Context(), req.Text)
	if err != nil {
		s.respondRouteError(w, "", err)
		return
	}
	defer func() {
		if err := seq.Close(); err != nil {
			s.log.Error(err, "Failed to close chunk sequence", "backend", d.ID)
		}
	}()

	// Nothing is committed until the backend has produced its first fragment.
	first, err := seq.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		s.respondRouteError(w, d.ID, err)
		return
	}

	w.Header().Set(BackendHeader, d.ID)
	if !stream {
		s.aggregate(w, d, first, err, seq)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	text := first
	for err == nil {
		if werr := writeEvent(w, StreamEvent{Type: "chunk", Content: text}); werr != nil {
			s.log.V(1).Info("Client went away mid-stream", "backend", d.ID, "error", werr.Error())
			return
		}
		flusher.Flush()
		text, err = seq.Recv()
	}

	if errors.Is(err, io.EOF) {
		_ = writeEvent(w, StreamEvent{Type: "done", Backend: d.ID})
	} else {
		s.log.Error(err, "Stream ended with an error", "backend", d.ID)
		_ = writeEvent(w, StreamEvent{Type: "error", Content: err.Error(), Kind: repository.ErrorKind(err)})
	}
	flusher.Flush()
}

func (s *Server) aggregate(w http.ResponseWriter, d repository.Descriptor, first string, err error, seq repository.ChunkSequence) {
	var b strings.Builder
	b.WriteString(first)
	for err == nil {
		var text string
		text, err = seq.Recv()
		b.WriteString(text)
	}

	resp := RouteResponse{Backend: d.ID, Text: b.String()}
	if !errors.Is(err, io.EOF) {
		s.log.Error(err, "Stream ended with an error", "backend", d.ID)
		resp.Error = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondRouteError(w http.ResponseWriter, backend string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, repository.ErrValidation) {
		status = http.StatusBadRequest
	}
	s.log.Error(err, "Failed to route prompt", "backend", backend)
	respondJSON(w, status, map[string]string{"error": err.Error(), "kind": repository.ErrorKind(err)})
}

func writeEvent(w io.Writer, ev StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
