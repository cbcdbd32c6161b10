// Package api exposes the retrieval pipeline over HTTP: retrieval and
// answer endpoints, envelope snapshots, health, and a websocket diagnostics
// stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"memfuse/internal/config"
	"memfuse/internal/diagnostics"
	"memfuse/internal/logging"
	"memfuse/internal/pipeline"
	"memfuse/internal/rfcerrors"
	"memfuse/internal/storage"
)

// Server is the HTTP shell around the orchestrator
type Server struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	ingestor     *pipeline.Ingestor
	store        storage.VectorStore
	snapshots    *pipeline.SnapshotCache
	hub          *diagnostics.Hub
	logger       logging.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer creates the HTTP server. snapshots and hub may be nil.
func NewServer(
	cfg *config.Config,
	orchestrator *pipeline.Orchestrator,
	ingestor *pipeline.Ingestor,
	store storage.VectorStore,
	snapshots *pipeline.SnapshotCache,
	hub *diagnostics.Hub,
	logger logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		ingestor:     ingestor,
		store:        store,
		snapshots:    snapshots,
		hub:          hub,
		logger:       logger.WithComponent("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.traceMiddleware)

	router.Get("/healthz", s.handleHealth)
	router.Route("/v1", func(r chi.Router) {
		r.Post("/retrieve", s.handleRetrieve)
		r.Post("/answer", s.handleAnswer)
		r.Post("/chunks", s.handleIngest)
		r.Get("/snapshots/{traceID}", s.handleSnapshot)
	})
	if hub != nil {
		router.Get("/ws/diagnostics", s.handleDiagnosticsWS)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// traceMiddleware seeds every request context with a trace ID
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		ctx := logging.WithTraceID(r.Context(), traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// retrieveRequest is the body for /v1/retrieve and /v1/answer
type retrieveRequest struct {
	Query          string `json:"query"`
	SessionID      string `json:"session_id,omitempty"`
	FinalCoreCount int    `json:"final_core_count,omitempty"`
}

func (r *retrieveRequest) validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return rfcerrors.New(rfcerrors.CodeValidation, "query cannot be empty")
	}
	return nil
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRetrieveRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	env, err := s.orchestrator.Retrieve(r.Context(), req.Query, pipeline.Options{
		SessionID:      req.SessionID,
		FinalCoreCount: req.FinalCoreCount,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRetrieveRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	text, env, err := s.orchestrator.Answer(r.Context(), req.Query, pipeline.Options{
		SessionID:      req.SessionID,
		FinalCoreCount: req.FinalCoreCount,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"answer":   text,
		"envelope": env,
	})
}

// ingestRequest is the body for /v1/chunks
type ingestRequest struct {
	ID       string                 `json:"id,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, rfcerrors.Wrap(rfcerrors.CodeValidation, "invalid request body", err))
		return
	}

	chunk, err := s.ingestor.Ingest(r.Context(), req.ID, req.Content, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, chunk)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.writeError(w, rfcerrors.New(rfcerrors.CodeValidation, "snapshot cache is disabled"))
		return
	}

	traceID := chi.URLParam(r, "traceID")
	env, err := s.snapshots.Get(r.Context(), traceID)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.logger.Warn("store health check failed", "error", err)
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleDiagnosticsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Register(conn)
}

func decodeRetrieveRequest(r *http.Request) (*retrieveRequest, error) {
	var req retrieveRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		return nil, rfcerrors.Wrap(rfcerrors.CodeValidation, "invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var pe *rfcerrors.PipelineError
	if errors.As(err, &pe) {
		code = pe.HTTPStatus()
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}
