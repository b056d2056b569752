// Package server exposes the analysis pipeline to collaborator services
// over HTTP and streams session progress over WebSocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"apiguardian/internal/auth"
	"apiguardian/internal/config"
	"apiguardian/internal/engine"
	"apiguardian/internal/errors"
	"apiguardian/internal/telemetry"
)

// Server is the HTTP surface over one engine.
type Server struct {
	engine    *engine.Engine
	tokens    *auth.TokenService
	wsManager *WebSocketManager
	router    *mux.Router
	server    *http.Server
}

// New creates the server and wires all routes and middleware.
func New(eng *engine.Engine, cfg config.ServerConfig) *Server {
	s := &Server{
		engine:    eng,
		tokens:    auth.NewTokenService(cfg.ServiceToken),
		wsManager: NewWebSocketManager(),
		router:    mux.NewRouter(),
	}

	rateLimiter := errors.NewRateLimiter(time.Minute, 100)
	s.router.Use(corsMiddleware)
	s.router.Use(securityHeadersMiddleware)
	s.router.Use(rateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second, // analyses can run to the reasoning timeout
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	log.Printf("🌐 Starting APIGuardian server on %s...", s.server.Addr)
	log.Printf("📊 API endpoints available under /api/v1/")
	log.Printf("🔗 Session progress stream on /ws")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.wsManager.HandleConnection)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.tokens.Middleware)

	api.HandleFunc("/analyze", s.handleAnalyze).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleEndSession).Methods("DELETE")
	api.HandleFunc("/schema", s.handleSchema).Methods("GET")
	api.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

// handleHealth returns health check status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `"}`))
}

// handleAnalyze runs one endpoint analysis and returns the report.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req engine.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.SendError(w, errors.NewValidationError("invalid request body", map[string]interface{}{
			"detail": err.Error(),
		}))
		return
	}

	s.wsManager.BroadcastMessage("analysis_started", map[string]interface{}{
		"session_id": req.SessionID,
		"endpoint":   req.Endpoint.ID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})

	report, err := s.engine.AnalyzeEndpoint(r.Context(), req)
	if err != nil {
		errors.SendError(w, errors.NewValidationError(err.Error(), nil))
		return
	}

	s.wsManager.BroadcastMessage("report_ready", map[string]interface{}{
		"session_id":            report.SessionID,
		"endpoint":              report.Endpoint,
		"plan_source":           report.PlanSource,
		"vulnerabilities_found": report.VulnerabilitiesFound,
		"fixes_applied":         report.FixesApplied,
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
	})

	errors.SendSuccess(w, report)
}

// handleGetSession returns a session with its accumulated reports.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	session, ok := s.engine.Session(id)
	if !ok {
		errors.SendError(w, errors.NewNotFoundError("session"))
		return
	}

	errors.SendSuccess(w, map[string]interface{}{
		"id":         session.ID,
		"created_at": session.CreatedAt,
		"reports":    session.Reports(),
	})
}

// handleEndSession discards a session and its remediation ledger.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, ok := s.engine.Session(id); !ok {
		errors.SendError(w, errors.NewNotFoundError("session"))
		return
	}

	s.engine.EndSession(id)
	log.Printf("🗑️  Session %s ended", id)
	errors.SendSuccess(w, map[string]bool{"ended": true})
}

// handleSchema returns the JSON schema decision plans are validated
// against, so collaborators can pre-validate payloads.
func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.engine.Schema()))
}

// handleMetrics returns a host telemetry snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	errors.SendSuccess(w, telemetry.Snapshot(r.Context()))
}
