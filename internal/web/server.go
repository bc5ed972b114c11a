// Package web exposes the derived router state and the command surface over
// HTTP: a REST API, a WebSocket event stream, and Prometheus metrics.
package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drouter-control/internal/journal"
	"drouter-control/internal/protoj"
	"drouter-control/internal/state"
)

// Control is the command side of the protocol session used by the handlers.
// *protoj.Session implements it; tests substitute a stub.
type Control interface {
	State() protoj.SessionState
	SetOutputCrosspoint(router, output, input int) error
	SetGPIState(router, line int, code string, duration int) error
	SetGPOState(router, line int, code string, duration int) error
	ActivateSnapshot(router int, snapshot string) error
	SaveAction(edit protoj.ActionEdit) error
	RemoveAction(id int) error
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithJournal enables the recorded-events endpoint.
func WithJournal(j *journal.Journal) ServerOption {
	return func(s *Server) {
		s.journal = j
	}
}

// WithVersion sets the version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server over the store, the bus, and the session.
type Server struct {
	store   *state.Store
	control Control
	bus     *state.Bus
	journal *journal.Journal
	wsHub   *WSHub
	logger  *slog.Logger
	mux     *http.ServeMux

	apiKey         string
	allowedOrigins []string
	version        string

	wg          sync.WaitGroup
	unsubEvents func()
}

// NewServer creates the web server and starts broadcasting bus events to
// WebSocket clients.
func NewServer(store *state.Store, bus *state.Bus, control Control, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		store:   store,
		control: control,
		bus:     bus,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = bus.OnAll(func(event state.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)

	s.mux.HandleFunc("GET /api/routers", s.handleListRouters)
	s.mux.HandleFunc("GET /api/routers/{router}", s.handleGetRouter)
	s.mux.HandleFunc("GET /api/routers/{router}/inputs", s.handleListInputs)
	s.mux.HandleFunc("GET /api/routers/{router}/outputs", s.handleListOutputs)
	s.mux.HandleFunc("GET /api/routers/{router}/snapshots", s.handleListSnapshots)
	s.mux.HandleFunc("GET /api/routers/{router}/crosspoints", s.handleListCrosspoints)
	s.mux.HandleFunc("GET /api/routers/{router}/gpis", s.handleListGPIs)
	s.mux.HandleFunc("GET /api/routers/{router}/gpos", s.handleListGPOs)
	s.mux.HandleFunc("GET /api/routers/{router}/actions", s.handleListRouterActions)

	s.mux.HandleFunc("POST /api/routers/{router}/crosspoints", s.handleSetCrosspoint)
	s.mux.HandleFunc("POST /api/routers/{router}/snapshots/activate", s.handleActivateSnapshot)
	s.mux.HandleFunc("POST /api/routers/{router}/gpis/{line}", s.handleTriggerGPI)
	s.mux.HandleFunc("POST /api/routers/{router}/gpos/{line}", s.handleTriggerGPO)

	s.mux.HandleFunc("GET /api/actions", s.handleListActions)
	s.mux.HandleFunc("POST /api/actions", s.handleSaveAction)
	s.mux.HandleFunc("DELETE /api/actions/{id}", s.handleDeleteAction)

	s.mux.HandleFunc("GET /api/events", s.handleRecentEvents)

	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// Only /api/ is key-protected: /metrics is for the scraper and the
		// WS upgrade cannot carry custom headers from a browser.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
