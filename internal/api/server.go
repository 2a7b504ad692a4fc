// Package api exposes mini-dynamo's client-facing KV operations and
// admin/introspection endpoints over HTTP (spec.md treats the HTTP/RPC
// front-end as an external collaborator; this package is that
// collaborator's reference implementation).
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/config"
	"github.com/mini-dynamo/mini-dynamo/internal/replication"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
)

// ErrServerClosed is returned by Start after a graceful Stop, mirroring
// http.ErrServerClosed so callers can distinguish it from a real error.
var ErrServerClosed = errors.New("api: server closed")

// Server serves the HTTP API for a single node's Coordinator/Ring.
type Server struct {
	cfg         *config.Config
	router      *mux.Router
	httpServer  *http.Server
	ring        *ring.Ring
	coordinator *replication.Coordinator
	log         *zap.SugaredLogger
	startTime   time.Time
}

// NewServer wires an HTTP server for cfg's node over r and coord.
func NewServer(cfg *config.Config, r *ring.Ring, coord *replication.Coordinator, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:         cfg,
		router:      mux.NewRouter(),
		ring:        r,
		coordinator: coord,
		log:         log,
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/kv/{key}", s.handleGet).Methods("GET")
	s.router.HandleFunc("/kv/{key}", s.handlePut).Methods("PUT", "POST")

	s.router.HandleFunc("/admin/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/admin/ring", s.handleRing).Methods("GET")
	s.router.HandleFunc("/admin/keys", s.handleKeys).Methods("GET")
	s.router.HandleFunc("/admin/stats", s.handleStats).Methods("GET")
	s.router.HandleFunc("/admin/hints", s.handleHints).Methods("GET")

	s.router.HandleFunc("/internal/replicate", s.handleReplicate).Methods("POST")
	s.router.HandleFunc("/internal/read", s.handleInternalRead).Methods("GET")
	s.router.HandleFunc("/internal/merkle", s.handleMerkle).Methods("GET")
	s.router.HandleFunc("/internal/getall", s.handleGetAll).Methods("GET")
	s.router.HandleFunc("/internal/gossip", s.handleGossip).Methods("POST")
}

// Start begins serving. It blocks until Stop is called or a fatal error
// occurs.
func (s *Server) Start() error {
	addr := s.cfg.FullAddress()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Infow("http server listening", "address", addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return ErrServerClosed
		}
		return err
	}
	return nil
}

// Stop gracefully drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Infow("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
