// Package http exposes the ledger over a JSON API: balance queries,
// transaction and card editing, starting balance, invoice previews and
// sync control.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"saldo/internal/ledger"
	"saldo/internal/syncer"
)

type Server struct {
	*http.Server

	svc  *ledger.Service
	sync *syncer.Syncer

	started      time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run server. sy may
// be nil when no remote is configured; the sync endpoints then report a
// local-only setup.
func NewServer(addr string, svc *ledger.Service, sy *syncer.Syncer) *Server {
	s := &Server{
		svc:     svc,
		sync:    sy,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /balance", s.withSecurityHeaders(s.handleBalance))
	mux.HandleFunc("GET /balance/projection", s.withSecurityHeaders(s.handleProjection))
	mux.HandleFunc("GET /balance/stats", s.withSecurityHeaders(s.handleStats))

	mux.HandleFunc("GET /occurrences", s.withSecurityHeaders(s.handleOccurrences))

	mux.HandleFunc("POST /transactions", s.withSecurityHeaders(s.handleCreateTransaction))
	mux.HandleFunc("PUT /transactions/{id}", s.withSecurityHeaders(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /transactions/{id}", s.withSecurityHeaders(s.handleDeleteTransaction))

	mux.HandleFunc("GET /cards", s.withSecurityHeaders(s.handleListCards))
	mux.HandleFunc("POST /cards", s.withSecurityHeaders(s.handleCreateCard))
	mux.HandleFunc("PUT /cards/{name}", s.withSecurityHeaders(s.handleUpdateCard))
	mux.HandleFunc("DELETE /cards/{name}", s.withSecurityHeaders(s.handleDeleteCard))
	mux.HandleFunc("GET /cards/{name}/invoice", s.withSecurityHeaders(s.handleInvoicePreview))

	mux.HandleFunc("PUT /starting-balance", s.withSecurityHeaders(s.handleSetStartingBalance))

	mux.HandleFunc("GET /sync/status", s.withSecurityHeaders(s.handleSyncStatus))
	mux.HandleFunc("POST /sync/flush", s.withSecurityHeaders(s.handleSyncFlush))

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next(w, r)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
