// Package api exposes the HTTP surface: sequence and enrollment management,
// sending account management, tracking endpoints, and inbound webhooks.
// Authentication lives in an external layer; handlers trust the
// X-Principal-ID header it injects.
package api

import (
	"context"
	"net/http"
	"time"
)

// Server wraps the router with an http.Server lifecycle.
type Server struct {
	handler http.Handler
	server  *http.Server
}

func NewServer(h *Handlers, allowedOrigins []string) *Server {
	return &Server{handler: Routes(h, allowedOrigins)}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
