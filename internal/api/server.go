// Package api exposes a sync session over HTTP. Upstream systems post
// batches per stream and read back the outcomes of each batch.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/contact-sync/internal/config"
)

type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
}

func NewServer(cfg config.ServerConfig, handlers *Handlers) *Server {
	handler := SetupRoutes(handlers)
	return &Server{
		config:   cfg,
		handler:  handler,
		handlers: handlers,
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadTimeout:       5 * time.Minute,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      5 * time.Minute,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// ListenAndServe serves on the configured address. After Shutdown it returns
// http.ErrServerClosed, even when Shutdown ran first.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}
