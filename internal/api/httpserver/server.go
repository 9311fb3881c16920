// Package httpserver wraps the standard HTTP server with the service's
// lifecycle conventions.
package httpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lrgstore/idstore/internal/config"
	"github.com/lrgstore/idstore/pkg/logger"
)

// Server manages the HTTP listener lifecycle.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// New builds a server around the given handler using the server config.
func New(cfg config.ServerConfig, log *logger.Logger, handler http.Handler) *Server {
	if log == nil {
		log = logger.NewDefault("httpserver")
	}
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		log: log,
	}
}

// Start begins serving. It blocks until the listener stops.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
