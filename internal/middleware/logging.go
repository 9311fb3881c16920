package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/lrgstore/idstore/pkg/logger"
)

// RequestLogger logs one line per request with method, path, status and
// duration.
type RequestLogger struct {
	log *logger.Logger
}

// NewRequestLogger creates the request logging middleware.
func NewRequestLogger(log *logger.Logger) *RequestLogger {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &RequestLogger{log: log}
}

// Handler returns the logging middleware handler.
func (l *RequestLogger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lw := &logWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(lw, r)

		l.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", lw.status).
			WithField("duration", time.Since(start).String()).
			WithField("remote", r.RemoteAddr).
			Info("request handled")
	})
}

type logWriter struct {
	http.ResponseWriter
	status int
}

func (w *logWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so websocket upgrades keep working on logged routes.
func (w *logWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (w *logWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
