package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lrgstore/idstore/pkg/logger"
)

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewDefault("test")
	log.SetOutput(&buf)

	wrapped := NewRequestLogger(log).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status passthrough, got %d", rec.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "status=404") {
		t.Fatalf("expected status in log line, got %q", out)
	}
	if !strings.Contains(out, "/api/v1/products/missing") {
		t.Fatalf("expected path in log line, got %q", out)
	}
}

func TestLogWriterSupportsHijack(t *testing.T) {
	server := httptest.NewServer(NewRequestLogger(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("expected hijacker passthrough")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	})))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err == nil {
		resp.Body.Close()
	}
}
