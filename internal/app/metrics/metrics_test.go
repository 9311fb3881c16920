package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/":                              "/",
		"/health":                        "/health",
		"/api/v1/products":               "/api/v1/products",
		"/api/v1/products/123":           "/api/v1/products/:id",
		"/api/v1/orders/abc/logs":        "/api/v1/orders/:id/logs",
		"/api/v1/orders/abc/status":      "/api/v1/orders/:id/status",
		"/api/v1/admin":                  "/api/v1/admin",
		"/api/v1/admin/stats":            "/api/v1/admin/stats",
		"/api/v1/admin/orders":           "/api/v1/admin/orders",
		"/api/v1/admin/orders/abc":       "/api/v1/admin/orders/:id",
		"/api/v1/admin/orders/abc/link":  "/api/v1/admin/orders/:id/link",
		"/api/v1/admin/products/9/stock": "/api/v1/admin/products/:id/stock",
		"/api/v1/admin/stock/9":          "/api/v1/admin/stock/:id",
	}
	for raw, want := range cases {
		if got := canonicalPath(raw); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestInstrumentHandlerPassesThrough(t *testing.T) {
	wrapped := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/products", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status passthrough, got %d", rec.Code)
	}
}

func TestInstrumentHandlerSupportsWebsocketUpgrade(t *testing.T) {
	upgrader := websocket.Upgrader{}
	wrapped := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade behind instrumented handler: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("STATUS:connected"))
	}))

	server := httptest.NewServer(wrapped)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/orders/abc/logs"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(message) != "STATUS:connected" {
		t.Fatalf("unexpected message %q", message)
	}
}
