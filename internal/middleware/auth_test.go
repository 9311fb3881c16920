package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lrgstore/idstore/internal/app/domain/user"
	"github.com/lrgstore/idstore/internal/auth"
)

func newIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return issuer
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	m := NewAuthMiddleware(newIssuer(t), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthAcceptsValidToken(t *testing.T) {
	issuer := newIssuer(t)
	m := NewAuthMiddleware(issuer, nil, nil)

	token, err := issuer.Issue(user.User{ID: "u-1", Username: "buyer", Role: user.RoleUser})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	var gotUserID string
	var gotRole user.Role
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserID(r.Context())
		gotRole = UserRole(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	m.Handler(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUserID != "u-1" || gotRole != user.RoleUser {
		t.Fatalf("context not populated: user=%q role=%q", gotUserID, gotRole)
	}
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	issuer := newIssuer(t)
	m := NewAuthMiddleware(issuer, nil, nil)

	token, err := issuer.Issue(user.User{ID: "u-1", Username: "buyer", Role: user.RoleUser})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/o-1/logs?token="+token, nil)
	rec := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthSkipPaths(t *testing.T) {
	m := NewAuthMiddleware(newIssuer(t), nil, []string{"/api/v1/auth/login"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	rec := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for skip path, got %d", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	issuer := newIssuer(t)
	m := NewAuthMiddleware(issuer, nil, nil)

	adminToken, err := issuer.Issue(user.User{ID: "a-1", Username: "admin", Role: user.RoleAdmin})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	userToken, err := issuer.Issue(user.User{ID: "u-1", Username: "buyer", Role: user.RoleUser})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	handler := m.Handler(m.RequireAdmin(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}
