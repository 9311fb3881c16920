package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lrgstore/idstore/internal/app/domain/user"
	"github.com/lrgstore/idstore/internal/app/storage"
	"github.com/lrgstore/idstore/internal/app/storage/memory"
	"github.com/lrgstore/idstore/internal/auth"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	store := memory.New()
	return New(store, issuer, nil), store
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, "alice", "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.PasswordHash == "secret123" {
		t.Fatal("password stored in plain text")
	}
	if created.Role != user.RoleUser {
		t.Fatalf("expected user role, got %s", created.Role)
	}

	u, token, err := svc.Authenticate(ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if token == "" {
		t.Fatal("expected a session token")
	}
	if u.ID != created.ID {
		t.Fatalf("expected user %s, got %s", created.ID, u.ID)
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "secret123"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, _, err := svc.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Authenticate(ctx, "nobody", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"short username", "ab", "a@example.com", "secret123"},
		{"bad email", "alice", "not-an-email", "secret123"},
		{"short password", "alice", "a@example.com", "12345"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tc.username, tc.email, tc.password); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "alice@example.com", "secret123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other@example.com", "secret123"); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Register(ctx, "alice", "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.ChangePassword(ctx, created.ID, "wrong", "newsecret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, created.ID, "secret123", "newsecret"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, err := svc.Authenticate(ctx, "alice", "newsecret"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
	if _, _, err := svc.Authenticate(ctx, "alice", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still valid: %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if err := svc.EnsureAdmin(ctx, "admin", "admin@example.com", "adminpass"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	u, err := store.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	if !u.IsAdmin() {
		t.Fatalf("expected admin role, got %s", u.Role)
	}

	// Idempotent on restart.
	if err := svc.EnsureAdmin(ctx, "admin", "admin@example.com", "adminpass"); err != nil {
		t.Fatalf("ensure admin twice: %v", err)
	}
	list, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 user, got %d", len(list))
	}

	// Unset password disables bootstrapping.
	if err := svc.EnsureAdmin(ctx, "admin2", "a2@example.com", ""); err != nil {
		t.Fatalf("ensure admin without password: %v", err)
	}
	if _, err := store.GetUserByUsername(ctx, "admin2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no account created, got %v", err)
	}
}
