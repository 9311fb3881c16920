package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/lrgstore/idstore/internal/app/domain/user"
)

func TestIssueAndValidate(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	token, err := issuer.Issue(user.User{ID: "u-1", Username: "alice", Role: user.RoleAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID() != "u-1" {
		t.Fatalf("expected subject u-1, got %s", claims.UserID())
	}
	if claims.Username != "alice" || claims.Role != user.RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	other, err := NewTokenIssuer("different", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	token, err := issuer.Issue(user.User{ID: "u-1", Username: "alice", Role: user.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	issuer.ttl = -time.Minute

	token, err := issuer.Issue(user.User{ID: "u-1", Username: "alice", Role: user.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
