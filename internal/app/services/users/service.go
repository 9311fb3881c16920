// Package users manages storefront accounts, passwords and balances.
package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/lrgstore/idstore/internal/app/domain/user"
	"github.com/lrgstore/idstore/internal/app/storage"
	"github.com/lrgstore/idstore/internal/auth"
	"github.com/lrgstore/idstore/pkg/logger"
)

// ErrInvalidCredentials is returned when a login attempt fails. The caller
// cannot distinguish a bad username from a bad password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service manages user accounts.
type Service struct {
	store  storage.UserStore
	issuer *auth.TokenIssuer
	log    *logger.Logger
}

// New constructs a user service.
func New(store storage.UserStore, issuer *auth.TokenIssuer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, issuer: issuer, log: log}
}

// Register creates a new account with a hashed password.
func (s *Service) Register(ctx context.Context, username, email, password string) (user.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if len(username) < 3 {
		return user.User{}, fmt.Errorf("username must be at least 3 characters")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return user.User{}, fmt.Errorf("invalid email address")
	}
	if len(password) < 6 {
		return user.User{}, fmt.Errorf("password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, user.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         user.RoleUser,
	})
	if err != nil {
		return user.User{}, err
	}

	s.log.WithField("user_id", created.ID).WithField("username", created.Username).Info("user registered")
	return created, nil
}

// Authenticate verifies a login and returns the user with a session token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (user.User, string, error) {
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, "", ErrInvalidCredentials
		}
		return user.User{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return user.User{}, "", ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(u)
	if err != nil {
		return user.User{}, "", fmt.Errorf("issue token: %w", err)
	}

	s.log.WithField("user_id", u.ID).Info("user authenticated")
	return u, token, nil
}

// Get returns a single user.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns all users, for the admin surface.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// AdjustBalance applies a signed balance delta, used by the admin surface
// for manual corrections.
func (s *Service) AdjustBalance(ctx context.Context, userID string, delta float64) (user.User, error) {
	u, err := s.store.AdjustBalance(ctx, userID, delta)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", userID).WithField("delta", delta).Info("balance adjusted")
	return u, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 6 {
		return fmt.Errorf("password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		return err
	}
	s.log.WithField("user_id", userID).Info("password changed")
	return nil
}

// EnsureAdmin creates the admin account if it does not exist yet. Called at
// startup so a fresh deployment is immediately manageable.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	created, err := s.store.CreateUser(ctx, user.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         user.RoleAdmin,
	})
	if err != nil {
		return err
	}
	s.log.WithField("user_id", created.ID).Info("admin account created")
	return nil
}
