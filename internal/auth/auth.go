// Package auth handles account registration and session-backed login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ieltsgenai/prep/internal/session"
	"github.com/ieltsgenai/prep/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidEmail       = errors.New("invalid email address")
)

const minPasswordLen = 8

// Service wires the account store to the session cache.
type Service struct {
	store    store.Store
	sessions *session.Cache
}

func NewService(st store.Store, sessions *session.Cache) *Service {
	return &Service{store: st, sessions: sessions}
}

// Register creates an account with a bcrypt password hash and seeds the
// default consent record.
func (s *Service) Register(ctx context.Context, email, password string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		return store.User{}, ErrInvalidEmail
	}
	if len(password) < minPasswordLen {
		return store.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	if err := s.store.SaveConsent(ctx, store.DefaultConsent(email)); err != nil {
		return store.User{}, fmt.Errorf("seed consent: %w", err)
	}
	return s.store.GetUser(ctx, email)
}

// Login verifies the password and mints a session. Unknown accounts and bad
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*session.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUser(ctx, email)
	if errors.Is(err, store.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	return s.sessions.Create(user.Email), nil
}

// Logout invalidates the session token. Unknown tokens are not an error.
func (s *Service) Logout(token string) {
	_ = s.sessions.Delete(token)
}

// Authenticate resolves a session token to its user, sliding the expiry.
func (s *Service) Authenticate(ctx context.Context, token string) (store.User, error) {
	sess, err := s.sessions.Get(token)
	if err != nil {
		return store.User{}, err
	}
	_ = s.sessions.Touch(sess.ID)
	return s.store.GetUser(ctx, sess.UserEmail)
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return strings.Contains(email[at+1:], ".")
}
