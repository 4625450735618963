package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"

	"github.com/moonshotdigital/moonshot/internal/model"
	"github.com/moonshotdigital/moonshot/internal/store"
)

// DefaultTokenTTL is the session token lifetime when none is configured.
const DefaultTokenTTL = 7 * 24 * time.Hour

// AuthConfig holds the operator settings for admin sessions.
type AuthConfig struct {
	// AdminPassword is accepted at login until an admin credential is stored.
	AdminPassword string
	TokenSecret   string
	TokenTTL      time.Duration
}

// AuthService authenticates the single admin and issues session tokens.
type AuthService struct {
	store             store.Store
	signer            *TokenSigner
	bootstrapPassword string
	ttl               time.Duration
	now               func() time.Time
}

func NewAuthService(st store.Store, cfg AuthConfig) *AuthService {
	s := &AuthService{
		store:             st,
		bootstrapPassword: strings.TrimSpace(cfg.AdminPassword),
		ttl:               cfg.TokenTTL,
		now:               time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if cfg.TokenSecret != "" {
		s.signer = NewTokenSigner(cfg.TokenSecret)
	}
	return s
}

// Configured reports whether a token secret is set.
func (s *AuthService) Configured() bool { return s.signer != nil }

// TokenTTL returns the lifetime of issued session tokens.
func (s *AuthService) TokenTTL() time.Duration { return s.ttl }

// Login checks password against the stored admin credential, or against the
// bootstrap password while no credential exists, and returns a session token.
func (s *AuthService) Login(ctx context.Context, password string) (string, error) {
	if s.signer == nil {
		return "", ErrTokenSecretNotConfigured
	}

	admin, err := s.store.GetAdmin(ctx, model.DefaultAdminUsername)
	switch {
	case err == nil:
		if !VerifyPassword(password, admin.Credential) {
			return "", ErrInvalidPassword
		}
	case errors.Is(err, store.ErrNotFound):
		if s.bootstrapPassword == "" {
			return "", ErrAdminPasswordNotConfigured
		}
		if subtle.ConstantTimeCompare([]byte(password), []byte(s.bootstrapPassword)) != 1 {
			return "", ErrInvalidPassword
		}
	default:
		return "", fmt.Errorf("load admin: %w", err)
	}

	return s.issue()
}

func (s *AuthService) issue() (string, error) {
	now := s.now()
	return s.signer.Sign(jwt.RegisteredClaims{
		Subject:   model.DefaultAdminUsername,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
}

// Claims returns the verified claims of a session token, or nil.
func (s *AuthService) Claims(token string) *jwt.RegisteredClaims {
	if s.signer == nil {
		return nil
	}
	return s.signer.Verify(token)
}

// Authorized reports whether token is a valid, unexpired session token.
func (s *AuthService) Authorized(token string) bool {
	return s.Claims(token) != nil
}

// ChangePassword stores a new credential for the admin. Tokens issued
// before the change stay valid until they expire.
func (s *AuthService) ChangePassword(ctx context.Context, password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	cred, err := NewCredential(password)
	if err != nil {
		return err
	}
	admin := &model.Admin{Username: model.DefaultAdminUsername, Credential: cred}
	if err := s.store.UpsertAdmin(ctx, admin); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// Status describes how the admin credential is currently provisioned.
type Status struct {
	StoredCredential  bool
	BootstrapPassword bool
	TokenSecret       bool
	UpdatedAt         time.Time
}

// Status reports the credential provisioning state without exposing secrets.
func (s *AuthService) Status(ctx context.Context) (Status, error) {
	st := Status{
		BootstrapPassword: s.bootstrapPassword != "",
		TokenSecret:       s.signer != nil,
	}
	admin, err := s.store.GetAdmin(ctx, model.DefaultAdminUsername)
	switch {
	case err == nil:
		st.StoredCredential = true
		st.UpdatedAt = admin.UpdatedAt
	case !errors.Is(err, store.ErrNotFound):
		return st, fmt.Errorf("load admin: %w", err)
	}
	return st, nil
}
