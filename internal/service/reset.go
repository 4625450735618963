package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/moonshotdigital/moonshot/internal/model"
	"github.com/moonshotdigital/moonshot/internal/store"
)

const (
	// DefaultResetTTL is the reset token lifetime when none is configured.
	DefaultResetTTL = 15 * time.Minute

	resetTokenBytes = 32
)

// ResetConfig holds the operator settings for password reset.
type ResetConfig struct {
	// Secret keys the blind index over reset tokens. It must differ from the
	// session token secret.
	Secret string
	TTL    time.Duration
}

// ResetService issues single-use password reset tokens and redeems them.
type ResetService struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	newCredential func(password string) (model.Credential, error)
}

func NewResetService(st store.Store, cfg ResetConfig) *ResetService {
	s := &ResetService{
		store:  st,
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		now:    time.Now,

		newCredential: NewCredential,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultResetTTL
	}
	return s
}

// Configured reports whether a reset secret is set.
func (s *ResetService) Configured() bool { return len(s.secret) > 0 }

// TTL returns the lifetime of issued reset tokens.
func (s *ResetService) TTL() time.Duration { return s.ttl }

// IssueReset creates a reset token for username and returns the raw token
// and its expiry. Only the keyed hash of the token is stored. Expired tokens
// are purged first.
func (s *ResetService) IssueReset(ctx context.Context, username string) (string, time.Time, error) {
	if !s.Configured() {
		return "", time.Time{}, ErrResetNotConfigured
	}
	now := s.now()

	if _, err := s.store.PurgeResetTokens(ctx, now); err != nil {
		return "", time.Time{}, err
	}

	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, fmt.Errorf("generate reset token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	rt := &model.ResetToken{
		TokenHash: s.tokenHash(token),
		Username:  username,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.SaveResetToken(ctx, rt); err != nil {
		return "", time.Time{}, err
	}
	return token, rt.ExpiresAt, nil
}

// ConfirmReset redeems token and sets newPassword for its user. Unknown,
// used and expired tokens all yield ErrInvalidResetToken.
func (s *ResetService) ConfirmReset(ctx context.Context, token, newPassword string) error {
	if !s.Configured() {
		return ErrResetNotConfigured
	}
	if utf8.RuneCountInString(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}
	if token == "" {
		return ErrInvalidResetToken
	}

	hash := s.tokenHash(token)

	// Reject unknown and spent tokens before paying for key derivation.
	row, err := s.store.GetResetToken(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return err
	}
	if !row.Usable(s.now()) {
		return ErrInvalidResetToken
	}

	cred, err := s.newCredential(newPassword)
	if err != nil {
		return err
	}
	_, err = s.store.ConsumeResetToken(ctx, hash, cred, s.now())
	if errors.Is(err, store.ErrTokenConsumed) {
		return ErrInvalidResetToken
	}
	return err
}

func (s *ResetService) tokenHash(token string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

// ResetLink builds the dashboard URL that opens the reset form for token.
func ResetLink(frontendOrigin, token string) string {
	return strings.TrimRight(frontendOrigin, "/") + "/#admin-reset?token=" + url.QueryEscape(token)
}
