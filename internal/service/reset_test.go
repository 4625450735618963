package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/moonshotdigital/moonshot/internal/model"
)

func newTestReset(t *testing.T) (*ResetService, *AuthService) {
	t.Helper()
	st := newTestStore(t)
	auth := NewAuthService(st, AuthConfig{AdminPassword: "bootstrap-pass", TokenSecret: "session-secret"})
	reset := NewResetService(st, ResetConfig{Secret: "reset-secret"})
	return reset, auth
}

func TestIssueResetToken(t *testing.T) {
	reset, _ := newTestReset(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reset.now = func() time.Time { return now }

	token, expiresAt, err := reset.IssueReset(context.Background(), model.DefaultAdminUsername)
	if err != nil {
		t.Fatalf("IssueReset: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("token entropy = %d bytes, want 32", len(raw))
	}
	if !expiresAt.Equal(now.Add(DefaultResetTTL)) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, now.Add(DefaultResetTTL))
	}
}

func TestConfirmResetSingleUse(t *testing.T) {
	reset, auth := newTestReset(t)
	ctx := context.Background()

	token, _, err := reset.IssueReset(ctx, model.DefaultAdminUsername)
	if err != nil {
		t.Fatalf("IssueReset: %v", err)
	}

	if err := reset.ConfirmReset(ctx, token, "brand-new-pass"); err != nil {
		t.Fatalf("ConfirmReset: %v", err)
	}
	if _, err := auth.Login(ctx, "brand-new-pass"); err != nil {
		t.Errorf("new password should log in: %v", err)
	}
	if _, err := auth.Login(ctx, "bootstrap-pass"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("old password should fail, got %v", err)
	}

	err = reset.ConfirmReset(ctx, token, "another-pass")
	if !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("second confirm: expected ErrInvalidResetToken, got %v", err)
	}
	if _, err := auth.Login(ctx, "another-pass"); !errors.Is(err, ErrInvalidPassword) {
		t.Error("second confirm must not change the password")
	}
}

func TestConfirmResetExpired(t *testing.T) {
	reset, auth := newTestReset(t)
	ctx := context.Background()
	issued := time.Now()
	reset.now = func() time.Time { return issued }

	token, _, err := reset.IssueReset(ctx, model.DefaultAdminUsername)
	if err != nil {
		t.Fatalf("IssueReset: %v", err)
	}

	reset.now = func() time.Time { return issued.Add(DefaultResetTTL + time.Second) }
	if err := reset.ConfirmReset(ctx, token, "brand-new-pass"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected ErrInvalidResetToken, got %v", err)
	}
	if _, err := auth.Login(ctx, "bootstrap-pass"); err != nil {
		t.Errorf("password must be unchanged: %v", err)
	}
}

func TestConfirmResetRejections(t *testing.T) {
	reset, _ := newTestReset(t)
	ctx := context.Background()
	token, _, _ := reset.IssueReset(ctx, model.DefaultAdminUsername)

	if err := reset.ConfirmReset(ctx, token, "1234567"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("short password: expected ErrWeakPassword, got %v", err)
	}
	if err := reset.ConfirmReset(ctx, "", "12345678"); !errors.Is(err, ErrInvalidResetToken) {
		t.Errorf("empty token: expected ErrInvalidResetToken, got %v", err)
	}
	if err := reset.ConfirmReset(ctx, "made-up-token", "12345678"); !errors.Is(err, ErrInvalidResetToken) {
		t.Errorf("unknown token: expected ErrInvalidResetToken, got %v", err)
	}
	// The weak-password attempt did not burn the token.
	if err := reset.ConfirmReset(ctx, token, "12345678"); err != nil {
		t.Errorf("valid confirm after rejected attempts: %v", err)
	}
}

func TestConfirmResetSkipsHashingForDeadTokens(t *testing.T) {
	reset, _ := newTestReset(t)
	ctx := context.Background()
	issued := time.Now()
	reset.now = func() time.Time { return issued }

	derivations := 0
	reset.newCredential = func(password string) (model.Credential, error) {
		derivations++
		return NewCredential(password)
	}

	used, _, _ := reset.IssueReset(ctx, model.DefaultAdminUsername)
	if err := reset.ConfirmReset(ctx, used, "first-new-pass"); err != nil {
		t.Fatalf("ConfirmReset: %v", err)
	}
	if derivations != 1 {
		t.Fatalf("derivations = %d after a valid confirm, want 1", derivations)
	}

	expired, _, _ := reset.IssueReset(ctx, model.DefaultAdminUsername)
	reset.now = func() time.Time { return issued.Add(DefaultResetTTL + time.Second) }

	for name, token := range map[string]string{
		"unknown": "garbage-token",
		"used":    used,
		"expired": expired,
	} {
		if err := reset.ConfirmReset(ctx, token, "12345678"); !errors.Is(err, ErrInvalidResetToken) {
			t.Errorf("%s token: expected ErrInvalidResetToken, got %v", name, err)
		}
	}
	if derivations != 1 {
		t.Errorf("derivations = %d, dead tokens must not reach key derivation", derivations)
	}
}

func TestResetSecretIsolation(t *testing.T) {
	reset, _ := newTestReset(t)
	ctx := context.Background()
	token, _, _ := reset.IssueReset(ctx, model.DefaultAdminUsername)

	other := NewResetService(reset.store, ResetConfig{Secret: "different-secret"})
	if err := other.ConfirmReset(ctx, token, "12345678"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("token must not redeem under another secret, got %v", err)
	}
}

func TestResetNotConfigured(t *testing.T) {
	reset := NewResetService(newTestStore(t), ResetConfig{})
	if reset.Configured() {
		t.Error("Configured should be false without a secret")
	}
	if _, _, err := reset.IssueReset(context.Background(), "admin"); !errors.Is(err, ErrResetNotConfigured) {
		t.Errorf("IssueReset: expected ErrResetNotConfigured, got %v", err)
	}
	if err := reset.ConfirmReset(context.Background(), "x", "12345678"); !errors.Is(err, ErrResetNotConfigured) {
		t.Errorf("ConfirmReset: expected ErrResetNotConfigured, got %v", err)
	}
}

func TestResetLink(t *testing.T) {
	got := ResetLink("https://moonshot.digital/", "abc-_123")
	want := "https://moonshot.digital/#admin-reset?token=abc-_123"
	if got != want {
		t.Errorf("ResetLink = %q, want %q", got, want)
	}
	if !strings.Contains(ResetLink("http://localhost:5173", "a b"), "token=a+b") {
		t.Error("token should be query-escaped")
	}
}
