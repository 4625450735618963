package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPassword   = errors.New("invalid password")
	ErrWeakPassword      = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidResetToken = errors.New("invalid or expired token")

	// ErrNotConfigured is wrapped by every error caused by missing operator
	// configuration.
	ErrNotConfigured              = errors.New("not configured")
	ErrAdminPasswordNotConfigured = fmt.Errorf("admin password %w", ErrNotConfigured)
	ErrTokenSecretNotConfigured   = fmt.Errorf("token secret %w", ErrNotConfigured)
	ErrResetNotConfigured         = fmt.Errorf("password reset %w", ErrNotConfigured)
)
