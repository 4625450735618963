package store

import "errors"

// ErrNotFound is returned when a requested row does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrTokenConsumed is returned by ConsumeResetToken when the token row is
// missing, already used, or past its expiry.
var ErrTokenConsumed = errors.New("reset token missing, used or expired")
