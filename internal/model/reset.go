package model

import "time"

// ResetToken is the persisted record of a password-reset token. Only the
// HMAC of the raw token is stored; the raw value exists solely in the
// recovery link sent out of band.
type ResetToken struct {
	TokenHash []byte     `db:"token_hash"`
	Username  string     `db:"username"`
	ExpiresAt time.Time  `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
	UsedAt    *time.Time `db:"used_at"`
}

// Used reports whether the token has already been consumed.
func (t *ResetToken) Used() bool {
	return t.UsedAt != nil
}

// Expired reports whether the token is past its expiry at now.
func (t *ResetToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable reports whether the token may still authorize a password change.
func (t *ResetToken) Usable(now time.Time) bool {
	return !t.Used() && !t.Expired(now)
}
