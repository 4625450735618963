package model

import "time"

// DefaultAdminUsername is the username of the single administrative identity.
// Multi-user administration is not supported.
const DefaultAdminUsername = "admin"

// Credential is a derived password digest together with the parameters needed
// to recompute it. The iteration count is stored per record so that older
// digests stay verifiable after the default changes.
type Credential struct {
	PasswordHash []byte `json:"-" db:"password_hash"`
	Salt         []byte `json:"-" db:"salt"`
	Iterations   int    `json:"-" db:"iterations"`
}

// Admin is the administrative identity that can sign in to the dashboard.
// The row is created on the first password change or reset confirmation and
// is never deleted.
type Admin struct {
	Username string `json:"username" db:"username"`
	Credential
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
