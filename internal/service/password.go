package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/moonshotdigital/moonshot/internal/model"
)

const (
	// DefaultIterations is the PBKDF2 work factor for newly created hashes.
	// Stored credentials keep the count they were created with.
	DefaultIterations = 100000
	// SaltSize is the length in bytes of the per-credential random salt.
	SaltSize = 16
	// KeySize is the length in bytes of the derived digest.
	KeySize = 32
	// MinPasswordLength is the shortest password accepted for a new credential.
	MinPasswordLength = 8

	maxIterations = 10_000_000
)

// HashPassword derives the PBKDF2-HMAC-SHA256 digest of password.
func HashPassword(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
}

// NewCredential hashes password with a fresh random salt at DefaultIterations.
func NewCredential(password string) (model.Credential, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return model.Credential{}, fmt.Errorf("generate salt: %w", err)
	}
	return model.Credential{
		PasswordHash: HashPassword(password, salt, DefaultIterations),
		Salt:         salt,
		Iterations:   DefaultIterations,
	}, nil
}

// VerifyPassword reports whether password matches the stored credential.
// An incomplete credential never matches.
func VerifyPassword(password string, cred model.Credential) bool {
	if len(cred.Salt) == 0 || len(cred.PasswordHash) == 0 {
		return false
	}
	if cred.Iterations < 1 || cred.Iterations > maxIterations {
		return false
	}
	got := pbkdf2.Key([]byte(password), cred.Salt, cred.Iterations, len(cred.PasswordHash), sha256.New)
	return subtle.ConstantTimeCompare(got, cred.PasswordHash) == 1
}
