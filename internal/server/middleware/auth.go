package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/moonshotdigital/moonshot/internal/model"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// TokenVerifier checks a session token and returns its claims, or nil when
// the token is not acceptable.
type TokenVerifier interface {
	Claims(token string) *jwt.RegisteredClaims
}

// Principal is the admin session attached to an authorized request.
type Principal struct {
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively and surrounding
// whitespace is ignored. Any other shape yields "".
func BearerToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "bearer") {
		return ""
	}
	return fields[1]
}

// IsAuthorized reports whether r carries a valid session token. It has no
// side effects and never writes a response.
func IsAuthorized(r *http.Request, v TokenVerifier) bool {
	return principalFor(r, v) != nil
}

func principalFor(r *http.Request, v TokenVerifier) *Principal {
	token := BearerToken(r)
	if token == "" || v == nil {
		return nil
	}
	claims := v.Claims(token)
	if claims == nil {
		return nil
	}
	p := &Principal{Subject: claims.Subject}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p
}

// RequireAdmin rejects requests without a valid bearer session with 401 and
// attaches the Principal to the context of those that pass.
func RequireAdmin(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := principalFor(r, v)
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{ //nolint:errcheck
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
