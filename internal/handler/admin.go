package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/moonshotdigital/moonshot/internal/metrics"
	"github.com/moonshotdigital/moonshot/internal/model"
	"github.com/moonshotdigital/moonshot/internal/relay"
	"github.com/moonshotdigital/moonshot/internal/server/middleware"
	"github.com/moonshotdigital/moonshot/internal/service"
)

const (
	resetSubject    = "Moonshot Command Center - Reset Password"
	recoverySubject = "Moonshot Command Center - Access Recovery Request"
)

// Mailer delivers notification email.
type Mailer interface {
	Configured() bool
	Send(ctx context.Context, msg relay.Message) error
}

// SettingsReader provides the stored support address.
type SettingsReader interface {
	SupportEmail(ctx context.Context) (string, error)
}

// AdminDeps are the collaborators of AdminHandler.
type AdminDeps struct {
	Auth     *service.AuthService
	Reset    *service.ResetService
	Settings SettingsReader
	Mailer   Mailer
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// FrontendOrigin is the dashboard origin used to build reset links.
	FrontendOrigin string
	// SupportEmail is used when the settings row holds no address.
	SupportEmail string
}

// AdminHandler serves the admin session and password recovery endpoints.
type AdminHandler struct {
	AdminDeps
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(deps AdminDeps) *AdminHandler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &AdminHandler{AdminDeps: deps}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

type loginRequest struct {
	Password string `json:"password" validate:"max=1024"`
}

// Login exchanges the admin password for a session token.
// POST /api/admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := validate.Struct(req); err != nil || req.Password == "" {
		h.Metrics.Login(metrics.ResultInvalid)
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Password)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidPassword):
		h.Metrics.Login(metrics.ResultInvalid)
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	case errors.Is(err, service.ErrAdminPasswordNotConfigured):
		h.Metrics.Login(metrics.ResultError)
		writeError(w, http.StatusInternalServerError, "Admin password not configured")
		return
	case errors.Is(err, service.ErrTokenSecretNotConfigured):
		h.Metrics.Login(metrics.ResultError)
		writeError(w, http.StatusInternalServerError, "Token secret not configured")
		return
	default:
		h.Metrics.Login(metrics.ResultError)
		h.Logger.Error("login failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.Metrics.Login(metrics.ResultSuccess)
	writeJSON(w, http.StatusOK, model.LoginResponse{
		Success:   true,
		Token:     token,
		ExpiresIn: int(h.Auth.TokenTTL().Seconds()),
	})
}

// Me reports whether the request carries a valid session token.
// GET /api/admin/me
func (h *AdminHandler) Me(w http.ResponseWriter, r *http.Request) {
	if !h.Auth.Configured() {
		writeError(w, http.StatusInternalServerError, "Token secret not configured")
		return
	}
	writeJSON(w, http.StatusOK, model.SessionStatus{
		Authenticated: middleware.IsAuthorized(r, h.Auth),
	})
}

// Logout acknowledges a logout. Sessions are stateless, so the client
// discards its token and nothing is revoked server-side.
// POST /api/admin/logout
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	discardBody(r)
	writeJSON(w, http.StatusOK, model.SuccessResponse{Success: true})
}

// ---------------------------------------------------------------------------
// Password change
// ---------------------------------------------------------------------------

type changePasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=1024"`
}

// ChangePassword replaces the admin password. Mounted behind RequireAdmin.
// POST /api/admin/password
func (h *AdminHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		h.Metrics.PasswordChange(metrics.ResultRejected)
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Password must be at least %d characters", service.MinPasswordLength))
		return
	}

	if err := h.Auth.ChangePassword(r.Context(), req.Password); err != nil {
		if errors.Is(err, service.ErrWeakPassword) {
			h.Metrics.PasswordChange(metrics.ResultRejected)
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Password must be at least %d characters", service.MinPasswordLength))
			return
		}
		h.Metrics.PasswordChange(metrics.ResultError)
		h.Logger.Error("password change failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}

	h.Metrics.PasswordChange(metrics.ResultSuccess)
	h.Logger.Info("admin password changed", "request_id", middleware.GetRequestID(r.Context()))
	writeJSON(w, http.StatusOK, model.SuccessResponse{Success: true})
}

// ---------------------------------------------------------------------------
// Password reset
// ---------------------------------------------------------------------------

// RequestPasswordReset emails a single-use reset link to the support
// address. It always answers 200; Sent reports whether the relay accepted
// the message.
// POST /api/admin/password-reset/request
func (h *AdminHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	discardBody(r)

	sent := h.dispatchReset(r.Context())
	if sent {
		h.Metrics.ResetRequest(metrics.ResultSent)
	} else {
		h.Metrics.ResetRequest(metrics.ResultNotSent)
	}
	writeJSON(w, http.StatusOK, model.DispatchResponse{Success: true, Sent: sent})
}

func (h *AdminHandler) dispatchReset(ctx context.Context) bool {
	log := h.Logger.With("request_id", middleware.GetRequestID(ctx))

	if h.Mailer == nil || !h.Mailer.Configured() || !h.Reset.Configured() {
		log.Warn("password reset requested but email relay or reset secret is not configured")
		return false
	}
	to := h.supportEmail(ctx)
	if to == "" {
		log.Warn("password reset requested but no support email is configured")
		return false
	}

	token, _, err := h.Reset.IssueReset(ctx, model.DefaultAdminUsername)
	if err != nil {
		log.Error("issue reset token", "error", err)
		return false
	}

	minutes := int(h.Reset.TTL().Minutes())
	body := "A password reset was requested for Moonshot Command Center.\n\n" +
		"Reset Link: " + service.ResetLink(h.FrontendOrigin, token) + "\n\n" +
		fmt.Sprintf("This link expires in %d minutes.\n\n", minutes) +
		"Support Contact: " + to

	if err := h.Mailer.Send(ctx, relay.Message{NotificationEmail: to, Subject: resetSubject, Body: body}); err != nil {
		log.Error("send reset email", "error", err)
		return false
	}
	log.Info("password reset email sent")
	return true
}

type confirmResetRequest struct {
	Token       string `json:"token" validate:"required,max=512"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=1024"`
}

// ConfirmPasswordReset redeems a reset token and sets a new password.
// POST /api/admin/password-reset/confirm
func (h *AdminHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	if !h.Reset.Configured() {
		discardBody(r)
		writeError(w, http.StatusInternalServerError, "Reset not configured")
		return
	}

	var req confirmResetRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if err := validate.Struct(req); err != nil {
		h.Metrics.ResetConfirmation(metrics.ResultRejected)
		h.Logger.Debug("reset confirmation rejected", "field", validationField(err))
		writeError(w, http.StatusBadRequest, "Invalid token or password")
		return
	}

	err := h.Reset.ConfirmReset(r.Context(), req.Token, req.NewPassword)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidResetToken):
		h.Metrics.ResetConfirmation(metrics.ResultInvalid)
		writeError(w, http.StatusBadRequest, "Invalid or expired token")
		return
	case errors.Is(err, service.ErrWeakPassword):
		h.Metrics.ResetConfirmation(metrics.ResultRejected)
		writeError(w, http.StatusBadRequest, "Invalid token or password")
		return
	case errors.Is(err, service.ErrResetNotConfigured):
		writeError(w, http.StatusInternalServerError, "Reset not configured")
		return
	default:
		h.Metrics.ResetConfirmation(metrics.ResultError)
		h.Logger.Error("reset confirmation failed", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.Metrics.ResetConfirmation(metrics.ResultSuccess)
	h.Logger.Info("admin password reset", "request_id", middleware.GetRequestID(r.Context()))
	writeJSON(w, http.StatusOK, model.SuccessResponse{Success: true})
}

// ---------------------------------------------------------------------------
// Access recovery
// ---------------------------------------------------------------------------

// AccessRecovery emails operator recovery instructions to the support
// address. Like RequestPasswordReset it always answers 200.
// POST /api/admin/access-recovery
func (h *AdminHandler) AccessRecovery(w http.ResponseWriter, r *http.Request) {
	discardBody(r)

	sent := h.dispatchRecovery(r.Context())
	if sent {
		h.Metrics.RecoveryRequest(metrics.ResultSent)
	} else {
		h.Metrics.RecoveryRequest(metrics.ResultNotSent)
	}
	writeJSON(w, http.StatusOK, model.DispatchResponse{Success: true, Sent: sent})
}

func (h *AdminHandler) dispatchRecovery(ctx context.Context) bool {
	log := h.Logger.With("request_id", middleware.GetRequestID(ctx))

	if h.Mailer == nil || !h.Mailer.Configured() {
		log.Warn("access recovery requested but email relay is not configured")
		return false
	}
	to := h.supportEmail(ctx)
	if to == "" {
		log.Warn("access recovery requested but no support email is configured")
		return false
	}

	body := "An access recovery request was made for Moonshot Command Center.\n\n" +
		"If you lost access, run `moonshot admin set-password` on the server " +
		"or request a password reset link from the login screen.\n\n" +
		"Support Contact: " + to

	if err := h.Mailer.Send(ctx, relay.Message{NotificationEmail: to, Subject: recoverySubject, Body: body}); err != nil {
		log.Error("send access recovery email", "error", err)
		return false
	}
	return true
}

// supportEmail prefers the stored settings value over the configured one.
func (h *AdminHandler) supportEmail(ctx context.Context) string {
	if h.Settings != nil {
		email, err := h.Settings.SupportEmail(ctx)
		if err != nil {
			h.Logger.Warn("read support email", "error", err)
		}
		if email = strings.TrimSpace(email); email != "" {
			return email
		}
	}
	return strings.TrimSpace(h.SupportEmail)
}
