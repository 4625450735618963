package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/moonshotdigital/moonshot/internal/metrics"
	"github.com/moonshotdigital/moonshot/internal/relay"
	"github.com/moonshotdigital/moonshot/internal/server/middleware"
	"github.com/moonshotdigital/moonshot/internal/service"
	"github.com/moonshotdigital/moonshot/internal/store"
)

const (
	testTokenSecret    = "test-secret-for-handler-tests"
	testResetSecret    = "test-reset-secret"
	testPassword       = "supersecretpassword"
	testSupportEmail   = "it-support@example.com"
	testFrontendOrigin = "https://dashboard.example.com"
)

// fakeMailer records sent messages in place of the email relay.
type fakeMailer struct {
	mu         sync.Mutex
	configured bool
	fail       error
	sent       []relay.Message
}

func (m *fakeMailer) Configured() bool { return m.configured }

func (m *fakeMailer) Send(_ context.Context, msg relay.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) last(t *testing.T) relay.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return m.sent[len(m.sent)-1]
}

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *store.SQLStore
	authSvc *service.AuthService
	reset   *service.ResetService
	mailer  *fakeMailer
	metrics *metrics.Metrics
	handler *AdminHandler
	router  chi.Router
}

type envOption func(*service.AuthConfig, *service.ResetConfig, *AdminDeps)

func withoutResetSecret() envOption {
	return func(_ *service.AuthConfig, rc *service.ResetConfig, _ *AdminDeps) { rc.Secret = "" }
}

func withoutTokenSecret() envOption {
	return func(ac *service.AuthConfig, _ *service.ResetConfig, _ *AdminDeps) { ac.TokenSecret = "" }
}

func withoutAdminPassword() envOption {
	return func(ac *service.AuthConfig, _ *service.ResetConfig, _ *AdminDeps) { ac.AdminPassword = "" }
}

func withSupportEmail(email string) envOption {
	return func(_ *service.AuthConfig, _ *service.ResetConfig, d *AdminDeps) { d.SupportEmail = email }
}

// newTestEnv creates a fresh environment with an in-memory store and the
// admin routes mounted the way the server mounts them.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	st, err := store.Open(context.Background(), store.Config{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authCfg := service.AuthConfig{AdminPassword: testPassword, TokenSecret: testTokenSecret}
	resetCfg := service.ResetConfig{Secret: testResetSecret}
	mailer := &fakeMailer{configured: true}
	m := metrics.New()
	deps := AdminDeps{
		Settings:       st,
		Mailer:         mailer,
		Metrics:        m,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		FrontendOrigin: testFrontendOrigin,
		SupportEmail:   testSupportEmail,
	}
	for _, opt := range opts {
		opt(&authCfg, &resetCfg, &deps)
	}

	authSvc := service.NewAuthService(st, authCfg)
	resetSvc := service.NewResetService(st, resetCfg)
	deps.Auth = authSvc
	deps.Reset = resetSvc
	h := NewAdminHandler(deps)

	r := chi.NewRouter()
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Get("/me", h.Me)
		r.Post("/logout", h.Logout)
		r.With(middleware.RequireAdmin(authSvc)).Post("/password", h.ChangePassword)
		r.Post("/password-reset/request", h.RequestPasswordReset)
		r.Post("/password-reset/confirm", h.ConfirmPasswordReset)
		r.Post("/access-recovery", h.AccessRecovery)
	})

	return &testEnv{
		store:   st,
		authSvc: authSvc,
		reset:   resetSvc,
		mailer:  mailer,
		metrics: m,
		handler: h,
		router:  r,
	}
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, token ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+token[0])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// login performs a login and returns the session token.
func (e *testEnv) login(t *testing.T, password string) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/admin/login", toJSON(t, map[string]string{"password": password}))
	assertStatus(t, rr, 200)
	var resp struct {
		Token string `json:"token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("login returned empty token")
	}
	return resp.Token
}

// resetTokenFromMail extracts the raw reset token from the last reset email.
func (e *testEnv) resetTokenFromMail(t *testing.T) string {
	t.Helper()
	body := e.mailer.last(t).Body
	_, after, ok := strings.Cut(body, "#admin-reset?token=")
	if !ok {
		t.Fatalf("reset link not found in body: %q", body)
	}
	raw, _, _ := strings.Cut(after, "\n")
	token, err := url.QueryUnescape(raw)
	if err != nil {
		t.Fatalf("unescape token: %v", err)
	}
	return token
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v; body = %s", err, rr.Body.String())
	}
}

func assertErrorMessage(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	var resp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Error.Message != want {
		t.Errorf("error.message = %q, want %q", resp.Error.Message, want)
	}
	if resp.Error.Code != rr.Code {
		t.Errorf("error.code = %d, want %d", resp.Error.Code, rr.Code)
	}
}

var errRelayDown = errors.New("relay down")
