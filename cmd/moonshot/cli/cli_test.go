package cli

import (
	"bytes"
	"encoding/json"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

// run executes the root command with args and returns its stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("test", "abc123", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// setupWorkspace points the CLI at a config file and database in a temp dir.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "moonshot.yaml")
	t.Setenv("MOONSHOT_DATABASE_PATH", filepath.Join(dir, "data", "moonshot.db"))
	t.Setenv("MOONSHOT_RESET_SECRET", "cli-reset-secret")
	t.Setenv("MOONSHOT_RESET_FRONTEND_ORIGIN", "https://dashboard.example.com")
	t.Setenv("MOONSHOT_AUTH_TOKEN_SECRET", "cli-token-secret")

	if _, err := run(t, "", "config", "init", "--config", cfg); err != nil {
		t.Fatalf("config init: %v", err)
	}
	return cfg
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, "", "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var info buildInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v; out = %s", err, out)
	}
	if info.Version != "test" || info.Commit != "abc123" {
		t.Errorf("info = %+v", info)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	cfg := setupWorkspace(t)
	if _, err := run(t, "", "config", "init", "--config", cfg); err == nil {
		t.Fatal("expected error when the config file exists")
	}
	if _, err := run(t, "", "config", "init", "--config", cfg, "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	cfg := setupWorkspace(t)
	out, err := run(t, "", "config", "show", "--config", cfg)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "cli-token-secret") || strings.Contains(out, "cli-reset-secret") {
		t.Errorf("secrets leaked:\n%s", out)
	}
	if !strings.Contains(out, cfg) {
		t.Errorf("output does not name the config file:\n%s", out)
	}
}

func TestAdminSetPasswordAndStatus(t *testing.T) {
	cfg := setupWorkspace(t)

	if _, err := run(t, "short\n", "admin", "set-password", "--password-stdin", "--config", cfg); err == nil {
		t.Fatal("expected error for short password")
	}

	out, err := run(t, "correct-horse-battery\n", "admin", "set-password", "--password-stdin", "--config", cfg)
	if err != nil {
		t.Fatalf("set-password: %v", err)
	}
	if !strings.Contains(out, "updated") {
		t.Errorf("out = %q", out)
	}

	out, err = run(t, "", "admin", "status", "--json", "--config", cfg)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status adminStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode status: %v; out = %s", err, out)
	}
	if !status.StoredPassword || status.PasswordUpdatedAt == nil {
		t.Errorf("status = %+v, want stored password", status)
	}
	if !status.TokenSecret || !status.ResetSecret || status.EmailRelay {
		t.Errorf("status = %+v", status)
	}
}

func TestAdminResetLink(t *testing.T) {
	cfg := setupWorkspace(t)

	out, err := run(t, "", "admin", "reset-link", "--config", cfg)
	if err != nil {
		t.Fatalf("reset-link: %v", err)
	}
	link := strings.SplitN(out, "\n", 2)[0]
	prefix := "https://dashboard.example.com/#admin-reset?token="
	if !strings.HasPrefix(link, prefix) {
		t.Fatalf("link = %q, want prefix %q", link, prefix)
	}
	token, err := url.QueryUnescape(strings.TrimPrefix(link, prefix))
	if err != nil || token == "" {
		t.Fatalf("token = %q, err = %v", token, err)
	}
}

func TestAdminResetLinkWithoutSecret(t *testing.T) {
	cfg := setupWorkspace(t)
	t.Setenv("MOONSHOT_RESET_SECRET", "")

	if _, err := run(t, "", "admin", "reset-link", "--config", cfg); err == nil {
		t.Fatal("expected error without a reset secret")
	}
}

func TestAdminSupportEmail(t *testing.T) {
	cfg := setupWorkspace(t)

	if _, err := run(t, "", "admin", "support-email", "not-an-email", "--config", cfg); err == nil {
		t.Fatal("expected error for invalid address")
	}
	if _, err := run(t, "", "admin", "support-email", "help@example.com", "--config", cfg); err != nil {
		t.Fatalf("set support email: %v", err)
	}
	out, err := run(t, "", "admin", "support-email", "--config", cfg)
	if err != nil {
		t.Fatalf("get support email: %v", err)
	}
	if strings.TrimSpace(out) != "help@example.com" {
		t.Errorf("support email = %q", out)
	}
}

func TestOpenAPICommand(t *testing.T) {
	out, err := run(t, "", "openapi", "--base-url", "https://api.example.com")
	if err != nil {
		t.Fatalf("openapi: %v", err)
	}
	var doc struct {
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "https://api.example.com" || doc.Info.Version != "test" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := setupWorkspace(t)
	t.Setenv("MOONSHOT_DATABASE_DRIVER", "oracle")

	_, err := run(t, "", "admin", "status", "--config", cfg)
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("err = %v, want unsupported driver", err)
	}
}
