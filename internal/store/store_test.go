package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moonshotdigital/moonshot/internal/model"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), Config{SupportEmail: "it-support@example.com"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testCredential(tag string) model.Credential {
	return model.Credential{
		PasswordHash: []byte("hash-" + tag),
		Salt:         []byte("salt-" + tag),
		Iterations:   100000,
	}
}

func seedToken(t *testing.T, s *SQLStore, hash string, expiresAt time.Time) {
	t.Helper()
	err := s.SaveResetToken(context.Background(), &model.ResetToken{
		TokenHash: []byte(hash),
		Username:  model.DefaultAdminUsername,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveResetToken: %v", err)
	}
}

func TestGetAdminNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAdmin(context.Background(), model.DefaultAdminUsername)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertAdminKeepsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	first := &model.Admin{Username: "admin", Credential: testCredential("one"), CreatedAt: created}
	if err := s.UpsertAdmin(ctx, first); err != nil {
		t.Fatalf("UpsertAdmin: %v", err)
	}

	second := &model.Admin{Username: "admin", Credential: testCredential("two")}
	if err := s.UpsertAdmin(ctx, second); err != nil {
		t.Fatalf("UpsertAdmin: %v", err)
	}

	got, err := s.GetAdmin(ctx, "admin")
	if err != nil {
		t.Fatalf("GetAdmin: %v", err)
	}
	if string(got.PasswordHash) != "hash-two" || string(got.Salt) != "salt-two" {
		t.Errorf("credential not replaced: hash=%q salt=%q", got.PasswordHash, got.Salt)
	}
	if got.Iterations != 100000 {
		t.Errorf("iterations = %d, want 100000", got.Iterations)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.After(created) {
		t.Errorf("updated_at = %v, should be after created_at", got.UpdatedAt)
	}
}

func TestConsumeResetTokenSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seedToken(t, s, "token-a", now.Add(15*time.Minute))

	admin, err := s.ConsumeResetToken(ctx, []byte("token-a"), testCredential("new"), now)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if admin.Username != model.DefaultAdminUsername {
		t.Errorf("username = %q, want %q", admin.Username, model.DefaultAdminUsername)
	}

	stored, err := s.GetAdmin(ctx, model.DefaultAdminUsername)
	if err != nil {
		t.Fatalf("GetAdmin: %v", err)
	}
	if string(stored.PasswordHash) != "hash-new" {
		t.Errorf("password hash = %q, want hash-new", stored.PasswordHash)
	}

	_, err = s.ConsumeResetToken(ctx, []byte("token-a"), testCredential("again"), now)
	if !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("second consume: expected ErrTokenConsumed, got %v", err)
	}

	stored, _ = s.GetAdmin(ctx, model.DefaultAdminUsername)
	if string(stored.PasswordHash) != "hash-new" {
		t.Errorf("second consume must not change the credential, got %q", stored.PasswordHash)
	}
}

func TestConsumeResetTokenExpired(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	seedToken(t, s, "token-old", now.Add(-time.Second))

	_, err := s.ConsumeResetToken(context.Background(), []byte("token-old"), testCredential("x"), now)
	if !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed, got %v", err)
	}
	if _, err := s.GetAdmin(context.Background(), model.DefaultAdminUsername); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired token must not create the admin, got %v", err)
	}
}

func TestConsumeResetTokenUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ConsumeResetToken(context.Background(), []byte("nope"), testCredential("x"), time.Now())
	if !errors.Is(err, ErrTokenConsumed) {
		t.Fatalf("expected ErrTokenConsumed, got %v", err)
	}
}

func TestConsumeResetTokenConcurrent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	seedToken(t, s, "token-race", now.Add(time.Hour))

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ConsumeResetToken(context.Background(), []byte("token-race"), testCredential("race"), now)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrTokenConsumed):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want exactly 1", succeeded)
	}
}

func TestSaveResetTokenReplacesUsedRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seedToken(t, s, "token-b", now.Add(time.Minute))

	if _, err := s.ConsumeResetToken(ctx, []byte("token-b"), testCredential("1"), now); err != nil {
		t.Fatalf("consume: %v", err)
	}
	seedToken(t, s, "token-b", now.Add(time.Minute))
	if _, err := s.ConsumeResetToken(ctx, []byte("token-b"), testCredential("2"), now); err != nil {
		t.Fatalf("consume after replace: %v", err)
	}
}

func TestPurgeResetTokens(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	seedToken(t, s, "old-1", now.Add(-time.Hour))
	seedToken(t, s, "old-2", now.Add(-time.Minute))
	seedToken(t, s, "live", now.Add(time.Minute))

	n, err := s.PurgeResetTokens(context.Background(), now)
	if err != nil {
		t.Fatalf("PurgeResetTokens: %v", err)
	}
	if n != 2 {
		t.Errorf("purged = %d, want 2", n)
	}
	if _, err := s.ConsumeResetToken(context.Background(), []byte("live"), testCredential("x"), now); err != nil {
		t.Errorf("live token should survive purge: %v", err)
	}
}

func TestSupportEmailSeedAndUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	email, err := s.SupportEmail(ctx)
	if err != nil {
		t.Fatalf("SupportEmail: %v", err)
	}
	if email != "it-support@example.com" {
		t.Errorf("seeded email = %q", email)
	}

	if err := s.SetSupportEmail(ctx, "ops@example.com"); err != nil {
		t.Fatalf("SetSupportEmail: %v", err)
	}

	// Re-running migrations must not reset the stored value.
	if err := s.Migrate(ctx, "other@example.com"); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	email, _ = s.SupportEmail(ctx)
	if email != "ops@example.com" {
		t.Errorf("email = %q, want ops@example.com", email)
	}
}

func TestInMemoryOutlivesConnMaxLifetime(t *testing.T) {
	s, err := Open(context.Background(), Config{
		Path:            ":memory:",
		ConnMaxLifetime: 50 * time.Millisecond,
		SupportEmail:    "it-support@example.com",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	time.Sleep(200 * time.Millisecond)

	email, err := s.SupportEmail(context.Background())
	if err != nil {
		t.Fatalf("SupportEmail after lifetime: %v", err)
	}
	if email != "it-support@example.com" {
		t.Errorf("email = %q, schema was lost", email)
	}
}

func TestGetResetToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	seedToken(t, s, "token-get", expires)

	row, err := s.GetResetToken(ctx, []byte("token-get"))
	if err != nil {
		t.Fatalf("GetResetToken: %v", err)
	}
	if row.Username != model.DefaultAdminUsername || row.UsedAt != nil {
		t.Errorf("row = %+v", row)
	}
	if !row.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", row.ExpiresAt, expires)
	}

	if _, err := s.GetResetToken(ctx, []byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if s.Driver() != DriverSQLite {
		t.Errorf("Driver = %q, want sqlite", s.Driver())
	}
}
