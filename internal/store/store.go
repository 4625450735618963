package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/moonshotdigital/moonshot/internal/model"
)

// Store persists the admin identity, outstanding password reset tokens and
// the settings singleton.
type Store interface {
	GetAdmin(ctx context.Context, username string) (*model.Admin, error)
	UpsertAdmin(ctx context.Context, admin *model.Admin) error
	SaveResetToken(ctx context.Context, token *model.ResetToken) error
	GetResetToken(ctx context.Context, tokenHash []byte) (*model.ResetToken, error)
	PurgeResetTokens(ctx context.Context, before time.Time) (int64, error)
	ConsumeResetToken(ctx context.Context, tokenHash []byte, cred model.Credential, now time.Time) (*model.Admin, error)
	SupportEmail(ctx context.Context) (string, error)
	SetSupportEmail(ctx context.Context, email string) error
	Ping(ctx context.Context) error
	Close() error
}

// SQLStore implements Store on a sqlx handle for SQLite, libSQL, Postgres or
// MySQL.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(db *sqlx.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, dialect: d}
}

// Driver returns the dialect name in use.
func (s *SQLStore) Driver() string { return s.dialect.name }

// DB returns the underlying connection pool.
func (s *SQLStore) DB() *sql.DB { return s.db.DB }

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates missing tables and seeds the settings row. It is safe to
// run on every start.
func (s *SQLStore) Migrate(ctx context.Context, supportEmail string) error {
	for _, m := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			// MySQL has no IF NOT EXISTS for indexes and may report them twice.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate key name") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(s.dialect.seedSettings), supportEmail); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Admin identity
// ---------------------------------------------------------------------------

const selectAdmin = `SELECT username, password_hash, salt, iterations, created_at, updated_at
	FROM admin_users WHERE username = ?`

// GetAdmin returns the admin identity or ErrNotFound.
func (s *SQLStore) GetAdmin(ctx context.Context, username string) (*model.Admin, error) {
	var admin model.Admin
	if err := s.db.GetContext(ctx, &admin, s.db.Rebind(selectAdmin), username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &admin, nil
}

// UpsertAdmin inserts the admin identity or replaces its credential. The
// created_at of an existing row is kept.
func (s *SQLStore) UpsertAdmin(ctx context.Context, admin *model.Admin) error {
	now := time.Now().UTC()
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = now
	}
	admin.UpdatedAt = now
	if err := s.upsertAdmin(ctx, s.db, admin); err != nil {
		return fmt.Errorf("upsert admin: %w", err)
	}
	return nil
}

func (s *SQLStore) upsertAdmin(ctx context.Context, ex sqlx.ExecerContext, admin *model.Admin) error {
	_, err := ex.ExecContext(ctx, s.db.Rebind(s.dialect.upsertAdmin),
		admin.Username, admin.PasswordHash, admin.Salt, admin.Iterations,
		admin.CreatedAt.UTC(), admin.UpdatedAt.UTC(),
	)
	return err
}

// ---------------------------------------------------------------------------
// Password reset tokens
// ---------------------------------------------------------------------------

// SaveResetToken stores a reset token, replacing any row with the same hash.
func (s *SQLStore) SaveResetToken(ctx context.Context, token *model.ResetToken) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(s.dialect.upsertResetToken),
		token.TokenHash, token.Username, token.ExpiresAt.UTC(), token.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	token.UsedAt = nil
	return nil
}

const selectResetToken = `SELECT token_hash, username, expires_at, created_at, used_at
	FROM password_reset_tokens WHERE token_hash = ?`

// GetResetToken returns the reset token row for tokenHash or ErrNotFound. It
// takes no lock; ConsumeResetToken re-checks the row before using it.
func (s *SQLStore) GetResetToken(ctx context.Context, tokenHash []byte) (*model.ResetToken, error) {
	var row model.ResetToken
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(selectResetToken), tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reset token: %w", err)
	}
	return &row, nil
}

// PurgeResetTokens deletes tokens that expired before the given time and
// returns how many were removed.
func (s *SQLStore) PurgeResetTokens(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM password_reset_tokens WHERE expires_at < ?`), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge reset tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ConsumeResetToken marks the token used and stores the new credential for
// its user in one transaction. A token that is missing, used or expired
// yields ErrTokenConsumed and leaves the admin identity untouched. Of two
// concurrent calls with the same token at most one succeeds.
func (s *SQLStore) ConsumeResetToken(ctx context.Context, tokenHash []byte, cred model.Credential, now time.Time) (*model.Admin, error) {
	now = now.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var row model.ResetToken
	err = tx.GetContext(ctx, &row, tx.Rebind(selectResetToken), tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenConsumed
	}
	if err != nil {
		return nil, fmt.Errorf("load reset token: %w", err)
	}
	if !row.Usable(now) {
		return nil, ErrTokenConsumed
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE password_reset_tokens SET used_at = ? WHERE token_hash = ? AND used_at IS NULL`),
		now, tokenHash)
	if err != nil {
		return nil, fmt.Errorf("mark reset token used: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, ErrTokenConsumed
	}

	admin := &model.Admin{
		Username:   row.Username,
		Credential: cred,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.upsertAdmin(ctx, tx, admin); err != nil {
		return nil, fmt.Errorf("upsert admin: %w", err)
	}
	if err := tx.GetContext(ctx, admin, tx.Rebind(selectAdmin), row.Username); err != nil {
		return nil, fmt.Errorf("reload admin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return admin, nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// SupportEmail returns the stored support address. An empty string means
// none is configured.
func (s *SQLStore) SupportEmail(ctx context.Context) (string, error) {
	var email string
	err := s.db.GetContext(ctx, &email, `SELECT support_email FROM settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get support email: %w", err)
	}
	return email, nil
}

// SetSupportEmail replaces the stored support address.
func (s *SQLStore) SetSupportEmail(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE settings SET support_email = ?, updated_at = ? WHERE id = 1`),
		email, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set support email: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
