package store

import (
	"fmt"
	"strings"
)

// dialect holds the statements that differ between SQL backends. Portable
// statements live next to the methods that run them and are rebound to the
// driver's placeholder style with sqlx.
type dialect struct {
	name       string
	driverName string
	migrations []string

	seedSettings     string
	upsertAdmin      string
	upsertResetToken string
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverLibSQL   = "libsql"
)

var sqliteDialect = dialect{
	name:       DriverSQLite,
	driverName: "sqlite",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS admin_users (
			username TEXT PRIMARY KEY,
			password_hash BLOB NOT NULL,
			salt BLOB NOT NULL,
			iterations INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS password_reset_tokens (
			token_hash BLOB PRIMARY KEY,
			username TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			used_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_password_reset_tokens_expires ON password_reset_tokens(expires_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			support_email TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	seedSettings: `INSERT INTO settings (id, support_email) VALUES (1, ?) ON CONFLICT (id) DO NOTHING`,
	upsertAdmin: `INSERT INTO admin_users (username, password_hash, salt, iterations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			password_hash = excluded.password_hash,
			salt = excluded.salt,
			iterations = excluded.iterations,
			updated_at = excluded.updated_at`,
	upsertResetToken: `INSERT INTO password_reset_tokens (token_hash, username, expires_at, created_at, used_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT (token_hash) DO UPDATE SET
			username = excluded.username,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at,
			used_at = NULL`,
}

// libsqlDialect speaks the SQLite dialect to a remote libSQL server such as
// Turso.
var libsqlDialect = dialect{
	name:             DriverLibSQL,
	driverName:       "libsql",
	migrations:       sqliteDialect.migrations,
	seedSettings:     sqliteDialect.seedSettings,
	upsertAdmin:      sqliteDialect.upsertAdmin,
	upsertResetToken: sqliteDialect.upsertResetToken,
}

var postgresDialect = dialect{
	name:       DriverPostgres,
	driverName: "pgx",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS admin_users (
			username TEXT PRIMARY KEY,
			password_hash BYTEA NOT NULL,
			salt BYTEA NOT NULL,
			iterations INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS password_reset_tokens (
			token_hash BYTEA PRIMARY KEY,
			username TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			used_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_password_reset_tokens_expires ON password_reset_tokens(expires_at)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			support_email TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	},
	seedSettings:     sqliteDialect.seedSettings,
	upsertAdmin:      sqliteDialect.upsertAdmin,
	upsertResetToken: sqliteDialect.upsertResetToken,
}

var mysqlDialect = dialect{
	name:       DriverMySQL,
	driverName: "mysql",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS admin_users (
			username VARCHAR(64) PRIMARY KEY,
			password_hash VARBINARY(64) NOT NULL,
			salt VARBINARY(64) NOT NULL,
			iterations INT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS password_reset_tokens (
			token_hash VARBINARY(32) PRIMARY KEY,
			username VARCHAR(64) NOT NULL,
			expires_at DATETIME(6) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			used_at DATETIME(6) NULL,
			INDEX idx_password_reset_tokens_expires (expires_at)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INT PRIMARY KEY,
			support_email VARCHAR(320) NOT NULL DEFAULT '',
			updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
		)`,
	},
	seedSettings: `INSERT IGNORE INTO settings (id, support_email) VALUES (1, ?)`,
	upsertAdmin: `INSERT INTO admin_users (username, password_hash, salt, iterations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			password_hash = VALUES(password_hash),
			salt = VALUES(salt),
			iterations = VALUES(iterations),
			updated_at = VALUES(updated_at)`,
	upsertResetToken: `INSERT INTO password_reset_tokens (token_hash, username, expires_at, created_at, used_at)
		VALUES (?, ?, ?, ?, NULL)
		ON DUPLICATE KEY UPDATE
			username = VALUES(username),
			expires_at = VALUES(expires_at),
			created_at = VALUES(created_at),
			used_at = NULL`,
}

// lookupDialect resolves a configured driver name. The empty string selects
// SQLite.
func lookupDialect(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	case "libsql", "turso":
		return libsqlDialect, nil
	case "mysql", "mariadb":
		return mysqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q (available: sqlite, libsql, postgres, mysql)", driver)
	}
}
