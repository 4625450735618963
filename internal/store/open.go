package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Config selects and tunes the database backing the credential store.
type Config struct {
	// Driver is one of sqlite, libsql, postgres or mysql. Empty means sqlite.
	Driver string
	// DSN is passed to the driver. For sqlite it takes precedence over Path.
	DSN string
	// Path is the sqlite database file. Empty with an empty DSN opens an
	// in-memory database.
	Path string
	// AuthToken authenticates to a libSQL server. A token already present in
	// the DSN wins.
	AuthToken string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// SupportEmail seeds the settings row the first time the schema is created.
	SupportEmail string
}

// Open connects to the configured database, applies the schema and returns a
// ready store. The caller owns the returned store and must Close it.
func Open(ctx context.Context, cfg Config) (*SQLStore, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn, err := buildDSN(d, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, d.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s connect: %w", d.name, err)
	}

	if d.name == DriverSQLite {
		// One connection that is never recycled: SQLite doesn't support
		// concurrent writes, and an in-memory database lives only as long
		// as its connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	s := newSQLStore(db, d)
	if err := s.Migrate(ctx, cfg.SupportEmail); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", d.name, err)
	}
	return s, nil
}

func buildDSN(d dialect, cfg Config) (string, error) {
	switch d.name {
	case DriverSQLite:
		return sqliteDSN(cfg)
	case DriverMySQL:
		return mysqlDSN(cfg.DSN)
	case DriverLibSQL:
		return libsqlDSN(cfg.DSN, cfg.AuthToken)
	default:
		if cfg.DSN == "" {
			return "", fmt.Errorf("%s: database.dsn is required", d.name)
		}
		return cfg.DSN, nil
	}
}

const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"

func sqliteDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.Path == "" || cfg.Path == ":memory:" {
		return ":memory:?_time_format=sqlite", nil
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("create data dir: %w", err)
		}
	}
	sep := "?"
	if strings.Contains(cfg.Path, "?") {
		sep = "&"
	}
	return cfg.Path + sep + sqlitePragmas, nil
}

// mysqlDSN forces parseTime so DATETIME columns scan into time.Time, and
// clientFoundRows so an UPDATE that matches but changes nothing still counts.
func mysqlDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("mysql: database.dsn is required")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("mysql: parse dsn: %w", err)
	}
	mc.ParseTime = true
	mc.ClientFoundRows = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}

// libsqlDSN validates a libsql://, https:// or wss:// database URL and adds
// the auth token as the authToken query parameter.
func libsqlDSN(dsn, authToken string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("libsql: database.dsn is required")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("libsql: parse dsn: %w", err)
	}
	switch u.Scheme {
	case "libsql", "https", "http", "wss", "ws":
	default:
		return "", fmt.Errorf("libsql: unsupported dsn scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("libsql: dsn %q has no host", dsn)
	}
	q := u.Query()
	if authToken != "" && q.Get("authToken") == "" {
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
