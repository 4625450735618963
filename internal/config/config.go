package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MOONSHOT_AUTH_TOKEN_SECRET
// for auth.token_secret.
const EnvPrefix = "MOONSHOT"

// Config is the full runtime configuration of the admin backend.
type Config struct {
	Server       ServerConfig   `yaml:"server" mapstructure:"server"`
	Database     DatabaseConfig `yaml:"database" mapstructure:"database"`
	Auth         AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Reset        ResetConfig    `yaml:"reset" mapstructure:"reset"`
	Relay        RelayConfig    `yaml:"relay" mapstructure:"relay"`
	SupportEmail string         `yaml:"support_email" mapstructure:"support_email"`
	Log          LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodySize     int64         `yaml:"max_body_size" mapstructure:"max_body_size"`
	// RateLimit is requests per minute per client IP on the login and
	// recovery endpoints. Zero disables it.
	RateLimit int `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// DatabaseConfig selects the credential store backend.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" mapstructure:"driver"`
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	Path            string        `yaml:"path" mapstructure:"path"`
	AuthToken       string        `yaml:"auth_token" mapstructure:"auth_token"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// AuthConfig controls admin login and session tokens.
type AuthConfig struct {
	// AdminPassword is the bootstrap password, used until a password is
	// stored through change or reset.
	AdminPassword string        `yaml:"admin_password" mapstructure:"admin_password"`
	TokenSecret   string        `yaml:"token_secret" mapstructure:"token_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// ResetConfig controls emailed password reset links.
type ResetConfig struct {
	Secret         string `yaml:"secret" mapstructure:"secret"`
	TTLMinutes     int    `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
	FrontendOrigin string `yaml:"frontend_origin" mapstructure:"frontend_origin"`
}

// TTL returns the reset token lifetime.
func (c ResetConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// RelayConfig points at the email relay that delivers reset and recovery mail.
type RelayConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Secret  string        `yaml:"secret" mapstructure:"secret"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Defaults returns a Config pre-filled with sensible defaults. Secrets are
// left empty.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5174,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{},
			MaxBodySize:     64 * 1024,
			RateLimit:       20,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "data/moonshot.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Reset: ResetConfig{
			TTLMinutes: 15,
		},
		Relay: RelayConfig{
			Timeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// legacyEnv maps keys to the environment names used by earlier deployments,
// in lookup order. The MOONSHOT_ name always wins when both are set.
var legacyEnv = map[string][]string{
	"server.port":           {"PORT"},
	"database.dsn":          {"DATABASE_URL", "TURSO_DATABASE_URL"},
	"database.auth_token":   {"TURSO_AUTH_TOKEN"},
	"auth.admin_password":   {"ADMIN_PASSWORD"},
	"auth.token_secret":     {"ADMIN_TOKEN_SECRET"},
	"reset.secret":          {"PASSWORD_RESET_SECRET"},
	"reset.ttl_minutes":     {"PASSWORD_RESET_TTL_MINUTES"},
	"reset.frontend_origin": {"FRONTEND_ORIGIN"},
	"relay.url":             {"EMAIL_RELAY_URL"},
	"relay.secret":          {"EMAIL_RELAY_SECRET"},
	"support_email":         {"SUPPORT_EMAIL"},
}

// SetDefaults registers every key with v so environment overrides resolve
// during Unmarshal, and binds the MOONSHOT_ prefix.
func SetDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.auth_token", "")
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("auth.admin_password", "")
	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)

	v.SetDefault("reset.secret", "")
	v.SetDefault("reset.ttl_minutes", d.Reset.TTLMinutes)
	v.SetDefault("reset.frontend_origin", "")

	v.SetDefault("relay.url", "")
	v.SetDefault("relay.secret", "")
	v.SetDefault("relay.timeout", d.Relay.Timeout)

	v.SetDefault("support_email", "")

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		primary := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		v.BindEnv(append([]string{key, primary}, legacy...)...) //nolint:errcheck
	}
}

// Load decodes and validates the configuration held by v. Call SetDefaults
// on v first.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Reset.FrontendOrigin = strings.TrimRight(strings.TrimSpace(c.Reset.FrontendOrigin), "/")
	c.SupportEmail = strings.TrimSpace(c.SupportEmail)
	c.Auth.AdminPassword = strings.TrimSpace(c.Auth.AdminPassword)
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)

	// Env overrides arrive as a single comma separated string.
	var origins []string
	for _, o := range c.Server.CORSOrigins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimRight(strings.TrimSpace(part), "/"); part != "" {
				origins = append(origins, part)
			}
		}
	}
	c.Server.CORSOrigins = origins
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.MaxBodySize < 0 {
		errs = append(errs, errors.New("server.max_body_size must not be negative"))
	}

	switch c.Database.Driver {
	case "", "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx", "mysql", "mariadb", "libsql", "turso":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported (use sqlite, libsql, postgres or mysql)", c.Database.Driver))
	}

	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Reset.Secret != "" && c.Reset.Secret == c.Auth.TokenSecret {
		errs = append(errs, errors.New("reset.secret must differ from auth.token_secret"))
	}
	if c.Reset.TTLMinutes <= 0 {
		errs = append(errs, errors.New("reset.ttl_minutes must be positive"))
	}
	if c.Reset.FrontendOrigin != "" {
		if u, err := url.Parse(c.Reset.FrontendOrigin); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("reset.frontend_origin %q must be an absolute URL", c.Reset.FrontendOrigin))
		}
	}
	if c.Relay.URL != "" {
		if u, err := url.Parse(c.Relay.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("relay.url %q must be an http(s) URL", c.Relay.URL))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Warnings lists settings that leave part of the admin surface disabled or
// weaker than intended. None of them prevent startup.
func (c *Config) Warnings() []string {
	var w []string
	if c.Auth.TokenSecret == "" {
		w = append(w, "auth.token_secret is not set: admin login is disabled")
	}
	if c.Auth.AdminPassword == "" {
		w = append(w, "auth.admin_password is not set: login works only after a password is stored")
	}
	if c.Reset.Secret == "" {
		w = append(w, "reset.secret is not set: password reset is disabled")
	}
	if c.Relay.URL == "" || c.Relay.Secret == "" {
		w = append(w, "relay.url or relay.secret is not set: reset and recovery emails will not be sent")
	}
	if c.SupportEmail == "" {
		w = append(w, "support_email is not set: reset and recovery emails have no recipient until one is stored")
	}
	if c.Reset.FrontendOrigin == "" {
		w = append(w, "reset.frontend_origin is not set: reset links will be relative")
	}
	return w
}

const redacted = "********"

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	c.Auth.AdminPassword = mask(c.Auth.AdminPassword)
	c.Auth.TokenSecret = mask(c.Auth.TokenSecret)
	c.Reset.Secret = mask(c.Reset.Secret)
	c.Relay.Secret = mask(c.Relay.Secret)
	c.Database.AuthToken = mask(c.Database.AuthToken)
	switch {
	case c.Database.DSN == "":
	case c.Database.Driver == "mysql" || c.Database.Driver == "mariadb":
		if mc, err := mysql.ParseDSN(c.Database.DSN); err == nil && mc.Passwd != "" {
			mc.Passwd = "xxxxx"
			c.Database.DSN = mc.FormatDSN()
		}
	default:
		if u, err := url.Parse(c.Database.DSN); err == nil {
			changed := false
			if u.User != nil {
				if _, ok := u.User.Password(); ok {
					u.User = url.UserPassword(u.User.Username(), "xxxxx")
					changed = true
				}
			}
			if q := u.Query(); q.Get("authToken") != "" {
				q.Set("authToken", redacted)
				u.RawQuery = q.Encode()
				changed = true
			}
			if changed {
				c.Database.DSN = u.String()
			}
		}
	}
	c.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	return c
}
