package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/moonshotdigital/moonshot/internal/config"
	"github.com/moonshotdigital/moonshot/internal/service"
	"github.com/moonshotdigital/moonshot/internal/store"
)

// flagKeys maps command flags onto config keys. Flags only override the
// file and environment when set explicitly.
var flagKeys = map[string]string{
	"host":      "server.host",
	"port":      "server.port",
	"log-level": "log.level",
}

// loadConfig resolves configuration from defaults, the config file, the
// environment and the flags of cmd, in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	v := viper.New()
	config.SetDefaults(v)

	path, optional := cfgFile, false
	if path == "" {
		path, optional = config.DefaultFileName, true
	}
	if err := config.ReadFile(v, path, optional); err != nil {
		return nil, nil, err
	}

	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, nil, err
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, v, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore opens the credential store described by cfg.
func openStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		AuthToken:       cfg.Database.AuthToken,
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		SupportEmail:    cfg.SupportEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}

func authConfig(cfg *config.Config) service.AuthConfig {
	return service.AuthConfig{
		AdminPassword: cfg.Auth.AdminPassword,
		TokenSecret:   cfg.Auth.TokenSecret,
		TokenTTL:      cfg.Auth.TokenTTL,
	}
}

func resetConfig(cfg *config.Config) service.ResetConfig {
	return service.ResetConfig{
		Secret: cfg.Reset.Secret,
		TTL:    cfg.Reset.TTL(),
	}
}
