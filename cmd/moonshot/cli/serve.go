package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moonshotdigital/moonshot/internal/metrics"
	"github.com/moonshotdigital/moonshot/internal/relay"
	"github.com/moonshotdigital/moonshot/internal/server"
	"github.com/moonshotdigital/moonshot/internal/service"
)

func newServeCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin API server",
		Long:  "Start the HTTP server that exposes the admin login, session and password reset API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, version)
		},
	}

	cmd.Flags().IntP("port", "p", 5174, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func runServe(cmd *cobra.Command, version string) error {
	cfg, v, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, os.Stderr)
	if file := v.ConfigFileUsed(); file != "" {
		logger.Info("config loaded", "file", file)
	}
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	ctx := cmd.Context()

	// 1. Open the credential store
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	logger.Info("database ready", "driver", st.Driver())

	// 2. Metrics
	m := metrics.New()
	if err := m.RegisterDB(st.DB(), st.Driver()); err != nil {
		logger.Warn("failed to register database metrics", "error", err)
	}

	// 3. Services
	authSvc := service.NewAuthService(st, authConfig(cfg))
	resetSvc := service.NewResetService(st, resetConfig(cfg))
	mailer := relay.New(cfg.Relay.URL, cfg.Relay.Secret, cfg.Relay.Timeout)

	// 4. Build and start HTTP server
	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxBodySize:     cfg.Server.MaxBodySize,
		RateLimit:       cfg.Server.RateLimit,
		Version:         version,
	}, server.Deps{
		Store:          st,
		Settings:       st,
		Auth:           authSvc,
		Reset:          resetSvc,
		Mailer:         mailer,
		Metrics:        m,
		Logger:         logger,
		FrontendOrigin: cfg.Reset.FrontendOrigin,
		SupportEmail:   cfg.SupportEmail,
	})

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "→ Moonshot admin API %s\n", version)
	fmt.Fprintf(out, "→ Listening on http://%s\n", srv.Addr())
	fmt.Fprintf(out, "→ OpenAPI:    http://%s/openapi.json\n", srv.Addr())
	fmt.Fprintf(out, "→ Health:     http://%s/healthz\n", srv.Addr())
	fmt.Fprintln(out)

	return srv.ListenAndServe(ctx)
}
