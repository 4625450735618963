package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/moonshotdigital/moonshot/internal/model"
	"github.com/moonshotdigital/moonshot/internal/service"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage the admin credential",
		Long:  "Set the admin password, issue reset links and inspect the credential state without going through the web dashboard.",
	}

	cmd.AddCommand(newAdminSetPasswordCmd())
	cmd.AddCommand(newAdminResetLinkCmd())
	cmd.AddCommand(newAdminStatusCmd())
	cmd.AddCommand(newAdminSupportEmailCmd())

	return cmd
}

// ---------- admin set-password ----------

func newAdminSetPasswordCmd() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Store a new admin password",
		Example: `  moonshot admin set-password                       # prompts for password
  echo "$NEW_PASSWORD" | moonshot admin set-password --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminSetPassword(cmd, fromStdin)
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "password-stdin", false, "Read the password from stdin instead of prompting")

	return cmd
}

func runAdminSetPassword(cmd *cobra.Command, fromStdin bool) error {
	password, err := readNewPassword(cmd, fromStdin)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	authSvc := service.NewAuthService(st, authConfig(cfg))
	if err := authSvc.ChangePassword(cmd.Context(), password); err != nil {
		return fmt.Errorf("set password: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Admin password updated.")
	return nil
}

func readNewPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	var password string
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	} else {
		out := cmd.OutOrStdout()
		fmt.Fprint(out, "New password: ")
		pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(out)

		fmt.Fprint(out, "Confirm password: ")
		confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Fprintln(out)

		if string(pwBytes) != string(confirmBytes) {
			return "", errors.New("passwords do not match")
		}
		password = string(pwBytes)
	}

	if len([]rune(password)) < service.MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", service.MinPasswordLength)
	}
	return password, nil
}

// ---------- admin reset-link ----------

func newAdminResetLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-link",
		Short: "Issue a single-use password reset link",
		Long: `Issue a password reset link and print it instead of emailing it. Use this
when the email relay is unavailable. Issuing a link does not invalidate
links issued earlier.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminResetLink(cmd)
		},
	}
}

func runAdminResetLink(cmd *cobra.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	resetSvc := service.NewResetService(st, resetConfig(cfg))
	token, expiresAt, err := resetSvc.IssueReset(cmd.Context(), model.DefaultAdminUsername)
	if err != nil {
		return fmt.Errorf("issue reset link: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, service.ResetLink(cfg.Reset.FrontendOrigin, token))
	fmt.Fprintf(out, "Expires at %s\n", expiresAt.Local().Format(time.RFC1123))
	return nil
}

// ---------- admin status ----------

func newAdminStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how the admin credential is provisioned",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

type adminStatus struct {
	StoredPassword    bool       `json:"storedPassword"`
	PasswordUpdatedAt *time.Time `json:"passwordUpdatedAt,omitempty"`
	BootstrapPassword bool       `json:"bootstrapPassword"`
	TokenSecret       bool       `json:"tokenSecret"`
	ResetSecret       bool       `json:"resetSecret"`
	EmailRelay        bool       `json:"emailRelay"`
	SupportEmail      string     `json:"supportEmail"`
}

func runAdminStatus(cmd *cobra.Command, jsonOutput bool) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	authStatus, err := service.NewAuthService(st, authConfig(cfg)).Status(cmd.Context())
	if err != nil {
		return err
	}
	supportEmail, err := st.SupportEmail(cmd.Context())
	if err != nil {
		return fmt.Errorf("load support email: %w", err)
	}
	if supportEmail == "" {
		supportEmail = cfg.SupportEmail
	}

	status := adminStatus{
		StoredPassword:    authStatus.StoredCredential,
		BootstrapPassword: authStatus.BootstrapPassword,
		TokenSecret:       authStatus.TokenSecret,
		ResetSecret:       cfg.Reset.Secret != "",
		EmailRelay:        cfg.Relay.URL != "" && cfg.Relay.Secret != "",
		SupportEmail:      supportEmail,
	}
	if authStatus.StoredCredential {
		status.PasswordUpdatedAt = &authStatus.UpdatedAt
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	yesNo := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	stored := yesNo(status.StoredPassword)
	if status.PasswordUpdatedAt != nil {
		stored += " (updated " + status.PasswordUpdatedAt.Local().Format(time.RFC1123) + ")"
	}
	fmt.Fprintf(out, "%-20s %s\n", "Stored password:", stored)
	fmt.Fprintf(out, "%-20s %s\n", "Bootstrap password:", yesNo(status.BootstrapPassword))
	fmt.Fprintf(out, "%-20s %s\n", "Token secret:", yesNo(status.TokenSecret))
	fmt.Fprintf(out, "%-20s %s\n", "Reset secret:", yesNo(status.ResetSecret))
	fmt.Fprintf(out, "%-20s %s\n", "Email relay:", yesNo(status.EmailRelay))
	fmt.Fprintf(out, "%-20s %s\n", "Support email:", status.SupportEmail)
	return nil
}

// ---------- admin support-email ----------

func newAdminSupportEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "support-email [address]",
		Short: "Show or set the address that receives reset and recovery emails",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdminSupportEmail(cmd, args)
		},
	}
}

func runAdminSupportEmail(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := validator.New().Var(args[0], "required,email"); err != nil {
			return fmt.Errorf("invalid email address: %q", args[0])
		}
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		email, err := st.SupportEmail(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, email)
		return nil
	}

	if err := st.SetSupportEmail(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("set support email: %w", err)
	}
	fmt.Fprintf(out, "Support email set to %s\n", args[0])
	return nil
}
