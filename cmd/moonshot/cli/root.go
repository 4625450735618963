package cli

import (
	"github.com/spf13/cobra"
)

// cfgFile holds the --config persistent flag value.
var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moonshot",
		Short: "Moonshot Command Center admin backend",
		Long: `Moonshot Command Center admin backend.

Serves the admin login, session and password reset API for the Moonshot
lead-intake dashboard, and provides operator commands to manage the admin
credential out of band.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./moonshot.yaml)")

	cmd.AddCommand(newServeCmd(version))
	cmd.AddCommand(newAdminCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newOpenAPICmd(version))
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}
