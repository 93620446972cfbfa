// Package commands implements the securactl CLI. Commands stay thin:
// they wire configuration into the public reconciliation surface and
// print results.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	endpoint    string
	token       string
	environment string
	journalPath string
	jsonOutput  bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "securactl",
		Short: "securactl - declarative securable reconciliation",
		Long: `securactl reconciles a declared hierarchy of catalogs, schemas, and
volumes against the governance control plane: idempotent create/update,
network-isolation binding, additive privilege grants, and convention
enforcement, with full dry-run support.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", os.Getenv("SECURACTL_ENDPOINT"), "control-plane base URL (SECURACTL_ENDPOINT)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("SECURACTL_TOKEN"), "bearer token (SECURACTL_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&environment, "env", "e", "", "deployment environment (e.g. dev, prod)")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "securactl.db", "run journal database path (\"off\" to disable)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output results as JSON")

	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newDestroyCommand())
	rootCmd.AddCommand(newGrantCommand())
	rootCmd.AddCommand(newRevokeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newJournalCommand())

	return rootCmd
}
