package commands

import (
	"github.com/spf13/cobra"

	"github.com/securactl/securactl/pkg/grants"
)

func newRevokeCommand() *cobra.Command {
	var (
		manifestPath string
		strict       bool
		dryRun       bool
		maxRetries   int
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the manifest's privilege grants",
		Long: `Revoke removes the manifest's declared privileges from the remote
securables. Only privileges actually present remotely are revoked;
grants managed outside the manifest are untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, dryRun, maxRetries, nil)
			if err != nil {
				return err
			}
			defer a.close()

			catalogs, err := loadCatalogs(manifestPath, nil, a.env)
			if err != nil {
				return err
			}

			rec := grants.NewReconciler(a.client, grants.Options{
				Strict:     strict,
				DryRun:     dryRun,
				MaxRetries: maxRetries,
				Logger:     a.logger,
			})
			results, runErr := rec.Revoke(ctx, assignments(catalogs), a.env)
			a.journalRun(ctx, results, runErr)
			if err := printResults(results); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "f", "", "manifest file or directory (required)")
	cmd.Flags().BoolVar(&strict, "strict", false, "abort the whole batch on the first missing principal or securable")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned revocations without mutating anything")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "attempts per remote mutating call")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}
