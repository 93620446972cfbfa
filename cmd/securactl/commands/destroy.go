package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDestroyCommand() *cobra.Command {
	var (
		manifestPath     string
		policyPaths      []string
		dryRun           bool
		allowDestructive bool
		maxRetries       int
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete the declared hierarchy from the control plane",
		Long: `Destroy removes the manifest's volumes, schemas, and catalogs bottom-up
so containers are empty before their delete call goes out. Restricted
volumes have their bindings removed first. The planned deletions run
through the policy gate; destroying volumes requires --allow-destructive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, dryRun, maxRetries, policyPaths)
			if err != nil {
				return err
			}
			defer a.close()

			catalogs, err := loadCatalogs(manifestPath, nil, a.env)
			if err != nil {
				return err
			}

			planned, err := a.newStack(true).destroy(ctx, catalogs, a.env)
			if err != nil {
				return fmt.Errorf("planning: %w", err)
			}
			if err := a.checkPolicy(ctx, planned, allowDestructive); err != nil {
				return err
			}

			if dryRun {
				a.journalRun(ctx, planned, nil)
				return printResults(planned)
			}

			results, runErr := a.newStack(false).destroy(ctx, catalogs, a.env)
			a.journalRun(ctx, results, runErr)
			if err := printResults(results); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "f", "", "manifest file or directory (required)")
	cmd.Flags().StringSliceVar(&policyPaths, "policies", nil, "additional Rego policy files or directories")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned deletions without mutating anything")
	cmd.Flags().BoolVar(&allowDestructive, "allow-destructive", false, "acknowledge data-destroying operations")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "attempts per remote mutating call")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}
