package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/securactl/securactl/pkg/securable"
)

func newValidateCommand() *cobra.Command {
	var (
		manifestPath    string
		conventionPaths []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the manifest and conventions without touching the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			if environment == "" {
				return fmt.Errorf("--env is required")
			}
			env := securable.Environment(environment)

			catalogs, err := loadCatalogs(manifestPath, conventionPaths, env)
			if err != nil {
				return err
			}

			var schemas, volumes int
			for _, cat := range catalogs {
				for _, sch := range cat.Schemas() {
					schemas++
					volumes += len(sch.Volumes())
				}
			}
			fmt.Printf("manifest valid: %d catalog(s), %d schema(s), %d volume(s) for environment %q\n",
				len(catalogs), schemas, volumes, environment)
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "f", "", "manifest file or directory (required)")
	cmd.Flags().StringSliceVar(&conventionPaths, "conventions", nil, "convention bundle files")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}
