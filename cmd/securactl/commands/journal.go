package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/securactl/securactl/pkg/journal"
)

func newJournalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the local run journal",
	}
	cmd.AddCommand(newJournalListCommand())
	cmd.AddCommand(newJournalShowCommand())
	return cmd
}

func newJournalListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			j, err := journal.Open(ctx, journalPath, log.Logger)
			if err != nil {
				return err
			}
			defer j.Close()

			runs, err := j.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			for _, run := range runs {
				mode := ""
				if run.DryRun {
					mode = " (dry-run)"
				}
				fmt.Printf("%s  %-9s %-8s %s%s\n",
					run.StartedAt.Format("2006-01-02 15:04:05"), run.Status, run.Environment, run.ID, mode)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newJournalShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its recorded results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			j, err := journal.Open(ctx, journalPath, log.Logger)
			if err != nil {
				return err
			}
			defer j.Close()

			run, err := j.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			entries, err := j.Results(ctx, run.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Run     *journal.Run     `json:"run"`
					Results []*journal.Entry `json:"results"`
				}{run, entries})
			}

			fmt.Printf("run %s: %s in %s, started %s\n",
				run.ID, run.Status, run.Environment, run.StartedAt.Format("2006-01-02 15:04:05"))
			if run.Error != nil {
				fmt.Printf("error: %s\n", *run.Error)
			}
			for _, e := range entries {
				status := "ok"
				if !e.Success {
					status = "FAILED"
				}
				fmt.Printf("%-7s %-8s %-8s %-30s %s\n",
					status, e.Operation, e.ResourceType, e.ResourceName, e.Message)
			}
			return nil
		},
	}
	return cmd
}
