package commands

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/securactl/securactl/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		manifestPath     string
		conventionPaths  []string
		policyPaths      []string
		dryRun           bool
		allowDestructive bool
		maxRetries       int
		watch            bool
		metricsListen    string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile the declared hierarchy against the control plane",
		Long: `Apply parses the manifest, enforces conventions, plans the changes,
checks the plan against policy, and reconciles catalogs, schemas, and
volumes top-down. Grants are applied after the hierarchy converges.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, dryRun, maxRetries, policyPaths)
			if err != nil {
				return err
			}
			defer a.close()

			run := func() error {
				return a.runApply(ctx, manifestPath, conventionPaths, allowDestructive)
			}
			if !watch {
				return run()
			}
			if metricsListen != "" {
				go serveMetrics(metricsListen, a.metrics)
			}
			return watchAndRun(ctx, append([]string{manifestPath}, conventionPaths...), run)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "f", "", "manifest file or directory (required)")
	cmd.Flags().StringSliceVar(&conventionPaths, "conventions", nil, "convention bundle files")
	cmd.Flags().StringSliceVar(&policyPaths, "policies", nil, "additional Rego policy files or directories")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report planned changes without mutating anything")
	cmd.Flags().BoolVar(&allowDestructive, "allow-destructive", false, "acknowledge data-destroying operations")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "attempts per remote mutating call")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-apply whenever the manifest or conventions change")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address while watching")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

// runApply is one full reconciliation pass: load, plan, gate, apply.
func (a *app) runApply(ctx context.Context, manifestPath string, conventionPaths []string, allowDestructive bool) (err error) {
	ctx, span := a.tracer.StartOperationSpan(ctx, "run", string(a.env), "apply")
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}()

	catalogs, err := loadCatalogs(manifestPath, conventionPaths, a.env)
	if err != nil {
		return err
	}

	// Plan with a dry-run pass so the policy gate sees the real set of
	// operations, not the declared tree.
	planned, err := a.newStack(true).apply(ctx, catalogs, a.env)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	if err := a.checkPolicy(ctx, planned, allowDestructive); err != nil {
		return err
	}

	if a.dryRun {
		a.journalRun(ctx, planned, nil)
		return printResults(planned)
	}

	results, runErr := a.newStack(false).apply(ctx, catalogs, a.env)
	a.journalRun(ctx, results, runErr)
	if err := printResults(results); err != nil {
		return err
	}
	return runErr
}

func serveMetrics(addr string, metrics *telemetry.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Msg("metrics server stopped")
	}
}

// watchAndRun runs once, then re-runs on every change to the watched
// paths until the context is cancelled. Events are debounced so an
// editor's write-then-rename shows up as one pass.
func watchAndRun(ctx context.Context, paths []string, run func() error) error {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("apply failed, watching for changes")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watching %q: %w", p, err)
		}
	}
	log.Info().Strs("paths", paths).Msg("watching for changes")

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("change detected")
			debounce = time.After(500 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")
		case <-debounce:
			debounce = nil
			if err := run(); err != nil {
				log.Error().Err(err).Msg("apply failed, still watching")
			}
		}
	}
}
