package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/securactl/securactl/pkg/binding"
	"github.com/securactl/securactl/pkg/config"
	"github.com/securactl/securactl/pkg/executor"
	"github.com/securactl/securactl/pkg/grants"
	"github.com/securactl/securactl/pkg/journal"
	"github.com/securactl/securactl/pkg/policy"
	"github.com/securactl/securactl/pkg/remote"
	"github.com/securactl/securactl/pkg/remote/httpapi"
	"github.com/securactl/securactl/pkg/securable"
	"github.com/securactl/securactl/pkg/telemetry"
)

// app bundles the wired reconciliation surface for one CLI invocation.
type app struct {
	logger     zerolog.Logger
	client     remote.Client
	env        securable.Environment
	dryRun     bool
	maxRetries int
	gate       *policy.Gate
	journal    *journal.Journal
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
}

// newApp wires the control-plane client, policy gate, and journal from
// the global flags.
func newApp(ctx context.Context, dryRun bool, maxRetries int, policyPaths []string) (*app, error) {
	if environment == "" {
		return nil, fmt.Errorf("--env is required")
	}
	if endpoint == "" {
		return nil, fmt.Errorf("--endpoint (or SECURACTL_ENDPOINT) is required")
	}

	logger := log.Logger
	client, err := httpapi.New(endpoint, token, logger)
	if err != nil {
		return nil, err
	}

	gate, err := policy.NewGate(logger)
	if err != nil {
		return nil, err
	}
	if len(policyPaths) > 0 {
		if err := gate.LoadPolicies(ctx, policyPaths); err != nil {
			return nil, err
		}
	}

	var j *journal.Journal
	if journalPath != "" && journalPath != "off" {
		j, err = journal.Open(ctx, journalPath, logger)
		if err != nil {
			return nil, err
		}
	}

	tracer, err := newTracer()
	if err != nil {
		return nil, err
	}

	return &app{
		logger:     logger,
		client:     client,
		env:        securable.Environment(environment),
		dryRun:     dryRun,
		maxRetries: maxRetries,
		gate:       gate,
		journal:    j,
		metrics:    telemetry.NewMetrics(telemetry.DefaultMetricsConfig()),
		tracer:     tracer,
	}, nil
}

// newTracer builds the span exporter from the environment. Tracing is
// off unless SECURACTL_TRACE_EXPORTER is set to "otlp" or "stdout".
func newTracer() (*telemetry.Tracer, error) {
	exporter := os.Getenv("SECURACTL_TRACE_EXPORTER")
	if exporter == "" {
		return nil, nil
	}
	cfg := telemetry.DefaultTracingConfig()
	cfg.Enabled = true
	cfg.Exporter = exporter
	if ep := os.Getenv("SECURACTL_TRACE_ENDPOINT"); ep != "" {
		cfg.Endpoint = ep
	}
	return telemetry.NewTracer(cfg, "securactl", "")
}

func (a *app) close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("trace flush failed")
		}
	}
}

func (a *app) options(dryRun bool) executor.Options {
	return executor.Options{
		MaxRetries: a.maxRetries,
		DryRun:     dryRun,
		Logger:     a.logger,
		Metrics:    a.metrics,
		Tracer:     a.tracer,
	}
}

// stack holds the per-kind executors for one pass.
type stack struct {
	catalogs *executor.Executor
	schemas  *executor.Executor
	volumes  *executor.Executor
	protocol *binding.Protocol
	grants   *grants.Reconciler
}

func (a *app) newStack(dryRun bool) *stack {
	volumes := executor.New(a.client, executor.VolumeAdapter{}, a.options(dryRun))
	return &stack{
		catalogs: executor.New(a.client, executor.CatalogAdapter{}, a.options(dryRun)),
		schemas:  executor.New(a.client, executor.SchemaAdapter{}, a.options(dryRun)),
		volumes:  volumes,
		protocol: binding.NewProtocol(volumes, a.client, a.logger),
		grants: grants.NewReconciler(a.client, grants.Options{
			DryRun:     dryRun,
			MaxRetries: a.maxRetries,
			Logger:     a.logger,
			Metrics:    a.metrics,
		}),
	}
}

// apply reconciles the hierarchy top-down, then the grants. On a failed
// operation the pass stops and every compensating action pushed so far
// is rolled back, volumes first.
func (s *stack) apply(ctx context.Context, catalogs []*securable.Catalog, env securable.Environment) ([]executor.Result, error) {
	var results []executor.Result
	record := func(res executor.Result) bool {
		results = append(results, res)
		return res.Success
	}

	for _, cat := range catalogs {
		if !record(s.catalogs.CreateOrUpdate(ctx, cat, env)) {
			return results, s.abort(ctx, cat.ResolvedName(env))
		}
		for _, sch := range cat.Schemas() {
			if !record(s.schemas.CreateOrUpdate(ctx, sch, env)) {
				return results, s.abort(ctx, sch.ResolvedName(env))
			}
			for _, vol := range sch.Volumes() {
				res := s.protocol.Create(ctx, vol, env)
				if !record(res) {
					return results, s.abort(ctx, vol.ResolvedName(env))
				}
				// A pre-existing restricted volume still needs its
				// binding set converged.
				if vol.IsolationMode() == securable.IsolationRestricted && res.Operation != executor.OpCreate {
					if !record(s.protocol.Reconcile(ctx, vol, env)) {
						return results, s.abort(ctx, vol.ResolvedName(env))
					}
				}
			}
		}
	}

	grantResults, err := s.grants.Apply(ctx, assignments(catalogs), env)
	results = append(results, grantResults...)
	if err != nil {
		return results, fmt.Errorf("grant batch aborted: %w", err)
	}
	return results, nil
}

// destroy deletes the hierarchy bottom-up so containers are empty by
// the time their delete call goes out.
func (s *stack) destroy(ctx context.Context, catalogs []*securable.Catalog, env securable.Environment) ([]executor.Result, error) {
	var results []executor.Result
	record := func(res executor.Result) error {
		results = append(results, res)
		if !res.Success {
			return fmt.Errorf("destroy failed at %s %q: %w", res.ResourceType, res.ResourceName, res.Err)
		}
		return nil
	}

	for _, cat := range catalogs {
		for _, sch := range cat.Schemas() {
			for _, vol := range sch.Volumes() {
				if vol.IsolationMode() == securable.IsolationRestricted {
					exists, err := s.volumes.Exists(ctx, vol, env)
					if err != nil {
						return results, fmt.Errorf("checking volume %q: %w", vol.ResolvedName(env), err)
					}
					if exists {
						if err := record(s.protocol.RemoveAllBindings(ctx, vol, env)); err != nil {
							return results, err
						}
					}
				}
				if err := record(s.volumes.Delete(ctx, vol, env)); err != nil {
					return results, err
				}
			}
			if err := record(s.schemas.Delete(ctx, sch, env)); err != nil {
				return results, err
			}
		}
		if err := record(s.catalogs.Delete(ctx, cat, env)); err != nil {
			return results, err
		}
	}
	return results, nil
}

// abort rolls back everything this pass created, leaf executors first.
func (s *stack) abort(ctx context.Context, failedAt string) error {
	log.Warn().Str("failed_at", failedAt).Msg("apply failed, rolling back created resources")
	for _, e := range []*executor.Executor{s.volumes, s.schemas, s.catalogs} {
		if err := e.Rollback(ctx); err != nil {
			log.Error().Err(err).Str("kind", string(e.Kind())).Msg("rollback incomplete")
		}
	}
	return fmt.Errorf("apply failed at %s", failedAt)
}

// assignments collects the declared grants of every securable that has
// any, keyed by its attach-time address.
func assignments(catalogs []*securable.Catalog) []grants.Assignment {
	var out []grants.Assignment
	for _, cat := range catalogs {
		if len(cat.Grants) > 0 {
			out = append(out, grants.Assignment{Target: cat.Address(), Grants: cat.Grants})
		}
		for _, sch := range cat.Schemas() {
			if len(sch.Grants) > 0 {
				out = append(out, grants.Assignment{Target: sch.Address(), Grants: sch.Grants})
			}
			for _, vol := range sch.Volumes() {
				if len(vol.Grants) > 0 {
					out = append(out, grants.Assignment{Target: vol.Address(), Grants: vol.Grants})
				}
			}
		}
	}
	return out
}

// checkPolicy evaluates the planned operations against the gate.
func (a *app) checkPolicy(ctx context.Context, planned []executor.Result, allowDestructive bool) error {
	input := &policy.PlanInput{
		Environment:      string(a.env),
		DryRun:           a.dryRun,
		AllowDestructive: allowDestructive,
	}
	for _, res := range planned {
		if res.Operation == executor.OpNoop {
			continue
		}
		input.Operations = append(input.Operations, policy.PlannedOperation{
			Operation:    string(res.Operation),
			ResourceType: res.ResourceType,
			ResourceName: res.ResourceName,
		})
	}

	decision, err := a.gate.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("policy evaluation: %w", err)
	}
	for _, w := range decision.Warnings {
		a.logger.Warn().Msg(w)
	}
	for _, v := range decision.Violations {
		evt := a.logger.Warn()
		if v.Severity == policy.SeverityError {
			evt = a.logger.Error()
		}
		evt.Str("policy", v.Policy).Str("resource", v.Resource).Msg(v.Message)
	}
	if !decision.Allowed {
		return fmt.Errorf("plan denied by policy")
	}
	return nil
}

// journalRun records the results under a new run, best effort.
func (a *app) journalRun(ctx context.Context, results []executor.Result, runErr error) {
	if a.journal == nil {
		return
	}
	run, err := a.journal.BeginRun(ctx, string(a.env), a.dryRun)
	if err != nil {
		a.logger.Warn().Err(err).Msg("journal unavailable")
		return
	}
	for _, res := range results {
		if err := a.journal.Record(ctx, run.ID, res); err != nil {
			a.logger.Warn().Err(err).Msg("journal record failed")
		}
	}
	status, message := journal.RunCompleted, ""
	if runErr != nil {
		status, message = journal.RunFailed, runErr.Error()
	}
	if err := a.journal.CompleteRun(ctx, run.ID, status, message); err != nil {
		a.logger.Warn().Err(err).Msg("journal completion failed")
	}
	a.logger.Info().Str("run_id", run.ID).Msg("run journaled")
}

// loadCatalogs parses the manifest, applies conventions, and validates
// the tree.
func loadCatalogs(manifestPath string, conventionPaths []string, env securable.Environment) ([]*securable.Catalog, error) {
	parser := config.NewParser(log.Logger)
	m, err := parser.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	if m.Environment != "" && m.Environment != string(env) {
		return nil, fmt.Errorf("manifest is pinned to environment %q, not %q", m.Environment, env)
	}

	catalogs, err := m.Build()
	if err != nil {
		return nil, err
	}

	var violations []error
	for _, path := range conventionPaths {
		conventions, err := config.LoadConventions(path, log.Logger)
		if err != nil {
			return nil, err
		}
		for _, c := range conventions {
			for _, cat := range catalogs {
				if err := c.Bind(cat, env); err != nil {
					return nil, err
				}
				violations = append(violations, c.ValidateTree(cat)...)
			}
		}
	}
	if len(violations) > 0 {
		for _, v := range violations {
			log.Error().Msg(v.Error())
		}
		return nil, fmt.Errorf("%d convention violation(s)", len(violations))
	}
	return catalogs, nil
}

func printResults(results []executor.Result) error {
	if jsonOutput {
		type row struct {
			Success      bool   `json:"success"`
			Operation    string `json:"operation"`
			ResourceType string `json:"resource_type"`
			ResourceName string `json:"resource_name"`
			Message      string `json:"message"`
			Error        string `json:"error,omitempty"`
			DurationMS   int64  `json:"duration_ms"`
		}
		rows := make([]row, 0, len(results))
		for _, res := range results {
			r := row{
				Success:      res.Success,
				Operation:    string(res.Operation),
				ResourceType: res.ResourceType,
				ResourceName: res.ResourceName,
				Message:      res.Message,
				DurationMS:   res.Duration.Milliseconds(),
			}
			if res.Err != nil {
				r.Error = res.Err.Error()
			}
			rows = append(rows, r)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	for _, res := range results {
		status := "ok"
		if !res.Success {
			status = "FAILED"
		}
		fmt.Printf("%-7s %-8s %-8s %-30s %s\n",
			status, res.Operation, res.ResourceType, res.ResourceName, res.Message)
	}
	return nil
}
