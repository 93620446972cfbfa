package executor

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/securactl/securactl/pkg/remote"
	"github.com/securactl/securactl/pkg/securable"
	"github.com/securactl/securactl/pkg/telemetry"
)

// Options configures an Executor.
type Options struct {
	// MaxRetries bounds the total attempts for each remote mutating call.
	MaxRetries int

	// DryRun short-circuits every mutating path before any remote call.
	DryRun bool

	// ContinueOnRollbackError makes Rollback log failing compensations
	// and keep popping instead of stopping at the first failure.
	ContinueOnRollbackError bool

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Executor reconciles one securable kind against the control plane. It is
// synchronous and single-writer: independent executors may run for
// independent resources, but two writers on the same resource lose
// updates (last write wins remotely).
type Executor struct {
	resources remote.ResourceClient
	adapter   ResourceAdapter
	retryer   *Retryer
	rollback  *RollbackStack
	dryRun    bool
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
}

// New creates an executor for the adapter's kind.
func New(client remote.Client, adapter ResourceAdapter, opts Options) *Executor {
	logger := opts.Logger.With().Str("component", "executor").Str("kind", string(adapter.Kind())).Logger()
	retryer := NewRetryer(opts.MaxRetries, logger)
	if opts.Metrics != nil {
		retryer.onRetry = opts.Metrics.ObserveRetry
	}
	return &Executor{
		resources: client.Resources(string(adapter.Kind())),
		adapter:   adapter,
		retryer:   retryer,
		rollback:  NewRollbackStack(opts.ContinueOnRollbackError, logger),
		dryRun:    opts.DryRun,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
	}
}

// Kind returns the securable kind this executor manages.
func (e *Executor) Kind() securable.Kind {
	return e.adapter.Kind()
}

// DryRun reports whether mutations are simulated.
func (e *Executor) DryRun() bool {
	return e.dryRun
}

// Retryer exposes the retry core so protocol layers built on this
// executor share its attempt bound and sleeper.
func (e *Executor) Retryer() *Retryer {
	return e.retryer
}

// RollbackStack exposes the compensating-action ledger.
func (e *Executor) RollbackStack() *RollbackStack {
	return e.rollback
}

// Rollback runs the recorded compensating actions in reverse order.
func (e *Executor) Rollback(ctx context.Context) error {
	if e.rollback.Len() == 0 {
		return nil
	}
	err := e.rollback.Rollback(ctx)
	e.metrics.ObserveRollback(err == nil)
	return err
}

// Exists reports whether the desired resource exists remotely. Not-found
// maps to false; a permission failure is returned as an error, never
// silently treated as absence.
func (e *Executor) Exists(ctx context.Context, s securable.Securable, env securable.Environment) (bool, error) {
	_, err := e.resources.Get(ctx, s.ResolvedName(env))
	if err == nil {
		return true, nil
	}
	if remote.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Create creates the resource remotely. An already-exists response is the
// race with a concurrent creator and falls through to Update, making the
// existence check in CreateOrUpdate the primary path and this the
// documented fallback.
func (e *Executor) Create(ctx context.Context, s securable.Securable, env securable.Environment) Result {
	start := time.Now()
	name := s.ResolvedName(env)
	ctx, span := e.tracer.StartOperationSpan(ctx, string(e.Kind()), name, "create")
	defer span.End()

	if e.dryRun {
		return e.finish(start, Result{
			Success:      true,
			Operation:    OpCreate,
			ResourceType: string(e.Kind()),
			ResourceName: name,
			Message:      fmt.Sprintf("[dry-run] would create %s %q", e.Kind(), name),
		})
	}

	fields, err := e.adapter.CreateFields(s, env)
	if err != nil {
		return e.finish(start, e.failed(OpCreate, name, err))
	}

	err = e.retryer.Do(ctx, string(e.Kind())+".create", func(ctx context.Context) error {
		return e.resources.Create(ctx, name, fields)
	})
	if err != nil {
		if remote.IsAlreadyExists(err) {
			e.logger.Info().Str("name", name).Msg("resource appeared concurrently, converging via update")
			span.AddEvent("create raced with concurrent creator, converging via update")
			res := e.Update(ctx, s, env)
			res.Duration = time.Since(start)
			if res.Err != nil {
				telemetry.RecordError(span, res.Err)
			} else {
				telemetry.RecordSuccess(span)
			}
			return res
		}
		e.metrics.ObserveError(string(remote.CodeOf(err)))
		telemetry.RecordError(span, err)
		return e.finish(start, e.failed(OpCreate, name, err))
	}

	e.rollback.Push(fmt.Sprintf("delete %s %q", e.Kind(), name), func(ctx context.Context) error {
		return e.retryer.Do(ctx, string(e.Kind())+".delete", func(ctx context.Context) error {
			return e.resources.Delete(ctx, name)
		})
	})

	telemetry.RecordSuccess(span)
	return e.finish(start, Result{
		Success:      true,
		Operation:    OpCreate,
		ResourceType: string(e.Kind()),
		ResourceName: name,
		Message:      fmt.Sprintf("created %s %q", e.Kind(), name),
	})
}

// Update converges mutable fields toward the desired state. An empty
// change set returns NO_OP without any remote mutation; drift on
// immutable fields is logged as a warning and never sent remotely.
func (e *Executor) Update(ctx context.Context, s securable.Securable, env securable.Environment) Result {
	start := time.Now()
	name := s.ResolvedName(env)
	ctx, span := e.tracer.StartOperationSpan(ctx, string(e.Kind()), name, "update")
	defer span.End()

	current, err := e.resources.Get(ctx, name)
	if err != nil {
		telemetry.RecordError(span, err)
		return e.finish(start, e.failed(OpUpdate, name, err))
	}

	desired, err := e.adapter.DesiredFields(s, env)
	if err != nil {
		return e.finish(start, e.failed(OpUpdate, name, err))
	}

	changes, warnings := e.computeChangeSet(current.Fields, desired)
	for _, w := range warnings {
		e.logger.Warn().Str("name", name).Msg(w)
	}

	if changes.Empty() {
		telemetry.RecordSuccess(span)
		return e.finish(start, Result{
			Success:      true,
			Operation:    OpNoop,
			ResourceType: string(e.Kind()),
			ResourceName: name,
			Message:      fmt.Sprintf("%s %q already in desired state", e.Kind(), name),
		})
	}

	if e.dryRun {
		return e.finish(start, Result{
			Success:      true,
			Operation:    OpUpdate,
			ResourceType: string(e.Kind()),
			ResourceName: name,
			Message:      fmt.Sprintf("[dry-run] would update %s %q: %s", e.Kind(), name, changes),
			Changes:      changes,
		})
	}

	payload := make(remote.Fields, len(changes))
	for field, change := range changes {
		payload[field] = change.Desired
	}

	err = e.retryer.Do(ctx, string(e.Kind())+".update", func(ctx context.Context) error {
		return e.resources.Update(ctx, name, payload)
	})
	if err != nil {
		e.metrics.ObserveError(string(remote.CodeOf(err)))
		telemetry.RecordError(span, err)
		r := e.failed(OpUpdate, name, err)
		r.Changes = changes
		return e.finish(start, r)
	}

	telemetry.RecordSuccess(span)
	return e.finish(start, Result{
		Success:      true,
		Operation:    OpUpdate,
		ResourceType: string(e.Kind()),
		ResourceName: name,
		Message:      fmt.Sprintf("updated %s %q: %s", e.Kind(), name, changes),
		Changes:      changes,
	})
}

// Delete removes the resource remotely. The existence check runs first,
// so deleting an absent resource is a NO_OP that never issues a mutating
// call. The not-found guard on the delete itself covers the race with a
// concurrent deleter.
func (e *Executor) Delete(ctx context.Context, s securable.Securable, env securable.Environment) Result {
	start := time.Now()
	name := s.ResolvedName(env)
	ctx, span := e.tracer.StartOperationSpan(ctx, string(e.Kind()), name, "delete")
	defer span.End()

	exists, err := e.Exists(ctx, s, env)
	if err != nil {
		e.metrics.ObserveError(string(remote.CodeOf(err)))
		telemetry.RecordError(span, err)
		return e.finish(start, e.failed(OpDelete, name, err))
	}
	if !exists {
		telemetry.RecordSuccess(span)
		return e.finish(start, Result{
			Success:      true,
			Operation:    OpNoop,
			ResourceType: string(e.Kind()),
			ResourceName: name,
			Message:      fmt.Sprintf("%s %q already absent", e.Kind(), name),
		})
	}

	if e.dryRun {
		return e.finish(start, Result{
			Success:      true,
			Operation:    OpDelete,
			ResourceType: string(e.Kind()),
			ResourceName: name,
			Message:      fmt.Sprintf("[dry-run] would delete %s %q", e.Kind(), name),
		})
	}

	err = e.retryer.Do(ctx, string(e.Kind())+".delete", func(ctx context.Context) error {
		return e.resources.Delete(ctx, name)
	})
	if err != nil {
		if remote.IsNotFound(err) {
			telemetry.RecordSuccess(span)
			return e.finish(start, Result{
				Success:      true,
				Operation:    OpNoop,
				ResourceType: string(e.Kind()),
				ResourceName: name,
				Message:      fmt.Sprintf("%s %q already absent", e.Kind(), name),
			})
		}
		e.metrics.ObserveError(string(remote.CodeOf(err)))
		telemetry.RecordError(span, err)
		return e.finish(start, e.failed(OpDelete, name, err))
	}

	telemetry.RecordSuccess(span)
	return e.finish(start, Result{
		Success:      true,
		Operation:    OpDelete,
		ResourceType: string(e.Kind()),
		ResourceName: name,
		Message:      fmt.Sprintf("deleted %s %q", e.Kind(), name),
	})
}

// CreateOrUpdate checks existence and dispatches. In dry-run mode the
// existence check still runs so the simulated operation kind (CREATE vs
// UPDATE vs NO_OP) matches what a real run would do.
func (e *Executor) CreateOrUpdate(ctx context.Context, s securable.Securable, env securable.Environment) Result {
	start := time.Now()
	name := s.ResolvedName(env)

	exists, err := e.Exists(ctx, s, env)
	if err != nil {
		return e.finish(start, e.failed(OpSkipped, name, err))
	}
	if exists {
		return e.Update(ctx, s, env)
	}
	return e.Create(ctx, s, env)
}

// computeChangeSet compares current remote state against desired fields.
// Only mutable fields enter the change set; immutable drift produces a
// warning string instead.
func (e *Executor) computeChangeSet(current, desired remote.Fields) (ChangeSet, []string) {
	changes := make(ChangeSet)
	for _, field := range e.adapter.MutableFields() {
		desiredVal, ok := desired[field]
		if !ok {
			continue
		}
		currentVal := current[field]
		if !fieldsEqual(currentVal, desiredVal) {
			changes[field] = FieldChange{Current: currentVal, Desired: desiredVal}
		}
	}

	var warnings []string
	for _, field := range e.adapter.ImmutableFields() {
		desiredVal, ok := desired[field]
		if !ok {
			continue
		}
		if currentVal := current[field]; !fieldsEqual(currentVal, desiredVal) {
			warnings = append(warnings, fmt.Sprintf(
				"immutable field %s differs (current=%v desired=%v); fixed at creation, not updating",
				field, currentVal, desiredVal))
		}
	}
	return changes, warnings
}

func (e *Executor) failed(op Operation, name string, err error) Result {
	return Result{
		Operation:    op,
		ResourceType: string(e.Kind()),
		ResourceName: name,
		Message:      err.Error(),
		Err:          err,
	}
}

func (e *Executor) finish(start time.Time, r Result) Result {
	r.Duration = time.Since(start)
	e.metrics.ObserveOperation(r.ResourceType, string(r.Operation), r.Success, r.Duration)

	evt := e.logger.Info()
	if !r.Success {
		evt = e.logger.Error().Err(r.Err)
	}
	evt.Str("operation", string(r.Operation)).
		Str("name", r.ResourceName).
		Dur("duration", r.Duration).
		Msg(r.Message)
	return r
}

func fieldsEqual(current, desired any) bool {
	if isEmpty(current) && isEmpty(desired) {
		return true
	}
	if a, ok := toStringSlice(current); ok {
		if b, ok := toStringSlice(desired); ok {
			sort.Strings(a)
			sort.Strings(b)
			return reflect.DeepEqual(a, b)
		}
	}
	if a, ok := toStringMap(current); ok {
		if b, ok := toStringMap(desired); ok {
			return reflect.DeepEqual(a, b)
		}
	}
	return reflect.DeepEqual(current, desired)
}

// isEmpty reports values a remote API omits interchangeably with their
// zero form: nil, "", empty maps, empty slices.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.String, reflect.Map, reflect.Slice:
		return rv.Len() == 0
	default:
		return false
	}
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}

// toStringMap normalizes the two shapes tag maps arrive in: typed
// map[string]string from local construction, map[string]any after a trip
// through JSON. Without it, reflect.DeepEqual sees a type mismatch and
// every comparison against a decoded response reports drift.
func toStringMap(v any) (map[string]string, bool) {
	switch m := v.(type) {
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, item := range m {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[k] = str
		}
		return out, true
	default:
		return nil, false
	}
}
