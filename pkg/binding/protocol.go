// Package binding implements the ordering-sensitive two-phase protocol
// that flips a volume into network-isolated mode: the volume is always
// created open, its access bindings are assigned first, and only then is
// the isolation mode sealed. Sealing first would lock out the very caller
// performing the binding.
package binding

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/securactl/securactl/pkg/executor"
	"github.com/securactl/securactl/pkg/remote"
	"github.com/securactl/securactl/pkg/securable"
)

// State names a position in the isolation lifecycle.
type State string

const (
	// StateOpen is terminal for open volumes.
	StateOpen State = "OPEN"

	// StateUnboundRestricted is a restricted volume created but not yet
	// bound to any access point.
	StateUnboundRestricted State = "UNBOUND_RESTRICTED"

	// StateBoundRestricted has its access bindings assigned but is still
	// reachable from anywhere.
	StateBoundRestricted State = "BOUND_RESTRICTED"

	// StateSealedRestricted is terminal: bound and sealed.
	StateSealedRestricted State = "SEALED_RESTRICTED"
)

// verifyWait is how long binding propagation is given before the
// read-back check. The platform applies bindings asynchronously.
const verifyWait = 2 * time.Second

// ErrNotRestricted is returned when a binding operation is requested for
// a volume whose desired isolation mode is open. The precondition is
// checked client-side; no remote call is attempted.
var ErrNotRestricted = fmt.Errorf("volume is not in restricted isolation mode")

// Protocol drives isolation-mode transitions on top of a volume executor.
type Protocol struct {
	exec      *executor.Executor
	resources remote.ResourceClient
	bindings  remote.BindingClient
	logger    zerolog.Logger
	wait      time.Duration
	sleep     executor.Sleeper
}

// NewProtocol creates the protocol layer for the given volume executor.
func NewProtocol(exec *executor.Executor, client remote.Client, logger zerolog.Logger) *Protocol {
	return &Protocol{
		exec:      exec,
		resources: client.Resources(string(securable.KindVolume)),
		bindings:  client.Bindings(),
		logger:    logger.With().Str("component", "isolation-protocol").Logger(),
		wait:      verifyWait,
		sleep:     func(d time.Duration) { time.Sleep(d) },
	}
}

// WithVerifyWait overrides the propagation wait. Intended for tests.
func (p *Protocol) WithVerifyWait(d time.Duration, sleep executor.Sleeper) *Protocol {
	p.wait = d
	p.sleep = sleep
	return p
}

// Create provisions the volume. Open volumes are a plain create-or-update;
// restricted volumes run the full protocol: the volume reaches open mode
// first, its binding set is converged, and only then is the mode sealed
// and verified after a propagation wait. The mode field itself belongs to
// this protocol; the executor never updates it.
func (p *Protocol) Create(ctx context.Context, v *securable.Volume, env securable.Environment) executor.Result {
	res := p.exec.CreateOrUpdate(ctx, v, env)
	if !res.Success || v.IsolationMode() != securable.IsolationRestricted {
		return res
	}
	if p.exec.DryRun() {
		res.Message += " (bindings and seal simulated)"
		return res
	}

	name := v.ResolvedName(env)
	desired := v.AccessBindings()

	if res.Operation == executor.OpCreate {
		// Fresh volume: nothing is bound yet, assign the full set.
		p.logState(name, StateUnboundRestricted)
		return p.bindThenSeal(ctx, res, name, desired, nil, desired)
	}

	// Pre-existing volume. Read the remote mode back: an already-sealed
	// volume only needs its bindings reconciled, while an open volume
	// being flipped to restricted must be bound before it is sealed.
	state, err := p.resources.Get(ctx, name)
	if err != nil {
		return failedStep(res, "read isolation mode", err)
	}
	if state.Fields[executor.FieldIsolationMode] == string(securable.IsolationRestricted) {
		return res
	}

	p.logState(name, StateUnboundRestricted)
	current, err := p.bindings.GetCurrent(ctx, name)
	if err != nil {
		return failedStep(res, "read current bindings", err)
	}
	return p.bindThenSeal(ctx, res, name, subtract(desired, current), subtract(current, desired), desired)
}

// bindThenSeal runs steps 1-3 of the protocol against a volume known to
// exist in open mode.
func (p *Protocol) bindThenSeal(ctx context.Context, res executor.Result, name string, assign, unassign, desired []string) executor.Result {
	// Step 1: converge the binding set in one combined call.
	if len(assign) > 0 || len(unassign) > 0 {
		err := p.exec.Retryer().Do(ctx, "bindings.assign", func(ctx context.Context) error {
			return p.bindings.Update(ctx, name, assign, unassign)
		})
		switch dispatch(stepBind, err) {
		case actionOK:
			p.logState(name, StateBoundRestricted)
		case actionSkip:
			p.logger.Warn().Err(err).Str("volume", name).Msg("skipping binding assignment")
		case actionAbort:
			return failedStep(res, "assign bindings", err)
		}
	}

	// Step 2: seal only after the bindings are in place (or their
	// assignment was deliberately skipped and logged).
	err := p.exec.Retryer().Do(ctx, "volume.seal", func(ctx context.Context) error {
		return p.resources.Update(ctx, name, remote.Fields{
			executor.FieldIsolationMode: string(securable.IsolationRestricted),
		})
	})
	switch dispatch(stepSeal, err) {
	case actionOK:
		p.logState(name, StateSealedRestricted)
		if res.Operation == executor.OpNoop {
			res.Operation = executor.OpUpdate
			res.Message = fmt.Sprintf("sealed isolation mode of %q", name)
		}
	case actionSkip:
		p.logger.Warn().Err(err).Str("volume", name).Msg("skipping isolation-mode seal")
	case actionAbort:
		return failedStep(res, "seal isolation mode", err)
	}

	// Step 3: verification read-back. Binding propagation is eventually
	// consistent, so a mismatch is warned about, never retried, and
	// never fails the create.
	p.sleep(p.wait)
	current, err := p.bindings.GetCurrent(ctx, name)
	if err != nil {
		p.logger.Warn().Err(err).Str("volume", name).Msg("binding verification read-back failed")
		return res
	}
	if missing := subtract(desired, current); len(missing) > 0 {
		p.logger.Warn().
			Str("volume", name).
			Strs("missing", missing).
			Msg("binding verification mismatch, propagation may still be in flight")
	}
	return res
}

// Reconcile converges the binding set of an already-restricted volume.
// Additions and removals go out in one combined call so the volume never
// passes through a state with zero bindings while sealed.
func (p *Protocol) Reconcile(ctx context.Context, v *securable.Volume, env securable.Environment) executor.Result {
	start := time.Now()
	name := v.ResolvedName(env)

	if v.IsolationMode() != securable.IsolationRestricted {
		return p.precondition(name, start)
	}

	current, err := p.bindings.GetCurrent(ctx, name)
	if err != nil {
		return p.failed(name, err, start)
	}

	desired := v.AccessBindings()
	toAdd := subtract(desired, current)
	toRemove := subtract(current, desired)

	if len(toAdd) == 0 && len(toRemove) == 0 {
		return executor.Result{
			Success:      true,
			Operation:    executor.OpNoop,
			ResourceType: string(securable.KindVolume),
			ResourceName: name,
			Message:      fmt.Sprintf("bindings of %q already in desired state", name),
			Duration:     time.Since(start),
		}
	}

	if p.exec.DryRun() {
		return executor.Result{
			Success:      true,
			Operation:    executor.OpUpdate,
			ResourceType: string(securable.KindVolume),
			ResourceName: name,
			Message:      fmt.Sprintf("[dry-run] would assign %v and unassign %v on %q", toAdd, toRemove, name),
			Duration:     time.Since(start),
		}
	}

	err = p.exec.Retryer().Do(ctx, "bindings.reconcile", func(ctx context.Context) error {
		return p.bindings.Update(ctx, name, toAdd, toRemove)
	})
	if err != nil {
		return p.failed(name, err, start)
	}

	return executor.Result{
		Success:      true,
		Operation:    executor.OpUpdate,
		ResourceType: string(securable.KindVolume),
		ResourceName: name,
		Message:      fmt.Sprintf("assigned %v and unassigned %v on %q", toAdd, toRemove, name),
		Duration:     time.Since(start),
	}
}

// RemoveAllBindings is the terminal unbinding operation: the full current
// set is unassigned in a single call.
func (p *Protocol) RemoveAllBindings(ctx context.Context, v *securable.Volume, env securable.Environment) executor.Result {
	start := time.Now()
	name := v.ResolvedName(env)

	if v.IsolationMode() != securable.IsolationRestricted {
		return p.precondition(name, start)
	}

	current, err := p.bindings.GetCurrent(ctx, name)
	if err != nil {
		return p.failed(name, err, start)
	}
	if len(current) == 0 {
		return executor.Result{
			Success:      true,
			Operation:    executor.OpNoop,
			ResourceType: string(securable.KindVolume),
			ResourceName: name,
			Message:      fmt.Sprintf("no bindings on %q", name),
			Duration:     time.Since(start),
		}
	}

	if p.exec.DryRun() {
		return executor.Result{
			Success:      true,
			Operation:    executor.OpUpdate,
			ResourceType: string(securable.KindVolume),
			ResourceName: name,
			Message:      fmt.Sprintf("[dry-run] would unassign all %d bindings from %q", len(current), name),
			Duration:     time.Since(start),
		}
	}

	err = p.exec.Retryer().Do(ctx, "bindings.removeall", func(ctx context.Context) error {
		return p.bindings.Update(ctx, name, nil, current)
	})
	if err != nil {
		return p.failed(name, err, start)
	}

	return executor.Result{
		Success:      true,
		Operation:    executor.OpUpdate,
		ResourceType: string(securable.KindVolume),
		ResourceName: name,
		Message:      fmt.Sprintf("unassigned all %d bindings from %q", len(current), name),
		Duration:     time.Since(start),
	}
}

func (p *Protocol) precondition(name string, start time.Time) executor.Result {
	return executor.Result{
		Operation:    executor.OpSkipped,
		ResourceType: string(securable.KindVolume),
		ResourceName: name,
		Message:      fmt.Sprintf("volume %q: %s", name, ErrNotRestricted),
		Err:          ErrNotRestricted,
		Duration:     time.Since(start),
	}
}

func (p *Protocol) failed(name string, err error, start time.Time) executor.Result {
	return executor.Result{
		Operation:    executor.OpUpdate,
		ResourceType: string(securable.KindVolume),
		ResourceName: name,
		Message:      err.Error(),
		Err:          err,
		Duration:     time.Since(start),
	}
}

func (p *Protocol) logState(name string, s State) {
	p.logger.Debug().Str("volume", name).Str("state", string(s)).Msg("isolation state transition")
}

func failedStep(res executor.Result, step string, err error) executor.Result {
	res.Success = false
	res.Err = err
	res.Message = fmt.Sprintf("%s; %s failed: %s", res.Message, step, err)
	return res
}

func subtract(a, b []string) []string {
	have := make(map[string]bool, len(b))
	for _, v := range b {
		have[v] = true
	}
	var out []string
	for _, v := range a {
		if !have[v] {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
