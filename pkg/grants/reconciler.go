// Package grants reconciles desired privileges against the remote grant
// state. Reconciliation is additive: privileges already present remotely
// but absent from the desired set are left alone, and removal only ever
// happens through an explicit revoke batch.
package grants

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/securactl/securactl/pkg/executor"
	"github.com/securactl/securactl/pkg/remote"
	"github.com/securactl/securactl/pkg/securable"
	"github.com/securactl/securactl/pkg/telemetry"
)

// Assignment is the desired grant set for one securable.
type Assignment struct {
	// Target is the base address of the securable.
	Target securable.Address

	// Grants are the desired (principal, privilege) pairs.
	Grants []securable.Grant
}

// Options configures a Reconciler.
type Options struct {
	// Strict aborts the whole batch on the first missing principal or
	// securable. Lenient (the default) records a failure for the
	// affected address and keeps going.
	Strict bool

	// DryRun reports what would change without calling Update.
	DryRun bool

	MaxRetries int
	Logger     zerolog.Logger
	Metrics    *telemetry.Metrics
}

// Reconciler applies grant batches with per-address grouping: each
// distinct resolved address costs one read and at most one update per
// batch, however many grants name it.
type Reconciler struct {
	grants     remote.GrantClient
	identities remote.IdentityClient
	retryer    *executor.Retryer
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	strict     bool
	dryRun     bool

	// cache memoizes principal lookups for the reconciler's lifetime,
	// including definitive misses. Identity data changes far slower
	// than a batch runs.
	cache map[string]lookup
}

type lookup struct {
	key string
	err error
}

// NewReconciler creates a grant reconciler over the given control-plane
// client.
func NewReconciler(client remote.Client, opts Options) *Reconciler {
	logger := opts.Logger.With().Str("component", "grants").Logger()
	retryer := executor.NewRetryer(opts.MaxRetries, logger).
		WithRetryObserver(opts.Metrics.ObserveRetry)
	return &Reconciler{
		grants:     client.Grants(),
		identities: client.Identities(),
		retryer:    retryer,
		logger:     logger,
		metrics:    opts.Metrics,
		strict:     opts.Strict,
		dryRun:     opts.DryRun,
		cache:      make(map[string]lookup),
	}
}

// Retryer exposes the retry core, mainly so tests can inject a sleeper.
func (r *Reconciler) Retryer() *executor.Retryer { return r.retryer }

// Apply reconciles the batch additively. It returns one Result per
// distinct address. In strict mode the returned error is a
// *PrincipalNotFoundError or *SecurableNotFoundError and the slice holds
// the results completed before the abort.
func (r *Reconciler) Apply(ctx context.Context, batch []Assignment, env securable.Environment) ([]executor.Result, error) {
	var results []executor.Result
	for _, g := range r.group(batch, env) {
		res, err := r.applyAddress(ctx, g, env)
		results = append(results, res)
		if err != nil {
			if r.strict {
				return results, err
			}
			r.logger.Warn().Err(err).Str("address", g.address).Msg("continuing past grant failure")
		}
	}
	return results, nil
}

// Revoke removes the named privileges. Privileges not currently present
// are skipped; an address whose batch is entirely absent is a no-op.
func (r *Reconciler) Revoke(ctx context.Context, batch []Assignment, env securable.Environment) ([]executor.Result, error) {
	var results []executor.Result
	for _, g := range r.group(batch, env) {
		res, err := r.revokeAddress(ctx, g, env)
		results = append(results, res)
		if err != nil {
			if r.strict {
				return results, err
			}
			r.logger.Warn().Err(err).Str("address", g.address).Msg("continuing past revoke failure")
		}
	}
	return results, nil
}

// addressGroup collects every grant aimed at one resolved address.
type addressGroup struct {
	address string
	grants  []securable.Grant
}

func (r *Reconciler) group(batch []Assignment, env securable.Environment) []addressGroup {
	index := make(map[string]int)
	var groups []addressGroup
	for _, a := range batch {
		addr := a.Target.Resolve(env)
		i, ok := index[addr]
		if !ok {
			i = len(groups)
			index[addr] = i
			groups = append(groups, addressGroup{address: addr})
		}
		groups[i].grants = append(groups[i].grants, a.Grants...)
	}
	return groups
}

func (r *Reconciler) applyAddress(ctx context.Context, g addressGroup, env securable.Environment) (executor.Result, error) {
	start := time.Now()

	desired, unresolved, err := r.resolveGrants(ctx, g, env)
	if err != nil {
		return r.failed(g.address, executor.OpGrant, err, start), err
	}

	applied := "nothing applied"
	converged := len(desired) == 0
	if len(desired) > 0 {
		current, err := r.getCurrent(ctx, g.address)
		if err != nil {
			var snf *SecurableNotFoundError
			if r.dryRun && errors.As(err, &snf) {
				// In a dry-run pass the securable is often one the same
				// run would have created; plan against an empty set.
				current = remote.GrantSet{}
			} else {
				return r.failed(g.address, executor.OpGrant, err, start), err
			}
		}

		add := make(remote.GrantSet)
		for key, privileges := range desired {
			missing := subtract(privileges, current[key])
			if len(missing) > 0 {
				add[key] = missing
			}
		}
		switch {
		case len(add) == 0:
			converged = true
			applied = fmt.Sprintf("grants on %q already in desired state", g.address)
		case r.dryRun:
			applied = fmt.Sprintf("[dry-run] would add %s to %q", describe(add), g.address)
		default:
			err = r.retryer.Do(ctx, "grants.apply", func(ctx context.Context) error {
				return r.grants.Update(ctx, g.address, add, nil)
			})
			if err != nil {
				err = r.classifyTarget(g.address, err)
				return r.failed(g.address, executor.OpGrant, err, start), err
			}
			applied = fmt.Sprintf("added %s to %q", describe(add), g.address)
		}
	}

	// The resolvable principals' grants have landed; the address still
	// fails when any principal could not be resolved.
	if len(unresolved) > 0 {
		err := &PrincipalNotFoundError{Principal: unresolved[0]}
		res := r.finish(executor.Result{
			Operation: executor.OpGrant,
			Message:   fmt.Sprintf("%s; principals not found: %v", applied, unresolved),
			Err:       err,
		}, g.address, start)
		return res, nil
	}
	if converged {
		return r.noop(g.address, applied, start), nil
	}
	return r.succeeded(g.address, executor.OpGrant, applied, start), nil
}

func (r *Reconciler) revokeAddress(ctx context.Context, g addressGroup, env securable.Environment) (executor.Result, error) {
	start := time.Now()

	requested, unresolved, err := r.resolveGrants(ctx, g, env)
	if err != nil {
		return r.failed(g.address, executor.OpRevoke, err, start), err
	}
	if len(unresolved) > 0 {
		// A revoke naming an unknown principal has nothing to remove.
		r.logger.Warn().Strs("principals", unresolved).Str("address", g.address).
			Msg("revoke names missing principals")
	}

	current, err := r.getCurrent(ctx, g.address)
	if err != nil {
		return r.failed(g.address, executor.OpRevoke, err, start), err
	}

	remove := make(remote.GrantSet)
	for key, privileges := range requested {
		present := intersect(privileges, current[key])
		if len(present) > 0 {
			remove[key] = present
		}
	}
	if len(remove) == 0 {
		res := r.noop(g.address, fmt.Sprintf("nothing to revoke on %q", g.address), start)
		return res, nil
	}

	if r.dryRun {
		return r.succeeded(g.address, executor.OpRevoke,
			fmt.Sprintf("[dry-run] would remove %s from %q", describe(remove), g.address), start), nil
	}

	err = r.retryer.Do(ctx, "grants.revoke", func(ctx context.Context) error {
		return r.grants.Update(ctx, g.address, nil, remove)
	})
	if err != nil {
		err = r.classifyTarget(g.address, err)
		return r.failed(g.address, executor.OpRevoke, err, start), err
	}
	return r.succeeded(g.address, executor.OpRevoke,
		fmt.Sprintf("removed %s from %q", describe(remove), g.address), start), nil
}

// resolveGrants turns the group's grants into a per-principal privilege
// map keyed by resolved identity. A missing principal aborts in strict
// mode; in lenient mode it is collected so the resolvable rest of the
// group can still be applied before the address is reported failed.
func (r *Reconciler) resolveGrants(ctx context.Context, g addressGroup, env securable.Environment) (remote.GrantSet, []string, error) {
	desired := make(remote.GrantSet)
	var unresolved []string
	for _, grant := range g.grants {
		key, err := r.resolvePrincipal(ctx, grant.Principal, env)
		if err != nil {
			var pnf *PrincipalNotFoundError
			if errors.As(err, &pnf) {
				if r.strict {
					return nil, nil, err
				}
				unresolved = append(unresolved, pnf.Principal)
				r.logger.Warn().Str("principal", pnf.Principal).Str("address", g.address).
					Msg("grant names a missing principal")
				continue
			}
			// Permission and transport failures are never downgraded
			// to absence.
			return nil, nil, err
		}
		desired[key] = union(desired[key], string(grant.Privilege))
	}
	return desired, unresolved, nil
}

// resolvePrincipal verifies existence and returns the grant key. When
// the principal kind is unknown the probe order is user, then group,
// then service principal.
func (r *Reconciler) resolvePrincipal(ctx context.Context, p securable.Principal, env securable.Environment) (string, error) {
	resolved := p.Resolve(env)
	cacheKey := string(p.Kind) + ":" + resolved
	if hit, ok := r.cache[cacheKey]; ok {
		return hit.key, hit.err
	}

	key, err := r.lookup(ctx, p, resolved)
	var pnf *PrincipalNotFoundError
	if err == nil || errors.As(err, &pnf) {
		// Cache hits and definitive misses; transient and permission
		// failures stay uncached so a later call can try again.
		r.cache[cacheKey] = lookup{key: key, err: err}
	}
	return key, err
}

func (r *Reconciler) lookup(ctx context.Context, p securable.Principal, resolved string) (string, error) {
	switch p.Kind {
	case securable.PrincipalUser:
		_, err := r.identities.GetUser(ctx, resolved)
		return resolved, r.classifyPrincipal(resolved, err)
	case securable.PrincipalGroup:
		_, err := r.identities.GetGroup(ctx, resolved)
		return resolved, r.classifyPrincipal(resolved, err)
	case securable.PrincipalService:
		id, err := r.identities.FindServicePrincipal(ctx, resolved)
		if err != nil {
			return "", r.classifyPrincipal(resolved, err)
		}
		if id.ApplicationID != "" {
			return id.ApplicationID, nil
		}
		return resolved, nil
	}

	// Unknown kind: probe in order. Only a definitive miss moves the
	// probe along.
	if _, err := r.identities.GetUser(ctx, resolved); err == nil {
		return resolved, nil
	} else if !remote.IsNotFound(err) {
		return "", err
	}
	if _, err := r.identities.GetGroup(ctx, resolved); err == nil {
		return resolved, nil
	} else if !remote.IsNotFound(err) {
		return "", err
	}
	id, err := r.identities.FindServicePrincipal(ctx, resolved)
	if err != nil {
		return "", r.classifyPrincipal(resolved, err)
	}
	if id.ApplicationID != "" {
		return id.ApplicationID, nil
	}
	return resolved, nil
}

func (r *Reconciler) getCurrent(ctx context.Context, address string) (remote.GrantSet, error) {
	var current remote.GrantSet
	err := r.retryer.Do(ctx, "grants.getcurrent", func(ctx context.Context) error {
		var err error
		current, err = r.grants.GetCurrent(ctx, address)
		return err
	})
	if err != nil {
		return nil, r.classifyTarget(address, err)
	}
	return current, nil
}

func (r *Reconciler) classifyPrincipal(resolved string, err error) error {
	if remote.IsNotFound(err) {
		return &PrincipalNotFoundError{Principal: resolved}
	}
	return err
}

func (r *Reconciler) classifyTarget(address string, err error) error {
	if remote.IsNotFound(err) {
		return &SecurableNotFoundError{Address: address}
	}
	return err
}

func (r *Reconciler) noop(address, message string, start time.Time) executor.Result {
	return r.finish(executor.Result{
		Success:   true,
		Operation: executor.OpNoop,
		Message:   message,
	}, address, start)
}

func (r *Reconciler) succeeded(address string, op executor.Operation, message string, start time.Time) executor.Result {
	return r.finish(executor.Result{
		Success:   true,
		Operation: op,
		Message:   message,
	}, address, start)
}

func (r *Reconciler) failed(address string, op executor.Operation, err error, start time.Time) executor.Result {
	r.metrics.ObserveError(string(remote.CodeOf(err)))
	return r.finish(executor.Result{
		Operation: op,
		Message:   err.Error(),
		Err:       err,
	}, address, start)
}

func (r *Reconciler) finish(res executor.Result, address string, start time.Time) executor.Result {
	res.ResourceType = "grants"
	res.ResourceName = address
	res.Duration = time.Since(start)
	r.metrics.ObserveOperation(res.ResourceType, string(res.Operation), res.Success, res.Duration)
	evt := r.logger.Info()
	if !res.Success {
		evt = r.logger.Error().Err(res.Err)
	}
	evt.Str("address", address).Str("operation", string(res.Operation)).Msg(res.Message)
	return res
}

func describe(set remote.GrantSet) string {
	keys := make([]string, 0, len(set))
	total := 0
	for k, v := range set {
		keys = append(keys, k)
		total += len(v)
	}
	sort.Strings(keys)
	return fmt.Sprintf("%d privilege(s) across %d principal(s) %v", total, len(keys), keys)
}

func union(have []string, v string) []string {
	for _, x := range have {
		if x == v {
			return have
		}
	}
	out := append(have, v)
	sort.Strings(out)
	return out
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

func intersect(a, b []string) []string {
	have := make(map[string]bool, len(b))
	for _, v := range b {
		have[v] = true
	}
	var out []string
	for _, v := range a {
		if have[v] {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
