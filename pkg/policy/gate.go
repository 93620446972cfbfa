// Package policy gates planned reconciliation runs behind Rego rules:
// environment deny-lists, destructive-operation guards, and any
// organization policies loaded from disk. The gate is advisory
// infrastructure in front of the executors; they do not depend on it.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Gate evaluates plans against the loaded policy set.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// NewGate creates a gate preloaded with the built-in policies.
func NewGate(logger zerolog.Logger) (*Gate, error) {
	g := &Gate{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-gate").Logger(),
	}
	for _, p := range builtinPolicies() {
		if err := g.compile(context.Background(), p); err != nil {
			return nil, fmt.Errorf("built-in policy %s: %w", p.Name, err)
		}
	}
	return g, nil
}

// LoadPolicies compiles .rego files from the given paths (files or
// directories) into the gate. A policy with the name of an existing one
// replaces it, so operators can override built-ins.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("policy path %s: %w", path, err)
		}
		if info.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return fmt.Errorf("policy dir %s: %w", path, err)
			}
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
					continue
				}
				if err := g.loadFile(ctx, filepath.Join(path, entry.Name())); err != nil {
					return err
				}
			}
			continue
		}
		if err := g.loadFile(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) loadFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading policy %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	p := Policy{
		Name:    name,
		Enabled: true,
		Rego:    string(content),
	}
	if err := g.compile(ctx, p); err != nil {
		return fmt.Errorf("policy %s: %w", path, err)
	}
	g.logger.Info().Str("policy", name).Msg("policy loaded")
	return nil
}

func (g *Gate) compile(ctx context.Context, p Policy) error {
	pkg := packageName(p.Rego)
	if pkg == "" {
		return fmt.Errorf("no package declaration")
	}
	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("compiling: %w", err)
	}

	g.mu.Lock()
	g.policies[p.Name] = &compiledPolicy{policy: p, query: query}
	g.mu.Unlock()
	return nil
}

// Evaluate runs every enabled policy over the plan. The decision denies
// when any violation carries error severity; a policy that fails to
// evaluate becomes a warning, never a silent allow.
func (g *Gate) Evaluate(ctx context.Context, input *PlanInput) (*Decision, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	decision := &Decision{Allowed: true, EvaluatedAt: time.Now()}
	for _, cp := range g.policies {
		if !cp.policy.Enabled {
			continue
		}
		violations, err := g.evaluatePolicy(ctx, cp, input)
		if err != nil {
			g.logger.Error().Err(err).Str("policy", cp.policy.Name).Msg("policy evaluation failed")
			decision.Warnings = append(decision.Warnings,
				fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		decision.Violations = append(decision.Violations, violations...)
	}

	for _, v := range decision.Violations {
		if v.Severity == SeverityError {
			decision.Allowed = false
			break
		}
	}
	g.logger.Debug().
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Msg("plan evaluated")
	return decision, nil
}

func (g *Gate) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PlanInput) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, g.toViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

func (g *Gate) toViolation(p Policy, raw interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}
	if v.Severity == "" {
		v.Severity = SeverityError
	}
	switch d := raw.(type) {
	case string:
		v.Message = d
	case map[string]interface{}:
		if msg, ok := d["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := d["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if res, ok := d["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", raw)
	}
	return v
}

var packageRe = regexp.MustCompile(`(?m)^package\s+([\w.]+)`)

func packageName(module string) string {
	m := packageRe.FindStringSubmatch(module)
	if m == nil {
		return ""
	}
	return m[1]
}
