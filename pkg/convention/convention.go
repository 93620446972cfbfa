// Package convention applies organization-wide tagging, ownership, and
// naming rules to desired-state securables before any executor sees
// them. Applying a convention is append-only: a tag another actor put
// there first is never overwritten, whatever its value.
package convention

import (
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/securactl/securactl/pkg/securable"
)

// DefaultTag is one default-tag rule. The effective value is, in order
// of precedence: the Expression result, the per-environment override,
// then the static Value.
type DefaultTag struct {
	Key   string `yaml:"key" validate:"required"`
	Value string `yaml:"value"`

	// EnvValues overrides Value per environment name.
	EnvValues map[string]string `yaml:"env_values"`

	// Expression is an optional Starlark expression computing the value
	// from `name`, `kind`, and `env`.
	Expression string `yaml:"expression"`

	// AppliesTo filters by securable kind; empty means all kinds.
	AppliesTo []securable.Kind `yaml:"applies_to"`
}

// RequiredTag is one required-tag rule.
type RequiredTag struct {
	Key string `yaml:"key" validate:"required"`

	// AllowedValues, when non-empty, restricts the tag's value.
	AllowedValues []string `yaml:"allowed_values"`

	AppliesTo []securable.Kind `yaml:"applies_to"`
}

// NamingRule is one naming-pattern rule.
type NamingRule struct {
	// Pattern is a Go regular expression the base name must match.
	Pattern string `yaml:"pattern" validate:"required"`

	Description string `yaml:"description"`

	AppliesTo []securable.Kind `yaml:"applies_to"`

	re *regexp.Regexp
}

// Convention bundles default tags, required tags, naming rules, and an
// optional default owner.
type Convention struct {
	Name         string               `yaml:"name" validate:"required"`
	DefaultTags  []DefaultTag         `yaml:"default_tags"`
	RequiredTags []RequiredTag        `yaml:"required_tags"`
	NamingRules  []NamingRule         `yaml:"naming_rules"`
	DefaultOwner *securable.Principal `yaml:"default_owner"`

	eval   *Evaluator
	logger zerolog.Logger
}

// Finalize compiles the naming patterns and prepares the expression
// evaluator. It must be called once after constructing or unmarshaling
// a Convention, before ApplyTo or ValidateSecurable.
func (c *Convention) Finalize(logger zerolog.Logger) error {
	for i := range c.NamingRules {
		re, err := regexp.Compile(c.NamingRules[i].Pattern)
		if err != nil {
			return fmt.Errorf("convention %q: naming rule %d: %w", c.Name, i, err)
		}
		c.NamingRules[i].re = re
	}
	c.eval = NewEvaluator()
	c.logger = logger.With().Str("component", "convention").Str("convention", c.Name).Logger()
	return nil
}

// ApplyTo merges the convention into the securable's desired state.
// Default tags whose type filter matches are appended only when the key
// is absent. A second application is a no-op.
func (c *Convention) ApplyTo(s securable.Securable, env securable.Environment) error {
	if tagged, ok := s.(securable.Taggable); ok {
		for _, rule := range c.DefaultTags {
			if !appliesTo(rule.AppliesTo, s.Kind()) {
				continue
			}
			value, err := c.tagValue(rule, s, env)
			if err != nil {
				return fmt.Errorf("convention %q: default tag %q: %w", c.Name, rule.Key, err)
			}
			if tagged.Tags().Append(rule.Key, value) {
				c.logger.Debug().
					Str("securable", s.BaseName()).
					Str("key", rule.Key).
					Str("value", value).
					Msg("applied default tag")
			}
		}
	}
	if c.DefaultOwner != nil {
		if owned, ok := s.(securable.Ownable); ok && owned.Owner() == nil {
			owned.SetOwner(*c.DefaultOwner)
		}
	}
	return nil
}

// Violation is one broken convention rule. ValidateSecurable returns
// them as errors so callers can aggregate across a whole hierarchy.
type Violation struct {
	// Securable is the base name of the offending object.
	Securable string

	// Kind is the offending object's kind.
	Kind securable.Kind

	// Rule identifies the rule category, "required-tag" or "naming".
	Rule string

	// Message describes the violation.
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s %q violates %s rule: %s", v.Kind, v.Securable, v.Rule, v.Message)
}

// ValidateSecurable checks the securable against every applicable
// required-tag and naming rule and returns one error per violation.
func (c *Convention) ValidateSecurable(s securable.Securable) []error {
	var violations []error

	if tagged, ok := s.(securable.Taggable); ok {
		for _, rule := range c.RequiredTags {
			if !appliesTo(rule.AppliesTo, s.Kind()) {
				continue
			}
			value, present := tagged.Tags().Get(rule.Key)
			if !present {
				violations = append(violations, &Violation{
					Securable: s.BaseName(),
					Kind:      s.Kind(),
					Rule:      "required-tag",
					Message:   fmt.Sprintf("missing required tag %q", rule.Key),
				})
				continue
			}
			if len(rule.AllowedValues) > 0 && !contains(rule.AllowedValues, value) {
				violations = append(violations, &Violation{
					Securable: s.BaseName(),
					Kind:      s.Kind(),
					Rule:      "required-tag",
					Message:   fmt.Sprintf("tag %q has disallowed value %q (allowed: %v)", rule.Key, value, rule.AllowedValues),
				})
			}
		}
	}

	for _, rule := range c.NamingRules {
		if !appliesTo(rule.AppliesTo, s.Kind()) {
			continue
		}
		if rule.re == nil {
			// Finalize was skipped; fail loudly rather than pass silently.
			violations = append(violations, &Violation{
				Securable: s.BaseName(),
				Kind:      s.Kind(),
				Rule:      "naming",
				Message:   fmt.Sprintf("pattern %q not compiled, convention not finalized", rule.Pattern),
			})
			continue
		}
		if !rule.re.MatchString(s.BaseName()) {
			msg := fmt.Sprintf("name %q does not match %q", s.BaseName(), rule.Pattern)
			if rule.Description != "" {
				msg += " (" + rule.Description + ")"
			}
			violations = append(violations, &Violation{
				Securable: s.BaseName(),
				Kind:      s.Kind(),
				Rule:      "naming",
				Message:   msg,
			})
		}
	}
	return violations
}

func (c *Convention) tagValue(rule DefaultTag, s securable.Securable, env securable.Environment) (string, error) {
	if rule.Expression != "" {
		return c.eval.TagValue(rule.Expression, s, env)
	}
	if v, ok := rule.EnvValues[string(env)]; ok {
		return v, nil
	}
	return rule.Value, nil
}

func appliesTo(kinds []securable.Kind, k securable.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
