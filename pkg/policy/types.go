package policy

import "time"

// Severity ranks a violation.
type Severity string

const (
	// SeverityWarning surfaces the violation without blocking the plan.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the plan.
	SeverityError Severity = "error"
)

// Policy is one named Rego policy. Each policy's module declares a
// `deny` set; every member is reported as a Violation.
type Policy struct {
	Name        string
	Description string
	Severity    Severity
	Enabled     bool
	Rego        string
}

// PlannedOperation is one operation an upcoming run intends to perform.
type PlannedOperation struct {
	Operation    string `json:"operation"`
	ResourceType string `json:"resource_type"`
	ResourceName string `json:"resource_name"`
}

// PlanInput is the evaluation input handed to every policy.
type PlanInput struct {
	Environment string `json:"environment"`
	DryRun      bool   `json:"dry_run"`

	// AllowDestructive acknowledges data-destroying operations. The
	// built-in volume guard denies volume deletion without it.
	AllowDestructive bool `json:"allow_destructive"`

	Operations []PlannedOperation `json:"operations"`
}

// Violation is one broken policy rule.
type Violation struct {
	Policy   string
	Message  string
	Severity Severity
	Resource string
}

// Decision is the outcome of evaluating a plan against all loaded
// policies.
type Decision struct {
	// Allowed is false when any violation has error severity.
	Allowed bool

	Violations []Violation

	// Warnings lists policies that failed to evaluate; an unevaluable
	// policy never silently allows a plan component.
	Warnings []string

	EvaluatedAt time.Time
}
