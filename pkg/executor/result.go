// Package executor implements the idempotent create-or-update/delete
// reconciliation core: field-level diffing against remote current state,
// classified retry with exponential backoff, and a LIFO rollback ledger
// of compensating actions.
package executor

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Operation is the kind of reconciliation action a Result describes.
type Operation string

const (
	OpCreate  Operation = "CREATE"
	OpUpdate  Operation = "UPDATE"
	OpDelete  Operation = "DELETE"
	OpGrant   Operation = "GRANT"
	OpRevoke  Operation = "REVOKE"
	OpNoop    Operation = "NO_OP"
	OpSkipped Operation = "SKIPPED"
)

// FieldChange records one field's current and desired values.
type FieldChange struct {
	Current any
	Desired any
}

// ChangeSet maps field names to the change that drove an update. An empty
// change set is the formal idempotency signal: nothing to do remotely.
type ChangeSet map[string]FieldChange

// Empty reports whether the change set carries no changes.
func (cs ChangeSet) Empty() bool {
	return len(cs) == 0
}

// Fields returns the changed field names in sorted order.
func (cs ChangeSet) Fields() []string {
	out := make([]string, 0, len(cs))
	for f := range cs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// String renders the change set for log messages.
func (cs ChangeSet) String() string {
	parts := make([]string, 0, len(cs))
	for _, f := range cs.Fields() {
		c := cs[f]
		parts = append(parts, fmt.Sprintf("%s: %v -> %v", f, c.Current, c.Desired))
	}
	if len(parts) == 0 {
		return "(no changes)"
	}
	return fmt.Sprintf("{%s}", strings.Join(parts, ", "))
}

// Result is the immutable record of one reconciliation operation.
type Result struct {
	// Success reports whether the operation converged. NO_OP and SKIPPED
	// count as success.
	Success bool

	// Operation is the action that was (or would have been) performed.
	Operation Operation

	// ResourceType is the securable kind, e.g. "volume".
	ResourceType string

	// ResourceName is the resolved remote name or securable address.
	ResourceName string

	// Message is a human-readable summary. Dry-run results are prefixed
	// with "[dry-run]".
	Message string

	// Changes is the field-level diff that drove an update, nil for
	// operations without one.
	Changes ChangeSet

	// Err carries the classified failure for unsuccessful results.
	Err error

	// Duration is the wall time the operation took, including retries.
	Duration time.Duration
}
