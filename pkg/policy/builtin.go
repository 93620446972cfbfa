package policy

// builtinPolicies are always loaded. Operators can replace any of them
// by loading a .rego file with the same policy name.
func builtinPolicies() []Policy {
	return []Policy{
		prodDeletionGuard(),
		destructiveVolumeGuard(),
		massDeletionWarning(),
	}
}

// prodDeletionGuard blocks DELETE operations in the prod environment.
func prodDeletionGuard() Policy {
	return Policy{
		Name:        "prod-deletion-guard",
		Description: "Denies deletion of any securable in the prod environment",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package securactl.policies.prod_deletion

import rego.v1

deny contains violation if {
	input.environment == "prod"
	some op in input.operations
	op.operation == "DELETE"
	violation := {
		"message": sprintf("deletion of %s %q is not permitted in prod", [op.resource_type, op.resource_name]),
		"severity": "error",
		"resource": op.resource_name,
	}
}
`,
	}
}

// destructiveVolumeGuard requires an explicit acknowledgement before any
// volume deletion: the storage behind a volume is unrecoverable.
func destructiveVolumeGuard() Policy {
	return Policy{
		Name:        "destructive-volume-guard",
		Description: "Denies volume deletion unless allow_destructive is set",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package securactl.policies.destructive_volumes

import rego.v1

deny contains violation if {
	not input.allow_destructive
	some op in input.operations
	op.operation == "DELETE"
	op.resource_type == "volume"
	violation := {
		"message": sprintf("deleting volume %q requires --allow-destructive", [op.resource_name]),
		"severity": "error",
		"resource": op.resource_name,
	}
}
`,
	}
}

// massDeletionWarning flags plans that delete a suspicious number of
// securables at once, a common symptom of pointing apply at the wrong
// manifest.
func massDeletionWarning() Policy {
	return Policy{
		Name:        "mass-deletion-warning",
		Description: "Warns when a single plan deletes more than five securables",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package securactl.policies.mass_deletion

import rego.v1

deletes := [op | some op in input.operations; op.operation == "DELETE"]

deny contains violation if {
	count(deletes) > 5
	violation := {
		"message": sprintf("plan deletes %d securables", [count(deletes)]),
		"severity": "warning",
		"resource": "",
	}
}
`,
	}
}
