package grants

import "fmt"

// PrincipalNotFoundError reports a grant whose principal does not exist
// in the identity provider. In strict mode it aborts the whole batch so
// a typo in one principal name cannot half-apply an access review.
type PrincipalNotFoundError struct {
	// Principal is the resolved name or application id that was looked up.
	Principal string
}

func (e *PrincipalNotFoundError) Error() string {
	return fmt.Sprintf("principal %q not found", e.Principal)
}

// SecurableNotFoundError reports a grant target that does not exist
// remotely. Grants are never applied to securables this run did not see.
type SecurableNotFoundError struct {
	// Address is the resolved dotted address of the missing securable.
	Address string
}

func (e *SecurableNotFoundError) Error() string {
	return fmt.Sprintf("securable %q not found", e.Address)
}
