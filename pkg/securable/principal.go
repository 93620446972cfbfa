package securable

// PrincipalKind identifies the category of an identity.
type PrincipalKind string

const (
	// PrincipalUser is an individual user account.
	PrincipalUser PrincipalKind = "user"

	// PrincipalGroup is a named group of users.
	PrincipalGroup PrincipalKind = "group"

	// PrincipalService is a service identity addressed by an opaque
	// application id when one is known.
	PrincipalService PrincipalKind = "service"
)

// Principal references a user, group, or service identity.
type Principal struct {
	// Kind is the identity category.
	Kind PrincipalKind

	// Name is the display name.
	Name string

	// ApplicationID is the opaque id of a service identity, empty when
	// unknown or not applicable.
	ApplicationID string
}

// Resolve returns the remote-facing name of the principal. Users and
// groups take the environment suffix like any securable. Service
// identities resolve to their application id when known, otherwise to
// the bare display name; they never take an environment suffix because
// the identity provider owns their naming.
func (p Principal) Resolve(env Environment) string {
	if p.Kind == PrincipalService {
		if p.ApplicationID != "" {
			return p.ApplicationID
		}
		return p.Name
	}
	return ResolveName(p.Name, env)
}

// Privilege is one grantable permission kind.
type Privilege string

const (
	PrivilegeRead   Privilege = "READ"
	PrivilegeWrite  Privilege = "WRITE"
	PrivilegeCreate Privilege = "CREATE"
	PrivilegeManage Privilege = "MANAGE"
)

// Grant is a desired (principal, privilege) pair on one securable.
// Grants are additive: the presence of one never implies the absence of
// another, and removal always requires an explicit revoke.
type Grant struct {
	Principal Principal
	Privilege Privilege
}
