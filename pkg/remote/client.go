package remote

import "context"

// Fields is the wire representation of a resource's settable attributes.
// Keys are field names as the control plane knows them; values are plain
// JSON-compatible scalars or string slices.
type Fields map[string]any

// ResourceState is the control plane's view of one resource.
type ResourceState struct {
	// Name is the resolved (environment-qualified) resource name.
	Name string

	// Fields holds the current attribute values.
	Fields Fields
}

// ResourceClient is the per-kind resource sub-API. Implementations own
// transport, authentication, and pagination; every method returns a
// classified *Error on failure.
type ResourceClient interface {
	// Get returns the current state of the named resource, or an error
	// with CodeNotFound if it does not exist.
	Get(ctx context.Context, name string) (*ResourceState, error)

	// Create creates the resource with the given fields.
	Create(ctx context.Context, name string, fields Fields) error

	// Update applies the given fields to an existing resource. Only the
	// fields present in the map are touched.
	Update(ctx context.Context, name string, fields Fields) error

	// Delete removes the named resource.
	Delete(ctx context.Context, name string) error

	// List returns all resources of this kind visible to the caller.
	List(ctx context.Context) ([]ResourceState, error)
}

// GrantSet maps a principal's resolved name to its privilege set.
type GrantSet map[string][]string

// GrantClient is the privileges sub-API for one securable address.
type GrantClient interface {
	// GetCurrent returns the per-principal privilege sets currently
	// effective on the addressed securable.
	GetCurrent(ctx context.Context, address string) (GrantSet, error)

	// Update applies additions and removals in a single call.
	Update(ctx context.Context, address string, add, remove GrantSet) error
}

// BindingClient is the access-binding sub-API for network-restricted
// resources.
type BindingClient interface {
	// GetCurrent returns the access-point identifiers currently bound to
	// the named resource.
	GetCurrent(ctx context.Context, resource string) ([]string, error)

	// Update assigns and unassigns access points in a single call. Either
	// slice may be empty; both non-empty means an atomic swap.
	Update(ctx context.Context, resource string, assign, unassign []string) error
}

// Identity is a principal known to the control plane.
type Identity struct {
	// Name is the identity's display name.
	Name string `json:"name"`

	// ApplicationID is the opaque id of a service identity, empty for
	// users and groups.
	ApplicationID string `json:"application_id,omitempty"`
}

// IdentityClient resolves principal existence. Each lookup returns
// CodeNotFound for a definitive miss; permission failures propagate
// unchanged so they are never mistaken for absence.
type IdentityClient interface {
	GetUser(ctx context.Context, name string) (*Identity, error)
	GetGroup(ctx context.Context, name string) (*Identity, error)

	// FindServicePrincipal matches by display name or application id.
	FindServicePrincipal(ctx context.Context, nameOrAppID string) (*Identity, error)
}

// Client bundles the control-plane sub-APIs. It is the sole external
// dependency of the reconciliation core.
type Client interface {
	// Resources returns the resource sub-API for the given kind
	// (e.g. "catalog", "schema", "volume").
	Resources(kind string) ResourceClient

	Grants() GrantClient
	Bindings() BindingClient
	Identities() IdentityClient
}
