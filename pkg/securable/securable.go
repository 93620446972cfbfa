// Package securable defines the client-side model of the managed resource
// hierarchy: catalogs, schemas, and volumes, together with the principals,
// tags, and privileges attached to them. Objects in this package are
// desired state only; nothing here talks to the control plane.
package securable

import (
	"fmt"
	"strings"
)

// Kind identifies a securable resource type.
type Kind string

const (
	// KindCatalog is the level-1 container.
	KindCatalog Kind = "catalog"

	// KindSchema is the level-2 container nested in a catalog.
	KindSchema Kind = "schema"

	// KindVolume is a level-3 leaf object with a fixed storage location.
	KindVolume Kind = "volume"
)

// Level returns the hierarchy depth of the kind, 1 through 3.
func (k Kind) Level() int {
	switch k {
	case KindCatalog:
		return 1
	case KindSchema:
		return 2
	case KindVolume:
		return 3
	default:
		return 0
	}
}

// Validate checks that the kind is one of the known securable types.
func (k Kind) Validate() error {
	switch k {
	case KindCatalog, KindSchema, KindVolume:
		return nil
	default:
		return fmt.Errorf("invalid securable kind: %q", k)
	}
}

// Environment is the deployment environment a desired state targets.
// Resolved names carry it as an upper-cased suffix, e.g. "sales" in
// environment "dev" resolves to "sales_DEV". The empty environment
// resolves names unchanged.
type Environment string

// Suffix returns the name suffix for the environment, including the
// leading underscore, or the empty string.
func (e Environment) Suffix() string {
	if e == "" {
		return ""
	}
	return "_" + strings.ToUpper(string(e))
}

// ResolveName combines a base name with the environment suffix.
func ResolveName(base string, env Environment) string {
	return base + env.Suffix()
}

// Address is a securable's fully qualified location in the hierarchy,
// up to three base-name components. It is computed once when the object
// is attached to its parent and never changes afterwards; no parent
// back-pointers are kept.
type Address struct {
	parts []string
}

// NewAddress builds an address from base-name components.
func NewAddress(parts ...string) Address {
	return Address{parts: append([]string(nil), parts...)}
}

// Child returns the address extended by one component.
func (a Address) Child(part string) Address {
	return NewAddress(append(append([]string(nil), a.parts...), part)...)
}

// Parts returns the address components, outermost first.
func (a Address) Parts() []string {
	return append([]string(nil), a.parts...)
}

// String returns the dotted base-name form, e.g. "sales.orders.raw".
func (a Address) String() string {
	return strings.Join(a.parts, ".")
}

// Resolve returns the dotted remote-facing form with every component
// environment-qualified, e.g. "sales_DEV.orders_DEV.raw_DEV".
func (a Address) Resolve(env Environment) string {
	resolved := make([]string, len(a.parts))
	for i, p := range a.parts {
		resolved[i] = ResolveName(p, env)
	}
	return strings.Join(resolved, ".")
}

// IsZero reports whether the address has not been assigned yet.
func (a Address) IsZero() bool {
	return len(a.parts) == 0
}

// IsolationMode states whether a resource is reachable from any network
// access point or only from an explicit allow-list.
type IsolationMode string

const (
	// IsolationOpen permits access from any access point.
	IsolationOpen IsolationMode = "open"

	// IsolationRestricted limits access to the bound access points.
	IsolationRestricted IsolationMode = "restricted"
)

// Securable is a named, typed resource in the managed hierarchy.
type Securable interface {
	Kind() Kind
	BaseName() string

	// ResolvedName returns the environment-qualified remote name.
	ResolvedName(env Environment) string

	// Address returns the qualified address assigned at attach time.
	// The zero address means the object is not attached to a parent yet.
	Address() Address
}

// Taggable is implemented by securables that carry a tag list.
type Taggable interface {
	Tags() *TagList
}

// Ownable is implemented by securables that carry an owner principal.
type Ownable interface {
	Owner() *Principal
	SetOwner(p Principal)
}

// Bindable is implemented by securables that support network isolation.
type Bindable interface {
	IsolationMode() IsolationMode

	// AccessBindings returns the desired access-point allow-list. Only
	// meaningful when the isolation mode is restricted.
	AccessBindings() []string
}

// Container is a securable that holds children, used by convention
// propagation to walk the hierarchy and to hook child attachment.
type Container interface {
	Securable

	// Children returns the directly attached child securables.
	Children() []Securable

	// AddAttachHook registers a callback invoked for every subsequently
	// attached child. Hooks accumulate and fire in registration order,
	// so several independent bindings can govern one container.
	AddAttachHook(hook func(child Securable))
}
