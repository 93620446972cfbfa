package executor

import (
	"fmt"

	"github.com/securactl/securactl/pkg/remote"
	"github.com/securactl/securactl/pkg/securable"
)

// Remote field names shared by all securable kinds.
const (
	FieldComment       = "comment"
	FieldOwner         = "owner"
	FieldTags          = "tags"
	FieldStoragePath   = "storage_path"
	FieldIsolationMode = "isolation_mode"
)

// ResourceAdapter translates one securable kind into control-plane field
// payloads and declares which fields the executor may touch after
// creation. The executor itself stays kind-agnostic.
type ResourceAdapter interface {
	Kind() securable.Kind

	// CreateFields is the payload for the initial create call.
	CreateFields(s securable.Securable, env securable.Environment) (remote.Fields, error)

	// DesiredFields is the target state updates are diffed against.
	DesiredFields(s securable.Securable, env securable.Environment) (remote.Fields, error)

	// MutableFields lists the field names update may converge in place.
	MutableFields() []string

	// ImmutableFields lists fields fixed at creation. Drift on these is
	// reported as a warning and never sent to the remote API.
	ImmutableFields() []string
}

func commonFields(s securable.Securable, env securable.Environment) remote.Fields {
	fields := remote.Fields{}
	if t, ok := s.(securable.Taggable); ok {
		fields[FieldTags] = t.Tags().AsMap()
	}
	if o, ok := s.(securable.Ownable); ok && o.Owner() != nil {
		fields[FieldOwner] = o.Owner().Resolve(env)
	}
	return fields
}

// CatalogAdapter maps catalogs onto the control plane.
type CatalogAdapter struct{}

// Kind implements ResourceAdapter.
func (CatalogAdapter) Kind() securable.Kind { return securable.KindCatalog }

// CreateFields implements ResourceAdapter.
func (a CatalogAdapter) CreateFields(s securable.Securable, env securable.Environment) (remote.Fields, error) {
	return a.DesiredFields(s, env)
}

// DesiredFields implements ResourceAdapter.
func (CatalogAdapter) DesiredFields(s securable.Securable, env securable.Environment) (remote.Fields, error) {
	c, ok := s.(*securable.Catalog)
	if !ok {
		return nil, fmt.Errorf("catalog adapter: unexpected type %T", s)
	}
	fields := commonFields(c, env)
	fields[FieldComment] = c.Comment
	return fields, nil
}

// MutableFields implements ResourceAdapter.
func (CatalogAdapter) MutableFields() []string {
	return []string{FieldComment, FieldOwner, FieldTags}
}

// ImmutableFields implements ResourceAdapter.
func (CatalogAdapter) ImmutableFields() []string { return nil }

// SchemaAdapter maps schemas onto the control plane.
type SchemaAdapter struct{}

// Kind implements ResourceAdapter.
func (SchemaAdapter) Kind() securable.Kind { return securable.KindSchema }

// CreateFields implements ResourceAdapter.
func (a SchemaAdapter) CreateFields(s securable.Securable, env securable.Environment) (remote.Fields, error) {
	return a.DesiredFields(s, env)
}

// DesiredFields implements ResourceAdapter.
func (SchemaAdapter) DesiredFields(s securable.Securable, env securable.Environment) (remote.Fields, error) {
	sc, ok := s.(*securable.Schema)
	if !ok {
		return nil, fmt.Errorf("schema adapter: unexpected type %T", s)
	}
	fields := commonFields(sc, env)
	fields[FieldComment] = sc.Comment
	return fields, nil
}

// MutableFields implements ResourceAdapter.
func (SchemaAdapter) MutableFields() []string {
	return []string{FieldComment, FieldOwner, FieldTags}
}

// ImmutableFields implements ResourceAdapter.
func (SchemaAdapter) ImmutableFields() []string { return nil }

// VolumeAdapter maps volumes onto the control plane.
type VolumeAdapter struct{}

// Kind implements ResourceAdapter.
func (VolumeAdapter) Kind() securable.Kind { return securable.KindVolume }

// CreateFields implements ResourceAdapter. Volumes are always created in
// open isolation mode regardless of the desired mode: a volume created
// sealed would be unreachable for the very binding calls that follow.
// The isolation protocol flips the mode after bindings are in place.
func (a VolumeAdapter) CreateFields(s securable.Securable, env securable.Environment) (remote.Fields, error) {
	fields, err := a.DesiredFields(s, env)
	if err != nil {
		return nil, err
	}
	fields[FieldIsolationMode] = string(securable.IsolationOpen)
	return fields, nil
}

// DesiredFields implements ResourceAdapter.
func (VolumeAdapter) DesiredFields(s securable.Securable, env securable.Environment) (remote.Fields, error) {
	v, ok := s.(*securable.Volume)
	if !ok {
		return nil, fmt.Errorf("volume adapter: unexpected type %T", s)
	}
	fields := commonFields(v, env)
	fields[FieldComment] = v.Comment
	fields[FieldStoragePath] = v.StoragePath()
	fields[FieldIsolationMode] = string(v.IsolationMode())
	return fields, nil
}

// MutableFields implements ResourceAdapter. The isolation mode is absent
// on purpose: only the binding protocol may flip it, and only after the
// access bindings are in place.
func (VolumeAdapter) MutableFields() []string {
	return []string{FieldComment, FieldOwner, FieldTags}
}

// ImmutableFields implements ResourceAdapter.
func (VolumeAdapter) ImmutableFields() []string {
	return []string{FieldStoragePath}
}

// AdapterFor returns the adapter for a securable kind.
func AdapterFor(kind securable.Kind) (ResourceAdapter, error) {
	switch kind {
	case securable.KindCatalog:
		return CatalogAdapter{}, nil
	case securable.KindSchema:
		return SchemaAdapter{}, nil
	case securable.KindVolume:
		return VolumeAdapter{}, nil
	default:
		return nil, fmt.Errorf("no adapter for securable kind %q", kind)
	}
}
