package securable

import "fmt"

// Volume is the level-3 leaf securable: a named storage location that can
// be flipped into network-isolated mode.
type Volume struct {
	base        string
	address     Address
	storagePath string

	// Comment is the free-form description shown by the control plane.
	Comment string

	// Grants are the desired privileges on the volume.
	Grants []Grant

	tags           *TagList
	owner          *Principal
	isolationMode  IsolationMode
	accessBindings []string
}

// NewVolume creates a volume desired state. The storage path is fixed at
// creation and can never be changed remotely. A non-empty access-binding
// list is only valid together with restricted isolation; anything else is
// rejected here so an inconsistent desired state cannot be built.
func NewVolume(name, storagePath string, mode IsolationMode, accessBindings []string) (*Volume, error) {
	if mode == "" {
		mode = IsolationOpen
	}
	if mode != IsolationOpen && mode != IsolationRestricted {
		return nil, fmt.Errorf("invalid isolation mode: %q", mode)
	}
	if len(accessBindings) > 0 && mode != IsolationRestricted {
		return nil, fmt.Errorf("volume %q: access bindings require restricted isolation mode", name)
	}
	return &Volume{
		base:           name,
		storagePath:    storagePath,
		isolationMode:  mode,
		accessBindings: append([]string(nil), accessBindings...),
		tags:           NewTagList(),
	}, nil
}

// Kind implements Securable.
func (v *Volume) Kind() Kind { return KindVolume }

// BaseName implements Securable.
func (v *Volume) BaseName() string { return v.base }

// ResolvedName implements Securable.
func (v *Volume) ResolvedName(env Environment) string {
	return ResolveName(v.base, env)
}

// Address implements Securable.
func (v *Volume) Address() Address { return v.address }

// StoragePath returns the immutable storage location.
func (v *Volume) StoragePath() string { return v.storagePath }

// Tags implements Taggable.
func (v *Volume) Tags() *TagList { return v.tags }

// Owner implements Ownable.
func (v *Volume) Owner() *Principal { return v.owner }

// SetOwner implements Ownable.
func (v *Volume) SetOwner(p Principal) { v.owner = &p }

// IsolationMode implements Bindable.
func (v *Volume) IsolationMode() IsolationMode { return v.isolationMode }

// AccessBindings implements Bindable.
func (v *Volume) AccessBindings() []string {
	return append([]string(nil), v.accessBindings...)
}
