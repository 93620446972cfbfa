package securable

// Schema is the level-2 container securable nested in a catalog.
type Schema struct {
	base    string
	address Address

	// Comment is the free-form description shown by the control plane.
	Comment string

	// Grants are the desired privileges on the schema itself.
	Grants []Grant

	tags        *TagList
	owner       *Principal
	volumes     []*Volume
	attachHooks []func(child Securable)
}

// NewSchema creates a schema desired state. Its address stays zero until
// it is attached to a catalog.
func NewSchema(name string) *Schema {
	return &Schema{
		base: name,
		tags: NewTagList(),
	}
}

// Kind implements Securable.
func (s *Schema) Kind() Kind { return KindSchema }

// BaseName implements Securable.
func (s *Schema) BaseName() string { return s.base }

// ResolvedName implements Securable.
func (s *Schema) ResolvedName(env Environment) string {
	return ResolveName(s.base, env)
}

// Address implements Securable.
func (s *Schema) Address() Address { return s.address }

// Tags implements Taggable.
func (s *Schema) Tags() *TagList { return s.tags }

// Owner implements Ownable.
func (s *Schema) Owner() *Principal { return s.owner }

// SetOwner implements Ownable.
func (s *Schema) SetOwner(p Principal) { s.owner = &p }

// AddVolume attaches a volume, assigning its qualified address when the
// schema itself is already attached.
func (s *Schema) AddVolume(v *Volume) {
	if !s.address.IsZero() {
		v.address = s.address.Child(v.base)
	}
	s.volumes = append(s.volumes, v)
	for _, hook := range s.attachHooks {
		hook(v)
	}
}

// Volumes returns the attached volumes.
func (s *Schema) Volumes() []*Volume {
	return append([]*Volume(nil), s.volumes...)
}

// Children implements Container.
func (s *Schema) Children() []Securable {
	out := make([]Securable, 0, len(s.volumes))
	for _, v := range s.volumes {
		out = append(out, v)
	}
	return out
}

// AddAttachHook implements Container.
func (s *Schema) AddAttachHook(hook func(child Securable)) {
	if hook == nil {
		return
	}
	s.attachHooks = append(s.attachHooks, hook)
}
