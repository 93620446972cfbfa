package securable

// Catalog is the level-1 container securable.
type Catalog struct {
	base    string
	address Address

	// Comment is the free-form description shown by the control plane.
	Comment string

	// Grants are the desired privileges on the catalog itself.
	Grants []Grant

	tags        *TagList
	owner       *Principal
	schemas     []*Schema
	attachHooks []func(child Securable)
}

// NewCatalog creates a catalog desired state. As a hierarchy root its
// address is its own base name.
func NewCatalog(name string) *Catalog {
	return &Catalog{
		base:    name,
		address: NewAddress(name),
		tags:    NewTagList(),
	}
}

// Kind implements Securable.
func (c *Catalog) Kind() Kind { return KindCatalog }

// BaseName implements Securable.
func (c *Catalog) BaseName() string { return c.base }

// ResolvedName implements Securable.
func (c *Catalog) ResolvedName(env Environment) string {
	return ResolveName(c.base, env)
}

// Address implements Securable.
func (c *Catalog) Address() Address { return c.address }

// Tags implements Taggable.
func (c *Catalog) Tags() *TagList { return c.tags }

// Owner implements Ownable.
func (c *Catalog) Owner() *Principal { return c.owner }

// SetOwner implements Ownable.
func (c *Catalog) SetOwner(p Principal) { c.owner = &p }

// AddSchema attaches a schema to the catalog, assigning its qualified
// address (and that of any volumes already attached to it). Every
// registered attach hook runs for the schema and each of its volumes.
func (c *Catalog) AddSchema(s *Schema) {
	s.address = c.address.Child(s.base)
	for _, v := range s.volumes {
		v.address = s.address.Child(v.base)
	}
	c.schemas = append(c.schemas, s)
	for _, hook := range c.attachHooks {
		s.AddAttachHook(hook)
		hook(s)
		for _, v := range s.volumes {
			hook(v)
		}
	}
}

// Schemas returns the attached schemas.
func (c *Catalog) Schemas() []*Schema {
	return append([]*Schema(nil), c.schemas...)
}

// Children implements Container.
func (c *Catalog) Children() []Securable {
	out := make([]Securable, 0, len(c.schemas))
	for _, s := range c.schemas {
		out = append(out, s)
	}
	return out
}

// AddAttachHook implements Container. The hook is also pushed down to
// attached schemas so volumes added later are covered.
func (c *Catalog) AddAttachHook(hook func(child Securable)) {
	if hook == nil {
		return
	}
	c.attachHooks = append(c.attachHooks, hook)
	for _, s := range c.schemas {
		s.AddAttachHook(hook)
	}
}
