// Package config loads desired-state manifests (CUE) and convention
// bundles (YAML), validates them, and builds the securable hierarchy
// the executors consume.
package config

import (
	"fmt"

	"github.com/securactl/securactl/pkg/securable"
)

// Manifest is the decoded desired-state document.
type Manifest struct {
	// Environment optionally pins the manifest to one deployment
	// environment; the CLI refuses to apply it elsewhere.
	Environment string `json:"environment" validate:"omitempty,alphanum"`

	Catalogs []CatalogSpec `json:"catalogs" validate:"required,min=1,dive"`
}

// CatalogSpec declares one catalog and its subtree.
type CatalogSpec struct {
	Name    string         `json:"name" validate:"required"`
	Comment string         `json:"comment"`
	Owner   *PrincipalSpec `json:"owner"`
	Grants  []GrantSpec    `json:"grants" validate:"dive"`
	Schemas []SchemaSpec   `json:"schemas" validate:"dive"`
}

// SchemaSpec declares one schema inside a catalog.
type SchemaSpec struct {
	Name    string         `json:"name" validate:"required"`
	Comment string         `json:"comment"`
	Owner   *PrincipalSpec `json:"owner"`
	Grants  []GrantSpec    `json:"grants" validate:"dive"`
	Volumes []VolumeSpec   `json:"volumes" validate:"dive"`
}

// VolumeSpec declares one volume inside a schema.
type VolumeSpec struct {
	Name           string         `json:"name" validate:"required"`
	StoragePath    string         `json:"storage_path" validate:"required"`
	Comment        string         `json:"comment"`
	IsolationMode  string         `json:"isolation_mode" validate:"omitempty,oneof=open restricted"`
	AccessBindings []string       `json:"access_bindings"`
	Owner          *PrincipalSpec `json:"owner"`
	Grants         []GrantSpec    `json:"grants" validate:"dive"`
}

// PrincipalSpec references an identity.
type PrincipalSpec struct {
	Kind          string `json:"kind" validate:"omitempty,oneof=user group service"`
	Name          string `json:"name" validate:"required"`
	ApplicationID string `json:"application_id"`
}

// GrantSpec is one desired (principal, privilege) pair.
type GrantSpec struct {
	Principal PrincipalSpec `json:"principal" validate:"required"`
	Privilege string        `json:"privilege" validate:"required,oneof=READ WRITE CREATE MANAGE"`
}

// Build constructs the securable hierarchy the manifest declares.
// Volume construction enforces the binding/isolation invariant, so an
// inconsistent manifest fails here rather than mid-apply.
func (m *Manifest) Build() ([]*securable.Catalog, error) {
	var catalogs []*securable.Catalog
	for _, cs := range m.Catalogs {
		cat := securable.NewCatalog(cs.Name)
		cat.Comment = cs.Comment
		if cs.Owner != nil {
			cat.SetOwner(cs.Owner.principal())
		}
		cat.Grants = grantList(cs.Grants)

		for _, ss := range cs.Schemas {
			sch := securable.NewSchema(ss.Name)
			sch.Comment = ss.Comment
			if ss.Owner != nil {
				sch.SetOwner(ss.Owner.principal())
			}
			sch.Grants = grantList(ss.Grants)

			for _, vs := range ss.Volumes {
				vol, err := securable.NewVolume(vs.Name, vs.StoragePath,
					securable.IsolationMode(vs.IsolationMode), vs.AccessBindings)
				if err != nil {
					return nil, fmt.Errorf("catalog %q schema %q: %w", cs.Name, ss.Name, err)
				}
				vol.Comment = vs.Comment
				if vs.Owner != nil {
					vol.SetOwner(vs.Owner.principal())
				}
				vol.Grants = grantList(vs.Grants)
				sch.AddVolume(vol)
			}
			cat.AddSchema(sch)
		}
		catalogs = append(catalogs, cat)
	}
	return catalogs, nil
}

func (p PrincipalSpec) principal() securable.Principal {
	return securable.Principal{
		Kind:          securable.PrincipalKind(p.Kind),
		Name:          p.Name,
		ApplicationID: p.ApplicationID,
	}
}

func grantList(specs []GrantSpec) []securable.Grant {
	var out []securable.Grant
	for _, g := range specs {
		out = append(out, securable.Grant{
			Principal: g.Principal.principal(),
			Privilege: securable.Privilege(g.Privilege),
		})
	}
	return out
}
