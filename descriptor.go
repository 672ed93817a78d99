package modhost

import (
	"fmt"
	"slices"
	"strings"
)

// Dependency names another module this one needs started first.
type Dependency struct {
	ModuleID string `yaml:"id" toml:"id" json:"id"`

	// Version is a constraint string. The host records it but does not
	// resolve versions; that belongs to whatever produced the descriptor.
	Version string `yaml:"version,omitempty" toml:"version" json:"version,omitempty"`

	// Optional dependencies order the start sequence when present but do not
	// block the dependent when missing.
	Optional bool `yaml:"optional,omitempty" toml:"optional" json:"optional,omitempty"`
}

// ImportSpec is the declarative form of an ImportRequest. Type names are
// matched against the Go type string of candidate resources (for example
// "*billing.Ledger").
type ImportSpec struct {
	Name string `yaml:"name,omitempty" toml:"name" json:"name,omitempty"`
	Type string `yaml:"type,omitempty" toml:"type" json:"type,omitempty"`
}

// Descriptor is the immutable metadata of a module as supplied by its source.
type Descriptor struct {
	ID           string       `yaml:"id" toml:"id" json:"id"`
	Version      string       `yaml:"version" toml:"version" json:"version"`
	Description  string       `yaml:"description,omitempty" toml:"description" json:"description,omitempty"`
	Provider     string       `yaml:"provider,omitempty" toml:"provider" json:"provider,omitempty"`
	License      string       `yaml:"license,omitempty" toml:"license" json:"license,omitempty"`
	EntryPoint   string       `yaml:"entry_point" toml:"entry_point" json:"entryPoint"`
	Dependencies []Dependency `yaml:"dependencies,omitempty" toml:"dependencies" json:"dependencies,omitempty"`
	Extensions   []string     `yaml:"extensions,omitempty" toml:"extensions" json:"extensions,omitempty"`
	Imports      []ImportSpec `yaml:"imports,omitempty" toml:"imports" json:"imports,omitempty"`
}

// Validate checks the fields the host relies on.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrDescriptorInvalid)
	}
	if strings.TrimSpace(d.ID) == "" {
		return ErrDescriptorMissingID
	}
	if strings.TrimSpace(d.EntryPoint) == "" {
		return fmt.Errorf("%w: %s has no entry point", ErrDescriptorInvalid, d.ID)
	}
	seen := make(map[string]bool, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		switch {
		case dep.ModuleID == "":
			return fmt.Errorf("%w: %s has a dependency without an id", ErrDescriptorInvalid, d.ID)
		case dep.ModuleID == d.ID:
			return fmt.Errorf("%w: %s depends on itself", ErrCircularDependency, d.ID)
		case seen[dep.ModuleID]:
			return fmt.Errorf("%w: %s declares dependency %s twice", ErrDescriptorInvalid, d.ID, dep.ModuleID)
		}
		seen[dep.ModuleID] = true
	}
	for _, imp := range d.Imports {
		if imp.Name == "" && imp.Type == "" {
			return fmt.Errorf("%w: %s has an empty import", ErrDescriptorInvalid, d.ID)
		}
	}
	return nil
}

// Clone returns a deep copy. The host only ever hands out clones so that its
// own copy stays immutable.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Dependencies = slices.Clone(d.Dependencies)
	c.Extensions = slices.Clone(d.Extensions)
	c.Imports = slices.Clone(d.Imports)
	return &c
}

// DependsOn reports whether id is among the declared dependencies.
func (d *Descriptor) DependsOn(id string) bool {
	return slices.ContainsFunc(d.Dependencies, func(dep Dependency) bool {
		return dep.ModuleID == id
	})
}

// DependencyIDs returns the dependency ids in declaration order.
func (d *Descriptor) DependencyIDs() []string {
	ids := make([]string, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		ids = append(ids, dep.ModuleID)
	}
	return ids
}
