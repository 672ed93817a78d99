package modhost

import (
	"errors"
	"io/fs"
	"slices"
	"strings"
)

// Property keys a module can use to extend the host's load policy.
const (
	PropertyModuleFirst         = "module.first"
	PropertyModuleOnlyResources = "module.only-resources"
	PropertyExcludeCapabilities = "module.exclude-capabilities"
)

// LoadPolicy decides where a name is resolved from when both the host and the
// module can supply it. It applies to resource files opened through a
// Context and to extension factories. Entries ending in "*" match by prefix.
//
// The default is host first: the host's copy wins and the module's copy is
// only consulted when the host has none.
type LoadPolicy struct {
	// ModuleFirst names resolve from the module before the host.
	ModuleFirst []string `yaml:"module_first" toml:"module_first" env:"MODULE_FIRST"`

	// ModuleOnly resource names resolve only from the module artifact and
	// never fall through to the host.
	ModuleOnly []string `yaml:"module_only_resources" toml:"module_only_resources" env:"MODULE_ONLY_RESOURCES"`
}

// Merge returns a policy holding the entries of both.
func (p LoadPolicy) Merge(other LoadPolicy) LoadPolicy {
	return LoadPolicy{
		ModuleFirst: mergeUnique(p.ModuleFirst, other.ModuleFirst),
		ModuleOnly:  mergeUnique(p.ModuleOnly, other.ModuleOnly),
	}
}

// IsModuleFirst reports whether name resolves from the module first.
func (p LoadPolicy) IsModuleFirst(name string) bool {
	return matchAny(p.ModuleFirst, name)
}

// IsModuleOnly reports whether name resolves only from the module.
func (p LoadPolicy) IsModuleOnly(name string) bool {
	return matchAny(p.ModuleOnly, name)
}

func matchAny(patterns []string, name string) bool {
	return slices.ContainsFunc(patterns, func(pattern string) bool {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			return strings.HasPrefix(name, prefix)
		}
		return pattern == name
	})
}

func mergeUnique(a, b []string) []string {
	out := slices.Clone(a)
	for _, s := range b {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// ResourceResolver is the fs.FS a module context reads files through. It
// layers the module artifact and the host's shared resources according to a
// LoadPolicy.
type ResourceResolver struct {
	policy LoadPolicy
	module fs.FS
	host   fs.FS
}

// NewResourceResolver creates a resolver. Either filesystem may be nil.
func NewResourceResolver(policy LoadPolicy, module, host fs.FS) *ResourceResolver {
	return &ResourceResolver{policy: policy, module: module, host: host}
}

// Open implements fs.FS.
func (r *ResourceResolver) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	for _, layer := range r.order(name) {
		if layer.fsys == nil {
			continue
		}
		f, err := layer.fsys.Open(name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Origin reports which side name would be read from: "module", "host" or "".
func (r *ResourceResolver) Origin(name string) string {
	for _, layer := range r.order(name) {
		if layer.fsys == nil {
			continue
		}
		if _, err := fs.Stat(layer.fsys, name); err == nil {
			return layer.origin
		}
	}
	return ""
}

type resourceLayer struct {
	origin string
	fsys   fs.FS
}

func (r *ResourceResolver) order(name string) []resourceLayer {
	module := resourceLayer{origin: "module", fsys: r.module}
	host := resourceLayer{origin: "host", fsys: r.host}
	switch {
	case r.policy.IsModuleOnly(name):
		return []resourceLayer{module}
	case r.policy.IsModuleFirst(name):
		return []resourceLayer{module, host}
	default:
		return []resourceLayer{host, module}
	}
}
