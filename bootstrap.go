package modhost

import (
	"context"
	"fmt"
	"io/fs"
)

// Bootstrapper builds isolated module contexts. A context is assembled in a
// fixed order: properties, load policy, host capabilities minus exclusions,
// imports, then the module's own Setup. Nothing the module registers can
// observe a capability that was excluded, and imports are in place before
// module code first runs.
type Bootstrapper struct {
	host         *Container
	hostFS       fs.FS
	policy       BootstrapPolicy
	capabilities []Capability
	repo         ConfigRepository
	logger       Logger

	// dependency returns the context of a started dependency.
	dependency func(id string) (*Context, bool)
}

// Build creates and populates the context for module m. On error the partly
// built context has already been destroyed.
func (b *Bootstrapper) Build(ctx context.Context, d *Descriptor, m Module, artifact fs.FS) (mc *Context, err error) {
	props, err := b.properties(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	policy := b.policy.LoadPolicy.Merge(LoadPolicy{
		ModuleFirst: props.Strings(PropertyModuleFirst),
		ModuleOnly:  props.Strings(PropertyModuleOnlyResources),
	})
	mc = newContext(d, props, NewResourceResolver(policy, artifact, b.hostFS), moduleLogger(b.logger, d.ID))
	mc.policy = policy

	defer func() {
		if err != nil {
			if cerr := mc.Close(ctx); cerr != nil {
				b.logger.Debug("Closing failed context", "module", d.ID, "error", cerr)
			}
			mc = nil
		}
	}()

	if err = mc.RegisterOwned(ResourceModuleDescriptor, d.Clone(), d.ID); err != nil {
		return mc, err
	}
	if err = mc.RegisterOwned(ResourceModuleInstance, m, d.ID); err != nil {
		return mc, err
	}

	if err = b.activateCapabilities(ctx, mc, props.Strings(PropertyExcludeCapabilities)); err != nil {
		return mc, err
	}

	for _, req := range b.importRequests(d, m) {
		b.Import(mc, d, req)
	}

	if inj, ok := m.(Injectable); ok {
		if err = safeCall(func() error { return inj.Inject(mc) }); err != nil {
			return mc, fmt.Errorf("injecting module %s: %w", d.ID, err)
		}
	}
	if err = safeCall(func() error { return m.Setup(ctx, mc) }); err != nil {
		return mc, fmt.Errorf("setting up module %s: %w", d.ID, err)
	}
	return mc, nil
}

func (b *Bootstrapper) properties(ctx context.Context, moduleID string) (Properties, error) {
	var repoProps map[string]any
	if b.policy.ModuleConfigEnabled && b.repo != nil {
		var err error
		if repoProps, err = b.repo.Get(ctx, moduleID); err != nil {
			return nil, fmt.Errorf("loading configuration for module %s: %w", moduleID, err)
		}
	}
	return mergeProperties(b.policy.PresetProperties, repoProps), nil
}

func (b *Bootstrapper) activateCapabilities(ctx context.Context, mc *Context, moduleExcludes []string) error {
	for _, c := range b.capabilities {
		if b.policy.excluded(c.ID, moduleExcludes) {
			b.logger.Debug("Capability excluded", "module", mc.ModuleID(), "capability", c.ID)
			continue
		}
		if c.Activate == nil {
			continue
		}
		if err := safeCall(func() error { return c.Activate(ctx, mc) }); err != nil {
			return fmt.Errorf("activating capability %s for module %s: %w", c.ID, mc.ModuleID(), err)
		}
	}
	return nil
}

func (b *Bootstrapper) importRequests(d *Descriptor, m Module) []ImportRequest {
	reqs := make([]ImportRequest, 0, len(d.Imports))
	for _, spec := range d.Imports {
		reqs = append(reqs, importFromSpec(spec))
	}
	if imp, ok := m.(Importer); ok {
		reqs = append(reqs, imp.Imports()...)
	}
	return reqs
}

type importSource struct {
	owner     string
	container *Container
}

// Import resolves one request into mc. The host container is searched
// first, then each started dependency in declaration order; the first
// source with a match wins. A miss is logged and reported as false.
func (b *Bootstrapper) Import(mc *Context, d *Descriptor, req ImportRequest) bool {
	sources := []importSource{{owner: HostOwner, container: b.host}}
	for _, dep := range d.Dependencies {
		if b.dependency == nil {
			break
		}
		if depCtx, ok := b.dependency(dep.ModuleID); ok {
			sources = append(sources, importSource{owner: dep.ModuleID, container: depCtx.Container})
		}
	}

	for _, src := range sources {
		if req.ByName() {
			r, ok := src.container.Resource(req.Name)
			if !ok {
				continue
			}
			if b.importOne(mc, r, src.owner) {
				return true
			}
			continue
		}
		matches := src.container.Find(req)
		imported := 0
		for _, r := range matches {
			if mc.Has(r.Name) {
				if mc.IsImported(r.Name) {
					imported++
				}
				continue
			}
			if b.importOne(mc, r, src.owner) {
				imported++
			}
		}
		if imported > 0 {
			return true
		}
	}

	mc.Logger().Warn("Import not resolved", "request", req.String())
	return false
}

func (b *Bootstrapper) importOne(mc *Context, r Resource, sourceOwner string) bool {
	owner := r.Owner
	if owner == HostOwner {
		owner = sourceOwner
	}
	if err := mc.registerImported(r.Name, r.Instance, owner); err != nil {
		mc.Logger().Warn("Import rejected", "resource", r.Name, "error", err)
		return false
	}
	if inj, ok := r.Instance.(Injectable); ok {
		if err := safeCall(func() error { return inj.Inject(mc) }); err != nil {
			mc.Remove(r.Name)
			mc.Logger().Warn("Import injection failed", "resource", r.Name, "error", err)
			return false
		}
	}
	mc.Logger().Debug("Imported resource", "resource", r.Name, "type", typeName(r.Instance), "from", sourceOwnerLabel(sourceOwner))
	return true
}

func sourceOwnerLabel(owner string) string {
	if owner == HostOwner {
		return "host"
	}
	return owner
}
