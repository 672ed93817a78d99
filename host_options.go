package modhost

import (
	"fmt"
	"io/fs"
	"maps"
)

// HostOption configures a Host at construction time.
type HostOption func(*Host) error

// WithLogger sets the host logger. Module contexts get a child logger tagged
// with the module id.
func WithLogger(logger Logger) HostOption {
	return func(h *Host) error {
		if logger == nil {
			return fmt.Errorf("%w: logger", ErrResourceNil)
		}
		h.logger = logger
		return nil
	}
}

// WithCatalog replaces DefaultCatalog.
func WithCatalog(catalog *Catalog) HostOption {
	return func(h *Host) error {
		if catalog == nil {
			return fmt.Errorf("%w: catalog", ErrResourceNil)
		}
		h.catalog = catalog
		return nil
	}
}

// WithRouteRegistry sets the dispatch table module handlers are published
// into. Without one, route publishing is skipped.
func WithRouteRegistry(registry RouteRegistry) HostOption {
	return func(h *Host) error {
		h.routeRegistry = registry
		return nil
	}
}

// WithConfigRepository sets where module settings are read from.
func WithConfigRepository(repo ConfigRepository) HostOption {
	return func(h *Host) error {
		h.configRepo = repo
		return nil
	}
}

// WithStatusProvider sets which modules load disabled.
func WithStatusProvider(provider StatusProvider) HostOption {
	return func(h *Host) error {
		if provider == nil {
			return fmt.Errorf("%w: status provider", ErrResourceNil)
		}
		h.status = provider
		return nil
	}
}

// WithBootstrapPolicy replaces DefaultBootstrapPolicy.
func WithBootstrapPolicy(policy BootstrapPolicy) HostOption {
	return func(h *Host) error {
		h.policy = policy
		return nil
	}
}

// WithPresetProperties adds properties seeded into every module context.
func WithPresetProperties(props map[string]any) HostOption {
	return func(h *Host) error {
		if h.policy.PresetProperties == nil {
			h.policy.PresetProperties = make(map[string]any, len(props))
		}
		maps.Copy(h.policy.PresetProperties, props)
		return nil
	}
}

// WithCapability adds a capability activated in every module context that
// does not exclude it.
func WithCapability(c Capability) HostOption {
	return func(h *Host) error {
		if c.ID == "" {
			return fmt.Errorf("%w: capability without id", ErrResourceNil)
		}
		h.capabilities = append(h.capabilities, c)
		return nil
	}
}

// WithHostResources sets the host's shared files, consulted by module
// contexts according to the load policy.
func WithHostResources(fsys fs.FS) HostOption {
	return func(h *Host) error {
		h.hostFS = fsys
		return nil
	}
}

// WithHostResource registers a resource in the host-wide container, where
// module imports find it.
func WithHostResource(name string, instance any) HostOption {
	return func(h *Host) error {
		return h.container.Register(name, instance)
	}
}

// WithObserver registers a host observer before anything is loaded.
func WithObserver(observer Observer, eventTypes ...string) HostOption {
	return func(h *Host) error {
		return h.RegisterObserver(observer, eventTypes...)
	}
}
