package modhost

import (
	"context"
	"slices"
)

// Capability is something the host would otherwise switch on in every module
// context, such as a metrics exporter or an error handler. Capabilities run
// before module code does, so an excluded capability never observes the
// module at all.
type Capability struct {
	ID       string
	Activate func(ctx context.Context, mc *Context) error
}

// Capability ids excluded from module contexts unless the bootstrap policy says otherwise.
const (
	CapabilityMetricsExporter     = "metrics.exporter"
	CapabilitySecurityFilter      = "security.filter"
	CapabilityManagementEndpoints = "management.endpoints"
	CapabilityAdminAPI            = "admin.api"
	CapabilityErrorHandler        = "error.handler"
	CapabilityServer              = "http.server"
)

// DefaultExcludedCapabilities are host-level concerns that must not be
// duplicated per module.
var DefaultExcludedCapabilities = []string{
	CapabilityMetricsExporter,
	CapabilitySecurityFilter,
	CapabilityManagementEndpoints,
	CapabilityAdminAPI,
	CapabilityErrorHandler,
	CapabilityServer,
}

// BootstrapPolicy configures how module contexts are built.
type BootstrapPolicy struct {
	// ExcludeCapabilities lists capability ids never activated in module contexts.
	ExcludeCapabilities []string `yaml:"exclude_capabilities" toml:"exclude_capabilities" env:"EXCLUDE_CAPABILITIES"`

	// LoadPolicy is the host-wide part of the load-resolution policy.
	// Modules add to it through the module.first and module.only-resources
	// properties.
	LoadPolicy LoadPolicy `yaml:"load_policy" toml:"load_policy"`

	// PresetProperties seed every module context.
	PresetProperties map[string]any `yaml:"properties" toml:"properties"`

	// ModuleConfigEnabled layers the configuration repository's values for
	// the module over the preset properties.
	ModuleConfigEnabled bool `yaml:"module_config_enabled" toml:"module_config_enabled"`
}

// DefaultBootstrapPolicy excludes DefaultExcludedCapabilities and reads
// module configuration from the repository.
func DefaultBootstrapPolicy() BootstrapPolicy {
	return BootstrapPolicy{
		ExcludeCapabilities: slices.Clone(DefaultExcludedCapabilities),
		ModuleConfigEnabled: true,
	}
}

func (p BootstrapPolicy) excluded(id string, extra []string) bool {
	return slices.Contains(p.ExcludeCapabilities, id) || slices.Contains(extra, id)
}
