package modhost

import (
	"errors"
)

// Host errors
var (
	// Descriptor errors
	ErrDescriptorInvalid   = errors.New("module descriptor is invalid")
	ErrDescriptorMissingID = errors.New("module descriptor has no id")
	ErrDescriptorReload    = errors.New("module descriptor could not be reloaded")
	ErrDescriptorNotFound  = errors.New("module descriptor not found")
	ErrDuplicateModuleID   = errors.New("module id already loaded")

	// Lookup errors
	ErrModuleNotFound    = errors.New("module not found")
	ErrEntryPointUnknown = errors.New("module entry point is not registered")
	ErrEntryPointExists  = errors.New("module entry point already registered")
	ErrSourceNil         = errors.New("module source is nil")

	// Ordering errors
	ErrCircularDependency      = errors.New("circular dependency detected")
	ErrModuleDependencyMissing = errors.New("module depends on non-existent module")
	ErrDependencyNotStarted    = errors.New("module dependency is not started")
	ErrDependentsStarted       = errors.New("module has started dependents")
	ErrModuleDisabled          = errors.New("module is disabled")

	// Container errors
	ErrResourceExists     = errors.New("resource already registered")
	ErrResourceNotFound   = errors.New("resource not found")
	ErrResourceNil        = errors.New("resource is nil")
	ErrContainerClosed    = errors.New("container is closed")
	ErrTargetNotPointer   = errors.New("target must be a non-nil pointer")
	ErrResourceNotAssign  = errors.New("resource cannot be assigned to target")
	ErrModuleResourceOnly = errors.New("resource is only resolvable from the module artifact")

	// Extension errors
	ErrExtensionOwnerUnknown    = errors.New("no module owns extension type")
	ErrExtensionFactoryMissing  = errors.New("no factory registered for extension type")
	ErrExtensionFactoryExists   = errors.New("extension factory already registered")
	ErrExtensionNil             = errors.New("extension factory returned nil")
	ErrModuleContextUnavailable = errors.New("module context is unavailable")

	// Route errors
	ErrRouteRegistryNil = errors.New("route registry is nil")
	ErrRouteInvalid     = errors.New("route is invalid")

	// Internal errors. These are never converted into failure records.
	ErrInvariantViolated = errors.New("module host invariant violated")
	ErrModulePanicked    = errors.New("module panicked")

	// Config errors
	ErrConfigNotPointer           = errors.New("config must be a pointer to a struct")
	ErrConfigRequiredFieldMissing = errors.New("required field is missing")
	ErrUnsupportedTypeForDefault  = errors.New("unsupported type for default value")
	ErrUnsupportedConfigFormat    = errors.New("unsupported config file format")
)
