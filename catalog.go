package modhost

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Catalog maps descriptor entry points to module factories and extension
// type ids to extension factories. Module code registers itself from an init
// function, the same way database/sql drivers do:
//
//	func init() {
//		modhost.RegisterModule("billing", func(d *modhost.Descriptor) (modhost.Module, error) {
//			return &billingModule{}, nil
//		})
//	}
type Catalog struct {
	mu         sync.RWMutex
	modules    map[string]ModuleFactory
	extensions map[string]ExtensionFactory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		modules:    make(map[string]ModuleFactory),
		extensions: make(map[string]ExtensionFactory),
	}
}

// DefaultCatalog is used by hosts created without WithCatalog.
var DefaultCatalog = NewCatalog()

// RegisterModule registers a module factory in DefaultCatalog. It panics if
// the entry point is already taken.
func RegisterModule(entryPoint string, factory ModuleFactory) {
	if err := DefaultCatalog.RegisterModule(entryPoint, factory); err != nil {
		panic(err)
	}
}

// RegisterExtension registers an extension factory in DefaultCatalog. It
// panics if the type id is already taken.
func RegisterExtension(typeID string, factory ExtensionFactory) {
	if err := DefaultCatalog.RegisterExtension(typeID, factory); err != nil {
		panic(err)
	}
}

// RegisterModule adds a module factory under entryPoint.
func (c *Catalog) RegisterModule(entryPoint string, factory ModuleFactory) error {
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %s", ErrEntryPointUnknown, entryPoint)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.modules[entryPoint]; exists {
		return fmt.Errorf("%w: %s", ErrEntryPointExists, entryPoint)
	}
	c.modules[entryPoint] = factory
	return nil
}

// RegisterExtension adds an extension factory under typeID.
func (c *Catalog) RegisterExtension(typeID string, factory ExtensionFactory) error {
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %s", ErrExtensionFactoryMissing, typeID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.extensions[typeID]; exists {
		return fmt.Errorf("%w: %s", ErrExtensionFactoryExists, typeID)
	}
	c.extensions[typeID] = factory
	return nil
}

// NewModule creates a fresh module instance for d.
func (c *Catalog) NewModule(d *Descriptor) (Module, error) {
	c.mu.RLock()
	factory, ok := c.modules[d.EntryPoint]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (module %s)", ErrEntryPointUnknown, d.EntryPoint, d.ID)
	}
	m, err := factory(d.Clone())
	if err != nil {
		return nil, fmt.Errorf("creating module %s: %w", d.ID, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: factory for %s returned nil", ErrEntryPointUnknown, d.ID)
	}
	return m, nil
}

// ExtensionFactory looks up the factory for typeID.
func (c *Catalog) ExtensionFactory(typeID string) (ExtensionFactory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.extensions[typeID]
	return f, ok
}

// EntryPoints lists registered entry points in sorted order.
func (c *Catalog) EntryPoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.modules))
}
