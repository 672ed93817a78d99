package modhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"
	"time"
)

// HostOwner is the owner recorded for resources registered by the host itself.
const HostOwner = ""

// Resource is a named entry of a Container.
type Resource struct {
	Name     string
	Instance any

	// Owner is the id of the module that registered the resource, or
	// HostOwner for host resources.
	Owner string

	// Imported resources came from another container. They are never
	// closed by this container and never republished from it.
	Imported bool

	RegisteredAt time.Time
}

// Container stores named resources. The host has one shared container and
// each started module gets its own inside its Context.
type Container struct {
	name string

	mu       sync.RWMutex
	entries  map[string]*Resource
	order    []string
	imported map[string]struct{}
	closed   bool
}

// NewContainer creates an empty container. The name shows up in errors and logs.
func NewContainer(name string) *Container {
	return &Container{
		name:     name,
		entries:  make(map[string]*Resource),
		imported: make(map[string]struct{}),
	}
}

// Name returns the container's name.
func (c *Container) Name() string { return c.name }

// Register adds a host-owned resource.
func (c *Container) Register(name string, instance any) error {
	return c.put(name, instance, HostOwner, false)
}

// RegisterOwned adds a resource and records which module registered it.
func (c *Container) RegisterOwned(name string, instance any, owner string) error {
	return c.put(name, instance, owner, false)
}

// registerImported adds a resource that lives in another container.
func (c *Container) registerImported(name string, instance any, owner string) error {
	return c.put(name, instance, owner, true)
}

func (c *Container) put(name string, instance any, owner string, imported bool) error {
	if instance == nil {
		return fmt.Errorf("%w: %s", ErrResourceNil, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: %s", ErrContainerClosed, c.name)
	}
	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("%w: %s in %s", ErrResourceExists, name, c.name)
	}
	c.entries[name] = &Resource{
		Name:         name,
		Instance:     instance,
		Owner:        owner,
		Imported:     imported,
		RegisteredAt: time.Now(),
	}
	c.order = append(c.order, name)
	if imported {
		c.imported[name] = struct{}{}
	}
	return nil
}

// Remove withdraws a resource and returns it. Removing an unknown name is a no-op.
func (c *Container) Remove(name string) (*Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	delete(c.entries, name)
	delete(c.imported, name)
	c.order = slices.DeleteFunc(c.order, func(n string) bool { return n == name })
	return r, true
}

// Get returns the instance registered under name.
func (c *Container) Get(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return r.Instance, true
}

// Resource returns a copy of the entry registered under name.
func (c *Container) Resource(name string) (Resource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[name]
	if !ok {
		return Resource{}, false
	}
	return *r, true
}

// Has reports whether name is registered.
func (c *Container) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Names returns resource names in registration order.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// Resources returns copies of all entries in registration order.
func (c *Container) Resources() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Resource, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, *c.entries[name])
	}
	return out
}

// OwnedBy returns the names of resources registered by owner, in registration order.
func (c *Container) OwnedBy(owner string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var names []string
	for _, name := range c.order {
		if r := c.entries[name]; r.Owner == owner && !r.Imported {
			names = append(names, name)
		}
	}
	return names
}

// IsImported reports whether name was imported into this container.
func (c *Container) IsImported(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.imported[name]
	return ok
}

// ImportedNames returns the imported names in registration order.
func (c *Container) ImportedNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var names []string
	for _, name := range c.order {
		if _, ok := c.imported[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Find returns every resource satisfying a by-type request, in registration order.
func (c *Container) Find(req ImportRequest) []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Resource
	for _, name := range c.order {
		r := c.entries[name]
		if req.matchesType(r.Instance) {
			out = append(out, *r)
		}
	}
	return out
}

// OfType returns every resource assignable to T, in registration order.
func OfType[T any](c *Container) []T {
	var out []T
	for _, r := range c.Find(ImportType[T]()) {
		out = append(out, r.Instance.(T))
	}
	return out
}

// Resolve assigns the resource registered under name to target, which must
// be a non-nil pointer to a type the resource is assignable to.
func (c *Container) Resolve(name string, target any) error {
	instance, ok := c.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s in %s", ErrResourceNotFound, name, c.name)
	}
	tv := reflect.ValueOf(target)
	if !tv.IsValid() || tv.Kind() != reflect.Ptr || tv.IsNil() {
		return ErrTargetNotPointer
	}
	dst := tv.Elem()
	src := reflect.ValueOf(instance)
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case src.Kind() == reflect.Ptr && src.Elem().Type().AssignableTo(dst.Type()):
		dst.Set(src.Elem())
	default:
		return fmt.Errorf("%w: %s is %s, target is %s", ErrResourceNotAssign, name, src.Type(), dst.Type())
	}
	return nil
}

// Close closes every native resource in reverse registration order and
// empties the container. Imported resources are left to their origin.
// Closing twice is a no-op.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	order := c.order
	entries := c.entries
	c.order = nil
	c.entries = make(map[string]*Resource)
	c.imported = make(map[string]struct{})
	c.mu.Unlock()

	var errs []error
	for _, name := range slices.Backward(order) {
		r := entries[name]
		if r.Imported {
			continue
		}
		if err := closeResource(ctx, r.Instance); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Closed reports whether Close has been called.
func (c *Container) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func closeResource(ctx context.Context, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrModulePanicked, r)
		}
	}()
	switch c := v.(type) {
	case Closer:
		return c.Close(ctx)
	case io.Closer:
		return c.Close()
	}
	return nil
}
