package modhost

import (
	"context"
	"io/fs"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Resource names the host registers into every module context.
const (
	// ResourceModuleInstance is the module's own entry instance.
	ResourceModuleInstance = "module.instance"
	// ResourceModuleDescriptor is a copy of the module's descriptor.
	ResourceModuleDescriptor = "module.descriptor"
)

// Context is the isolated execution context of one started module. Module
// code registers its resources into it during Setup; the host reads them
// back when publishing extensions and routes.
//
// A Context exists exactly while its module is STARTED. Holding on to one
// after the module stops is allowed but every registration fails with
// ErrContainerClosed.
type Context struct {
	*Container

	moduleID   string
	descriptor *Descriptor
	properties Properties
	resources  *ResourceResolver
	policy     LoadPolicy
	logger     Logger
	observers  *observerSet
}

func newContext(d *Descriptor, props Properties, resources *ResourceResolver, logger Logger) *Context {
	return &Context{
		Container:  NewContainer("module:" + d.ID),
		moduleID:   d.ID,
		descriptor: d.Clone(),
		properties: props,
		resources:  resources,
		logger:     logger,
		observers:  newObserverSet(logger),
	}
}

// ModuleID returns the id of the owning module.
func (c *Context) ModuleID() string { return c.moduleID }

// Descriptor returns a copy of the owning module's descriptor.
func (c *Context) Descriptor() *Descriptor { return c.descriptor.Clone() }

// Properties returns the module-scoped settings.
func (c *Context) Properties() Properties { return c.properties }

// LoadPolicy returns the effective load-resolution policy of the context.
func (c *Context) LoadPolicy() LoadPolicy { return c.policy }

// Logger returns a logger tagged with the module id.
func (c *Context) Logger() Logger { return c.logger }

// FS returns the filesystem module code reads its files through.
func (c *Context) FS() fs.FS { return c.resources }

// ReadResource reads a file through the context's load policy.
func (c *Context) ReadResource(name string) ([]byte, error) {
	return fs.ReadFile(c.resources, name)
}

// Subscribe registers an observer for events published into this context.
// Resources that implement Observer are notified without subscribing.
func (c *Context) Subscribe(observer Observer, eventTypes ...string) error {
	return c.observers.RegisterObserver(observer, eventTypes...)
}

// Publish delivers event to the context's subscribers and to every native
// resource implementing Observer, synchronously and in registration order.
func (c *Context) Publish(ctx context.Context, event cloudevents.Event) {
	if err := c.observers.NotifyObservers(ctx, event); err != nil {
		return
	}
	for _, r := range c.Resources() {
		if r.Imported {
			continue
		}
		if o, ok := r.Instance.(Observer); ok {
			deliver(ctx, c.logger, o, event)
		}
	}
}
