package modhost

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sync"
)

// ModuleRuntime is one loaded instance of a module. It owns the module's
// isolated context while started, plus the names of everything it published
// into the host: extension instances in the host container and handler ids in
// the route registry.
type ModuleRuntime struct {
	host       *Host
	descriptor *Descriptor
	module     Module
	artifact   fs.FS

	mu         sync.RWMutex
	context    *Context
	extensions []string
	handlers   []string
}

func newModuleRuntime(h *Host, d *Descriptor, m Module, artifact fs.FS) *ModuleRuntime {
	return &ModuleRuntime{host: h, descriptor: d, module: m, artifact: artifact}
}

// ID returns the module id.
func (rt *ModuleRuntime) ID() string { return rt.descriptor.ID }

// Module returns the module's entry instance.
func (rt *ModuleRuntime) Module() Module { return rt.module }

// Context returns the isolated context, present only while started.
func (rt *ModuleRuntime) Context() (*Context, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.context, rt.context != nil
}

// Extensions returns the names of extensions published into the host container.
func (rt *ModuleRuntime) Extensions() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return slices.Clone(rt.extensions)
}

// Handlers returns the handler ids published into the route registry.
func (rt *ModuleRuntime) Handlers() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return slices.Clone(rt.handlers)
}

// Start builds the context, publishes extensions and routes, and emits the
// started event into the context. It is a no-op when already started. On
// error the caller is expected to roll back with abort.
func (rt *ModuleRuntime) Start(ctx context.Context) error {
	if _, ok := rt.Context(); ok {
		return nil
	}
	h := rt.host
	id := rt.ID()

	mc, err := h.bootstrap.Build(ctx, rt.descriptor, rt.module, rt.artifact)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	rt.context = mc
	rt.mu.Unlock()

	for _, typeID := range rt.descriptor.Extensions {
		if owner, ok := h.ownership.Claim(OwnsExtensionType, typeID, id); !ok {
			h.logger.Warn("Skipping extension claimed by another module", "module", id, "extension", typeID, "owner", owner)
			continue
		}
		instance, err := h.extensions.Create(typeID)
		if err != nil {
			return err
		}
		name, ok := h.extensions.BeanName(typeID)
		if !ok {
			name = typeID
		}
		if err := h.container.RegisterOwned(name, instance, id); err != nil {
			return fmt.Errorf("publishing extension %s: %w", typeID, err)
		}
		h.ownership.Set(OwnsExtension, name, id)
		rt.mu.Lock()
		rt.extensions = append(rt.extensions, name)
		rt.mu.Unlock()
	}

	handlers, err := h.routes.RegisterControllers(mc)
	rt.mu.Lock()
	rt.handlers = handlers
	rt.mu.Unlock()
	if err != nil {
		return err
	}

	data := ModuleEventData{ModuleID: id, Version: rt.descriptor.Version, State: StateStarted}
	mc.Publish(ctx, newModuleEvent(EventTypeModuleStarted, data))
	if h.HostStarted() {
		mc.Publish(ctx, newModuleEvent(EventTypeModuleRestarted, data))
	}
	return nil
}

// Stop runs the module's release hook, withdraws its extensions and routes,
// emits the stopped event and destroys the context. The context is destroyed
// even when an earlier step fails; all errors are returned joined. The
// runtime keeps the destroyed handle until the host detaches it together
// with the state change.
func (rt *ModuleRuntime) Stop(ctx context.Context) error {
	mc, ok := rt.Context()
	if !ok {
		return nil
	}
	h := rt.host
	id := rt.ID()
	var errs []error

	if releaser, ok := rt.module.(Releaser); ok {
		if err := safeCallCtx(ctx, releaser.ReleaseResources); err != nil {
			errs = append(errs, fmt.Errorf("releasing resources of %s: %w", id, err))
		}
	}

	for _, name := range rt.Extensions() {
		if r, ok := h.container.Resource(name); ok && r.Owner == id {
			h.container.Remove(name)
		}
		h.ownership.Release(OwnsExtension, name)
	}

	h.routes.UnregisterControllers(id, rt.Handlers())

	mc.Publish(ctx, newModuleEvent(EventTypeModuleStopped, ModuleEventData{
		ModuleID: id,
		Version:  rt.descriptor.Version,
		State:    StateStopped,
	}))

	if err := mc.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("destroying context of %s: %w", id, err))
	}
	return errors.Join(errs...)
}

// abort rolls back a failed start: everything published is withdrawn and
// the context, if any, is destroyed. Secondary errors are logged and dropped.
func (rt *ModuleRuntime) abort(ctx context.Context) {
	ReleaseRegisteredResources(rt.host, rt.ID())
	if mc, ok := rt.Context(); ok {
		if err := mc.Close(ctx); err != nil {
			rt.host.logger.Debug("Destroying context after failed start", "module", rt.ID(), "error", err)
		}
	}
	rt.clear()
}

func (rt *ModuleRuntime) clear() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.context = nil
	rt.extensions = nil
	rt.handlers = nil
}

// ReleaseRegisteredResources withdraws every extension instance, handler
// object and route mapping the host attributes to moduleID. It is best
// effort and idempotent; failures are logged at debug level and swallowed.
func ReleaseRegisteredResources(h *Host, moduleID string) {
	for _, name := range h.ownership.OwnedBy(OwnsExtension, moduleID) {
		if r, ok := h.container.Resource(name); ok && r.Owner == moduleID {
			h.container.Remove(name)
		}
		h.ownership.Release(OwnsExtension, name)
	}
	for _, id := range h.ownership.OwnedBy(OwnsHandler, moduleID) {
		h.routes.withdraw(moduleID, id)
	}
	if h.routes.registry != nil {
		for _, id := range h.routes.registry.HandlerIDs(moduleID) {
			h.routes.withdraw(moduleID, id)
		}
	}
	for _, name := range h.container.OwnedBy(moduleID) {
		h.container.Remove(name)
		h.logger.Debug("Released leftover registration", "module", moduleID, "resource", name)
	}
}
