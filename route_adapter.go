package modhost

import (
	"fmt"

	"github.com/GoCodeAlone/modhost/routes"
)

// RouteRegistry is the dispatch table module handlers are published into.
// *routes.Table implements it.
type RouteRegistry interface {
	Register(owner, handlerID string, rs []routes.Route) error
	Unregister(handlerID string) int
	HandlerIDs(owner string) []string
}

// RouteProvider is implemented by handler objects a module registers into
// its context. Only native resources are published; a handler imported from
// the host or a dependency is never republished by the importer.
type RouteProvider interface {
	Routes() []routes.Route
}

// HandlerID is the identity of a handler object in the route registry and
// the host container.
func HandlerID(moduleID, resourceName string) string {
	return moduleID + "/" + resourceName
}

type routeAdapter struct {
	registry  RouteRegistry
	host      *Container
	ownership *Ownership
	logger    Logger
}

// RegisterControllers publishes every native RouteProvider of mc. It returns
// the handler ids published, including on error, so the caller can roll back.
func (a *routeAdapter) RegisterControllers(mc *Context) ([]string, error) {
	if a.registry == nil {
		return nil, nil
	}
	moduleID := mc.ModuleID()
	var published []string
	for _, r := range mc.Resources() {
		if r.Imported || mc.IsImported(r.Name) {
			continue
		}
		provider, ok := r.Instance.(RouteProvider)
		if !ok {
			continue
		}
		id := HandlerID(moduleID, r.Name)

		// Re-registration replaces whatever the previous start left behind.
		a.withdraw(moduleID, id)

		var rs []routes.Route
		if err := safeCall(func() error { rs = provider.Routes(); return nil }); err != nil {
			return published, fmt.Errorf("collecting routes of %s: %w", id, err)
		}
		if err := a.host.RegisterOwned(id, r.Instance, moduleID); err != nil {
			return published, err
		}
		a.ownership.Set(OwnsHandler, id, moduleID)
		published = append(published, id)
		if err := a.registry.Register(moduleID, id, rs); err != nil {
			return published, fmt.Errorf("registering routes of %s: %w", id, err)
		}
		a.logger.Debug("Handler published", "module", moduleID, "handler", id, "routes", len(rs))
	}
	return published, nil
}

// UnregisterControllers withdraws the given handlers of a module.
func (a *routeAdapter) UnregisterControllers(moduleID string, handlerIDs []string) {
	if a.registry == nil {
		return
	}
	for _, id := range handlerIDs {
		a.withdraw(moduleID, id)
	}
}

func (a *routeAdapter) withdraw(moduleID, id string) {
	if a.registry != nil {
		if err := safeCall(func() error { a.registry.Unregister(id); return nil }); err != nil {
			a.logger.Debug("Unregistering handler failed", "module", moduleID, "handler", id, "error", err)
		}
	}
	if r, ok := a.host.Resource(id); ok && r.Owner == moduleID {
		a.host.Remove(id)
	}
	if owner, ok := a.ownership.Owner(OwnsHandler, id); ok && owner == moduleID {
		a.ownership.Release(OwnsHandler, id)
	}
}
