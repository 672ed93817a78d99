package modhost

import (
	"fmt"
	"slices"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Ownership kinds tracked by the host.
const (
	OwnsExtensionType = "extension-type"
	OwnsExtension     = "extension"
	OwnsHandler       = "handler"
)

// Ownership maps published things to the id of the module that owns them.
// Lifecycle operations write it; the extension resolver, rollback and the
// admin surface read it without taking the host's locks.
type Ownership struct {
	m cmap.ConcurrentMap[string, string]
}

// NewOwnership creates an empty ownership map.
func NewOwnership() *Ownership {
	return &Ownership{m: cmap.New[string]()}
}

func ownershipKey(kind, name string) string {
	return kind + ":" + name
}

// Claim records owner for kind/name. It returns the existing owner and
// false when another module already holds it.
func (o *Ownership) Claim(kind, name, owner string) (string, bool) {
	key := ownershipKey(kind, name)
	if o.m.SetIfAbsent(key, owner) {
		return owner, true
	}
	current, _ := o.m.Get(key)
	return current, current == owner
}

// Set records owner for kind/name unconditionally.
func (o *Ownership) Set(kind, name, owner string) {
	o.m.Set(ownershipKey(kind, name), owner)
}

// Owner returns the owner of kind/name.
func (o *Ownership) Owner(kind, name string) (string, bool) {
	return o.m.Get(ownershipKey(kind, name))
}

// Release forgets kind/name.
func (o *Ownership) Release(kind, name string) {
	o.m.Remove(ownershipKey(kind, name))
}

// OwnedBy lists the names of kind owned by owner, sorted.
func (o *Ownership) OwnedBy(kind, owner string) []string {
	prefix := kind + ":"
	var names []string
	for item := range o.m.IterBuffered() {
		name, ok := strings.CutPrefix(item.Key, prefix)
		if !ok || item.Val != owner {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ReleaseAll forgets everything of kind owned by owner.
func (o *Ownership) ReleaseAll(kind, owner string) {
	for _, name := range o.OwnedBy(kind, owner) {
		o.m.RemoveCb(ownershipKey(kind, name), func(_ string, v string, exists bool) bool {
			return exists && v == owner
		})
	}
}

// ExtensionResolver instantiates extension points inside the context of the
// module that declares them.
type ExtensionResolver struct {
	catalog   *Catalog
	ownership *Ownership
	logger    Logger

	// lookup returns the started context and module instance of a module.
	lookup func(moduleID string) (*Context, Module, bool)
}

// Create returns the singleton extension registered under typeID in the
// owning module's context, creating and registering it first if needed.
// Factory errors propagate to the caller.
func (r *ExtensionResolver) Create(typeID string) (any, error) {
	owner, ok := r.ownership.Owner(OwnsExtensionType, typeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExtensionOwnerUnknown, typeID)
	}
	mc, m, ok := r.lookup(owner)
	if !ok {
		return nil, fmt.Errorf("%w: %s (extension %s)", ErrModuleContextUnavailable, owner, typeID)
	}
	if existing, ok := mc.Get(typeID); ok {
		return existing, nil
	}

	factory := r.factory(mc, m, typeID)
	if factory == nil {
		return nil, fmt.Errorf("%w: %s", ErrExtensionFactoryMissing, typeID)
	}
	var instance any
	err := safeCall(func() error {
		var ferr error
		instance, ferr = factory(mc)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("creating extension %s: %w", typeID, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: %s", ErrExtensionNil, typeID)
	}
	if err := mc.RegisterOwned(typeID, instance, owner); err != nil {
		return nil, err
	}
	r.logger.Debug("Extension created", "module", owner, "extension", typeID, "type", typeName(instance))
	return instance, nil
}

// BeanName returns the name the extension is registered under in the owning
// module's context, or false if it has not been created.
func (r *ExtensionResolver) BeanName(typeID string) (string, bool) {
	owner, ok := r.ownership.Owner(OwnsExtensionType, typeID)
	if !ok {
		return "", false
	}
	mc, _, ok := r.lookup(owner)
	if !ok || !mc.Has(typeID) {
		return "", false
	}
	return typeID, true
}

// factory picks between the module's bundled factory and the catalog's
// according to the context's load policy. Host first unless the type id is
// listed as module first.
func (r *ExtensionResolver) factory(mc *Context, m Module, typeID string) ExtensionFactory {
	var local ExtensionFactory
	if p, ok := m.(ExtensionProvider); ok {
		local = p.ExtensionFactories()[typeID]
	}
	shared, _ := r.catalog.ExtensionFactory(typeID)

	if mc.LoadPolicy().IsModuleFirst(typeID) {
		if local != nil {
			return local
		}
		return shared
	}
	if shared != nil {
		return shared
	}
	return local
}
