package modhost

import (
	"cmp"
	"fmt"
	"io/fs"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Host loads modules from a ModuleSource and drives their lifecycle.
//
// Lifecycle operations (load, start, stop, reload and their bulk forms) are
// serialized: at most one runs at a time. Read operations (Module, Modules,
// Failure) never wait for a lifecycle operation to finish; they see a
// consistent snapshot in which a module's state and its context agree.
//
// Errors raised by module code are contained: they become failure records
// and the operation carries on with the next module. Only contract
// violations by the caller (unknown ids, stopping a module others depend on)
// and internal invariant violations are returned as errors.
type Host struct {
	*observerSet

	source        ModuleSource
	catalog       *Catalog
	logger        Logger
	container     *Container
	ownership     *Ownership
	status        StatusProvider
	configRepo    ConfigRepository
	routeRegistry RouteRegistry
	policy        BootstrapPolicy
	capabilities  []Capability
	hostFS        fs.FS

	bootstrap  *Bootstrapper
	extensions *ExtensionResolver
	routes     *routeAdapter

	lifecycleMu sync.Mutex

	mu      sync.RWMutex
	records map[string]*moduleRecord
	order   []string
	cycles  map[string]bool
	started []string

	hostStarted atomic.Bool
}

type moduleRecord struct {
	descriptor *Descriptor
	state      ModuleState
	runtime    *ModuleRuntime
	failure    *FailureRecord
	loadedAt   time.Time
}

// ModuleInfo is a read-only snapshot of one module.
type ModuleInfo struct {
	Descriptor *Descriptor    `json:"descriptor"`
	State      ModuleState    `json:"state"`
	Failure    *FailureRecord `json:"failure,omitempty"`
	Extensions []string       `json:"extensions,omitempty"`
	Handlers   []string       `json:"handlers,omitempty"`
	Imported   []string       `json:"imported,omitempty"`
	LoadedAt   time.Time      `json:"loadedAt"`
}

// NewHost creates a host reading modules from source.
func NewHost(source ModuleSource, opts ...HostOption) (*Host, error) {
	if source == nil {
		return nil, ErrSourceNil
	}
	h := &Host{
		observerSet: newObserverSet(NopLogger()),
		source:      source,
		catalog:     DefaultCatalog,
		logger:      NopLogger(),
		container:   NewContainer("host"),
		ownership:   NewOwnership(),
		status:      NewListStatusProvider(nil, nil),
		policy:      DefaultBootstrapPolicy(),
		records:     make(map[string]*moduleRecord),
		cycles:      make(map[string]bool),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("configuring host: %w", err)
		}
	}
	h.observerSet.logger = h.logger

	h.bootstrap = &Bootstrapper{
		host:         h.container,
		hostFS:       h.hostFS,
		policy:       h.policy,
		capabilities: h.capabilities,
		repo:         h.configRepo,
		logger:       h.logger,
		dependency:   h.startedContext,
	}
	h.extensions = &ExtensionResolver{
		catalog:   h.catalog,
		ownership: h.ownership,
		logger:    h.logger,
		lookup:    h.startedModule,
	}
	h.routes = &routeAdapter{
		registry:  h.routeRegistry,
		host:      h.container,
		ownership: h.ownership,
		logger:    h.logger,
	}
	return h, nil
}

// Container returns the host-wide container. Published extensions and
// handler objects live here, next to resources the host registered itself.
func (h *Host) Container() *Container { return h.container }

// Ownership returns the map of published things to owning modules.
func (h *Host) Ownership() *Ownership { return h.ownership }

// Logger returns the host logger.
func (h *Host) Logger() Logger { return h.logger }

// MarkStarted records whether the host process has finished its own
// startup. Modules started afterwards also receive the restarted event.
func (h *Host) MarkStarted(started bool) { h.hostStarted.Store(started) }

// HostStarted reports the value last set by MarkStarted.
func (h *Host) HostStarted() bool { return h.hostStarted.Load() }

// Extension returns a published extension by name.
func (h *Host) Extension(name string) (any, bool) {
	if _, ok := h.ownership.Owner(OwnsExtension, name); !ok {
		return nil, false
	}
	return h.container.Get(name)
}

// Extensions returns every published extension assignable to T.
func Extensions[T any](h *Host) []T {
	var out []T
	for _, r := range h.container.Find(ImportType[T]()) {
		if _, ok := h.ownership.Owner(OwnsExtension, r.Name); ok {
			out = append(out, r.Instance.(T))
		}
	}
	return out
}

// Module returns a snapshot of one module.
func (h *Host) Module(id string) (ModuleInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[id]
	if !ok {
		return ModuleInfo{}, false
	}
	return rec.info(), true
}

// Modules returns snapshots of every loaded module in dependency order,
// followed by modules that could not be ordered.
func (h *Host) Modules() []ModuleInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ModuleInfo, 0, len(h.records))
	for _, id := range h.allIDsLocked() {
		out = append(out, h.records[id].info())
	}
	return out
}

// State returns the state of a module.
func (h *Host) State(id string) (ModuleState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[id]
	if !ok {
		return 0, false
	}
	return rec.state, true
}

// StartOrder returns the ids of started modules in the order they started.
func (h *Host) StartOrder() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.started)
}

// DependencyOrder returns the computed start order of loaded modules.
func (h *Host) DependencyOrder() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.order)
}

// Failure returns the failure record of a module, if any.
func (h *Host) Failure(id string) (*FailureRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[id]
	if !ok || rec.failure == nil {
		return nil, false
	}
	f := *rec.failure
	return &f, true
}

// Failures returns every failure record, ordered by module id.
func (h *Host) Failures() []FailureRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []FailureRecord
	for _, rec := range h.records {
		if rec.failure != nil {
			out = append(out, *rec.failure)
		}
	}
	slices.SortFunc(out, func(a, b FailureRecord) int { return cmp.Compare(a.ModuleID, b.ModuleID) })
	return out
}

func (rec *moduleRecord) info() ModuleInfo {
	info := ModuleInfo{
		Descriptor: rec.descriptor.Clone(),
		State:      rec.state,
		LoadedAt:   rec.loadedAt,
	}
	if rec.failure != nil {
		f := *rec.failure
		info.Failure = &f
	}
	if rec.state == StateStarted && rec.runtime != nil {
		info.Extensions = rec.runtime.Extensions()
		info.Handlers = rec.runtime.Handlers()
		if mc, ok := rec.runtime.Context(); ok {
			info.Imported = mc.ImportedNames()
		}
	}
	return info
}

// allIDsLocked returns ordered ids followed by the rest, sorted.
func (h *Host) allIDsLocked() []string {
	ids := slices.Clone(h.order)
	var rest []string
	for id := range h.records {
		if !slices.Contains(ids, id) {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(ids, rest...)
}

func (h *Host) record(id string) (*moduleRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[id]
	return rec, ok
}

// startedContext gives the bootstrap access to the contexts of started
// dependencies.
func (h *Host) startedContext(id string) (*Context, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[id]
	if !ok || rec.state != StateStarted || rec.runtime == nil {
		return nil, false
	}
	return rec.runtime.Context()
}

// startedModule gives the extension resolver access to owner contexts. A
// module that is in the middle of starting already has its context.
func (h *Host) startedModule(id string) (*Context, Module, bool) {
	rec, ok := h.record(id)
	if !ok || rec.runtime == nil {
		return nil, nil, false
	}
	mc, ok := rec.runtime.Context()
	if !ok {
		return nil, nil, false
	}
	return mc, rec.runtime.Module(), true
}
