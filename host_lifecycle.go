package modhost

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// LifecycleOption adjusts a single-module lifecycle operation.
type LifecycleOption func(*lifecycleOptions)

type lifecycleOptions struct {
	notify  bool
	cascade bool
}

func applyLifecycleOptions(opts []LifecycleOption) lifecycleOptions {
	o := lifecycleOptions{notify: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithoutNotification suppresses the host notifications of the operation.
func WithoutNotification() LifecycleOption {
	return func(o *lifecycleOptions) { o.notify = false }
}

// WithCascade makes Stop stop started dependents first, in reverse start
// order, instead of rejecting the request.
func WithCascade() LifecycleOption {
	return func(o *lifecycleOptions) { o.cascade = true }
}

// LoadAll reads every module the source lists, creates records for those
// with valid descriptors and computes the dependency order. Modules that are
// already loaded are left alone. Descriptor problems are logged and the
// module is skipped. A dependency cycle is returned as an error after all
// other modules have been loaded; the modules on the cycle stay loaded but
// can never start.
func (h *Host) LoadAll(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	return h.loadAll(ctx)
}

func (h *Host) loadAll(ctx context.Context) error {
	ids, err := h.source.List(ctx)
	if err != nil {
		return fmt.Errorf("listing modules: %w", err)
	}
	loaded := 0
	for _, id := range ids {
		if _, exists := h.record(id); exists {
			h.logger.Debug("Module already loaded", "module", id)
			continue
		}
		if err := h.loadOne(ctx, id); err != nil {
			h.logger.Error("Skipping module", "module", id, "error", err)
			continue
		}
		loaded++
	}
	h.logger.Info("Modules loaded", "loaded", loaded, "listed", len(ids))
	return h.reorder()
}

func (h *Host) loadOne(ctx context.Context, id string) error {
	d, err := h.source.Descriptor(ctx, id)
	if err != nil {
		return fmt.Errorf("reading descriptor: %w", err)
	}
	if err := d.Validate(); err != nil {
		return err
	}
	if d.ID != id {
		return fmt.Errorf("%w: source lists %s but descriptor says %s", ErrDescriptorInvalid, id, d.ID)
	}
	d = d.Clone()

	m, err := h.catalog.NewModule(d)
	if err != nil {
		return err
	}
	artifact, err := h.source.Artifact(ctx, id)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}

	for _, typeID := range d.Extensions {
		if owner, ok := h.ownership.Claim(OwnsExtensionType, typeID, id); !ok {
			h.logger.Warn("Extension type already declared by another module", "module", id, "extension", typeID, "owner", owner)
		}
	}

	state := StateCreated
	if h.status.IsDisabled(id) {
		state = StateDisabled
	}
	rec := &moduleRecord{
		descriptor: d,
		state:      state,
		runtime:    newModuleRuntime(h, d, m, artifact),
		loadedAt:   time.Now(),
	}
	h.mu.Lock()
	if _, exists := h.records[id]; exists {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateModuleID, id)
	}
	h.records[id] = rec
	h.mu.Unlock()

	h.logger.Info("Module loaded", "module", id, "version", d.Version, "state", state)
	return nil
}

// unloadOne forgets a module that is not started.
func (h *Host) unloadOne(id string) {
	h.mu.Lock()
	rec, ok := h.records[id]
	if !ok || rec.state == StateStarted {
		h.mu.Unlock()
		return
	}
	delete(h.records, id)
	h.order = slices.DeleteFunc(h.order, func(o string) bool { return o == id })
	delete(h.cycles, id)
	h.mu.Unlock()

	for _, typeID := range rec.descriptor.Extensions {
		if owner, ok := h.ownership.Owner(OwnsExtensionType, typeID); ok && owner == id {
			h.ownership.Release(OwnsExtensionType, typeID)
		}
	}
	h.logger.Debug("Module unloaded", "module", id)
}

// reorder computes the dependency order with Kahn's algorithm, always taking
// the smallest ready id so the order is deterministic. Edges to modules that
// are not loaded are ignored here; the start checks them.
func (h *Host) reorder() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	inDegree := make(map[string]int, len(h.records))
	dependents := make(map[string][]string, len(h.records))
	for id, rec := range h.records {
		inDegree[id] += 0
		for _, dep := range rec.descriptor.Dependencies {
			if _, ok := h.records[dep.ModuleID]; !ok {
				continue
			}
			inDegree[id]++
			dependents[dep.ModuleID] = append(dependents[dep.ModuleID], id)
		}
	}

	var ready []string
	for id, n := range inDegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	order := make([]string, 0, len(h.records))
	for len(ready) > 0 {
		slices.Sort(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	h.order = order
	h.cycles = make(map[string]bool)
	if len(order) == len(h.records) {
		h.logger.Debug("Module start order", "order", order)
		return nil
	}
	var stuck []string
	for id := range h.records {
		if !slices.Contains(order, id) {
			stuck = append(stuck, id)
			h.cycles[id] = true
		}
	}
	slices.Sort(stuck)
	h.logger.Error("Modules on or behind a dependency cycle cannot start", "modules", stuck)
	return fmt.Errorf("%w: %s", ErrCircularDependency, strings.Join(stuck, ", "))
}

// StartAll starts every loaded module that is neither DISABLED nor already
// STARTED, in dependency order. Failure records are cleared first. A module
// that fails is rolled back, recorded and skipped; its dependents then fail
// because their dependency is not started. One state-changed notification
// is emitted at the end. Only internal errors are returned.
func (h *Host) StartAll(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	err := h.startAll(ctx)
	h.notifyStateChanged(ctx, "start-all", "")
	return err
}

func (h *Host) startAll(ctx context.Context) error {
	h.clearFailures()
	started, failed := 0, 0
	for _, id := range h.DependencyOrder() {
		state, ok := h.State(id)
		if !ok || state == StateDisabled || state == StateStarted {
			continue
		}
		state, err := h.startModule(ctx, id, false)
		if err != nil {
			return err
		}
		if state == StateStarted {
			started++
		} else {
			failed++
		}
	}
	h.logger.Info("Modules started", "started", started, "failed", failed)
	return nil
}

// StopAll stops every started module in reverse start order. Failure
// records are cleared first. A module whose stop fails is still considered
// stopped; its context has been destroyed and a failure is recorded.
func (h *Host) StopAll(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	err := h.stopAll(ctx)
	h.notifyStateChanged(ctx, "stop-all", "")
	return err
}

func (h *Host) stopAll(ctx context.Context) error {
	h.clearFailures()
	stopped := 0
	for _, id := range slices.Backward(h.StartOrder()) {
		if err := h.stopModule(ctx, id); err != nil {
			return err
		}
		stopped++
	}
	h.logger.Info("Modules stopped", "stopped", stopped)
	return nil
}

// Start starts one module. Required dependencies that are not started are
// started first. A disabled module is left alone. Module failures are
// recorded and reflected in the returned state; the error is reserved for
// unknown ids and internal problems.
func (h *Host) Start(ctx context.Context, id string, opts ...LifecycleOption) (ModuleState, error) {
	o := applyLifecycleOptions(opts)
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if _, ok := h.record(id); !ok {
		return 0, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	before, _ := h.State(id)
	state, err := h.startModule(ctx, id, true)
	if o.notify && before != StateStarted && before != StateDisabled {
		h.notifyModule(ctx, id, state)
		h.notifyStateChanged(ctx, "start", id)
	}
	return state, err
}

// Stop stops one module. It is rejected with ErrDependentsStarted while any
// started module depends on it, unless WithCascade is given.
func (h *Host) Stop(ctx context.Context, id string, opts ...LifecycleOption) (ModuleState, error) {
	o := applyLifecycleOptions(opts)
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if _, ok := h.record(id); !ok {
		return 0, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if err := h.stopDependents(ctx, id, o.cascade); err != nil {
		state, _ := h.State(id)
		return state, err
	}
	if err := h.stopModule(ctx, id); err != nil {
		return 0, err
	}
	state, _ := h.State(id)
	if o.notify {
		h.notifyModule(ctx, id, state)
		h.notifyStateChanged(ctx, "stop", id)
	}
	return state, nil
}

// Restart stops a module and starts it again, once.
func (h *Host) Restart(ctx context.Context, id string, opts ...LifecycleOption) (ModuleState, error) {
	o := applyLifecycleOptions(opts)
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if _, ok := h.record(id); !ok {
		return 0, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if err := h.stopDependents(ctx, id, o.cascade); err != nil {
		state, _ := h.State(id)
		return state, err
	}
	if err := h.stopModule(ctx, id); err != nil {
		return 0, err
	}
	state, err := h.startModule(ctx, id, true)
	if o.notify {
		h.notifyModule(ctx, id, state)
		h.notifyStateChanged(ctx, "restart", id)
	}
	return state, err
}

// Enable clears a module's disabled status. A DISABLED module becomes CREATED.
func (h *Host) Enable(ctx context.Context, id string) (ModuleState, error) {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if _, ok := h.record(id); !ok {
		return 0, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if err := h.status.Enable(id); err != nil {
		return 0, err
	}
	h.mu.Lock()
	rec := h.records[id]
	if rec.state == StateDisabled {
		rec.state = StateCreated
	}
	state := rec.state
	h.mu.Unlock()
	h.notifyStateChanged(ctx, "enable", id)
	return state, nil
}

// Disable stops a module if needed and marks it DISABLED. It is rejected
// while started dependents exist.
func (h *Host) Disable(ctx context.Context, id string) (ModuleState, error) {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if _, ok := h.record(id); !ok {
		return 0, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if err := h.stopDependents(ctx, id, false); err != nil {
		state, _ := h.State(id)
		return state, err
	}
	if err := h.stopModule(ctx, id); err != nil {
		return 0, err
	}
	if err := h.status.Disable(id); err != nil {
		return 0, err
	}
	h.setState(id, StateDisabled)
	h.notifyStateChanged(ctx, "disable", id)
	return StateDisabled, nil
}

// startModule starts one module, containing module failures. With
// autoDeps, required dependencies that are not started are started first.
func (h *Host) startModule(ctx context.Context, id string, autoDeps bool) (ModuleState, error) {
	rec, ok := h.record(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	switch state, _ := h.State(id); state {
	case StateDisabled, StateStarted:
		return state, nil
	}
	if h.onCycle(id) {
		return h.failStart(ctx, rec, fmt.Errorf("%w: %s", ErrCircularDependency, id))
	}

	for _, dep := range rec.descriptor.Dependencies {
		depState, loaded := h.State(dep.ModuleID)
		if !loaded {
			if dep.Optional {
				continue
			}
			return h.failStart(ctx, rec, fmt.Errorf("%w: %s depends on %s", ErrModuleDependencyMissing, id, dep.ModuleID))
		}
		if depState != StateStarted && autoDeps && !dep.Optional && depState != StateDisabled {
			var err error
			if depState, err = h.startModule(ctx, dep.ModuleID, true); err != nil {
				return 0, err
			}
		}
		if depState != StateStarted && !dep.Optional {
			return h.failStart(ctx, rec, fmt.Errorf("%w: %s needs %s which is %s", ErrDependencyNotStarted, id, dep.ModuleID, depState))
		}
	}

	h.logger.Info("Starting module", "module", id)
	if err := rec.runtime.Start(ctx); err != nil {
		rec.runtime.abort(ctx)
		return h.failStart(ctx, rec, err)
	}

	h.mu.Lock()
	rec.state = StateStarted
	rec.failure = nil
	h.started = append(h.started, id)
	h.mu.Unlock()

	if err := h.checkInvariant(id); err != nil {
		return 0, err
	}
	h.logger.Info("Module started", "module", id)
	return StateStarted, nil
}

func (h *Host) failStart(ctx context.Context, rec *moduleRecord, err error) (ModuleState, error) {
	id := rec.descriptor.ID
	if errors.Is(err, ErrInvariantViolated) {
		return 0, err
	}
	f := newFailure(id, PhaseStart, err)
	h.mu.Lock()
	rec.failure = f
	state := rec.state
	h.mu.Unlock()
	h.logger.Error("Module failed to start", "module", id, "error", err)
	h.notifyFailure(ctx, f, state)
	if cerr := h.checkInvariant(id); cerr != nil {
		return 0, cerr
	}
	return state, nil
}

// stopModule stops one started module. The module always ends up STOPPED
// and out of the started list, whatever its hooks return.
func (h *Host) stopModule(ctx context.Context, id string) error {
	rec, ok := h.record(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if state, _ := h.State(id); state != StateStarted {
		return nil
	}

	h.logger.Info("Stopping module", "module", id)
	err := rec.runtime.Stop(ctx)

	h.mu.Lock()
	rec.state = StateStopped
	rec.runtime.clear()
	h.started = slices.DeleteFunc(h.started, func(s string) bool { return s == id })
	var f *FailureRecord
	if err != nil {
		f = newFailure(id, PhaseStop, err)
		rec.failure = f
	}
	h.mu.Unlock()

	if f != nil {
		h.logger.Error("Module failed to stop cleanly", "module", id, "error", err)
		h.notifyFailure(ctx, f, StateStopped)
	} else {
		h.logger.Info("Module stopped", "module", id)
	}
	return h.checkInvariant(id)
}

// startedDependents returns started modules that declare id as a dependency,
// latest started first.
func (h *Host) startedDependents(id string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for _, sid := range slices.Backward(h.started) {
		if rec := h.records[sid]; rec != nil && rec.descriptor.DependsOn(id) {
			out = append(out, sid)
		}
	}
	return out
}

// stopDependents rejects, or with cascade stops, the started dependents of id.
func (h *Host) stopDependents(ctx context.Context, id string, cascade bool) error {
	dependents := h.startedDependents(id)
	if len(dependents) == 0 {
		return nil
	}
	if !cascade {
		return fmt.Errorf("%w: %s is required by %s", ErrDependentsStarted, id, strings.Join(dependents, ", "))
	}
	for _, dependent := range dependents {
		if err := h.stopDependents(ctx, dependent, true); err != nil {
			return err
		}
		if err := h.stopModule(ctx, dependent); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) onCycle(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cycles[id]
}

func (h *Host) setState(id string, state ModuleState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[id]; ok {
		rec.state = state
	}
}

func (h *Host) clearFailures() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range h.records {
		rec.failure = nil
	}
}

// checkInvariant verifies that a module has a context exactly when it is
// STARTED, and that only started modules own published extensions.
func (h *Host) checkInvariant(id string) error {
	h.mu.RLock()
	rec, ok := h.records[id]
	var state ModuleState
	if ok {
		state = rec.state
	}
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	_, hasContext := rec.runtime.Context()
	started := state == StateStarted
	if started != hasContext {
		return fmt.Errorf("%w: module %s is %s but context present=%t", ErrInvariantViolated, id, state, hasContext)
	}
	if !started && len(h.ownership.OwnedBy(OwnsExtension, id)) > 0 {
		return fmt.Errorf("%w: module %s is %s but still owns published extensions", ErrInvariantViolated, id, state)
	}
	return nil
}
