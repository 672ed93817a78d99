package modhost

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ReloadAll stops every module, unloads them all and loads again from the
// source. With restartStartedOnly, only modules that were started before and
// still exist are started again (in dependency order); otherwise every
// loadable module is started. One state-changed notification is emitted.
func (h *Host) ReloadAll(ctx context.Context, restartStartedOnly bool) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	defer h.notifyStateChanged(ctx, "reload-all", "")

	previouslyStarted := h.StartOrder()
	if err := h.stopAll(ctx); err != nil {
		return err
	}
	h.mu.RLock()
	ids := h.allIDsLocked()
	h.mu.RUnlock()
	for _, id := range ids {
		h.unloadOne(id)
	}

	loadErr := h.loadAll(ctx)
	if loadErr != nil {
		h.logger.Error("Reload finished loading with errors", "error", loadErr)
	}

	if !restartStartedOnly {
		if err := h.startAll(ctx); err != nil {
			return err
		}
		return loadErr
	}

	restarted := 0
	for _, id := range h.DependencyOrder() {
		if !slices.Contains(previouslyStarted, id) {
			continue
		}
		state, err := h.startModule(ctx, id, false)
		if err != nil {
			return err
		}
		if state == StateStarted {
			restarted++
		}
	}
	h.logger.Info("Modules reloaded", "restarted", restarted, "previouslyStarted", len(previouslyStarted))
	return loadErr
}

// Reload stops one module, unloads it, reads its descriptor again and
// starts the fresh instance. It fails with ErrDescriptorReload when the
// module can no longer be loaded from the source; the module is then gone.
func (h *Host) Reload(ctx context.Context, id string, opts ...LifecycleOption) (ModuleState, error) {
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
	stopFailure, _ := h.Failure(id)
	h.unloadOne(id)

	if err := h.loadOne(ctx, id); err != nil {
		h.logger.Error("Module could not be reloaded", "module", id, "error", err)
		_ = h.reorder()
		if o.notify {
			h.notifyStateChanged(ctx, "reload", id)
		}
		err = fmt.Errorf("%w: %s: %w", ErrDescriptorReload, id, err)
		if stopFailure != nil && stopFailure.Phase == PhaseStop {
			err = errors.Join(err, stopFailure.Err)
		}
		return 0, err
	}
	if err := h.reorder(); err != nil {
		h.logger.Warn("Dependency order has problems after reload", "module", id, "error", err)
	}

	state, err := h.startModule(ctx, id, true)
	if stopFailure != nil && stopFailure.Phase == PhaseStop {
		h.keepFailure(id, stopFailure)
	}
	if o.notify {
		h.notifyModule(ctx, id, state)
		h.notifyStateChanged(ctx, "reload", id)
	}
	return state, err
}

// keepFailure carries a failure of the previous instance over to the
// reloaded record unless the new instance failed on its own.
func (h *Host) keepFailure(id string, f *FailureRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rec, ok := h.records[id]; ok && rec.failure == nil {
		rec.failure = f
	}
}
