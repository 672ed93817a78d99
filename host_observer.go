package modhost

import (
	"context"
)

// notifyModule emits the host-level event for a single-module operation.
func (h *Host) notifyModule(ctx context.Context, id string, state ModuleState) {
	rec, ok := h.record(id)
	if !ok {
		return
	}
	data := ModuleEventData{ModuleID: id, Version: rec.descriptor.Version, State: state}
	switch state {
	case StateStarted:
		h.emit(ctx, newModuleEvent(EventTypeModuleStarted, data))
		if h.HostStarted() {
			h.emit(ctx, newModuleEvent(EventTypeModuleRestarted, data))
		}
	case StateStopped:
		h.emit(ctx, newModuleEvent(EventTypeModuleStopped, data))
	}
}

// notifyFailure is emitted for every contained failure, bulk or single.
func (h *Host) notifyFailure(ctx context.Context, f *FailureRecord, state ModuleState) {
	rec, ok := h.record(f.ModuleID)
	if !ok {
		return
	}
	h.emit(ctx, newModuleEvent(EventTypeModuleFailed, ModuleEventData{
		ModuleID: f.ModuleID,
		Version:  rec.descriptor.Version,
		State:    state,
		Error:    f.Message,
	}))
}

// notifyStateChanged emits the aggregate event closing a lifecycle operation.
func (h *Host) notifyStateChanged(ctx context.Context, operation, moduleID string) {
	h.mu.RLock()
	data := HostStateEventData{
		Operation: operation,
		ModuleID:  moduleID,
		States:    make(map[string]ModuleState, len(h.records)),
	}
	for id, rec := range h.records {
		data.States[id] = rec.state
		if rec.failure != nil {
			data.Failures++
		}
	}
	h.mu.RUnlock()
	h.emit(ctx, NewCloudEvent(EventTypeHostStateChanged, eventSource, data, nil))
}

func (h *Host) emit(ctx context.Context, event CloudEvent) {
	if err := h.NotifyObservers(ctx, event); err != nil {
		h.logger.Error("Failed to notify observers", "event", event.Type(), "error", err)
	}
}
