package modhost

import (
	"slices"
	"sync"
)

// StatusProvider decides which modules load in the DISABLED state.
type StatusProvider interface {
	IsDisabled(moduleID string) bool
	Disable(moduleID string) error
	Enable(moduleID string) error
}

// ListStatusProvider works from an enabled and a disabled list. A module on
// the disabled list is disabled. When the enabled list is non-empty it is a
// whitelist and every module missing from it is disabled too.
type ListStatusProvider struct {
	mu        sync.RWMutex
	enabled   []string
	disabled  []string
	whitelist bool
}

// NewListStatusProvider creates a provider from the two lists.
func NewListStatusProvider(enabled, disabled []string) *ListStatusProvider {
	return &ListStatusProvider{
		enabled:   slices.Clone(enabled),
		disabled:  slices.Clone(disabled),
		whitelist: len(enabled) > 0,
	}
}

// IsDisabled reports whether moduleID is disabled.
func (p *ListStatusProvider) IsDisabled(moduleID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if slices.Contains(p.disabled, moduleID) {
		return true
	}
	return p.whitelist && !slices.Contains(p.enabled, moduleID)
}

// Disable adds moduleID to the disabled list.
func (p *ListStatusProvider) Disable(moduleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = slices.DeleteFunc(p.enabled, func(id string) bool { return id == moduleID })
	if !slices.Contains(p.disabled, moduleID) {
		p.disabled = append(p.disabled, moduleID)
	}
	return nil
}

// Enable removes moduleID from the disabled list and, when a whitelist is
// in use, adds it there.
func (p *ListStatusProvider) Enable(moduleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = slices.DeleteFunc(p.disabled, func(id string) bool { return id == moduleID })
	if p.whitelist && !slices.Contains(p.enabled, moduleID) {
		p.enabled = append(p.enabled, moduleID)
	}
	return nil
}
