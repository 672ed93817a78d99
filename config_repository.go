package modhost

import "context"

// ConfigRepository persists per-module settings. The bootstrap reads it
// while building a module context; the admin surface reads and writes it.
// Implementations live in the configrepo package.
type ConfigRepository interface {
	// Get returns the settings for a module. A module without settings
	// yields an empty map and no error.
	Get(ctx context.Context, moduleID string) (map[string]any, error)

	// Save replaces the settings for a module.
	Save(ctx context.Context, moduleID string, props map[string]any) error

	// Delete removes the settings for a module and reports whether any existed.
	Delete(ctx context.Context, moduleID string) (bool, error)
}
