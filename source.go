package modhost

import (
	"context"
	"io/fs"
)

// ModuleSource supplies modules to the host. It owns discovery and the
// packaging format; the host only asks it for ids, descriptors and artifacts.
// Implementations live in the source package.
type ModuleSource interface {
	// List returns the ids of every module currently available.
	List(ctx context.Context) ([]string, error)

	// Descriptor reads the descriptor of a module. It is called again on
	// reload, so implementations must not cache across calls.
	Descriptor(ctx context.Context, id string) (*Descriptor, error)

	// Artifact returns the module's files. It may return a nil FS for
	// modules without resources.
	Artifact(ctx context.Context, id string) (fs.FS, error)
}
