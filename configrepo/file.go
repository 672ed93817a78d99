// Package configrepo provides ConfigRepository implementations that keep
// per-module properties in files, SQL databases or Redis.
package configrepo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modhost"
)

// ErrInvalidModuleID is returned for ids that cannot name a stored entry.
var ErrInvalidModuleID = errors.New("invalid module id")

var (
	_ modhost.ConfigRepository = (*File)(nil)
	_ modhost.ConfigRepository = (*SQL)(nil)
	_ modhost.ConfigRepository = (*Redis)(nil)
)

// key normalizes a module id. Ids are case-insensitive in every repository.
func key(moduleID string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(moduleID))
	if k == "" || strings.ContainsAny(k, `/\`) || k == "." || k == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidModuleID, moduleID)
	}
	return k, nil
}

// File stores each module's properties in <dir>/<id>.yaml.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates a repository in dir, creating the directory if needed.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(moduleID string) (string, error) {
	k, err := key(moduleID)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.dir, k+".yaml"), nil
}

// Get returns the stored properties, or an empty map if none were saved.
func (f *File) Get(_ context.Context, moduleID string) (map[string]any, error) {
	path, err := f.path(moduleID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	props := map[string]any{}
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return props, nil
}

// Save replaces the stored properties. The file is written to a temporary
// name first and renamed, so readers never see a partial file.
func (f *File) Save(_ context.Context, moduleID string, props map[string]any) error {
	path, err := f.path(moduleID)
	if err != nil {
		return err
	}
	if props == nil {
		props = map[string]any{}
	}
	data, err := yaml.Marshal(props)
	if err != nil {
		return fmt.Errorf("encoding properties for %s: %w", moduleID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// Delete removes the stored properties and reports whether any existed.
func (f *File) Delete(_ context.Context, moduleID string) (bool, error) {
	path, err := f.path(moduleID)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	err = os.Remove(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("removing %s: %w", path, err)
	}
}
