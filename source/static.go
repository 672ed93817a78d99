package source

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sync"

	"github.com/GoCodeAlone/modhost"
)

// Static is an in-memory ModuleSource. Modules can be added and removed at
// any time; the next load or reload observes the change.
type Static struct {
	mu        sync.RWMutex
	modules   map[string]*modhost.Descriptor
	artifacts map[string]fs.FS
}

// NewStatic creates a source holding the given descriptors.
func NewStatic(descriptors ...*modhost.Descriptor) *Static {
	s := &Static{
		modules:   make(map[string]*modhost.Descriptor),
		artifacts: make(map[string]fs.FS),
	}
	for _, d := range descriptors {
		s.Put(d, nil)
	}
	return s
}

// Put adds or replaces a module. artifact may be nil.
func (s *Static) Put(d *modhost.Descriptor, artifact fs.FS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[d.ID] = d.Clone()
	if artifact != nil {
		s.artifacts[d.ID] = artifact
	} else {
		delete(s.artifacts, d.ID)
	}
}

// Remove drops a module. It reports whether the module was present.
func (s *Static) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.modules[id]
	delete(s.modules, id)
	delete(s.artifacts, id)
	return ok
}

func (s *Static) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.modules))
	for id := range s.modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Static) Descriptor(_ context.Context, id string) (*modhost.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", modhost.ErrDescriptorNotFound, id)
	}
	return d.Clone(), nil
}

func (s *Static) Artifact(_ context.Context, id string) (fs.FS, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.modules[id]; !ok {
		return nil, fmt.Errorf("%w: %s", modhost.ErrModuleNotFound, id)
	}
	return s.artifacts[id], nil
}
