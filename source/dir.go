// Package source provides ModuleSource implementations: a directory scanner,
// an in-memory source for embedding and tests, and a watcher that reports
// descriptor changes so the host can reload modules.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/modhost"
)

// Descriptor file names, in lookup order.
const (
	DescriptorYAML = "module.yaml"
	DescriptorYML  = "module.yml"
	DescriptorTOML = "module.toml"
)

var descriptorFiles = []string{DescriptorYAML, DescriptorYML, DescriptorTOML}

// Dir is a ModuleSource backed by a directory. Every subdirectory holding a
// descriptor file is a module; the subdirectory name is its id and the
// subdirectory itself is its artifact.
type Dir struct {
	root string
}

// NewDir creates a source rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the scanned directory.
func (d *Dir) Root() string { return d.root }

// List returns the ids of all module directories in lexical order. Hidden
// directories are skipped.
func (d *Dir) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("listing modules in %s: %w", d.root, err)
	}
	var ids []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, ok := d.descriptorFile(e.Name()); ok {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Descriptor reads and parses the module's descriptor file. A descriptor
// without an id takes the directory name.
func (d *Dir) Descriptor(_ context.Context, id string) (*modhost.Descriptor, error) {
	path, ok := d.descriptorFile(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", modhost.ErrDescriptorNotFound, id)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening descriptor %s: %w", path, err)
	}
	defer f.Close()

	desc, err := ParseDescriptor(filepath.Base(path), f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if desc.ID == "" {
		desc.ID = id
	}
	return desc, nil
}

// Artifact returns the module directory as a read-only file system.
func (d *Dir) Artifact(_ context.Context, id string) (fs.FS, error) {
	dir := d.moduleDir(id)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", modhost.ErrModuleNotFound, id)
		}
		return nil, fmt.Errorf("reading artifact %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", modhost.ErrModuleNotFound, id)
	}
	return os.DirFS(dir), nil
}

func (d *Dir) moduleDir(id string) string {
	return filepath.Join(d.root, filepath.Base(id))
}

func (d *Dir) descriptorFile(id string) (string, bool) {
	dir := d.moduleDir(id)
	for _, name := range descriptorFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// IsDescriptorFile reports whether name is one of the descriptor file names.
func IsDescriptorFile(name string) bool {
	base := filepath.Base(name)
	for _, n := range descriptorFiles {
		if base == n {
			return true
		}
	}
	return false
}

// ParseDescriptor decodes a descriptor. The format is chosen by the file
// extension of name. Unknown keys are rejected so that typos in a
// descriptor surface at load time.
func ParseDescriptor(name string, r io.Reader) (*modhost.Descriptor, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading descriptor: %w", err)
	}

	var desc modhost.Descriptor
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&desc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", modhost.ErrDescriptorInvalid, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &desc)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", modhost.ErrDescriptorInvalid, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("%w: unknown keys %v", modhost.ErrDescriptorInvalid, undecoded)
		}
	default:
		return nil, fmt.Errorf("%w: %q", modhost.ErrUnsupportedConfigFormat, ext)
	}
	return &desc, nil
}
