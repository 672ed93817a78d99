// Package feeders populates configuration structs from files and the
// environment. Feeders are applied in order, so later feeders override
// values set by earlier ones.
package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Feeder populates target, which must be a pointer to a struct.
type Feeder interface {
	Feed(target any) error
}

// ForFile returns the file feeder matching the extension of path.
func ForFile(path string) (Feeder, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return NewYAMLFeeder(path), nil
	case ".toml":
		return NewTOMLFeeder(path), nil
	case ".env":
		return NewDotEnvFeeder(path, ""), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}
