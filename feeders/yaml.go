package feeders

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLFeeder reads a YAML file. Unknown keys are rejected.
type YAMLFeeder struct {
	Path string
}

func NewYAMLFeeder(path string) YAMLFeeder {
	return YAMLFeeder{Path: path}
}

func (f YAMLFeeder) Feed(target any) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", f.Path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", f.Path, err)
	}
	return nil
}
