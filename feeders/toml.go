package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TOMLFeeder reads a TOML file. Unknown keys are rejected.
type TOMLFeeder struct {
	Path string
}

func NewTOMLFeeder(path string) TOMLFeeder {
	return TOMLFeeder{Path: path}
}

func (f TOMLFeeder) Feed(target any) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	md, err := toml.DecodeFile(f.Path, target)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", f.Path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parsing %s: unknown keys %v", f.Path, undecoded)
	}
	return nil
}
