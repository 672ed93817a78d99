package feeders

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// DotEnvFeeder reads KEY=VALUE lines from a file and feeds them like
// EnvFeeder. Variables already set in the process environment win over the
// file.
type DotEnvFeeder struct {
	Path   string
	Prefix string
}

func NewDotEnvFeeder(path, prefix string) DotEnvFeeder {
	return DotEnvFeeder{Path: path, Prefix: prefix}
}

func (f DotEnvFeeder) Feed(target any) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	vars, err := parseDotEnv(f.Path)
	if err != nil {
		return err
	}
	lookup := func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := vars[name]
		return v, ok
	}
	return fillStruct(reflect.ValueOf(target).Elem(), strings.ToUpper(f.Prefix), lookup)
}

func parseDotEnv(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	vars := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w at %s:%d", ErrInvalidLine, path, lineNum)
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		vars[strings.ToUpper(key)] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return vars, nil
}
