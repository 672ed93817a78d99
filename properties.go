package modhost

import (
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// Properties are the settings visible to a module context. Values come from
// YAML, TOML, SQL or Redis, so accessors coerce strings to the requested type.
type Properties map[string]any

// mergeProperties layers later maps over earlier ones.
func mergeProperties(layers ...map[string]any) Properties {
	out := make(Properties)
	for _, layer := range layers {
		maps.Copy(out, layer)
	}
	return out
}

// Get returns the raw value.
func (p Properties) Get(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

// String returns the value formatted as a string.
func (p Properties) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Strings returns a list value. Comma separated strings are split and trimmed.
func (p Properties) Strings(key string) []string {
	v, ok := p[key]
	if !ok || v == nil {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []string:
		out = append(out, t...)
	case []any:
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
	default:
		out = strings.Split(fmt.Sprint(t), ",")
	}
	cleaned := out[:0]
	for _, s := range out {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return cleaned
}

// Bool returns the value as a bool, or def when absent or unparseable.
func (p Properties) Bool(key string, def bool) bool {
	var out bool
	if err := p.Decode(key, &out); err != nil {
		return def
	}
	return out
}

// Int returns the value as an int, or def when absent or unparseable.
func (p Properties) Int(key string, def int) int {
	var out int
	if err := p.Decode(key, &out); err != nil {
		return def
	}
	return out
}

// Decode converts the value under key into target, a pointer to a basic type.
func (p Properties) Decode(key string, target any) error {
	v, ok := p[key]
	if !ok || v == nil {
		return fmt.Errorf("%w: property %s", ErrResourceNotFound, key)
	}
	tv := reflect.ValueOf(target)
	if tv.Kind() != reflect.Ptr || tv.IsNil() {
		return ErrTargetNotPointer
	}
	dst := tv.Elem()
	src := reflect.ValueOf(v)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	converted, err := cast.FromType(fmt.Sprint(v), dst.Type())
	if err != nil {
		return fmt.Errorf("property %s: %w", key, err)
	}
	dst.Set(reflect.ValueOf(converted).Convert(dst.Type()))
	return nil
}
