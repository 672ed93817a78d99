package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// EnvFeeder reads fields tagged `env:"NAME"` from the environment. With a
// prefix, NAME is looked up as PREFIX_NAME. A struct field with an env tag
// adds its tag to the prefix of its own fields, so Supervisor.Schedule
// tagged SUPERVISOR and SCHEDULE reads PREFIX_SUPERVISOR_SCHEDULE.
//
// Empty variables are ignored. Slices are read as comma-separated lists.
type EnvFeeder struct {
	Prefix string

	lookup func(string) (string, bool)
}

func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix, lookup: os.LookupEnv}
}

func (f EnvFeeder) Feed(target any) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	lookup := f.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return fillStruct(reflect.ValueOf(target).Elem(), strings.ToUpper(f.Prefix), lookup)
}

func checkTarget(target any) error {
	t := reflect.TypeOf(target)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct || reflect.ValueOf(target).IsNil() {
		return fmt.Errorf("%w, got %T", ErrInvalidStructure, target)
	}
	return nil
}

func joinName(prefix, name string) string {
	name = strings.ToUpper(name)
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

func fillStruct(rv reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	rt := rv.Type()
	for i := range rv.NumField() {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, hasTag := sf.Tag.Lookup("env")

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			nested := prefix
			if hasTag {
				nested = joinName(prefix, tag)
			}
			if err := fillStruct(field, nested, lookup); err != nil {
				return err
			}
			continue
		}
		if !hasTag || tag == "" || tag == "-" {
			continue
		}

		value, ok := lookup(joinName(prefix, tag))
		if !ok || value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("field %s from %s: %w", sf.Name, joinName(prefix, tag), err)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return ErrFieldCannotBeSet
	}
	v, err := convert(value, field.Type())
	if err != nil {
		return err
	}
	field.Set(v)
	return nil
}

func convert(value string, t reflect.Type) (reflect.Value, error) {
	switch {
	case t == reflect.TypeOf(time.Duration(0)):
		d, err := time.ParseDuration(value)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("parsing duration: %w", err)
		}
		return reflect.ValueOf(d), nil
	case t.Kind() == reflect.Slice:
		parts := strings.Split(value, ",")
		out := reflect.MakeSlice(t, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			ev, err := convert(p, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, ev)
		}
		return out, nil
	case t.Kind() == reflect.Pointer:
		ev, err := convert(value, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(ev)
		return p, nil
	}

	converted, err := cast.FromType(value, t)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert value to type %v: %w", t, err)
	}
	return reflect.ValueOf(converted).Convert(t), nil
}
