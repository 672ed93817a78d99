package modhost

import (
	"context"
	"fmt"
	"reflect"
)

// Module is the entry point a module author implements. The host creates a
// fresh instance from the catalog every time the module is loaded, so any
// state kept on the instance lives exactly as long as one load.
//
// Setup runs after the isolated context has been built and imports have been
// resolved. It registers the module's own resources into mc. Returning an
// error aborts the start: the context is destroyed and a failure record is
// kept for the module.
type Module interface {
	Setup(ctx context.Context, mc *Context) error
}

// Importer is implemented by modules that ask for host or dependency
// resources programmatically, in addition to the descriptor's imports.
type Importer interface {
	Imports() []ImportRequest
}

// Releaser is implemented by modules that hold resources outside their
// context (goroutines, connections) which must be released on stop.
type Releaser interface {
	ReleaseResources(ctx context.Context) error
}

// ExtensionProvider is implemented by modules that bundle their own
// extension factories instead of (or in addition to) registering them in the
// catalog. Which side wins for a given type id is decided by the load policy.
type ExtensionProvider interface {
	ExtensionFactories() map[string]ExtensionFactory
}

// Injectable resources receive the importing module's context after being
// imported into it, and the module instance receives its own context before
// Setup runs.
type Injectable interface {
	Inject(mc *Context) error
}

// Closer is implemented by resources that need teardown when the context
// that owns them is destroyed. io.Closer is honoured as well.
type Closer interface {
	Close(ctx context.Context) error
}

// ModuleFactory creates a module instance for a descriptor.
type ModuleFactory func(d *Descriptor) (Module, error)

// ExtensionFactory creates an extension instance inside the owning module's context.
type ExtensionFactory func(mc *Context) (any, error)

// ImportRequest asks for a resource by exact name or by type. A type request
// imports every matching resource of the first source that has any.
type ImportRequest struct {
	Name string

	// Type matches by identity, or by implementation when it is an interface type.
	Type reflect.Type

	// TypeName matches against reflect.Type.String() of the candidate; it is
	// how descriptor imports ask for types.
	TypeName string
}

// ImportName requests a resource by name.
func ImportName(name string) ImportRequest {
	return ImportRequest{Name: name}
}

// ImportType requests every resource assignable to T.
func ImportType[T any]() ImportRequest {
	return ImportRequest{Type: reflect.TypeFor[T]()}
}

func importFromSpec(spec ImportSpec) ImportRequest {
	return ImportRequest{Name: spec.Name, TypeName: spec.Type}
}

// ByName reports whether this is a by-name request.
func (r ImportRequest) ByName() bool {
	return r.Name != ""
}

func (r ImportRequest) String() string {
	switch {
	case r.Name != "":
		return "name:" + r.Name
	case r.Type != nil:
		return "type:" + r.Type.String()
	default:
		return "type:" + r.TypeName
	}
}

// matchesType reports whether v satisfies a by-type request.
func (r ImportRequest) matchesType(v any) bool {
	if v == nil {
		return false
	}
	vt := reflect.TypeOf(v)
	if r.Type != nil {
		if r.Type.Kind() == reflect.Interface {
			return vt.Implements(r.Type)
		}
		return vt == r.Type || vt.AssignableTo(r.Type)
	}
	return r.TypeName != "" && vt.String() == r.TypeName
}

func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T", v)
}
