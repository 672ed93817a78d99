// Package routes provides the dispatch table module handlers are published
// into. It is built on chi, which cannot remove a route once added, so the
// table keeps its own mapping list and rebuilds an immutable chi mux on every
// change. Requests always run against a complete snapshot; a module being
// unregistered never leaves a half-updated router behind.
package routes

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
)

// Errors returned by the table.
var (
	ErrRouteInvalid   = errors.New("route is invalid")
	ErrRouteConflict  = errors.New("route already mapped by another handler")
	ErrHandlerIDEmpty = errors.New("handler id is empty")
)

// Middleware wraps the table's router, in the shape chi's Use expects.
type Middleware func(http.Handler) http.Handler

// Route is one method and pattern served by a handler object.
type Route struct {
	Method  string
	Pattern string
	Handler http.Handler
}

// Mapping describes a published route.
type Mapping struct {
	Owner     string `json:"owner"`
	HandlerID string `json:"handlerId"`
	Method    string `json:"method"`
	Pattern   string `json:"pattern"`
}

type handlerEntry struct {
	owner  string
	routes []Route
}

// Table is a route registry whose mappings can be added and withdrawn at runtime.
type Table struct {
	mu       sync.Mutex
	handlers map[string]*handlerEntry
	order    []string

	middlewares []Middleware
	notFound    http.HandlerFunc

	mux atomic.Pointer[chi.Mux]
}

// Option configures a Table.
type Option func(*Table)

// WithMiddleware wraps every published route.
func WithMiddleware(mw ...Middleware) Option {
	return func(t *Table) { t.middlewares = append(t.middlewares, mw...) }
}

// WithNotFound sets the handler for unmatched requests.
func WithNotFound(h http.HandlerFunc) Option {
	return func(t *Table) { t.notFound = h }
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{handlers: make(map[string]*handlerEntry)}
	for _, opt := range opts {
		opt(t)
	}
	mux, _ := t.build(t.handlers, t.order)
	t.mux.Store(mux)
	return t
}

// Register publishes the routes of one handler object. Registering a
// handler id that is already present replaces its routes.
func (t *Table) Register(owner, handlerID string, routes []Route) error {
	if handlerID == "" {
		return ErrHandlerIDEmpty
	}
	routes = slices.Clone(routes)
	for i := range routes {
		routes[i].Method = strings.ToUpper(routes[i].Method)
		if err := validate(routes[i]); err != nil {
			return fmt.Errorf("%s: %w", handlerID, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range routes {
		if other, ok := t.conflict(handlerID, r); ok {
			return fmt.Errorf("%w: %s %s is served by %s", ErrRouteConflict, r.Method, r.Pattern, other)
		}
	}

	handlers := make(map[string]*handlerEntry, len(t.handlers)+1)
	for id, e := range t.handlers {
		handlers[id] = e
	}
	handlers[handlerID] = &handlerEntry{owner: owner, routes: routes}
	order := t.order
	if !slices.Contains(order, handlerID) {
		order = append(slices.Clone(order), handlerID)
	}

	mux, err := t.build(handlers, order)
	if err != nil {
		return fmt.Errorf("%s: %w", handlerID, err)
	}
	t.handlers = handlers
	t.order = order
	t.mux.Store(mux)
	return nil
}

// Unregister withdraws every route of a handler and returns how many were removed.
func (t *Table) Unregister(handlerID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.handlers[handlerID]
	if !ok {
		return 0
	}
	handlers := make(map[string]*handlerEntry, len(t.handlers))
	for id, other := range t.handlers {
		if id != handlerID {
			handlers[id] = other
		}
	}
	order := slices.DeleteFunc(slices.Clone(t.order), func(id string) bool { return id == handlerID })

	// Removing routes from a router that was valid cannot make it invalid.
	mux, _ := t.build(handlers, order)
	t.handlers = handlers
	t.order = order
	t.mux.Store(mux)
	return len(e.routes)
}

// HandlerIDs returns the handler ids published by owner in registration order.
func (t *Table) HandlerIDs(owner string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for _, id := range t.order {
		if t.handlers[id].owner == owner {
			ids = append(ids, id)
		}
	}
	return ids
}

// Mappings returns every published route.
func (t *Table) Mappings() []Mapping {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Mapping
	for _, id := range t.order {
		e := t.handlers[id]
		for _, r := range e.routes {
			out = append(out, Mapping{Owner: e.owner, HandlerID: id, Method: r.Method, Pattern: r.Pattern})
		}
	}
	return out
}

// ServeHTTP dispatches against the current snapshot.
func (t *Table) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mux.Load().ServeHTTP(w, r)
}

func (t *Table) conflict(handlerID string, r Route) (string, bool) {
	for _, id := range t.order {
		if id == handlerID {
			continue
		}
		for _, existing := range t.handlers[id].routes {
			if existing.Method == r.Method && existing.Pattern == r.Pattern {
				return id, true
			}
		}
	}
	return "", false
}

// build assembles a chi mux. chi reports bad patterns by panicking, which is
// turned into an error here so a broken route cannot take the table down.
func (t *Table) build(handlers map[string]*handlerEntry, order []string) (mux *chi.Mux, err error) {
	defer func() {
		if r := recover(); r != nil {
			mux = nil
			err = fmt.Errorf("%w: %v", ErrRouteInvalid, r)
		}
	}()

	mux = chi.NewRouter()
	for _, mw := range t.middlewares {
		mux.Use(mw)
	}
	if t.notFound != nil {
		mux.NotFound(t.notFound)
	}
	for _, id := range order {
		for _, r := range handlers[id].routes {
			mux.Method(r.Method, r.Pattern, r.Handler)
		}
	}
	return mux, nil
}

var knownMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace,
}

func validate(r Route) error {
	switch {
	case r.Handler == nil:
		return fmt.Errorf("%w: %s %s has no handler", ErrRouteInvalid, r.Method, r.Pattern)
	case !strings.HasPrefix(r.Pattern, "/"):
		return fmt.Errorf("%w: pattern %q must begin with /", ErrRouteInvalid, r.Pattern)
	case !slices.Contains(knownMethods, r.Method):
		return fmt.Errorf("%w: unknown method %q", ErrRouteInvalid, r.Method)
	}
	return nil
}
