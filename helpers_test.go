package modhost

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"slices"
	"sync"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/modhost/routes"
)

var errSetupBroken = errors.New("setup broken")

// memSource is an in-memory ModuleSource.
type memSource struct {
	mu        sync.Mutex
	descs     map[string]*Descriptor
	artifacts map[string]fs.FS
}

func newMemSource() *memSource {
	return &memSource{descs: make(map[string]*Descriptor), artifacts: make(map[string]fs.FS)}
}

func (s *memSource) put(d *Descriptor, artifact fs.FS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descs[d.ID] = d.Clone()
	s.artifacts[d.ID] = artifact
}

func (s *memSource) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.descs, id)
	delete(s.artifacts, id)
}

func (s *memSource) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.descs))
	for id := range s.descs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *memSource) Descriptor(_ context.Context, id string) (*Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.descs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDescriptorNotFound, id)
	}
	return d.Clone(), nil
}

func (s *memSource) Artifact(_ context.Context, id string) (fs.FS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.descs[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return s.artifacts[id], nil
}

// memRepo is an in-memory ConfigRepository.
type memRepo struct {
	mu    sync.Mutex
	props map[string]map[string]any
}

func newMemRepo() *memRepo { return &memRepo{props: make(map[string]map[string]any)} }

func (r *memRepo) Get(_ context.Context, id string) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any)
	for k, v := range r.props[id] {
		out[k] = v
	}
	return out, nil
}

func (r *memRepo) Save(_ context.Context, id string, props map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.props[id] = props
	return nil
}

func (r *memRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.props[id]
	delete(r.props, id)
	return ok, nil
}

// journal records hook calls across modules in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.all() {
		if e == entry {
			n++
		}
	}
	return n
}

func (j *journal) index(entry string) int {
	return slices.Index(j.all(), entry)
}

// testModule is configured per test through the harness.
type testModule struct {
	id        string
	journal   *journal
	setup     func(ctx context.Context, mc *Context) error
	release   func(ctx context.Context) error
	imports   []ImportRequest
	factories map[string]ExtensionFactory
	injected  *Context
}

func (m *testModule) Setup(ctx context.Context, mc *Context) error {
	m.journal.add("setup:" + m.id)
	if m.setup != nil {
		return m.setup(ctx, mc)
	}
	return nil
}

func (m *testModule) ReleaseResources(ctx context.Context) error {
	m.journal.add("release:" + m.id)
	if m.release != nil {
		return m.release(ctx)
	}
	return nil
}

func (m *testModule) Imports() []ImportRequest { return m.imports }

func (m *testModule) ExtensionFactories() map[string]ExtensionFactory { return m.factories }

func (m *testModule) Inject(mc *Context) error {
	m.injected = mc
	return nil
}

// handlerObj is a resource that serves routes.
type handlerObj struct {
	routes []routes.Route
}

func (h *handlerObj) Routes() []routes.Route { return h.routes }

func newHandler(pattern, body string) *handlerObj {
	return &handlerObj{routes: []routes.Route{{
		Method:  http.MethodGet,
		Pattern: pattern,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(body))
		}),
	}}}
}

// eventRecorder collects host events.
type eventRecorder struct {
	id     string
	mu     sync.Mutex
	events []cloudevents.Event
}

func (r *eventRecorder) ObserverID() string { return r.id }

func (r *eventRecorder) OnEvent(_ context.Context, event cloudevents.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func (r *eventRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// closeTracker records whether it was closed.
type closeTracker struct {
	mu     sync.Mutex
	closed int
}

func (c *closeTracker) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *closeTracker) closedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func desc(id string, deps ...string) *Descriptor {
	d := &Descriptor{ID: id, Version: "1.0.0", EntryPoint: "test." + id}
	for _, dep := range deps {
		d.Dependencies = append(d.Dependencies, Dependency{ModuleID: dep})
	}
	return d
}

// harness wires a host to an in-memory source, a private catalog and a
// route table.
type harness struct {
	t       *testing.T
	catalog *Catalog
	source  *memSource
	journal *journal
	table   *routes.Table
	events  *eventRecorder
	host    *Host

	mu        sync.Mutex
	configure map[string]func(m *testModule)
	instances map[string][]*testModule
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:         t,
		catalog:   NewCatalog(),
		source:    newMemSource(),
		journal:   &journal{},
		table:     routes.NewTable(),
		events:    &eventRecorder{id: "recorder"},
		configure: make(map[string]func(m *testModule)),
		instances: make(map[string][]*testModule),
	}
}

// define adds a module to the source and its entry point to the catalog.
func (h *harness) define(d *Descriptor, configure func(m *testModule)) {
	h.defineWithArtifact(d, nil, configure)
}

func (h *harness) defineWithArtifact(d *Descriptor, artifact fs.FS, configure func(m *testModule)) {
	h.t.Helper()
	id := d.ID
	h.mu.Lock()
	h.configure[id] = configure
	h.mu.Unlock()
	h.source.put(d, artifact)
	if _, exists := h.catalog.modules[d.EntryPoint]; exists {
		return
	}
	require.NoError(h.t, h.catalog.RegisterModule(d.EntryPoint, func(*Descriptor) (Module, error) {
		m := &testModule{id: id, journal: h.journal}
		h.mu.Lock()
		if c := h.configure[id]; c != nil {
			c(m)
		}
		h.instances[id] = append(h.instances[id], m)
		h.mu.Unlock()
		return m, nil
	}))
}

// reconfigure changes how future instances of a module are set up.
func (h *harness) reconfigure(id string, configure func(m *testModule)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.configure[id] = configure
}

func (h *harness) instance(id string) *testModule {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.instances[id]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (h *harness) instanceCount(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.instances[id])
}

// build creates the host and loads every defined module.
func (h *harness) build(opts ...HostOption) *Host {
	h.t.Helper()
	base := []HostOption{
		WithCatalog(h.catalog),
		WithRouteRegistry(h.table),
		WithObserver(h.events),
	}
	host, err := NewHost(h.source, append(base, opts...)...)
	require.NoError(h.t, err)
	h.host = host
	_ = host.LoadAll(context.Background())
	h.t.Cleanup(func() { _ = host.StopAll(context.Background()) })
	return host
}

func (h *harness) context(id string) *Context {
	h.t.Helper()
	mc, ok := h.host.startedContext(id)
	require.True(h.t, ok, "module %s has no context", id)
	return mc
}

func (h *harness) requireState(id string, want ModuleState) {
	h.t.Helper()
	state, ok := h.host.State(id)
	require.True(h.t, ok, "module %s not loaded", id)
	require.Equal(h.t, want, state, "state of %s", id)
}
