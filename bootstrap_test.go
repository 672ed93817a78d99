package modhost

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootstrap_PropertiesLayerRepositoryOverPreset(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Save(context.Background(), "billing", map[string]any{"currency": "EUR"}))

	h := newHarness(t)
	h.define(desc("billing"), nil)
	host := h.build(
		WithConfigRepository(repo),
		WithPresetProperties(map[string]any{"currency": "USD", "region": "eu-west"}),
	)
	_, err := host.Start(context.Background(), "billing")
	require.NoError(t, err)

	props := h.context("billing").Properties()
	assert.Equal(t, "EUR", props.String("currency"))
	assert.Equal(t, "eu-west", props.String("region"))
}

func TestBootstrap_ModuleConfigDisabled(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Save(context.Background(), "billing", map[string]any{"currency": "EUR"}))

	h := newHarness(t)
	h.define(desc("billing"), nil)
	policy := DefaultBootstrapPolicy()
	policy.ModuleConfigEnabled = false
	host := h.build(
		WithConfigRepository(repo),
		WithBootstrapPolicy(policy),
		WithPresetProperties(map[string]any{"currency": "USD"}),
	)
	_, err := host.Start(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, "USD", h.context("billing").Properties().String("currency"))
}

type failingRepo struct{ memRepo }

var errRepoDown = errors.New("repository down")

func (*failingRepo) Get(context.Context, string) (map[string]any, error) { return nil, errRepoDown }

func TestBootstrap_RepositoryErrorFailsStart(t *testing.T) {
	h := newHarness(t)
	h.define(desc("a"), nil)
	host := h.build(WithConfigRepository(&failingRepo{}))

	state, err := host.Start(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, state)
	f, ok := host.Failure("a")
	require.True(t, ok)
	assert.ErrorIs(t, f.Err, errRepoDown)
	assert.Zero(t, h.journal.count("setup:a"))
}

func TestBootstrap_CapabilitiesHonourExclusions(t *testing.T) {
	activate := func(name string) func(context.Context, *Context) error {
		return func(_ context.Context, mc *Context) error {
			return mc.RegisterOwned(name, true, mc.ModuleID())
		}
	}
	repo := newMemRepo()
	require.NoError(t, repo.Save(context.Background(), "quiet", map[string]any{
		PropertyExcludeCapabilities: "tracing",
	}))

	h := newHarness(t)
	h.define(desc("loud"), func(m *testModule) {
		m.setup = func(_ context.Context, mc *Context) error {
			if !mc.Has("cap.tracing") {
				return errors.New("tracing must be active before setup")
			}
			return nil
		}
	})
	h.define(desc("quiet"), nil)
	host := h.build(
		WithConfigRepository(repo),
		WithCapability(Capability{ID: "tracing", Activate: activate("cap.tracing")}),
		WithCapability(Capability{ID: CapabilityMetricsExporter, Activate: activate("cap.metrics")}),
		WithCapability(Capability{ID: "noop"}),
	)
	require.NoError(t, host.StartAll(context.Background()))
	assert.Empty(t, host.Failures())

	loud := h.context("loud")
	assert.True(t, loud.Has("cap.tracing"))
	assert.False(t, loud.Has("cap.metrics"))

	quiet := h.context("quiet")
	assert.False(t, quiet.Has("cap.tracing"))
	assert.False(t, quiet.Has("cap.metrics"))
}

func TestBootstrap_CapabilityErrorFailsStart(t *testing.T) {
	errNoTracer := errors.New("no tracer")
	h := newHarness(t)
	h.define(desc("a"), nil)
	host := h.build(WithCapability(Capability{ID: "tracing", Activate: func(context.Context, *Context) error {
		return errNoTracer
	}}))

	_, err := host.Start(context.Background(), "a")
	require.NoError(t, err)
	f, ok := host.Failure("a")
	require.True(t, ok)
	assert.ErrorIs(t, f.Err, errNoTracer)
}

func TestBootstrap_ResourcesFollowLoadPolicy(t *testing.T) {
	hostFS := fstest.MapFS{
		"banner.txt":      {Data: []byte("host")},
		"templates/a.txt": {Data: []byte("host-a")},
		"secret.txt":      {Data: []byte("host-secret")},
	}
	moduleFS := fstest.MapFS{
		"banner.txt":      {Data: []byte("module")},
		"templates/a.txt": {Data: []byte("module-a")},
		"own.txt":         {Data: []byte("own")},
	}
	repo := newMemRepo()
	require.NoError(t, repo.Save(context.Background(), "custom", map[string]any{
		PropertyModuleFirst:         []any{"templates/*"},
		PropertyModuleOnlyResources: "secret.txt",
	}))

	h := newHarness(t)
	h.defineWithArtifact(desc("plain"), moduleFS, nil)
	h.defineWithArtifact(desc("custom"), moduleFS, nil)
	host := h.build(WithHostResources(hostFS), WithConfigRepository(repo))
	require.NoError(t, host.StartAll(context.Background()))

	read := func(mc *Context, name string) string {
		data, err := mc.ReadResource(name)
		require.NoError(t, err, name)
		return string(data)
	}

	plain := h.context("plain")
	assert.Equal(t, "host", read(plain, "banner.txt"))
	assert.Equal(t, "host-a", read(plain, "templates/a.txt"))
	assert.Equal(t, "own", read(plain, "own.txt"))
	assert.Equal(t, "host-secret", read(plain, "secret.txt"))

	custom := h.context("custom")
	assert.Equal(t, "host", read(custom, "banner.txt"))
	assert.Equal(t, "module-a", read(custom, "templates/a.txt"))
	_, err := custom.ReadResource("secret.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.True(t, custom.LoadPolicy().IsModuleOnly("secret.txt"))
}

type greeter struct{ from string }

func TestExtensions_FactorySelection(t *testing.T) {
	local := func(*Context) (any, error) { return &greeter{from: "module"}, nil }
	shared := func(*Context) (any, error) { return &greeter{from: "catalog"}, nil }

	repo := newMemRepo()
	require.NoError(t, repo.Save(context.Background(), "first", map[string]any{PropertyModuleFirst: "greet.*"}))

	h := newHarness(t)
	require.NoError(t, h.catalog.RegisterExtension("greet.shared", shared))
	require.NoError(t, h.catalog.RegisterExtension("greet.first", shared))
	h.define(&Descriptor{ID: "hostfirst", Version: "1", EntryPoint: "test.hostfirst", Extensions: []string{"greet.shared", "greet.local"}}, func(m *testModule) {
		m.factories = map[string]ExtensionFactory{"greet.shared": local, "greet.local": local}
	})
	h.define(&Descriptor{ID: "first", Version: "1", EntryPoint: "test.first", Extensions: []string{"greet.first"}}, func(m *testModule) {
		m.factories = map[string]ExtensionFactory{"greet.first": local}
	})
	host := h.build(WithConfigRepository(repo))
	require.NoError(t, host.StartAll(context.Background()))
	require.Empty(t, host.Failures())

	ext := func(name string) *greeter {
		v, ok := host.Extension(name)
		require.True(t, ok, name)
		return v.(*greeter)
	}
	assert.Equal(t, "catalog", ext("greet.shared").from)
	assert.Equal(t, "module", ext("greet.local").from)
	assert.Equal(t, "module", ext("greet.first").from)
	assert.Len(t, Extensions[*greeter](host), 3)

	owner, ok := host.Ownership().Owner(OwnsExtension, "greet.first")
	require.True(t, ok)
	assert.Equal(t, "first", owner)

	// The instance lives in the owning module's context as well.
	inCtx, ok := h.context("first").Get("greet.first")
	require.True(t, ok)
	assert.Same(t, ext("greet.first"), inCtx)

	_, err := host.Stop(context.Background(), "first")
	require.NoError(t, err)
	_, ok = host.Extension("greet.first")
	assert.False(t, ok)
	assert.Empty(t, host.Ownership().OwnedBy(OwnsExtension, "first"))
	assert.Len(t, Extensions[*greeter](host), 2)
}

func TestExtensions_FirstClaimWins(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.catalog.RegisterExtension("ext.shared", func(mc *Context) (any, error) {
		return &greeter{from: mc.ModuleID()}, nil
	}))
	h.define(&Descriptor{ID: "a", Version: "1", EntryPoint: "test.a", Extensions: []string{"ext.shared"}}, nil)
	h.define(&Descriptor{ID: "b", Version: "1", EntryPoint: "test.b", Extensions: []string{"ext.shared"}}, nil)
	host := h.build()
	ctx := context.Background()

	// The losing module starts even while the winner is not running.
	state, err := host.Start(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, StateStarted, state)
	_, ok := host.Extension("ext.shared")
	assert.False(t, ok)

	require.NoError(t, host.StartAll(ctx))
	h.requireState("a", StateStarted)
	h.requireState("b", StateStarted)
	assert.Empty(t, host.Failures())

	v, ok := host.Extension("ext.shared")
	require.True(t, ok)
	assert.Equal(t, "a", v.(*greeter).from)
	owner, _ := host.Ownership().Owner(OwnsExtension, "ext.shared")
	assert.Equal(t, "a", owner)
	info, _ := host.Module("b")
	assert.Empty(t, info.Extensions)
}

func TestExtensions_FactoryProblemsFailStart(t *testing.T) {
	errFactory := errors.New("factory failed")
	h := newHarness(t)
	require.NoError(t, h.catalog.RegisterExtension("ext.broken", func(*Context) (any, error) { return nil, errFactory }))
	require.NoError(t, h.catalog.RegisterExtension("ext.nil", func(*Context) (any, error) { return nil, nil }))
	h.define(&Descriptor{ID: "broken", Version: "1", EntryPoint: "test.broken", Extensions: []string{"ext.broken"}}, nil)
	h.define(&Descriptor{ID: "empty", Version: "1", EntryPoint: "test.empty", Extensions: []string{"ext.nil"}}, nil)
	h.define(&Descriptor{ID: "missing", Version: "1", EntryPoint: "test.missing", Extensions: []string{"ext.none"}}, nil)
	host := h.build()
	require.NoError(t, host.StartAll(context.Background()))

	for id, want := range map[string]error{
		"broken":  errFactory,
		"empty":   ErrExtensionNil,
		"missing": ErrExtensionFactoryMissing,
	} {
		f, ok := host.Failure(id)
		require.True(t, ok, id)
		assert.ErrorIs(t, f.Err, want, id)
		h.requireState(id, StateCreated)
	}
	assert.Empty(t, host.Ownership().OwnedBy(OwnsExtension, "broken"))
}

type injectedClient struct{ into []string }

func (c *injectedClient) Inject(mc *Context) error {
	c.into = append(c.into, mc.ModuleID())
	return nil
}

func TestBootstrap_ImportedInjectableReceivesImporter(t *testing.T) {
	client := &injectedClient{}
	h := newHarness(t)
	h.define(desc("user"), func(m *testModule) {
		m.imports = []ImportRequest{ImportType[*injectedClient]()}
	})
	host := h.build(WithHostResource("client", client))
	_, err := host.Start(context.Background(), "user")
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, client.into)
}

type contextListener struct {
	eventRecorder
}

func TestContext_PublishReachesResourcesAndSubscribers(t *testing.T) {
	listener := &contextListener{eventRecorder{id: "listener"}}
	sub := &eventRecorder{id: "sub"}
	h := newHarness(t)
	h.define(desc("a"), func(m *testModule) {
		m.setup = func(_ context.Context, mc *Context) error {
			if err := mc.Subscribe(sub, EventTypeModuleStopped); err != nil {
				return err
			}
			return mc.RegisterOwned("listener", listener, "a")
		}
	})
	host := h.build()
	ctx := context.Background()
	host.MarkStarted(true)

	_, err := host.Start(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{EventTypeModuleStarted, EventTypeModuleRestarted}, listener.types())

	_, err = host.Stop(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{EventTypeModuleStarted, EventTypeModuleRestarted, EventTypeModuleStopped}, listener.types())
	assert.Equal(t, []string{EventTypeModuleStopped}, sub.types())
}
