package modhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperties_Accessors(t *testing.T) {
	p := mergeProperties(
		map[string]any{"port": "8080", "debug": "true", "tags": "a, b,,c", "list": []any{"x", 2}},
		map[string]any{"port": 9090, "ratio": 0.5, "names": []string{"n"}},
	)

	assert.Equal(t, 9090, p.Int("port", 0))
	assert.Equal(t, "9090", p.String("port"))
	assert.True(t, p.Bool("debug", false))
	assert.True(t, p.Bool("missing", true))
	assert.Equal(t, 7, p.Int("tags", 7))
	assert.Equal(t, []string{"a", "b", "c"}, p.Strings("tags"))
	assert.Equal(t, []string{"x", "2"}, p.Strings("list"))
	assert.Equal(t, []string{"n"}, p.Strings("names"))
	assert.Nil(t, p.Strings("missing"))
	assert.Equal(t, "", p.String("missing"))

	var ratio float64
	require.NoError(t, p.Decode("ratio", &ratio))
	assert.InDelta(t, 0.5, ratio, 1e-9)
	require.ErrorIs(t, p.Decode("missing", &ratio), ErrResourceNotFound)
	require.ErrorIs(t, p.Decode("ratio", ratio), ErrTargetNotPointer)

	v, ok := p.Get("debug")
	require.True(t, ok)
	assert.Equal(t, "true", v)
}

func TestStatusProvider(t *testing.T) {
	p := NewListStatusProvider(nil, []string{"b"})
	assert.False(t, p.IsDisabled("a"))
	assert.True(t, p.IsDisabled("b"))

	require.NoError(t, p.Disable("a"))
	assert.True(t, p.IsDisabled("a"))
	require.NoError(t, p.Enable("b"))
	assert.False(t, p.IsDisabled("b"))

	white := NewListStatusProvider([]string{"a"}, nil)
	assert.False(t, white.IsDisabled("a"))
	assert.True(t, white.IsDisabled("c"))
	require.NoError(t, white.Enable("c"))
	assert.False(t, white.IsDisabled("c"))
	require.NoError(t, white.Disable("a"))
	assert.True(t, white.IsDisabled("a"))
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	factory := func(*Descriptor) (Module, error) { return &testModule{journal: &journal{}}, nil }
	require.NoError(t, c.RegisterModule("b.entry", factory))
	require.NoError(t, c.RegisterModule("a.entry", factory))
	require.ErrorIs(t, c.RegisterModule("a.entry", factory), ErrEntryPointExists)
	require.ErrorIs(t, c.RegisterModule("nil.entry", nil), ErrEntryPointUnknown)
	assert.Equal(t, []string{"a.entry", "b.entry"}, c.EntryPoints())

	m, err := c.NewModule(&Descriptor{ID: "a", EntryPoint: "a.entry"})
	require.NoError(t, err)
	assert.NotNil(t, m)
	_, err = c.NewModule(&Descriptor{ID: "z", EntryPoint: "z.entry"})
	require.ErrorIs(t, err, ErrEntryPointUnknown)

	ext := func(*Context) (any, error) { return 1, nil }
	require.NoError(t, c.RegisterExtension("x", ext))
	require.ErrorIs(t, c.RegisterExtension("x", ext), ErrExtensionFactoryExists)
	_, ok := c.ExtensionFactory("x")
	assert.True(t, ok)
	_, ok = c.ExtensionFactory("y")
	assert.False(t, ok)
}
