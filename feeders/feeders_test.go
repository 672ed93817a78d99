package feeders

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type retryConfig struct {
	Schedule string        `yaml:"schedule" toml:"schedule" env:"SCHEDULE"`
	Interval time.Duration `yaml:"interval" toml:"interval" env:"INTERVAL"`
	Attempts uint64        `yaml:"attempts" toml:"attempts" env:"ATTEMPTS"`
}

type testConfig struct {
	Addr     string      `yaml:"addr" toml:"addr" env:"ADDR"`
	Watch    bool        `yaml:"watch" toml:"watch" env:"WATCH"`
	Disabled []string    `yaml:"disabled" toml:"disabled" env:"DISABLED"`
	Retry    retryConfig `yaml:"retry" toml:"retry" env:"RETRY"`
	Port     *int        `yaml:"port" toml:"port" env:"PORT"`
	internal string
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestYAMLFeeder(t *testing.T) {
	path := writeFile(t, "host.yaml", `
addr: ":9090"
watch: true
disabled: [billing]
retry:
  schedule: "@every 5s"
  interval: 2s
`)
	var cfg testConfig
	require.NoError(t, NewYAMLFeeder(path).Feed(&cfg))
	assert.Equal(t, ":9090", cfg.Addr)
	assert.True(t, cfg.Watch)
	assert.Equal(t, []string{"billing"}, cfg.Disabled)
	assert.Equal(t, "@every 5s", cfg.Retry.Schedule)
	assert.Equal(t, 2*time.Second, cfg.Retry.Interval)
}

func TestYAMLFeeder_UnknownKey(t *testing.T) {
	path := writeFile(t, "host.yaml", "adr: x\n")
	var cfg testConfig
	require.Error(t, NewYAMLFeeder(path).Feed(&cfg))
}

func TestTOMLFeeder(t *testing.T) {
	path := writeFile(t, "host.toml", `
addr = ":7070"
disabled = ["a", "b"]

[retry]
schedule = "@hourly"
attempts = 4
`)
	var cfg testConfig
	require.NoError(t, NewTOMLFeeder(path).Feed(&cfg))
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, []string{"a", "b"}, cfg.Disabled)
	assert.Equal(t, "@hourly", cfg.Retry.Schedule)
	assert.Equal(t, uint64(4), cfg.Retry.Attempts)
}

func TestTOMLFeeder_UnknownKey(t *testing.T) {
	path := writeFile(t, "host.toml", "adr = \"x\"\n")
	var cfg testConfig
	require.Error(t, NewTOMLFeeder(path).Feed(&cfg))
}

func TestEnvFeeder(t *testing.T) {
	t.Setenv("MODHOST_ADDR", ":6060")
	t.Setenv("MODHOST_WATCH", "true")
	t.Setenv("MODHOST_DISABLED", "billing, audit,")
	t.Setenv("MODHOST_RETRY_INTERVAL", "1m")
	t.Setenv("MODHOST_RETRY_ATTEMPTS", "7")
	t.Setenv("MODHOST_PORT", "8081")
	t.Setenv("MODHOST_RETRY_SCHEDULE", "")

	cfg := testConfig{Retry: retryConfig{Schedule: "kept"}}
	require.NoError(t, NewEnvFeeder("modhost").Feed(&cfg))
	assert.Equal(t, ":6060", cfg.Addr)
	assert.True(t, cfg.Watch)
	assert.Equal(t, []string{"billing", "audit"}, cfg.Disabled)
	assert.Equal(t, time.Minute, cfg.Retry.Interval)
	assert.Equal(t, uint64(7), cfg.Retry.Attempts)
	assert.Equal(t, "kept", cfg.Retry.Schedule, "empty variables are ignored")
	require.NotNil(t, cfg.Port)
	assert.Equal(t, 8081, *cfg.Port)
}

func TestEnvFeeder_BadValue(t *testing.T) {
	t.Setenv("X_RETRY_INTERVAL", "soon")
	var cfg testConfig
	err := NewEnvFeeder("x").Feed(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "X_RETRY_INTERVAL")
}

func TestEnvFeeder_InvalidTarget(t *testing.T) {
	var cfg testConfig
	require.ErrorIs(t, NewEnvFeeder("x").Feed(cfg), ErrInvalidStructure)
	require.ErrorIs(t, NewEnvFeeder("x").Feed(nil), ErrInvalidStructure)
	var nilCfg *testConfig
	require.ErrorIs(t, NewEnvFeeder("x").Feed(nilCfg), ErrInvalidStructure)
}

func TestDotEnvFeeder(t *testing.T) {
	path := writeFile(t, "host.env", `
# comment
export APP_ADDR=":5050"
APP_RETRY_SCHEDULE='@every 1m'
APP_WATCH=true
`)
	t.Setenv("APP_WATCH", "false")

	var cfg testConfig
	require.NoError(t, NewDotEnvFeeder(path, "app").Feed(&cfg))
	assert.Equal(t, ":5050", cfg.Addr)
	assert.Equal(t, "@every 1m", cfg.Retry.Schedule)
	assert.False(t, cfg.Watch, "process environment wins over the file")
}

func TestDotEnvFeeder_InvalidLine(t *testing.T) {
	path := writeFile(t, "bad.env", "JUSTAKEY\n")
	var cfg testConfig
	require.ErrorIs(t, NewDotEnvFeeder(path, "").Feed(&cfg), ErrInvalidLine)
}

func TestForFile(t *testing.T) {
	for name, want := range map[string]Feeder{
		"a.yaml": YAMLFeeder{Path: "a.yaml"},
		"a.YML":  YAMLFeeder{Path: "a.YML"},
		"a.toml": TOMLFeeder{Path: "a.toml"},
		"a.env":  DotEnvFeeder{Path: "a.env"},
	} {
		got, err := ForFile(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ForFile("a.ini")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
