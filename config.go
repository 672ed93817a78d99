package modhost

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

const (
	tagDefault  = "default"
	tagRequired = "required"
)

// Repository kinds accepted in ConfigRepoConfig.Kind.
const (
	ConfigRepoNone  = "none"
	ConfigRepoFile  = "file"
	ConfigRepoSQL   = "sql"
	ConfigRepoRedis = "redis"
)

// ErrInvalidHostConfig is returned by HostConfig.Validate.
var ErrInvalidHostConfig = errors.New("invalid host configuration")

// ConfigFeeder populates a configuration struct. The feeders package has
// implementations for YAML, TOML, .env files and the environment.
type ConfigFeeder interface {
	Feed(target any) error
}

// ConfigValidator is implemented by configuration structs that check
// themselves after defaults are applied.
type ConfigValidator interface {
	Validate() error
}

// ConfigRepoConfig selects where per-module properties are stored.
type ConfigRepoConfig struct {
	Kind string `yaml:"kind" toml:"kind" env:"KIND" default:"file"`

	// Dir is used by the file repository.
	Dir string `yaml:"dir" toml:"dir" env:"DIR" default:"config"`

	// Driver and DSN are used by the SQL repository.
	Driver string `yaml:"driver" toml:"driver" env:"DRIVER" default:"sqlite3"`
	DSN    string `yaml:"dsn" toml:"dsn" env:"DSN" default:"modhost.db"`
	Table  string `yaml:"table" toml:"table" env:"TABLE" default:"module_properties"`

	// RedisURL and Prefix are used by the Redis repository.
	RedisURL string `yaml:"redis_url" toml:"redis_url" env:"REDIS_URL" default:"redis://localhost:6379/0"`
	Prefix   string `yaml:"prefix" toml:"prefix" env:"PREFIX" default:"modhost:config:"`
}

// HostConfig is the configuration of the modhost binary.
type HostConfig struct {
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr" env:"LISTEN_ADDR" default:":8080"`
	ModulesDir string `yaml:"modules_dir" toml:"modules_dir" env:"MODULES_DIR" default:"modules" required:"true"`
	AdminPath  string `yaml:"admin_path" toml:"admin_path" env:"ADMIN_PATH" default:"/admin"`
	LogLevel   string `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL" default:"info"`

	// ManualStart leaves loaded modules CREATED until started through the
	// admin API.
	ManualStart bool `yaml:"manual_start" toml:"manual_start" env:"MANUAL_START"`

	// Watch reloads modules whose descriptor changes on disk.
	Watch bool `yaml:"watch" toml:"watch" env:"WATCH"`

	Enabled  []string `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Disabled []string `yaml:"disabled" toml:"disabled" env:"DISABLED"`

	ExcludeCapabilities []string       `yaml:"exclude_capabilities" toml:"exclude_capabilities" env:"EXCLUDE_CAPABILITIES" default:"metrics.exporter,security.filter,management.endpoints,admin.api,error.handler,http.server"`
	LoadPolicy          LoadPolicy     `yaml:"load_policy" toml:"load_policy"`
	Properties          map[string]any `yaml:"properties" toml:"properties"`

	// DisableModuleConfig stops module properties from being read from the
	// configuration repository.
	DisableModuleConfig bool `yaml:"disable_module_config" toml:"disable_module_config" env:"DISABLE_MODULE_CONFIG"`

	ConfigRepo ConfigRepoConfig `yaml:"config_repo" toml:"config_repo" env:"CONFIG_REPO"`
	Supervisor SupervisorConfig `yaml:"supervisor" toml:"supervisor" env:"SUPERVISOR"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Validate checks values that struct tags cannot express.
func (c *HostConfig) Validate() error {
	switch c.ConfigRepo.Kind {
	case ConfigRepoNone, ConfigRepoFile, ConfigRepoSQL, ConfigRepoRedis:
	default:
		return fmt.Errorf("%w: unknown config_repo.kind %q", ErrInvalidHostConfig, c.ConfigRepo.Kind)
	}
	if !strings.HasPrefix(c.AdminPath, "/") {
		return fmt.Errorf("%w: admin_path must start with /", ErrInvalidHostConfig)
	}
	if overlap := slices.DeleteFunc(slices.Clone(c.Enabled), func(id string) bool {
		return !slices.Contains(c.Disabled, id)
	}); len(overlap) > 0 {
		return fmt.Errorf("%w: modules both enabled and disabled: %v", ErrInvalidHostConfig, overlap)
	}
	return nil
}

// BootstrapPolicy derives the context bootstrap policy.
func (c *HostConfig) BootstrapPolicy() BootstrapPolicy {
	return BootstrapPolicy{
		ExcludeCapabilities: slices.Clone(c.ExcludeCapabilities),
		LoadPolicy:          c.LoadPolicy,
		PresetProperties:    c.Properties,
		ModuleConfigEnabled: !c.DisableModuleConfig,
	}
}

// LoadHostConfig applies the feeders in order, then defaults, then
// validation.
func LoadHostConfig(feeders ...ConfigFeeder) (*HostConfig, error) {
	cfg := &HostConfig{}
	if err := LoadConfig(cfg, feeders...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig feeds cfg, applies `default` tags to fields still zero,
// checks `required` tags and finally calls Validate if cfg implements
// ConfigValidator.
func LoadConfig(cfg any, feeders ...ConfigFeeder) error {
	for _, f := range feeders {
		if err := f.Feed(cfg); err != nil {
			return fmt.Errorf("feeding config: %w", err)
		}
	}
	if err := ProcessConfigDefaults(cfg); err != nil {
		return err
	}
	if err := ValidateConfigRequired(cfg); err != nil {
		return err
	}
	if v, ok := cfg.(ConfigValidator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}
	}
	return nil
}

func structValue(cfg any) (reflect.Value, error) {
	v := reflect.ValueOf(cfg)
	if !v.IsValid() || v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w, got %T", ErrConfigNotPointer, cfg)
	}
	return v.Elem(), nil
}

// ProcessConfigDefaults sets fields tagged `default:"..."` that are still
// zero. Slices take a comma-separated list. A bool default can only turn a
// field on, so bool options are phrased so that false is the default.
func ProcessConfigDefaults(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	return processStructDefaults(v)
}

func processStructDefaults(v reflect.Value) error {
	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		sf := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := processStructDefaults(field); err != nil {
				return err
			}
			continue
		}
		def, ok := sf.Tag.Lookup(tagDefault)
		if !ok || !field.IsZero() {
			continue
		}
		if err := setDefaultValue(field, def); err != nil {
			return fmt.Errorf("failed to set default value for %s: %w", sf.Name, err)
		}
	}
	return nil
}

func setDefaultValue(field reflect.Value, def string) error {
	switch {
	case field.Type() == reflect.TypeOf(time.Duration(0)):
		d, err := time.ParseDuration(def)
		if err != nil {
			return fmt.Errorf("failed to parse duration value: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	case field.Kind() == reflect.Slice:
		parts := strings.Split(def, ",")
		out := reflect.MakeSlice(field.Type(), 0, len(parts))
		for _, p := range parts {
			ev, err := castValue(strings.TrimSpace(p), field.Type().Elem())
			if err != nil {
				return err
			}
			out = reflect.Append(out, ev)
		}
		field.Set(out)
		return nil
	case field.Kind() == reflect.Map, field.Kind() == reflect.Pointer,
		field.Kind() == reflect.Interface, field.Kind() == reflect.Struct:
		return fmt.Errorf("%w: %s", ErrUnsupportedTypeForDefault, field.Kind())
	}
	v, err := castValue(def, field.Type())
	if err != nil {
		return err
	}
	field.Set(v)
	return nil
}

func castValue(s string, t reflect.Type) (reflect.Value, error) {
	converted, err := cast.FromType(s, t)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %s: %w", ErrUnsupportedTypeForDefault, t, err)
	}
	return reflect.ValueOf(converted).Convert(t), nil
}

// ValidateConfigRequired checks that fields tagged `required:"true"` are set.
func ValidateConfigRequired(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	var missing []string
	validateRequiredFields(v, "", &missing)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigRequiredFieldMissing, strings.Join(missing, ", "))
	}
	return nil
}

func validateRequiredFields(v reflect.Value, prefix string, missing *[]string) {
	t := v.Type()
	for i := range v.NumField() {
		field := v.Field(i)
		sf := t.Field(i)
		if !field.CanSet() {
			continue
		}
		name := sf.Name
		if prefix != "" {
			name = prefix + "." + name
		}
		if field.Kind() == reflect.Struct {
			validateRequiredFields(field, name, missing)
			continue
		}
		if sf.Tag.Get(tagRequired) == "true" && field.IsZero() {
			*missing = append(*missing, name)
		}
	}
}

// SampleConfig renders cfg's type with its defaults applied, for the
// "config sample" command.
func SampleConfig(cfg any, format string) ([]byte, error) {
	if _, err := structValue(cfg); err != nil {
		return nil, err
	}
	sample := reflect.New(reflect.TypeOf(cfg).Elem()).Interface()
	if err := ProcessConfigDefaults(sample); err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "yaml", "yml":
		data, err := yaml.Marshal(sample)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		return data, nil
	case "toml":
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(sample); err != nil {
			return nil, fmt.Errorf("failed to marshal to TOML: %w", err)
		}
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfigFormat, format)
	}
}
