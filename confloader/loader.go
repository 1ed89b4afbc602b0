// Package confloader loads segmap.MapConfig values from a YAML file, the
// environment and in-memory overrides.
//
// Sources are applied in order, later ones overriding earlier ones:
//  1. segmap.DefaultConfig
//  2. configuration file (YAML)
//  3. environment variables
//  4. maps passed to LoadMap, typically command-line flags
package confloader

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/llxisdsh/segmap"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "SEGMAP_"

// Loader loads a map configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	path      string
	overrides []map[string]any
	logger    hclog.Logger
}

// Option is a function that configures the Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithPath nests the map configuration under a key path, such as "cache"
// or "sessions.index", so it can live inside a larger file. Environment
// variables are not nested: SEGMAP_FILL_FACTOR still sets fill_factor.
func WithPath(path string) Option {
	return func(l *Loader) {
		l.path = path
	}
}

// WithLogger sets the logger used to report loaded sources.
func WithLogger(logger hclog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads every configured source and returns the validated result.
// Keys absent from all sources keep their segmap.DefaultConfig value.
func (l *Loader) Load() (segmap.MapConfig, error) {
	if l.filePath != "" {
		if err := l.LoadFile(l.filePath); err != nil {
			return segmap.MapConfig{}, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.LoadEnv(); err != nil {
		return segmap.MapConfig{}, err
	}
	for _, data := range l.overrides {
		if err := l.k.Load(mapProvider(data), nil); err != nil {
			return segmap.MapConfig{}, fmt.Errorf("load overrides: %w", err)
		}
	}

	cfg := segmap.DefaultConfig()
	if err := l.Unmarshal(&cfg); err != nil {
		return segmap.MapConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return segmap.MapConfig{}, fmt.Errorf("validate config: %w", err)
	}
	l.logger.Debug("map config loaded",
		"file", l.filePath,
		"expected_items", cfg.ExpectedItems,
		"concurrency_level", cfg.ConcurrencyLevel,
		"auto_shrink", cfg.AutoShrink)
	return cfg, nil
}

// LoadFile loads configuration from a YAML file.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads configuration from environment variables.
// SEGMAP_EXPECTED_ITEMS=4096 sets expected_items.
func (l *Loader) LoadEnv() error {
	transform := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
		return l.key(s)
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap queues values that override every other source. Keys are field
// names such as "fill_factor", relative to the configured path.
func (l *Loader) LoadMap(data map[string]any) {
	nested := make(map[string]any, len(data))
	for k, v := range data {
		nested[l.key(k)] = v
	}
	l.overrides = append(l.overrides, nested)
}

// Unmarshal decodes the values loaded so far into cfg. Fields without a
// loaded value are left untouched.
func (l *Loader) Unmarshal(cfg *segmap.MapConfig) error {
	return l.k.Unmarshal(l.path, cfg)
}

// Keys returns all loaded configuration keys.
func (l *Loader) Keys() []string {
	return l.k.Keys()
}

func (l *Loader) key(field string) string {
	if l.path == "" {
		return field
	}
	return l.path + "." + field
}
