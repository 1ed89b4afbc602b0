package segmap

import (
	"errors"
	"fmt"
	"math/bits"
	"reflect"

	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultExpectedItems is the number of entries a map is pre-sized for.
	DefaultExpectedItems = 256
	// DefaultConcurrencyLevel is the default number of sections.
	DefaultConcurrencyLevel = 16
	// DefaultFillFactor is the fraction of used buckets that triggers growth.
	DefaultFillFactor = 0.66
	// DefaultIdleFactor is the fraction of live entries below which an
	// auto-shrinking section shrinks.
	DefaultIdleFactor = 0.15
	// DefaultExpandFactor multiplies the capacity of a growing section.
	DefaultExpandFactor = 2
	// DefaultShrinkFactor divides the capacity of a shrinking section.
	DefaultShrinkFactor = 2
)

var (
	// ErrInvalidArgument is wrapped by every configuration error and by the
	// panics raised for nil values.
	ErrInvalidArgument = errors.New("segmap: invalid argument")
	// ErrNoValueEqual is raised by RemoveValue when the value type is not
	// comparable and no WithValueEqual function was configured.
	ErrNoValueEqual = errors.New("segmap: no equality for value type")
)

// MapConfig defines configurable map options.
//
// The exported fields carry koanf tags so a MapConfig can be loaded from a
// file or the environment; see package confloader.
type MapConfig struct {
	ExpectedItems    int     `koanf:"expected_items"`
	ConcurrencyLevel int     `koanf:"concurrency_level"`
	FillFactor       float64 `koanf:"fill_factor"`
	IdleFactor       float64 `koanf:"idle_factor"`
	ExpandFactor     float64 `koanf:"expand_factor"`
	ShrinkFactor     float64 `koanf:"shrink_factor"`
	AutoShrink       bool    `koanf:"auto_shrink"`

	logger   hclog.Logger
	valEqual any // func(V, V) bool
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() MapConfig {
	return MapConfig{
		ExpectedItems:    DefaultExpectedItems,
		ConcurrencyLevel: DefaultConcurrencyLevel,
		FillFactor:       DefaultFillFactor,
		IdleFactor:       DefaultIdleFactor,
		ExpandFactor:     DefaultExpandFactor,
		ShrinkFactor:     DefaultShrinkFactor,
	}
}

// Validate reports the first invalid parameter. The returned error wraps
// ErrInvalidArgument.
func (c *MapConfig) Validate() error {
	switch {
	case c.ExpectedItems <= 0:
		return fmt.Errorf("%w: expected items must be positive, got %d",
			ErrInvalidArgument, c.ExpectedItems)
	case c.ConcurrencyLevel <= 0:
		return fmt.Errorf("%w: concurrency level must be positive, got %d",
			ErrInvalidArgument, c.ConcurrencyLevel)
	case c.ExpectedItems < c.ConcurrencyLevel:
		return fmt.Errorf("%w: expected items (%d) must not be less than concurrency level (%d)",
			ErrInvalidArgument, c.ExpectedItems, c.ConcurrencyLevel)
	case !(c.FillFactor > 0 && c.FillFactor < 1):
		return fmt.Errorf("%w: fill factor must be in (0, 1), got %v",
			ErrInvalidArgument, c.FillFactor)
	case !(c.IdleFactor > 0 && c.IdleFactor < 1):
		return fmt.Errorf("%w: idle factor must be in (0, 1), got %v",
			ErrInvalidArgument, c.IdleFactor)
	case c.FillFactor <= c.IdleFactor:
		return fmt.Errorf("%w: fill factor (%v) must be greater than idle factor (%v)",
			ErrInvalidArgument, c.FillFactor, c.IdleFactor)
	case !(c.ExpandFactor > 1):
		return fmt.Errorf("%w: expand factor must be greater than 1, got %v",
			ErrInvalidArgument, c.ExpandFactor)
	case !(c.ShrinkFactor > 1):
		return fmt.Errorf("%w: shrink factor must be greater than 1, got %v",
			ErrInvalidArgument, c.ShrinkFactor)
	}
	return nil
}

// sectionCount is the concurrency level rounded up to a power of two.
func (c *MapConfig) sectionCount() int {
	return nextPowOf2(c.ConcurrencyLevel)
}

// sectionCapacity is the initial (and minimum auto-shrink) capacity of
// every section.
func (c *MapConfig) sectionCapacity() int {
	perSection := c.ExpectedItems / c.sectionCount()
	return nextPowOf2(int(float64(perSection) / c.FillFactor))
}

// WithExpectedItems pre-sizes the map for n entries.
func WithExpectedItems(n int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.ExpectedItems = n
	}
}

// WithConcurrencyLevel sets the number of independently locked sections.
// The value is rounded up to a power of two.
func WithConcurrencyLevel(n int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.ConcurrencyLevel = n
	}
}

// WithFillFactor sets the fraction of used buckets (live entries plus
// tombstones) above which a section grows.
func WithFillFactor(f float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.FillFactor = f
	}
}

// WithIdleFactor sets the fraction of live entries below which an
// auto-shrinking section shrinks.
func WithIdleFactor(f float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.IdleFactor = f
	}
}

// WithExpandFactor sets the capacity multiplier applied on growth.
func WithExpandFactor(f float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.ExpandFactor = f
	}
}

// WithShrinkFactor sets the capacity divisor applied on shrink.
func WithShrinkFactor(f float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.ShrinkFactor = f
	}
}

// WithAutoShrink lets sections shrink back toward their initial capacity
// when entries are removed. Disabled by default.
func WithAutoShrink() func(*MapConfig) {
	return func(c *MapConfig) {
		c.AutoShrink = true
	}
}

// WithConfig replaces every exported field with the ones in cfg, typically
// a configuration produced by confloader. Options applied later still win.
func WithConfig(cfg MapConfig) func(*MapConfig) {
	return func(c *MapConfig) {
		c.ExpectedItems = cfg.ExpectedItems
		c.ConcurrencyLevel = cfg.ConcurrencyLevel
		c.FillFactor = cfg.FillFactor
		c.IdleFactor = cfg.IdleFactor
		c.ExpandFactor = cfg.ExpandFactor
		c.ShrinkFactor = cfg.ShrinkFactor
		c.AutoShrink = cfg.AutoShrink
	}
}

// WithLogger sets the logger that receives section resize events at trace
// level. The default discards everything.
func WithLogger(logger hclog.Logger) func(*MapConfig) {
	return func(c *MapConfig) {
		c.logger = logger
	}
}

// WithValueEqual sets the value equality used by RemoveValue. It is needed
// when V is not comparable, or when V is an interface type whose dynamic
// values may not be. The function's V must match the map's.
func WithValueEqual[V any](equal func(a, b V) bool) func(*MapConfig) {
	return func(c *MapConfig) {
		c.valEqual = equal
	}
}

func newConfig(options []func(*MapConfig)) MapConfig {
	cfg := DefaultConfig()
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = hclog.NewNullLogger()
	}
	return cfg
}

// resolveValueEqual returns the configured equality for V, the built-in ==
// when V is comparable, or nil.
func resolveValueEqual[V any](configured any) (func(a, b V) bool, error) {
	if configured != nil {
		equal, ok := configured.(func(a, b V) bool)
		if !ok {
			return nil, fmt.Errorf("%w: value equality is %T, want %T",
				ErrInvalidArgument, configured, (func(a, b V) bool)(nil))
		}
		return equal, nil
	}
	if reflect.TypeFor[V]().Comparable() {
		return func(a, b V) bool { return any(a) == any(b) }, nil
	}
	return nil, nil
}

func isInterface[V any]() bool {
	return reflect.TypeFor[V]().Kind() == reflect.Interface
}

// isComparableValue reports whether the dynamic type of v supports ==.
func isComparableValue(v any) bool {
	return v == nil || reflect.TypeOf(v).Comparable()
}

// isNillable reports whether values of type V can be nil.
func isNillable[V any]() bool {
	switch reflect.TypeFor[V]().Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func,
		reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return true
	}
	return false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func,
		reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}

// nextPowOf2 calculates the smallest power of 2 that is greater than or equal to n.
// Compatible with both 32-bit and 64-bit systems.
func nextPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
