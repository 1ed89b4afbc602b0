// Package stress drives concurrent workloads against segmap maps.
package stress

import (
	"errors"
	"fmt"
)

// KeyType selects the map variant under test.
type KeyType string

const (
	// KeyLong runs against a LongMap.
	KeyLong KeyType = "long"
	// KeyString runs against a Map[string, V] keyed by ULID strings.
	KeyString KeyType = "string"
)

// ErrInvalidConfig is wrapped by every Config validation error.
var ErrInvalidConfig = errors.New("stress: invalid config")

// Config describes a workload. Every worker owns a disjoint range of
// KeysPerWorker keys, so a finished insert-only run holds exactly
// Workers*KeysPerWorker entries.
type Config struct {
	Workers       int
	KeysPerWorker int
	// Ops is the number of operations per worker.
	Ops int
	// ReadRatio is the fraction of operations that are reads. The rest are
	// split evenly between puts and removes.
	ReadRatio float64
	KeyType   KeyType
	// Rate caps the operations per second over all workers. Zero means
	// unlimited.
	Rate float64
	// Seed makes the operation sequence reproducible.
	Seed uint64
}

// DefaultConfig returns a small read-heavy workload.
func DefaultConfig() Config {
	return Config{
		Workers:       8,
		KeysPerWorker: 10_000,
		Ops:           100_000,
		ReadRatio:     0.9,
		KeyType:       KeyLong,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	case c.KeysPerWorker <= 0:
		return fmt.Errorf("%w: keys per worker must be positive, got %d", ErrInvalidConfig, c.KeysPerWorker)
	case c.Ops < 0:
		return fmt.Errorf("%w: ops must not be negative, got %d", ErrInvalidConfig, c.Ops)
	case c.ReadRatio < 0 || c.ReadRatio > 1:
		return fmt.Errorf("%w: read ratio must be in [0, 1], got %v", ErrInvalidConfig, c.ReadRatio)
	case c.KeyType != KeyLong && c.KeyType != KeyString:
		return fmt.Errorf("%w: unknown key type %q", ErrInvalidConfig, c.KeyType)
	case c.Rate < 0:
		return fmt.Errorf("%w: rate must not be negative, got %v", ErrInvalidConfig, c.Rate)
	}
	return nil
}

func (c Config) totalKeys() int {
	return c.Workers * c.KeysPerWorker
}
