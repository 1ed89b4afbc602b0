package stress

import (
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/llxisdsh/segmap"
)

// Target is a map under test, addressed by key index. Index i always maps
// to the same key, and the workload stores i itself as the value so reads
// can be checked.
type Target interface {
	Put(i uint64)
	Get(i uint64) (value uint64, ok bool)
	Remove(i uint64) bool
	Size() int
	Stats() *segmap.MapStats
}

// NewTarget builds the map variant selected by cfg.KeyType, sized for the
// whole key space unless options say otherwise.
func NewTarget(cfg Config, options ...func(*segmap.MapConfig)) (Target, error) {
	switch cfg.KeyType {
	case KeyLong:
		return NewLongTarget(options...)
	case KeyString:
		return NewStringTarget(cfg.totalKeys(), options...)
	}
	return nil, fmt.Errorf("%w: unknown key type %q", ErrInvalidConfig, cfg.KeyType)
}

type longTarget struct {
	m *segmap.LongMap[uint64]
}

// NewLongTarget returns a Target over a LongMap.
func NewLongTarget(options ...func(*segmap.MapConfig)) (Target, error) {
	m, err := segmap.NewLongMap[uint64](options...)
	if err != nil {
		return nil, err
	}
	return &longTarget{m: m}, nil
}

func (t *longTarget) Put(i uint64) { t.m.Put(int64(i), i) }

func (t *longTarget) Get(i uint64) (uint64, bool) { return t.m.Get(int64(i)) }

func (t *longTarget) Remove(i uint64) bool {
	_, ok := t.m.Remove(int64(i))
	return ok
}

func (t *longTarget) Size() int { return t.m.Size() }

func (t *longTarget) Stats() *segmap.MapStats { return t.m.Stats() }

type stringTarget struct {
	m    *segmap.Map[string, uint64]
	keys []string
}

// NewStringTarget returns a Target over a string-keyed Map using
// segmap.StringHasher. Its numKeys keys are distinct ULIDs generated up
// front.
func NewStringTarget(numKeys int, options ...func(*segmap.MapConfig)) (Target, error) {
	m, err := segmap.NewMapWithHasher[string, uint64](segmap.StringHasher{}, options...)
	if err != nil {
		return nil, err
	}
	keys := make([]string, numKeys)
	for i := range keys {
		// ulid.Make is monotonic within a process, so keys never repeat.
		keys[i] = ulid.Make().String()
	}
	return &stringTarget{m: m, keys: keys}, nil
}

func (t *stringTarget) Put(i uint64) { t.m.Put(t.keys[i], i) }

func (t *stringTarget) Get(i uint64) (uint64, bool) { return t.m.Get(t.keys[i]) }

func (t *stringTarget) Remove(i uint64) bool {
	_, ok := t.m.Remove(t.keys[i])
	return ok
}

func (t *stringTarget) Size() int { return t.m.Size() }

func (t *stringTarget) Stats() *segmap.MapStats { return t.m.Stats() }
