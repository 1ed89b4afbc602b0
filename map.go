// Package segmap provides segmented open-addressing concurrent hash maps.
//
// A map is split into a power-of-two number of sections. Each section is an
// independently locked hash table that stores keys and values inline in a
// single slice of cells and resolves collisions by linear probing, so no
// node is allocated per entry. The high bits of a key's mixed hash select
// the section and the low bits select the home bucket inside it.
//
// Reads are lock-free in the common case: a reader copies cells under a
// per-section sequence stamp and falls back to the section read lock only
// when a writer interferes. Writers take the section write lock. Different
// sections never contend with each other.
//
// Two variants share the same engine:
//   - LongMap[V] is keyed by int64 and hashes the key bits directly.
//   - Map[K, V] is keyed by any type, hashed either by the runtime
//     (NewMap), by the key itself (NewHashableMap) or by a Hasher
//     (NewMapWithHasher).
package segmap

import (
	"fmt"
	"hash/maphash"
	"iter"
)

// Map is a concurrent hash map made of independently locked sections.
//
// Whole-map operations (Size, Capacity, ForEach, Keys, Values, RemoveIf,
// Clear) visit the sections one at a time and are not atomic snapshots of
// the map. Within one section ForEach observes every entry that stays
// present for the whole scan and no entry that stays absent for the whole
// scan.
//
// Callbacks passed to ForEach, Range, RemoveIf and ComputeIfAbsent may run
// while a section lock is held and must not modify the map.
type Map[K, V any] struct {
	sections    []*section[K, V]
	sectionMask uint64
	ops         *mapOps[K, V]
}

// LongMap is a Map keyed by int64. Key hashing involves no interface
// conversion and no allocation.
type LongMap[V any] = Map[int64, V]

// NewLongMap creates a map keyed by int64.
func NewLongMap[V any](options ...func(*MapConfig)) (*LongMap[V], error) {
	return newMap[int64, V](hashLong, equalLong, options)
}

// NewMap creates a map for comparable keys, hashed with the runtime hash
// function under a random per-map seed.
func NewMap[K comparable, V any](options ...func(*MapConfig)) (*Map[K, V], error) {
	return NewMapWithHasher[K, V](comparableHasher[K]{seed: maphash.MakeSeed()}, options...)
}

// NewHashableMap creates a map whose keys supply their own hash code and
// equality.
func NewHashableMap[K Hashable[K], V any](options ...func(*MapConfig)) (*Map[K, V], error) {
	return NewMapWithHasher[K, V](hashableHasher[K]{}, options...)
}

// NewMapWithHasher creates a map that hashes and compares keys with hasher.
func NewMapWithHasher[K, V any](hasher Hasher[K], options ...func(*MapConfig)) (*Map[K, V], error) {
	if hasher == nil {
		return nil, fmt.Errorf("%w: hasher must not be nil", ErrInvalidArgument)
	}
	return newMap[K, V](
		func(key K) uint64 { return mix(hasher.Hash(key)) },
		hasher.Equal,
		options,
	)
}

func newMap[K, V any](
	hash func(key K) uint64,
	equal func(a, b K) bool,
	options []func(*MapConfig),
) (*Map[K, V], error) {
	cfg := newConfig(options)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	valEqual, err := resolveValueEqual[V](cfg.valEqual)
	if err != nil {
		return nil, err
	}

	ops := &mapOps[K, V]{
		hash:         hash,
		equal:        equal,
		valEqual:     valEqual,
		valDynamic:   cfg.valEqual == nil && isInterface[V](),
		keyNillable:  isNillable[K](),
		valNillable:  isNillable[V](),
		fillFactor:   cfg.FillFactor,
		idleFactor:   cfg.IdleFactor,
		expandFactor: cfg.ExpandFactor,
		shrinkFactor: cfg.ShrinkFactor,
		autoShrink:   cfg.AutoShrink,
		log:          cfg.logger,
	}
	numSections := cfg.sectionCount()
	capacity := cfg.sectionCapacity()
	m := &Map[K, V]{
		sections:    make([]*section[K, V], numSections),
		sectionMask: uint64(numSections - 1),
		ops:         ops,
	}
	for i := range m.sections {
		m.sections[i] = newSection(i, capacity, ops)
	}
	ops.log.Debug("map created",
		"sections", numSections,
		"section_capacity", capacity,
		"auto_shrink", cfg.AutoShrink)
	return m, nil
}

func (m *Map[K, V]) sectionFor(h uint64) *section[K, V] {
	return m.sections[sectionIndex(h, m.sectionMask)]
}

// Get returns the value stored under key.
// It panics with ErrInvalidArgument if key is nil.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	m.ops.mustNotBeNilKey(key)
	h := m.ops.hash(key)
	return m.sectionFor(h).get(key, h)
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Put associates value with key and returns the previous value, if any.
// It panics with ErrInvalidArgument if key or value is nil.
func (m *Map[K, V]) Put(key K, value V) (previous V, loaded bool) {
	m.ops.mustNotBeNilKey(key)
	m.ops.mustNotBeNil(value, "value")
	h := m.ops.hash(key)
	previous, loaded = m.sectionFor(h).put(key, h, value, false, nil)
	if !loaded {
		var zero V
		return zero, false
	}
	return previous, true
}

// PutIfAbsent stores value only if key is absent. It returns the existing
// value and true when key was already present.
// It panics with ErrInvalidArgument if key or value is nil.
func (m *Map[K, V]) PutIfAbsent(key K, value V) (existing V, loaded bool) {
	m.ops.mustNotBeNilKey(key)
	m.ops.mustNotBeNil(value, "value")
	h := m.ops.hash(key)
	existing, loaded = m.sectionFor(h).put(key, h, value, true, nil)
	if !loaded {
		var zero V
		return zero, false
	}
	return existing, true
}

// ComputeIfAbsent returns the value stored under key, storing the result of
// producer first if key is absent. The producer runs at most once per
// absent key, even when several goroutines race on the same key, and it
// runs under the section write lock.
// It panics with ErrInvalidArgument if key or producer is nil, or if the
// producer returns nil.
func (m *Map[K, V]) ComputeIfAbsent(key K, producer func(key K) V) V {
	m.ops.mustNotBeNilKey(key)
	if producer == nil {
		panic(nilValueError("producer"))
	}
	h := m.ops.hash(key)
	var zero V
	actual, _ := m.sectionFor(h).put(key, h, zero, true, producer)
	return actual
}

// Remove deletes key and returns the value it held.
// It panics with ErrInvalidArgument if key is nil.
func (m *Map[K, V]) Remove(key K) (value V, ok bool) {
	m.ops.mustNotBeNilKey(key)
	h := m.ops.hash(key)
	var zero V
	return m.sectionFor(h).remove(key, h, zero, false)
}

// RemoveValue deletes key only if it currently maps to expected.
// It panics with ErrInvalidArgument if key or expected is nil, and with
// ErrNoValueEqual if V is not comparable and no WithValueEqual was given.
//
// When V is an interface type compared with ==, the dynamic type of
// expected must be comparable too. Values of different dynamic types are
// simply unequal.
func (m *Map[K, V]) RemoveValue(key K, expected V) bool {
	m.ops.mustNotBeNilKey(key)
	m.ops.mustNotBeNil(expected, "expected value")
	if m.ops.valEqual == nil {
		panic(fmt.Errorf("%w: use WithValueEqual", ErrNoValueEqual))
	}
	if m.ops.valDynamic && !isComparableValue(expected) {
		panic(fmt.Errorf("%w: %T values are not comparable, use WithValueEqual",
			ErrNoValueEqual, expected))
	}
	h := m.ops.hash(key)
	_, ok := m.sectionFor(h).remove(key, h, expected, true)
	return ok
}

// RemoveIf deletes every entry for which pred returns true and returns how
// many were deleted. Each section is processed under its write lock.
func (m *Map[K, V]) RemoveIf(pred func(key K, value V) bool) int {
	if pred == nil {
		panic(nilValueError("predicate"))
	}
	removed := 0
	for _, s := range m.sections {
		removed += s.removeIf(pred)
	}
	return removed
}

// Clear removes all entries.
func (m *Map[K, V]) Clear() {
	for _, s := range m.sections {
		s.clear()
	}
}

// ForEach calls fn for every entry.
func (m *Map[K, V]) ForEach(fn func(key K, value V)) {
	m.Range(func(key K, value V) bool {
		fn(key, value)
		return true
	})
}

// Range calls yield for every entry until yield returns false.
func (m *Map[K, V]) Range(yield func(key K, value V) bool) {
	for _, s := range m.sections {
		if !s.rangeEach(yield) {
			return
		}
	}
}

// All is the iterator version of Range.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return m.Range
}

// Keys returns a freshly allocated slice of all keys.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Size())
	m.ForEach(func(key K, _ V) {
		keys = append(keys, key)
	})
	return keys
}

// Values returns a freshly allocated slice of all values.
func (m *Map[K, V]) Values() []V {
	values := make([]V, 0, m.Size())
	m.ForEach(func(_ K, value V) {
		values = append(values, value)
	})
	return values
}

// Size returns the number of entries.
func (m *Map[K, V]) Size() int {
	size := 0
	for _, s := range m.sections {
		size += int(s.size.Load())
	}
	return size
}

// IsEmpty reports whether the map holds no entries.
func (m *Map[K, V]) IsEmpty() bool {
	for _, s := range m.sections {
		if s.size.Load() != 0 {
			return false
		}
	}
	return true
}

// Capacity returns the total number of buckets over all sections.
func (m *Map[K, V]) Capacity() int {
	capacity := 0
	for _, s := range m.sections {
		capacity += int(s.capacity.Load())
	}
	return capacity
}

// UsedBucketCount returns the number of buckets that are not empty, that is
// live entries plus tombstones.
func (m *Map[K, V]) UsedBucketCount() int {
	used := 0
	for _, s := range m.sections {
		used += int(s.usedBuckets.Load())
	}
	return used
}

// SectionCount returns the number of sections.
func (m *Map[K, V]) SectionCount() int {
	return len(m.sections)
}

// String returns a short description of the map.
func (m *Map[K, V]) String() string {
	return fmt.Sprintf("segmap.Map{sections: %d, size: %d, capacity: %d}",
		len(m.sections), m.Size(), m.Capacity())
}

func nilValueError(what string) error {
	return fmt.Errorf("%w: %s must not be nil", ErrInvalidArgument, what)
}
