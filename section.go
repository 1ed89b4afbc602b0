package segmap

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hashicorp/go-hclog"
)

// cellState tags a bucket. The zero value is cellEmpty so a freshly
// allocated or cleared table needs no initialization.
type cellState uint8

const (
	cellEmpty cellState = iota
	cellOccupied
	// cellDeleted is a tombstone: probes continue past it, but it holds no
	// live entry.
	cellDeleted
)

// cell is one bucket of a section table. Keys and values are stored inline
// in a single interleaved slice; there is no per-entry allocation.
type cell[K, V any] struct {
	key   K
	value V
	state cellState
}

// sectionTable is the storage of a section. A table never changes length;
// a rehash builds and publishes a new one, and the old one is frozen from
// that point on.
type sectionTable[K, V any] struct {
	cells []cell[K, V]
	mask  int
}

func newSectionTable[K, V any](capacity int) *sectionTable[K, V] {
	return &sectionTable[K, V]{
		cells: make([]cell[K, V], capacity),
		mask:  capacity - 1,
	}
}

// mapOps is the per-map state shared by all of its sections.
type mapOps[K, V any] struct {
	hash         func(key K) uint64 // already mixed
	equal        func(a, b K) bool
	valEqual     func(a, b V) bool // nil when V has no equality
	valDynamic   bool              // V is an interface compared with ==
	keyNillable  bool
	valNillable  bool
	fillFactor   float64
	idleFactor   float64
	expandFactor float64
	shrinkFactor float64
	autoShrink   bool
	log          hclog.Logger
}

// section is an independently locked open-addressing hash table.
//
// Writers hold mu exclusively and keep seq odd while they mutate. Readers
// first try an optimistic pass: they copy cells without any lock and trust
// the copies only if seq is even and unchanged afterwards. On conflict they
// fall back to mu.RLock.
type section[K, V any] struct {
	//lint:ignore U1000 prevents false sharing
	pad [(CacheLineSize - unsafe.Sizeof(struct {
		mu                   sync.RWMutex
		seq                  atomic.Uint64
		table                unsafe.Pointer
		capacity             atomic.Int64
		size                 atomic.Int64
		usedBuckets          atomic.Int64
		growths              atomic.Uint32
		shrinks              atomic.Uint32
		initCapacity         int
		resizeThresholdUp    int
		resizeThresholdBelow int
		ops                  unsafe.Pointer
		index                int
	}{})%CacheLineSize) % CacheLineSize]byte

	mu          sync.RWMutex
	seq         atomic.Uint64
	table       atomic.Pointer[sectionTable[K, V]]
	capacity    atomic.Int64 // published after table
	size        atomic.Int64 // live entries
	usedBuckets atomic.Int64 // occupied + deleted cells
	growths     atomic.Uint32
	shrinks     atomic.Uint32

	// guarded by mu
	initCapacity         int
	resizeThresholdUp    int
	resizeThresholdBelow int

	ops   *mapOps[K, V]
	index int
}

func newSection[K, V any](index, capacity int, ops *mapOps[K, V]) *section[K, V] {
	s := &section[K, V]{
		initCapacity: capacity,
		ops:          ops,
		index:        index,
	}
	s.table.Store(newSectionTable[K, V](capacity))
	s.setCapacity(capacity)
	return s
}

// lock acquires the write lock and marks the section as being mutated.
func (s *section[K, V]) lock() {
	s.mu.Lock()
	s.seq.Add(1)
}

func (s *section[K, V]) unlock() {
	s.seq.Add(1)
	s.mu.Unlock()
}

// setCapacity must be called after the matching table is published.
func (s *section[K, V]) setCapacity(capacity int) {
	s.capacity.Store(int64(capacity))
	s.resizeThresholdUp = int(float64(capacity) * s.ops.fillFactor)
	s.resizeThresholdBelow = int(float64(capacity) * s.ops.idleFactor)
}

func (s *section[K, V]) get(key K, h uint64) (value V, ok bool) {
	if optimisticReads {
		if value, ok, valid := s.getOptimistic(key, h); valid {
			return value, ok
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.table.Load()
	for b := bucketOf(h, t.mask); ; b = (b + 1) & t.mask {
		c := &t.cells[b]
		switch c.state {
		case cellEmpty:
			return value, false
		case cellOccupied:
			if s.ops.equal(c.key, key) {
				return c.value, true
			}
		}
	}
}

// getOptimistic probes without locking. valid is false when a writer was
// active or intervened, in which case the result must be discarded.
func (s *section[K, V]) getOptimistic(key K, h uint64) (value V, ok, valid bool) {
	stamp := s.seq.Load()
	if stamp&1 != 0 {
		return value, false, false
	}
	t := s.table.Load()
	b := bucketOf(h, t.mask)
	for range len(t.cells) {
		c := t.cells[b]
		// Only compare keys once the copy is known to be consistent.
		if s.seq.Load() != stamp {
			return value, false, false
		}
		switch c.state {
		case cellEmpty:
			return value, false, true
		case cellOccupied:
			if s.ops.equal(c.key, key) {
				return c.value, true, true
			}
		}
		b = (b + 1) & t.mask
	}
	return value, false, false
}

// put stores value under key. With onlyIfAbsent an existing value is left
// untouched. With a non-nil compute the stored value is produced on demand,
// at most once, while the write lock is held.
//
// It returns the existing value and true when the key was present, or the
// newly stored value and false.
func (s *section[K, V]) put(
	key K,
	h uint64,
	value V,
	onlyIfAbsent bool,
	compute func(key K) V,
) (V, bool) {
	s.lock()
	defer s.unlock()
	defer s.growIfNeeded()

	t := s.table.Load()
	tombstone := -1
	for b := bucketOf(h, t.mask); ; b = (b + 1) & t.mask {
		c := &t.cells[b]
		switch c.state {
		case cellOccupied:
			if !s.ops.equal(c.key, key) {
				continue
			}
			old := c.value
			if !onlyIfAbsent {
				c.value = value
			}
			return old, true
		case cellDeleted:
			if tombstone < 0 {
				tombstone = b
			}
		case cellEmpty:
			if compute != nil {
				value = compute(key)
				s.ops.mustNotBeNil(value, "computed value")
			}
			if tombstone >= 0 {
				c = &t.cells[tombstone]
			} else {
				s.usedBuckets.Add(1)
			}
			c.key, c.value, c.state = key, value, cellOccupied
			s.size.Add(1)
			return value, false
		}
	}
}

// remove deletes key. With matchValue the entry is only removed when its
// value equals expected.
func (s *section[K, V]) remove(key K, h uint64, expected V, matchValue bool) (value V, ok bool) {
	s.lock()
	defer s.unlock()
	defer s.shrinkIfNeeded()

	t := s.table.Load()
	for b := bucketOf(h, t.mask); ; b = (b + 1) & t.mask {
		c := &t.cells[b]
		switch c.state {
		case cellEmpty:
			return value, false
		case cellOccupied:
			if !s.ops.equal(c.key, key) {
				continue
			}
			if matchValue && !s.ops.valEqual(c.value, expected) {
				return value, false
			}
			value = c.value
			s.size.Add(-1)
			s.vacate(t, b)
			return value, true
		}
	}
}

// removeIf deletes every entry matching pred in a single locked pass.
func (s *section[K, V]) removeIf(pred func(key K, value V) bool) int {
	s.lock()
	defer s.unlock()
	defer s.shrinkIfNeeded()

	t := s.table.Load()
	removed := 0
	for b := range t.cells {
		c := &t.cells[b]
		if c.state == cellOccupied && pred(c.key, c.value) {
			s.size.Add(-1)
			s.vacate(t, b)
			removed++
		}
	}
	return removed
}

// vacate turns the occupied cell b into a tombstone, or into an empty cell
// when its successor is empty. In the latter case the run of tombstones
// right before b no longer guards any probe chain and is emptied too.
func (s *section[K, V]) vacate(t *sectionTable[K, V], b int) {
	if t.cells[(b+1)&t.mask].state != cellEmpty {
		t.cells[b] = cell[K, V]{state: cellDeleted}
		return
	}
	t.cells[b] = cell[K, V]{}
	freed := 1
	for p := (b - 1) & t.mask; t.cells[p].state == cellDeleted; p = (p - 1) & t.mask {
		t.cells[p] = cell[K, V]{}
		freed++
	}
	s.usedBuckets.Add(int64(-freed))
}

func (s *section[K, V]) clear() {
	s.lock()
	defer s.unlock()

	if s.ops.autoShrink && int(s.capacity.Load()) > s.initCapacity {
		from := int(s.capacity.Load())
		s.table.Store(newSectionTable[K, V](s.initCapacity))
		s.size.Store(0)
		s.usedBuckets.Store(0)
		s.setCapacity(s.initCapacity)
		s.shrinks.Add(1)
		s.logResize("section cleared to initial capacity", from, s.initCapacity)
		return
	}
	clear(s.table.Load().cells)
	s.size.Store(0)
	s.usedBuckets.Store(0)
}

func (s *section[K, V]) growIfNeeded() {
	if int(s.usedBuckets.Load()) <= s.resizeThresholdUp {
		return
	}
	capacity := int(s.capacity.Load())
	// Factors close to 1 round back to the current power of two.
	s.rehash(max(nextPowOf2(int(float64(capacity)*s.ops.expandFactor)), capacity<<1))
	s.growths.Add(1)
	s.logResize("section grown", capacity, int(s.capacity.Load()))
}

// shrinkIfNeeded shrinks only when the smaller table would still hold the
// current entries below its own growth threshold, so alternating inserts
// and removals at the boundary do not resize back and forth.
func (s *section[K, V]) shrinkIfNeeded() {
	if !s.ops.autoShrink {
		return
	}
	size := int(s.size.Load())
	if size >= s.resizeThresholdBelow {
		return
	}
	capacity := int(s.capacity.Load())
	newCapacity := nextPowOf2(int(float64(capacity) / s.ops.shrinkFactor))
	if newCapacity >= capacity {
		newCapacity = capacity >> 1
	}
	newCapacity = max(newCapacity, s.initCapacity)
	if newCapacity < capacity && int(float64(newCapacity)*s.ops.fillFactor) > size {
		s.rehash(newCapacity)
		s.shrinks.Add(1)
		s.logResize("section shrunk", capacity, newCapacity)
	}
}

// rehash rebuilds the section at newCapacity, dropping every tombstone.
// Must be called with the write lock held.
func (s *section[K, V]) rehash(newCapacity int) {
	old := s.table.Load()
	t := newSectionTable[K, V](newCapacity)
	for i := range old.cells {
		c := &old.cells[i]
		if c.state != cellOccupied {
			continue
		}
		b := bucketOf(s.ops.hash(c.key), t.mask)
		for t.cells[b].state != cellEmpty {
			b = (b + 1) & t.mask
		}
		t.cells[b] = *c
	}
	s.table.Store(t)
	s.usedBuckets.Store(s.size.Load())
	s.setCapacity(newCapacity)
}

// rangeEach calls yield for every live entry. The scan is weakly
// consistent: it starts optimistically and, on the first conflicting write,
// takes the read lock for the rest of the table it started on. If that
// table has been replaced by a rehash in the meantime it is frozen, so the
// remaining cells still reflect a state the section went through.
func (s *section[K, V]) rangeEach(yield func(key K, value V) bool) bool {
	locked := false
	defer func() {
		if locked {
			s.mu.RUnlock()
		}
	}()

	var stamp uint64
	if optimisticReads {
		stamp = s.seq.Load()
	}
	if !optimisticReads || stamp&1 != 0 {
		s.mu.RLock()
		locked = true
	}

	t := s.table.Load()
	for b := range t.cells {
		c := t.cells[b]
		if !locked && s.seq.Load() != stamp {
			s.mu.RLock()
			locked = true
			c = t.cells[b]
		}
		if c.state == cellOccupied && !yield(c.key, c.value) {
			return false
		}
	}
	return true
}

func (s *section[K, V]) stats() SectionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SectionStats{
		Index:          s.index,
		Capacity:       int(s.capacity.Load()),
		Size:           int(s.size.Load()),
		UsedBuckets:    int(s.usedBuckets.Load()),
		ThresholdUp:    s.resizeThresholdUp,
		ThresholdBelow: s.resizeThresholdBelow,
		Growths:        s.growths.Load(),
		Shrinks:        s.shrinks.Load(),
	}
}

func (s *section[K, V]) logResize(msg string, from, to int) {
	if s.ops.log.IsTrace() {
		s.ops.log.Trace(msg, "section", s.index, "from", from, "to", to, "size", s.size.Load())
	}
}

// mustNotBeNil panics when a nillable value is nil.
func (o *mapOps[K, V]) mustNotBeNil(value V, what string) {
	if o.valNillable && isNil(value) {
		panic(nilValueError(what))
	}
}

// mustNotBeNilKey panics when a nillable key is nil.
func (o *mapOps[K, V]) mustNotBeNilKey(key K) {
	if o.keyNillable && isNil(key) {
		panic(nilValueError("key"))
	}
}
