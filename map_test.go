package segmap

import (
	"errors"
	"fmt"
	"math/bits"
	"math/rand/v2"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLongMap[V any](t testing.TB, options ...func(*MapConfig)) *LongMap[V] {
	t.Helper()
	m, err := NewLongMap[V](options...)
	if err != nil {
		t.Fatalf("NewLongMap: %v", err)
	}
	return m
}

func mustPanicWith(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic wrapping %v", target)
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, target) {
			t.Fatalf("panic %v does not wrap %v", r, target)
		}
	}()
	fn()
}

func TestLongMap_BasicOperations(t *testing.T) {
	m := newTestLongMap[string](t)
	if !m.IsEmpty() || m.Size() != 0 {
		t.Fatalf("expected empty map, got size %d", m.Size())
	}
	if _, ok := m.Get(1); ok {
		t.Fatalf("expected missing key")
	}

	if prev, loaded := m.Put(1, "one"); loaded {
		t.Fatalf("first put reported previous value %q", prev)
	}
	if v, ok := m.Get(1); !ok || v != "one" {
		t.Fatalf("get got %q %v", v, ok)
	}
	if prev, loaded := m.Put(1, "uno"); !loaded || prev != "one" {
		t.Fatalf("second put got %q %v", prev, loaded)
	}
	if v, _ := m.Get(1); v != "uno" {
		t.Fatalf("overwrite not visible, got %q", v)
	}
	if !m.ContainsKey(1) || m.ContainsKey(2) {
		t.Fatalf("unexpected ContainsKey results")
	}
	if m.Size() != 1 || m.IsEmpty() {
		t.Fatalf("size got %d", m.Size())
	}

	if v, ok := m.Remove(1); !ok || v != "uno" {
		t.Fatalf("remove got %q %v", v, ok)
	}
	if _, ok := m.Get(1); ok {
		t.Fatalf("expected removed")
	}
	if !m.IsEmpty() {
		t.Fatalf("expected empty after remove")
	}
}

func TestLongMap_NegativeAndZeroKeys(t *testing.T) {
	m := newTestLongMap[int](t)
	for _, k := range []int64{0, -1, -1 << 63, 1<<63 - 1} {
		m.Put(k, int(k%1000))
	}
	for _, k := range []int64{0, -1, -1 << 63, 1<<63 - 1} {
		if v, ok := m.Get(k); !ok || v != int(k%1000) {
			t.Fatalf("key %d got %v %v", k, v, ok)
		}
	}
}

func TestMap_RoundTrip(t *testing.T) {
	const numEntries = 10_000
	m := newTestLongMap[int64](t, WithExpectedItems(16), WithConcurrencyLevel(4))
	for i := int64(0); i < numEntries; i++ {
		m.Put(i, i*3)
	}
	for i := int64(0); i < numEntries; i++ {
		if v, ok := m.Get(i); !ok || v != i*3 {
			t.Fatalf("key %d got %v %v", i, v, ok)
		}
	}
	if m.Size() != numEntries {
		t.Fatalf("size got %d", m.Size())
	}
}

func TestMap_RemoveMissingKey(t *testing.T) {
	m := newTestLongMap[int](t)
	m.Put(1, 1)
	if _, ok := m.Remove(2); ok {
		t.Fatalf("removing a missing key reported success")
	}
	if m.Size() != 1 {
		t.Fatalf("size changed to %d", m.Size())
	}
	if m.RemoveValue(2, 1) {
		t.Fatalf("conditional remove of missing key reported success")
	}
}

func TestMap_RemoveValue(t *testing.T) {
	m := newTestLongMap[string](t)
	m.Put(1, "v1")
	if m.RemoveValue(1, "v2") {
		t.Fatalf("removed with mismatching value")
	}
	if v, ok := m.Get(1); !ok || v != "v1" {
		t.Fatalf("entry mutated by failed conditional remove: %q %v", v, ok)
	}
	if !m.RemoveValue(1, "v1") {
		t.Fatalf("conditional remove with matching value failed")
	}
	if m.ContainsKey(1) {
		t.Fatalf("expected removed")
	}
}

func TestMap_PutIfAbsent(t *testing.T) {
	m := newTestLongMap[int](t)
	if v, loaded := m.PutIfAbsent(7, 70); loaded {
		t.Fatalf("first PutIfAbsent got %v %v", v, loaded)
	}
	if v, loaded := m.PutIfAbsent(7, 71); !loaded || v != 70 {
		t.Fatalf("second PutIfAbsent got %v %v", v, loaded)
	}
	if v, _ := m.Get(7); v != 70 {
		t.Fatalf("PutIfAbsent overwrote existing value: %v", v)
	}
}

func TestMap_ComputeIfAbsent(t *testing.T) {
	m := newTestLongMap[string](t)
	calls := 0
	producer := func(key int64) string {
		calls++
		return "v" + strconv.FormatInt(key, 10)
	}
	if v := m.ComputeIfAbsent(5, producer); v != "v5" {
		t.Fatalf("got %q", v)
	}
	if v := m.ComputeIfAbsent(5, producer); v != "v5" {
		t.Fatalf("got %q", v)
	}
	if calls != 1 {
		t.Fatalf("producer called %d times, want 1", calls)
	}
}

func TestMap_ComputeIfAbsent_OnceUnderRace(t *testing.T) {
	m := newTestLongMap[int](t)
	var called int32
	var wg sync.WaitGroup
	workers := max(4, runtime.GOMAXPROCS(0))
	results := make([]int, workers)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = m.ComputeIfAbsent(999, func(int64) int {
				// widen race window
				atomic.AddInt32(&called, 1)
				time.Sleep(time.Millisecond)
				return 777
			})
		}(i)
	}
	wg.Wait()
	if got := atomic.LoadInt32(&called); got != 1 {
		t.Fatalf("producer called %d times, want 1", got)
	}
	for i, v := range results {
		if v != 777 {
			t.Fatalf("worker %d observed %d", i, v)
		}
	}
}

func TestMap_Growth(t *testing.T) {
	m := newTestLongMap[int](t, WithExpectedItems(2), WithConcurrencyLevel(1))
	if c := m.Capacity(); c != 4 {
		t.Fatalf("initial capacity got %d, want 4", c)
	}
	m.Put(1, 1)
	m.Put(2, 2)
	if c := m.Capacity(); c != 4 {
		t.Fatalf("capacity after 2 puts got %d, want 4", c)
	}
	m.Put(3, 3)
	if c := m.Capacity(); c != 8 {
		t.Fatalf("capacity after 3 puts got %d, want 8", c)
	}
	m.Put(4, 4)
	if c := m.Capacity(); c != 8 {
		t.Fatalf("capacity after 4 puts got %d, want 8", c)
	}
	for i := int64(1); i <= 4; i++ {
		if v, ok := m.Get(i); !ok || v != int(i) {
			t.Fatalf("key %d lost during growth", i)
		}
	}
	if stats := m.Stats(); stats.TotalGrowths != 1 {
		t.Fatalf("unexpected growths: %s", stats.ToString())
	}
}

func TestMap_Growth_SmallExpandFactor(t *testing.T) {
	// A single-bucket section must still grow when the factor rounds back
	// to the current capacity.
	m := newTestLongMap[int](t,
		WithExpectedItems(1), WithConcurrencyLevel(1), WithExpandFactor(1.5))
	if c := m.Capacity(); c != 1 {
		t.Fatalf("initial capacity got %d, want 1", c)
	}
	m.Put(1, 1)
	if c := m.Capacity(); c != 2 {
		t.Fatalf("capacity after 1 put got %d, want 2", c)
	}
	if v, ok := m.Get(1); !ok || v != 1 {
		t.Fatalf("get got %v %v", v, ok)
	}
	if _, ok := m.Get(2); ok {
		t.Fatalf("found missing key")
	}

	m = newTestLongMap[int](t,
		WithExpectedItems(40), WithConcurrencyLevel(1), WithExpandFactor(1.01))
	if c := m.Capacity(); c != 64 {
		t.Fatalf("initial capacity got %d, want 64", c)
	}
	for i := int64(0); i < 100; i++ {
		m.Put(i, int(i))
	}
	if c := m.Capacity(); c != 256 {
		t.Fatalf("capacity after 100 puts got %d, want 256", c)
	}
	for i := int64(0); i < 100; i++ {
		if v, ok := m.Get(i); !ok || v != int(i) {
			t.Fatalf("key %d got %v %v", i, v, ok)
		}
	}
}

func checkSectionStats(t *testing.T, m *LongMap[int], op string) {
	t.Helper()
	for _, ss := range m.Stats().PerSection {
		if bits.OnesCount(uint(ss.Capacity)) != 1 {
			t.Fatalf("%s: capacity %d is not a power of two", op, ss.Capacity)
		}
		if ss.UsedBuckets >= ss.Capacity {
			t.Fatalf("%s: section full: %+v", op, ss)
		}
		if ss.Size > ss.UsedBuckets {
			t.Fatalf("%s: size exceeds used buckets: %+v", op, ss)
		}
	}
}

func TestMap_ResizeFactors(t *testing.T) {
	const numEntries = 500
	factors := []float64{1.01, 1.5, 3}
	for _, expand := range factors {
		for _, shrink := range factors {
			t.Run(fmt.Sprintf("expand=%v/shrink=%v", expand, shrink), func(t *testing.T) {
				m := newTestLongMap[int](t,
					WithExpectedItems(1),
					WithConcurrencyLevel(1),
					WithExpandFactor(expand),
					WithShrinkFactor(shrink),
					WithAutoShrink(),
				)
				for i := int64(0); i < numEntries; i++ {
					m.Put(i, int(i))
					checkSectionStats(t, m, fmt.Sprintf("put %d", i))
				}
				for i := int64(0); i < numEntries; i++ {
					if v, ok := m.Get(i); !ok || v != int(i) {
						t.Fatalf("key %d got %v %v", i, v, ok)
					}
				}
				grown := m.Capacity()
				for i := int64(0); i < numEntries; i++ {
					if _, ok := m.Remove(i); !ok {
						t.Fatalf("remove %d failed", i)
					}
					checkSectionStats(t, m, fmt.Sprintf("remove %d", i))
				}
				if !m.IsEmpty() {
					t.Fatalf("size got %d", m.Size())
				}
				if c := m.Capacity(); c >= grown {
					t.Fatalf("capacity %d did not shrink from %d", c, grown)
				}
			})
		}
	}
}

func TestMap_AutoShrink(t *testing.T) {
	m := newTestLongMap[int](t,
		WithExpectedItems(2),
		WithConcurrencyLevel(1),
		WithIdleFactor(0.25),
		WithAutoShrink(),
	)
	for i := int64(1); i <= 3; i++ {
		m.Put(i, int(i))
	}
	if c := m.Capacity(); c != 8 {
		t.Fatalf("capacity after growth got %d, want 8", c)
	}

	m.Remove(3)
	if c := m.Capacity(); c != 8 {
		t.Fatalf("capacity with 2 entries got %d, want 8", c)
	}
	m.Remove(2)
	if c := m.Capacity(); c != 4 {
		t.Fatalf("capacity with 1 entry got %d, want 4", c)
	}
	if v, ok := m.Get(1); !ok || v != 1 {
		t.Fatalf("surviving entry lost on shrink")
	}
	m.Remove(1)
	if c := m.Capacity(); c != 4 {
		t.Fatalf("shrunk below initial capacity: %d", c)
	}

	before := m.Stats()
	for i := 0; i < 100; i++ {
		m.Put(1, 1)
		m.Remove(1)
	}
	after := m.Stats()
	if after.Capacity != 4 ||
		after.TotalGrowths != before.TotalGrowths ||
		after.TotalShrinks != before.TotalShrinks {
		t.Fatalf("resize thrashing at the idle boundary: before %s after %s",
			before.ToString(), after.ToString())
	}
}

func TestMap_NoShrinkWithoutAutoShrink(t *testing.T) {
	m := newTestLongMap[int](t, WithExpectedItems(2), WithConcurrencyLevel(1), WithIdleFactor(0.25))
	for i := int64(0); i < 100; i++ {
		m.Put(i, int(i))
	}
	grown := m.Capacity()
	for i := int64(0); i < 100; i++ {
		m.Remove(i)
	}
	if c := m.Capacity(); c != grown {
		t.Fatalf("capacity changed from %d to %d without auto-shrink", grown, c)
	}
}

type collidingHasher struct{}

func (collidingHasher) Hash(int) uint64     { return 0 }
func (collidingHasher) Equal(a, b int) bool { return a == b }

func TestMap_TombstoneReclamation(t *testing.T) {
	const numKeys = 12
	orders := map[string]func([]int){
		"forward": func([]int) {},
		"reverse": slices.Reverse[[]int],
		"shuffled": func(keys []int) {
			r := rand.New(rand.NewPCG(1, 2))
			r.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		},
	}
	for name, reorder := range orders {
		t.Run(name, func(t *testing.T) {
			m, err := NewMapWithHasher[int, int](collidingHasher{},
				WithExpectedItems(32), WithConcurrencyLevel(1))
			if err != nil {
				t.Fatal(err)
			}
			keys := make([]int, numKeys)
			for i := range keys {
				keys[i] = i
				m.Put(i, i)
			}
			if used := m.UsedBucketCount(); used != numKeys {
				t.Fatalf("used buckets got %d, want %d", used, numKeys)
			}
			reorder(keys)
			for i, k := range keys {
				if _, ok := m.Remove(k); !ok {
					t.Fatalf("remove %d failed", k)
				}
				// Every key behind a tombstone must stay reachable.
				for _, rest := range keys[i+1:] {
					if v, ok := m.Get(rest); !ok || v != rest {
						t.Fatalf("key %d unreachable after removing %d", rest, k)
					}
				}
			}
			if used := m.UsedBucketCount(); used != 0 {
				t.Fatalf("orphaned tombstones: used buckets %d", used)
			}
			if m.Size() != 0 {
				t.Fatalf("size got %d", m.Size())
			}
		})
	}
}

func TestMap_RemoveIf(t *testing.T) {
	const numEntries = 1000
	m := newTestLongMap[int](t)
	for i := int64(0); i < numEntries; i++ {
		m.Put(i, int(i))
	}
	removed := m.RemoveIf(func(key int64, value int) bool {
		return key%2 == 0
	})
	if removed != numEntries/2 {
		t.Fatalf("removed %d, want %d", removed, numEntries/2)
	}
	if m.Size() != numEntries-removed {
		t.Fatalf("size got %d", m.Size())
	}
	for i := int64(0); i < numEntries; i++ {
		_, ok := m.Get(i)
		if ok != (i%2 != 0) {
			t.Fatalf("key %d present=%v", i, ok)
		}
	}
	if n := m.RemoveIf(func(int64, int) bool { return false }); n != 0 {
		t.Fatalf("no-op RemoveIf removed %d", n)
	}
}

func TestMap_RemoveIf_AutoShrink(t *testing.T) {
	m := newTestLongMap[int](t, WithExpectedItems(16), WithConcurrencyLevel(1), WithAutoShrink())
	initial := m.Capacity()
	for i := int64(0); i < 1000; i++ {
		m.Put(i, int(i))
	}
	grown := m.Capacity()
	m.RemoveIf(func(key int64, _ int) bool { return key != 0 })
	if c := m.Capacity(); c >= grown {
		t.Fatalf("capacity did not shrink: %d", c)
	}
	if c := m.Capacity(); c < initial {
		t.Fatalf("capacity %d below initial %d", c, initial)
	}
	if v, ok := m.Get(0); !ok || v != 0 {
		t.Fatalf("survivor lost")
	}
}

func TestMap_Clear(t *testing.T) {
	const numEntries = 1000
	m := newTestLongMap[int](t)
	initial := m.Capacity()
	for i := int64(0); i < numEntries; i++ {
		m.Put(i, int(i))
	}
	grown := m.Capacity()
	m.Clear()
	if m.Size() != 0 || m.UsedBucketCount() != 0 {
		t.Fatalf("size %d used %d after clear", m.Size(), m.UsedBucketCount())
	}
	if m.Capacity() != grown || grown == initial {
		t.Fatalf("clear without auto-shrink changed capacity: %d -> %d", grown, m.Capacity())
	}
	count := 0
	m.ForEach(func(int64, int) { count++ })
	if count != 0 {
		t.Fatalf("ForEach visited %d entries after clear", count)
	}
	m.Put(1, 1)
	if v, ok := m.Get(1); !ok || v != 1 {
		t.Fatalf("map unusable after clear")
	}
}

func TestMap_Clear_AutoShrink(t *testing.T) {
	m := newTestLongMap[int](t, WithExpectedItems(2), WithConcurrencyLevel(1), WithAutoShrink())
	for i := int64(0); i < 3; i++ {
		m.Put(i, int(i))
	}
	if c := m.Capacity(); c != 8 {
		t.Fatalf("capacity got %d, want 8", c)
	}
	m.Clear()
	if c := m.Capacity(); c != 4 {
		t.Fatalf("capacity after clear got %d, want 4", c)
	}
	shrinks := m.Stats().TotalShrinks
	m.Clear()
	if c := m.Capacity(); c != 4 || m.Stats().TotalShrinks != shrinks {
		t.Fatalf("clear at initial capacity reallocated")
	}
}

func TestMap_ForEachKeysValues(t *testing.T) {
	const numEntries = 500
	m := newTestLongMap[int](t)
	for i := int64(0); i < numEntries; i++ {
		m.Put(i, int(i)*2)
	}
	seen := make(map[int64]int)
	m.ForEach(func(key int64, value int) {
		if _, dup := seen[key]; dup {
			t.Fatalf("key %d visited twice", key)
		}
		seen[key] = value
	})
	if len(seen) != numEntries {
		t.Fatalf("visited %d entries", len(seen))
	}
	for k, v := range seen {
		if v != int(k)*2 {
			t.Fatalf("key %d has value %d", k, v)
		}
	}

	keys := m.Keys()
	slices.Sort(keys)
	if len(keys) != numEntries || keys[0] != 0 || keys[numEntries-1] != numEntries-1 {
		t.Fatalf("unexpected keys")
	}
	values := m.Values()
	if len(values) != numEntries {
		t.Fatalf("got %d values", len(values))
	}
	// Fresh copies: mutating them must not affect the map.
	keys[0] = -1
	if m.ContainsKey(-1) {
		t.Fatalf("keys slice aliases the map")
	}
}

func TestMap_Range_FalseReturned(t *testing.T) {
	m := newTestLongMap[int](t)
	for i := int64(0); i < 100; i++ {
		m.Put(i, int(i))
	}
	visited := 0
	m.Range(func(int64, int) bool {
		visited++
		return visited < 10
	})
	if visited != 10 {
		t.Fatalf("Range visited %d entries after stop", visited)
	}
}

func TestMap_All(t *testing.T) {
	m := newTestLongMap[int](t)
	for i := int64(0); i < 100; i++ {
		m.Put(i, int(i))
	}
	sum := 0
	for k, v := range m.All() {
		if int(k) != v {
			t.Fatalf("key %d has value %d", k, v)
		}
		sum += v
	}
	if sum != 99*100/2 {
		t.Fatalf("sum got %d", sum)
	}
}

type point struct {
	x, y int
}

func TestMap_ComparableKeys(t *testing.T) {
	m, err := NewMap[point, string]()
	if err != nil {
		t.Fatal(err)
	}
	m.Put(point{1, 2}, "a")
	if v, ok := m.Get(point{x: 1, y: 2}); !ok || v != "a" {
		t.Fatalf("got %q %v", v, ok)
	}

	s, err := NewMap[string, int]()
	if err != nil {
		t.Fatal(err)
	}
	key := strings.Repeat("k", 3)
	s.Put(key, 1)
	if v, ok := s.Get(string([]byte{'k', 'k', 'k'})); !ok || v != 1 {
		t.Fatalf("distinct but equal string keys not unified")
	}
}

// caseless is a key type whose equality ignores letter case.
type caseless struct {
	s string
}

func (c caseless) HashCode() uint64 {
	return StringHasher{}.Hash(strings.ToLower(c.s))
}

func (c caseless) Equal(other caseless) bool {
	return strings.EqualFold(c.s, other.s)
}

func TestMap_HashableKeys(t *testing.T) {
	m, err := NewHashableMap[caseless, int]()
	if err != nil {
		t.Fatal(err)
	}
	m.Put(caseless{"Hello"}, 1)
	if v, ok := m.Get(caseless{"HELLO"}); !ok || v != 1 {
		t.Fatalf("equal keys not unified: %v %v", v, ok)
	}
	if prev, loaded := m.Put(caseless{"hello"}, 2); !loaded || prev != 1 {
		t.Fatalf("put with equal key got %v %v", prev, loaded)
	}
	if m.Size() != 1 {
		t.Fatalf("size got %d", m.Size())
	}
}

func TestMap_BytesKeys(t *testing.T) {
	m, err := NewMapWithHasher[[]byte, int](BytesHasher{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		m.Put([]byte(fmt.Sprintf("key-%d", i)), i)
	}
	for i := 0; i < 100; i++ {
		if v, ok := m.Get([]byte(fmt.Sprintf("key-%d", i))); !ok || v != i {
			t.Fatalf("key-%d got %v %v", i, v, ok)
		}
	}
}

func TestMap_StringHasherKeys(t *testing.T) {
	m, err := NewMapWithHasher[string, int](StringHasher{}, WithExpectedItems(16), WithConcurrencyLevel(2))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1000; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	for i := 0; i < 1000; i++ {
		if v, ok := m.Get(strconv.Itoa(i)); !ok || v != i {
			t.Fatalf("key %d got %v %v", i, v, ok)
		}
	}
}

func TestMap_NilValues(t *testing.T) {
	m := newTestLongMap[*int](t)
	mustPanicWith(t, ErrInvalidArgument, func() { m.Put(1, nil) })
	mustPanicWith(t, ErrInvalidArgument, func() { m.PutIfAbsent(1, nil) })
	mustPanicWith(t, ErrInvalidArgument, func() { m.RemoveValue(1, nil) })
	mustPanicWith(t, ErrInvalidArgument, func() {
		m.ComputeIfAbsent(1, func(int64) *int { return nil })
	})
	mustPanicWith(t, ErrInvalidArgument, func() { m.ComputeIfAbsent(1, nil) })
	mustPanicWith(t, ErrInvalidArgument, func() { m.RemoveIf(nil) })
	if m.Size() != 0 {
		t.Fatalf("rejected values were stored")
	}

	// The section lock must have been released by the failed producer.
	v := 5
	m.Put(1, &v)
	if got, ok := m.Get(1); !ok || *got != 5 {
		t.Fatalf("map unusable after producer panic")
	}
}

// caselessRef is a pointer key type that carries its own hash code.
type caselessRef struct {
	s string
}

func (c *caselessRef) HashCode() uint64 {
	return StringHasher{}.Hash(strings.ToLower(c.s))
}

func (c *caselessRef) Equal(other *caselessRef) bool {
	return strings.EqualFold(c.s, other.s)
}

func TestMap_NilKeys(t *testing.T) {
	m, err := NewMap[*int, int]()
	if err != nil {
		t.Fatal(err)
	}
	mustPanicWith(t, ErrInvalidArgument, func() { m.Put(nil, 1) })
	mustPanicWith(t, ErrInvalidArgument, func() { m.PutIfAbsent(nil, 1) })
	mustPanicWith(t, ErrInvalidArgument, func() {
		m.ComputeIfAbsent(nil, func(*int) int { return 1 })
	})
	mustPanicWith(t, ErrInvalidArgument, func() { m.Get(nil) })
	mustPanicWith(t, ErrInvalidArgument, func() { m.ContainsKey(nil) })
	mustPanicWith(t, ErrInvalidArgument, func() { m.Remove(nil) })
	mustPanicWith(t, ErrInvalidArgument, func() { m.RemoveValue(nil, 1) })
	if m.Size() != 0 {
		t.Fatalf("nil key was stored")
	}
	k := new(int)
	m.Put(k, 1)
	if v, ok := m.Get(k); !ok || v != 1 {
		t.Fatalf("get got %v %v", v, ok)
	}

	hm, err := NewHashableMap[*caselessRef, int]()
	if err != nil {
		t.Fatal(err)
	}
	hm.Put(&caselessRef{"Key"}, 1)
	mustPanicWith(t, ErrInvalidArgument, func() { hm.Get(nil) })
	mustPanicWith(t, ErrInvalidArgument, func() { hm.Put(nil, 2) })
	if v, ok := hm.Get(&caselessRef{"KEY"}); !ok || v != 1 || hm.Size() != 1 {
		t.Fatalf("get got %v %v, size %d", v, ok, hm.Size())
	}

	bm, err := NewMapWithHasher[[]byte, int](BytesHasher{})
	if err != nil {
		t.Fatal(err)
	}
	mustPanicWith(t, ErrInvalidArgument, func() { bm.Put(nil, 1) })
	bm.Put([]byte{}, 1)
	if v, ok := bm.Get([]byte{}); !ok || v != 1 {
		t.Fatalf("empty key got %v %v", v, ok)
	}

	am, err := NewMap[any, int]()
	if err != nil {
		t.Fatal(err)
	}
	mustPanicWith(t, ErrInvalidArgument, func() { am.Put(nil, 1) })
	var p *int
	mustPanicWith(t, ErrInvalidArgument, func() { am.Put(p, 1) })
}

func TestMap_NilInterfaceValue(t *testing.T) {
	m := newTestLongMap[any](t)
	mustPanicWith(t, ErrInvalidArgument, func() { m.Put(1, nil) })
	var p *int
	mustPanicWith(t, ErrInvalidArgument, func() { m.Put(1, p) })
	m.Put(1, 0)
	if v, ok := m.Get(1); !ok || v != 0 {
		t.Fatalf("got %v %v", v, ok)
	}
}

func TestMap_RemoveValue_NotComparable(t *testing.T) {
	m := newTestLongMap[[]int](t)
	m.Put(1, []int{1, 2})
	mustPanicWith(t, ErrNoValueEqual, func() { m.RemoveValue(1, []int{1, 2}) })

	eq := newTestLongMap[[]int](t, WithValueEqual(slices.Equal[[]int]))
	eq.Put(1, []int{1, 2})
	if eq.RemoveValue(1, []int{1, 3}) {
		t.Fatalf("removed with different slice")
	}
	if !eq.RemoveValue(1, []int{1, 2}) {
		t.Fatalf("remove with equal slice failed")
	}
}

func TestMap_RemoveValue_InterfaceValues(t *testing.T) {
	m := newTestLongMap[any](t)
	m.Put(1, []int{1})
	mustPanicWith(t, ErrNoValueEqual, func() { m.RemoveValue(1, []int{1}) })
	if m.RemoveValue(1, "x") {
		t.Fatalf("removed with value of another type")
	}
	if !m.ContainsKey(1) {
		t.Fatalf("entry lost")
	}
	m.Put(2, "a")
	if !m.RemoveValue(2, "a") {
		t.Fatalf("remove with equal string failed")
	}

	eq := newTestLongMap[any](t, WithValueEqual(func(a, b any) bool {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}))
	eq.Put(1, []int{1})
	if !eq.RemoveValue(1, []int{1}) {
		t.Fatalf("remove with custom equality failed")
	}
}

func TestMap_WithValueEqual_TypeMismatch(t *testing.T) {
	_, err := NewLongMap[int](WithValueEqual(func(a, b string) bool { return a == b }))
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMap_NilHasher(t *testing.T) {
	_, err := NewMapWithHasher[int, int](nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMapStats(t *testing.T) {
	m := newTestLongMap[int](t, WithExpectedItems(64), WithConcurrencyLevel(4))
	stats := m.Stats()
	if stats.Sections != 4 || len(stats.PerSection) != 4 {
		t.Fatalf("unexpected sections: %s", stats.ToString())
	}
	if stats.Capacity != m.Capacity() || stats.Size != 0 {
		t.Fatalf("unexpected stats: %s", stats.ToString())
	}
	for i := int64(0); i < 200; i++ {
		m.Put(i, int(i))
	}
	stats = m.Stats()
	if stats.Size != 200 || stats.UsedBuckets < 200 {
		t.Fatalf("unexpected stats: %s", stats.ToString())
	}
	if stats.TotalGrowths == 0 {
		t.Fatalf("expected growths: %s", stats.ToString())
	}
	sum := 0
	for _, s := range stats.PerSection {
		sum += s.Size
	}
	if sum != stats.Size {
		t.Fatalf("per-section sizes sum to %d, total %d", sum, stats.Size)
	}
	if !strings.Contains(m.String(), "size: 200") {
		t.Fatalf("unexpected String(): %s", m.String())
	}
}
