package segmap

import (
	"bytes"
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

const (
	// hashMixer is the MurmurHash64A multiplier used by mix.
	hashMixer uint64 = 0xc6a4a7935bd1e995
	hashShift        = 47
)

// mix spreads the entropy of x over all 64 bits. The high 32 bits select a
// section and the low bits select a bucket inside it.
//
//go:nosplit
func mix(x uint64) uint64 {
	h := x * hashMixer
	h ^= h >> hashShift
	return h * hashMixer
}

// sectionIndex selects a section from the high half of a mixed hash.
//
//go:nosplit
func sectionIndex(h uint64, mask uint64) uint64 {
	return (h >> 32) & mask
}

// bucketOf selects the home bucket from the low half of a mixed hash.
//
//go:nosplit
func bucketOf(h uint64, mask int) int {
	return int(uint32(h)) & mask
}

// Hasher defines a hash function and an equivalence relation over keys of
// type K. Keys that are Equal must have the same Hash.
//
// A Hasher lets a Map hold keys that are not comparable with ==, such as
// byte slices.
type Hasher[K any] interface {
	Hash(key K) uint64
	Equal(a, b K) bool
}

// Hashable is implemented by key types that carry their own identity hash
// and equality, similar to hashCode/equals pairs. Two distinct instances
// that are Equal and report the same HashCode are the same logical key.
type Hashable[K any] interface {
	HashCode() uint64
	Equal(other K) bool
}

// StringHasher hashes string keys with xxHash64.
type StringHasher struct{}

func (StringHasher) Hash(key string) uint64  { return xxhash.Sum64String(key) }
func (StringHasher) Equal(a, b string) bool { return a == b }

// BytesHasher hashes byte-slice keys with MurmurHash3 and compares them by
// content. Callers must not modify a key slice after handing it to a map.
type BytesHasher struct{}

func (BytesHasher) Hash(key []byte) uint64  { return murmur3.Sum64(key) }
func (BytesHasher) Equal(a, b []byte) bool { return bytes.Equal(a, b) }

// comparableHasher hashes any comparable key with the runtime's hash
// function under a per-map seed.
type comparableHasher[K comparable] struct {
	seed maphash.Seed
}

func (h comparableHasher[K]) Hash(key K) uint64 { return maphash.Comparable(h.seed, key) }
func (comparableHasher[K]) Equal(a, b K) bool   { return a == b }

// hashableHasher adapts a Hashable key type to Hasher.
type hashableHasher[K Hashable[K]] struct{}

func (hashableHasher[K]) Hash(key K) uint64  { return key.HashCode() }
func (hashableHasher[K]) Equal(a, b K) bool { return a.Equal(b) }

func hashLong(key int64) uint64 { return mix(uint64(key)) }

func equalLong(a, b int64) bool { return a == b }
