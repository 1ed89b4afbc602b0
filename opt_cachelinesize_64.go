//go:build segmap_cachelinesize_64

package segmap

// CacheLineSize is fixed at 64 bytes.
const CacheLineSize = 64
