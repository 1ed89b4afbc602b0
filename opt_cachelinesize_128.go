//go:build segmap_cachelinesize_128

package segmap

// CacheLineSize for CPUs that prefetch adjacent line pairs.
const CacheLineSize = 128
