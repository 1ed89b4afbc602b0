//go:build !segmap_cachelinesize_64 && !segmap_cachelinesize_128

package segmap

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is used to pad sections so that two neighbouring sections
// never share a cache line. It is taken from `golang.org/x/sys/cpu` unless
// a segmap_cachelinesize_* build tag fixes it.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
