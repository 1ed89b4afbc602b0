//go:build race

package segmap

// Under the race detector every read takes the section read lock.
const optimisticReads = false
