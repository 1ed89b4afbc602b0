//go:build !race

package segmap

// optimisticReads enables stamp-validated reads that copy cells without
// holding the section lock. The copies race with writers by construction and
// are discarded when the stamp does not validate.
const optimisticReads = true
