package segmap

import (
	"fmt"
	"strings"
)

// Stats returns statistics for the map. Each section is read under its own
// read lock, so the per-section figures are consistent but the totals are
// not an atomic snapshot of the whole map. It is an O(sections) operation
// intended for diagnostics and metrics.
func (m *Map[K, V]) Stats() *MapStats {
	stats := &MapStats{
		Sections:   len(m.sections),
		PerSection: make([]SectionStats, len(m.sections)),
	}
	for i, s := range m.sections {
		ss := s.stats()
		stats.PerSection[i] = ss
		stats.Capacity += ss.Capacity
		stats.Size += ss.Size
		stats.UsedBuckets += ss.UsedBuckets
		stats.TotalGrowths += ss.Growths
		stats.TotalShrinks += ss.Shrinks
	}
	return stats
}

// MapStats is Map statistics.
//
// Warning: map statistics are intended to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type MapStats struct {
	// Sections is the number of sections.
	Sections int
	// Capacity is the total number of buckets.
	Capacity int
	// Size is the number of live entries.
	Size int
	// UsedBuckets is the number of buckets holding a live entry or a
	// tombstone.
	UsedBuckets int
	// TotalGrowths is the number of times any section grew.
	TotalGrowths uint32
	// TotalShrinks is the number of times any section shrank, including
	// reallocations by Clear.
	TotalShrinks uint32
	// PerSection holds the figures of every section, in section order.
	PerSection []SectionStats
}

// SectionStats describes one section.
type SectionStats struct {
	Index       int
	Capacity    int
	Size        int
	UsedBuckets int
	// ThresholdUp is the used-bucket count above which the section grows.
	ThresholdUp int
	// ThresholdBelow is the size below which an auto-shrinking section
	// considers shrinking.
	ThresholdBelow int
	Growths        uint32
	Shrinks        uint32
}

// ToString returns string representation of map stats.
func (s *MapStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("MapStats{\n")
	sb.WriteString(fmt.Sprintf("Sections:     %d\n", s.Sections))
	sb.WriteString(fmt.Sprintf("Capacity:     %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("UsedBuckets:  %d\n", s.UsedBuckets))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("TotalShrinks: %d\n", s.TotalShrinks))
	sb.WriteString("}\n")
	return sb.String()
}
