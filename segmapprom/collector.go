// Package segmapprom exports segmap statistics as Prometheus metrics.
package segmapprom

import (
	"strconv"

	"github.com/llxisdsh/segmap"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "segmap"

// StatsSource is anything that reports map statistics. Every *segmap.Map
// satisfies it.
type StatsSource interface {
	Stats() *segmap.MapStats
}

// Collector is a prometheus.Collector that reads a StatsSource on every
// scrape. Values are reported per section.
type Collector struct {
	source StatsSource

	size        *prometheus.Desc
	capacity    *prometheus.Desc
	usedBuckets *prometheus.Desc
	growths     *prometheus.Desc
	shrinks     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for source. name becomes the constant
// "map" label, so several maps can be registered with one registry.
func NewCollector(name string, source StatsSource) *Collector {
	labels := prometheus.Labels{"map": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", metric),
			help,
			[]string{"section"},
			labels,
		)
	}
	return &Collector{
		source:      source,
		size:        desc("size", "Number of live entries in the section."),
		capacity:    desc("capacity", "Number of buckets in the section."),
		usedBuckets: desc("used_buckets", "Number of buckets holding a live entry or a tombstone."),
		growths:     desc("growths_total", "Number of times the section grew."),
		shrinks:     desc("shrinks_total", "Number of times the section shrank or was reallocated by a clear."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.capacity
	ch <- c.usedBuckets
	ch <- c.growths
	ch <- c.shrinks
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()
	for _, s := range stats.PerSection {
		section := strconv.Itoa(s.Index)
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), section)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity), section)
		ch <- prometheus.MustNewConstMetric(c.usedBuckets, prometheus.GaugeValue, float64(s.UsedBuckets), section)
		ch <- prometheus.MustNewConstMetric(c.growths, prometheus.CounterValue, float64(s.Growths), section)
		ch <- prometheus.MustNewConstMetric(c.shrinks, prometheus.CounterValue, float64(s.Shrinks), section)
	}
}
