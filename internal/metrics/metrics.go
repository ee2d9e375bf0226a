// Package metrics exposes buddy heap state as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/kheap/heap/buddy"
)

var (
	// CapacityBytes is the configured size of a heap.
	CapacityBytes = prometheus.NewDesc(
		"kheap_capacity_bytes",
		"Size of the heap's backing region in bytes.",
		[]string{"heap"}, nil,
	)
	// FreeBytes is the sum of the heap's free lists.
	FreeBytes = prometheus.NewDesc(
		"kheap_free_bytes",
		"Bytes currently held on the heap's free lists.",
		[]string{"heap"}, nil,
	)
	// InUseBlocks is the number of live allocations.
	InUseBlocks = prometheus.NewDesc(
		"kheap_in_use_blocks",
		"Number of live allocations.",
		[]string{"heap"}, nil,
	)
	// FreeBlocks is the number of free blocks per order.
	FreeBlocks = prometheus.NewDesc(
		"kheap_free_blocks",
		"Number of free blocks on the free list of each order.",
		[]string{"heap", "order"}, nil,
	)
	// AllocTotal counts Alloc calls.
	AllocTotal = prometheus.NewDesc(
		"kheap_alloc_total",
		"Number of allocation requests.",
		[]string{"heap"}, nil,
	)
	// AllocFailuresTotal counts Alloc calls that failed.
	AllocFailuresTotal = prometheus.NewDesc(
		"kheap_alloc_failures_total",
		"Number of allocation requests that failed with out of memory.",
		[]string{"heap"}, nil,
	)
	// FreeTotal counts Free calls.
	FreeTotal = prometheus.NewDesc(
		"kheap_free_total",
		"Number of free requests, including rejected ones.",
		[]string{"heap"}, nil,
	)
	// InvalidFreeTotal counts rejected Free calls.
	InvalidFreeTotal = prometheus.NewDesc(
		"kheap_invalid_free_total",
		"Number of free requests rejected as invalid or double frees.",
		[]string{"heap"}, nil,
	)
	// SplitsTotal counts block splits.
	SplitsTotal = prometheus.NewDesc(
		"kheap_splits_total",
		"Number of block splits performed while allocating.",
		[]string{"heap"}, nil,
	)
	// MergesTotal counts buddy merges.
	MergesTotal = prometheus.NewDesc(
		"kheap_merges_total",
		"Number of buddy merges performed while freeing.",
		[]string{"heap"}, nil,
	)
	// AllocSeconds is the cumulative time spent allocating when profiling is enabled.
	AllocSeconds = prometheus.NewDesc(
		"kheap_alloc_seconds_total",
		"Cumulative time spent in allocation, zero unless profiling is enabled.",
		[]string{"heap"}, nil,
	)
)

// Collector implements prometheus.Collector over a fixed set of heaps.
type Collector struct {
	heaps []*buddy.Heap
}

// NewCollector returns a collector reporting on heaps.
func NewCollector(heaps ...*buddy.Heap) *Collector {
	return &Collector{heaps: heaps}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- CapacityBytes
	ch <- FreeBytes
	ch <- InUseBlocks
	ch <- FreeBlocks
	ch <- AllocTotal
	ch <- AllocFailuresTotal
	ch <- FreeTotal
	ch <- InvalidFreeTotal
	ch <- SplitsTotal
	ch <- MergesTotal
	ch <- AllocSeconds
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, h := range c.heaps {
		name := h.Name()
		st := h.Stats()
		blocks := h.FreeBlocks()

		free := 0
		for _, b := range blocks {
			free += b.Bytes()
			ch <- prometheus.MustNewConstMetric(FreeBlocks, prometheus.GaugeValue,
				float64(b.Count), name, strconv.Itoa(int(b.Order)))
		}

		ch <- prometheus.MustNewConstMetric(CapacityBytes, prometheus.GaugeValue, float64(h.Capacity()), name)
		ch <- prometheus.MustNewConstMetric(FreeBytes, prometheus.GaugeValue, float64(free), name)
		ch <- prometheus.MustNewConstMetric(InUseBlocks, prometheus.GaugeValue, float64(st.InUseBlocks), name)
		ch <- prometheus.MustNewConstMetric(AllocTotal, prometheus.CounterValue, float64(st.AllocCalls), name)
		ch <- prometheus.MustNewConstMetric(AllocFailuresTotal, prometheus.CounterValue, float64(st.Failures), name)
		ch <- prometheus.MustNewConstMetric(FreeTotal, prometheus.CounterValue, float64(st.FreeCalls), name)
		ch <- prometheus.MustNewConstMetric(InvalidFreeTotal, prometheus.CounterValue, float64(st.InvalidFrees), name)
		ch <- prometheus.MustNewConstMetric(SplitsTotal, prometheus.CounterValue, float64(st.Splits), name)
		ch <- prometheus.MustNewConstMetric(MergesTotal, prometheus.CounterValue, float64(st.Merges), name)
		ch <- prometheus.MustNewConstMetric(AllocSeconds, prometheus.CounterValue, st.AllocTime.Seconds(), name)
	}
}
