package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports Store.Metrics to Prometheus.
type Collector struct {
	store *Store

	handles      *prometheus.Desc
	refreshes    *prometheus.Desc
	openIndices  *prometheus.Desc
	knownIndices *prometheus.Desc
	openPacks    *prometheus.Desc
	knownPacks   *prometheus.Desc
	unusedSlots  *prometheus.Desc
	generation   *prometheus.Desc
}

func NewCollector(s *Store) *Collector {
	labels := prometheus.Labels{"objects_dir": s.Path()}
	return &Collector{
		store: s,

		handles: prometheus.NewDesc(
			"odb_handles",
			"Number of live handles on the object store",
			nil, labels,
		),
		refreshes: prometheus.NewDesc(
			"odb_refreshes_total",
			"Total number of disk consolidations performed",
			nil, labels,
		),
		openIndices: prometheus.NewDesc(
			"odb_open_indices",
			"Number of memory-mapped pack indices and multi-pack-indices",
			nil, labels,
		),
		knownIndices: prometheus.NewDesc(
			"odb_known_indices",
			"Number of slots bound to an index file",
			nil, labels,
		),
		openPacks: prometheus.NewDesc(
			"odb_open_packs",
			"Number of memory-mapped pack data files",
			nil, labels,
		),
		knownPacks: prometheus.NewDesc(
			"odb_known_packs",
			"Number of pack data files referenced by known indices",
			nil, labels,
		),
		unusedSlots: prometheus.NewDesc(
			"odb_unused_slots",
			"Number of slots available for reuse",
			nil, labels,
		),
		generation: prometheus.NewDesc(
			"odb_generation",
			"Current slot map generation",
			nil, labels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.handles
	ch <- c.refreshes
	ch <- c.openIndices
	ch <- c.knownIndices
	ch <- c.openPacks
	ch <- c.knownPacks
	ch <- c.unusedSlots
	ch <- c.generation
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.store.Metrics()

	ch <- prometheus.MustNewConstMetric(c.handles, prometheus.GaugeValue, float64(m.NumHandles))
	ch <- prometheus.MustNewConstMetric(c.refreshes, prometheus.CounterValue, float64(m.NumRefreshes))
	ch <- prometheus.MustNewConstMetric(c.openIndices, prometheus.GaugeValue, float64(m.OpenIndices))
	ch <- prometheus.MustNewConstMetric(c.knownIndices, prometheus.GaugeValue, float64(m.KnownIndices))
	ch <- prometheus.MustNewConstMetric(c.openPacks, prometheus.GaugeValue, float64(m.OpenPacks))
	ch <- prometheus.MustNewConstMetric(c.knownPacks, prometheus.GaugeValue, float64(m.KnownPacks))
	ch <- prometheus.MustNewConstMetric(c.unusedSlots, prometheus.GaugeValue, float64(m.UnusedSlots))
	ch <- prometheus.MustNewConstMetric(c.generation, prometheus.GaugeValue, float64(m.Generation))
}
