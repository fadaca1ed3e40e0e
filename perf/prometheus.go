package perf

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a Recorder's series to Prometheus. Each series appears as
// a family of gauges labelled by metric name; aggregation happens at scrape
// time from the live recorder.
type Collector struct {
	recorder *Recorder
	count    *prometheus.Desc
	average  *prometheus.Desc
	min      *prometheus.Desc
	max      *prometheus.Desc
	stddev   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector wraps a Recorder for scraping under the given namespace
// (for example "captain").
func NewCollector(namespace string, r *Recorder) *Collector {
	labels := []string{"metric"}
	return &Collector{
		recorder: r,
		count: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "perf", "sample_count"),
			"Number of retained samples in the series", labels, nil),
		average: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "perf", "average"),
			"Mean of retained samples", labels, nil),
		min: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "perf", "min"),
			"Minimum of retained samples", labels, nil),
		max: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "perf", "max"),
			"Maximum of retained samples", labels, nil),
		stddev: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "perf", "stddev"),
			"Standard deviation of retained samples", labels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.count
	ch <- c.average
	ch <- c.min
	ch <- c.max
	ch <- c.stddev
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.recorder.Metrics() {
		st := c.recorder.Stats(name)
		if st.Count == 0 {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue, float64(st.Count), name)
		ch <- prometheus.MustNewConstMetric(c.average, prometheus.GaugeValue, st.Average, name)
		ch <- prometheus.MustNewConstMetric(c.min, prometheus.GaugeValue, st.Min, name)
		ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, st.Max, name)
		ch <- prometheus.MustNewConstMetric(c.stddev, prometheus.GaugeValue, st.StdDev, name)
	}
}
