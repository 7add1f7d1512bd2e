// Package metrics exposes the runtime's operational state as Prometheus
// metrics. The collector reads the store at scrape time, so gauges always
// reflect the durable state rather than in-process counters that drift
// across restarts.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/olympus-org/olympus/internal/logger"
	"github.com/olympus-org/olympus/internal/logger/tag"
	"github.com/olympus-org/olympus/internal/store"
)

// scrapeTimeout bounds the census queries so a slow database cannot hang
// the scrape.
const scrapeTimeout = 2 * time.Second

// Collector implements prometheus.Collector over the durable store.
type Collector struct {
	version    string
	store      *store.Store
	activeRuns func() int
	startedAt  time.Time

	info    *prometheus.Desc
	uptime  *prometheus.Desc
	active  *prometheus.Desc
	plans   *prometheus.Desc
	steps   *prometheus.Desc
	events  *prometheus.Desc
	facts   *prometheus.Desc
}

// NewCollector creates a collector over the store. activeRuns reports the
// plans currently executing in this process; nil reports zero.
func NewCollector(version string, st *store.Store, activeRuns func() int) *Collector {
	if activeRuns == nil {
		activeRuns = func() int { return 0 }
	}
	return &Collector{
		version:    version,
		store:      st,
		activeRuns: activeRuns,
		startedAt:  time.Now(),
		info: prometheus.NewDesc("olympus_info",
			"Build information.", []string{"version"}, nil),
		uptime: prometheus.NewDesc("olympus_uptime_seconds",
			"Seconds since the process started.", nil, nil),
		active: prometheus.NewDesc("olympus_active_runs",
			"Plans currently executing in this process.", nil, nil),
		plans: prometheus.NewDesc("olympus_plans",
			"Plans in the store by state.", []string{"state"}, nil),
		steps: prometheus.NewDesc("olympus_steps",
			"Steps in the store by state.", []string{"state"}, nil),
		events: prometheus.NewDesc("olympus_events_total",
			"Transcript events recorded.", nil, nil),
		facts: prometheus.NewDesc("olympus_facts_total",
			"Facts stored.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.info
	ch <- c.uptime
	ch <- c.active
	ch <- c.plans
	ch <- c.steps
	ch <- c.events
	ch <- c.facts
}

// Collect implements prometheus.Collector. Store failures drop the census
// gauges from the scrape but never fail it.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1, c.version)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue,
		time.Since(c.startedAt).Seconds())
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue,
		float64(c.activeRuns()))

	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()
	counts, err := c.store.Counts(ctx)
	if err != nil {
		logger.Error(ctx, "Metrics census failed", tag.Error(err))
		return
	}
	for state, n := range counts.PlansByState {
		ch <- prometheus.MustNewConstMetric(c.plans, prometheus.GaugeValue, float64(n), state)
	}
	for state, n := range counts.StepsByState {
		ch <- prometheus.MustNewConstMetric(c.steps, prometheus.GaugeValue, float64(n), state)
	}
	ch <- prometheus.MustNewConstMetric(c.events, prometheus.GaugeValue, float64(counts.Events))
	ch <- prometheus.MustNewConstMetric(c.facts, prometheus.GaugeValue, float64(counts.Facts))
}

// NewRegistry creates a registry with the collector plus the standard Go
// and process collectors.
func NewRegistry(collector *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collector,
	)
	return registry
}
