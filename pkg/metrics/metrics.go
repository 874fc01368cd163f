// Package metrics holds the bot's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cpunion/quote-bot/pkg/types"
)

const namespace = "quote_bot"

// Collector records cycle outcomes.
type Collector struct {
	cycles          *prometheus.CounterVec
	quotes          *prometheus.CounterVec
	duplicates      prometheus.Counter
	truncated       prometheus.Counter
	publishes       *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	historySize     prometheus.Gauge
	lastPublishTime prometheus.Gauge
	buildInfo       *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer, version string) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Post cycles by outcome (published, failed).",
		}, []string{"outcome"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quotes selected for publication by source.",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Candidates rejected as duplicates of recent posts.",
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_total",
			Help:      "Quotes shortened to fit the length limit.",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish attempts by platform and result.",
		}, []string{"platform", "result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one post cycle.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Entries in the recent-post cache.",
		}),
		lastPublishTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last cycle that published anywhere.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information.",
		}, []string{"version"}),
	}
	c.buildInfo.WithLabelValues(version).Set(1)

	if reg != nil {
		reg.MustRegister(
			c.cycles,
			c.quotes,
			c.duplicates,
			c.truncated,
			c.publishes,
			c.cycleDuration,
			c.historySize,
			c.lastPublishTime,
			c.buildInfo,
		)
	}
	return c
}

// ObserveCycle records everything a cycle report carries.
func (c *Collector) ObserveCycle(r *types.CycleReport) {
	if c == nil || r == nil {
		return
	}
	c.quotes.WithLabelValues(string(r.Quote.Source)).Inc()
	c.duplicates.Add(float64(r.Quote.Duplicates))
	if r.Quote.Truncated {
		c.truncated.Inc()
	}
	for _, res := range r.Results {
		result := "ok"
		if !res.OK {
			result = "error"
		}
		c.publishes.WithLabelValues(string(res.Platform), result).Inc()
	}
	if r.Published() {
		c.cycles.WithLabelValues("published").Inc()
		c.lastPublishTime.Set(float64(r.StartedAt.Add(r.Duration).Unix()))
	} else {
		c.cycles.WithLabelValues("failed").Inc()
	}
	c.cycleDuration.Observe(r.Duration.Seconds())
}

// SetHistorySize reports the cache size.
func (c *Collector) SetHistorySize(n int) {
	if c == nil {
		return
	}
	c.historySize.Set(float64(n))
}
