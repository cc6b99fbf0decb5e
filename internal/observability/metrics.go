// Package observability exposes enrichment metrics, pipeline health and a
// small status HTTP server.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-trading/enricher/internal/enrich"
	"github.com/nexus-trading/enricher/internal/sources"
	"github.com/nexus-trading/enricher/internal/token"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "enricher"

// Metrics holds the Prometheus metrics of the enrichment pipelines. It
// implements enrich.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Per token
	TokensProcessed *prometheus.CounterVec
	StatusWrites    *prometheus.CounterVec
	Snapshots       *prometheus.CounterVec
	TokenDuration   *prometheus.HistogramVec

	// Per cycle
	Cycles           *prometheus.CounterVec
	CycleDuration    *prometheus.HistogramVec
	CycleSelected    *prometheus.GaugeVec
	CycleSuccessRate *prometheus.GaugeVec
	LastCycle        *prometheus.GaugeVec
}

// NewMetrics registers all metrics on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TokensProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "processed_total",
			Help:      "Tokens processed by source and outcome",
		}, []string{"source", "outcome"}),
		StatusWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "status_writes_total",
			Help:      "Token statuses written by source",
		}, []string{"source", "status"}),
		Snapshots: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "snapshots_total",
			Help:      "Pre-update snapshots by source and result",
		}, []string{"source", "result"}),
		TokenDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "duration_seconds",
			Help:      "Time spent enriching one token",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),

		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Completed enrichment cycles by source",
		}, []string{"source"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Enrichment cycle duration",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"source"}),
		CycleSelected: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "selected_tokens",
			Help:      "Tokens selected by the last cycle",
		}, []string{"source"}),
		CycleSuccessRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "success_rate_percent",
			Help:      "Share of processed tokens updated in the last cycle",
		}, []string{"source"}),
		LastCycle: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "last_finished_timestamp_seconds",
			Help:      "Unix time the last cycle finished",
		}, []string{"source"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TokenDone implements enrich.Observer.
func (m *Metrics) TokenDone(src token.Source, r enrich.Result) {
	s := string(src)
	m.TokensProcessed.WithLabelValues(s, string(r.Outcome)).Inc()
	if r.Status != "" {
		m.StatusWrites.WithLabelValues(s, string(r.Status)).Inc()
	}
	switch {
	case r.SnapshotErr != nil:
		m.Snapshots.WithLabelValues(s, "error").Inc()
	case r.Snapshot:
		m.Snapshots.WithLabelValues(s, "ok").Inc()
	default:
		m.Snapshots.WithLabelValues(s, "missing").Inc()
	}
	if r.Duration > 0 {
		m.TokenDuration.WithLabelValues(s).Observe(r.Duration.Seconds())
	}
}

// CycleDone implements enrich.Observer.
func (m *Metrics) CycleDone(c *enrich.CycleStats) {
	s := string(c.Pipeline)
	m.Cycles.WithLabelValues(s).Inc()
	m.CycleDuration.WithLabelValues(s).Observe(c.Duration().Seconds())
	m.CycleSelected.WithLabelValues(s).Set(float64(c.Selected))
	m.CycleSuccessRate.WithLabelValues(s).Set(c.SuccessRate())
	m.LastCycle.WithLabelValues(s).Set(float64(c.FinishedAt.Unix()))
}

// WatchSources exports the counters kept by the source clients and their
// rate limiters.
func (m *Metrics) WatchSources(namespace string, reporters ...sources.StatsReporter) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return m.registry.Register(newSourceCollector(namespace, reporters))
}

// ---------------------------------------------------------------------------
// Source collector
// ---------------------------------------------------------------------------

type sourceCollector struct {
	reporters []sources.StatsReporter

	requests    *prometheus.Desc
	apiErrors   *prometheus.Desc
	rateLimited *prometheus.Desc
	noData      *prometheus.Desc
	multiplier  *prometheus.Desc
	available   *prometheus.Desc
	waited      *prometheus.Desc
}

func newSourceCollector(namespace string, reporters []sources.StatsReporter) *sourceCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "source", name), help, []string{"source"}, nil)
	}
	return &sourceCollector{
		reporters:   reporters,
		requests:    desc("requests_total", "HTTP requests issued"),
		apiErrors:   desc("api_errors_total", "Requests that ended in an API error"),
		rateLimited: desc("rate_limited_total", "HTTP 429 responses received"),
		noData:      desc("no_data_total", "Fetches that found no data"),
		multiplier:  desc("backoff_multiplier", "Current rate limiter backoff multiplier"),
		available:   desc("window_available", "Requests still available in the rolling window"),
		waited:      desc("limiter_wait_seconds_total", "Time spent waiting on the rate limiter"),
	}
}

func (c *sourceCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.requests, c.apiErrors, c.rateLimited, c.noData, c.multiplier, c.available, c.waited,
	} {
		ch <- d
	}
}

func (c *sourceCollector) Collect(ch chan<- prometheus.Metric) {
	for _, r := range c.reporters {
		st := r.Stats()
		src := string(st.Source)
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(st.Requests), src)
		ch <- prometheus.MustNewConstMetric(c.apiErrors, prometheus.CounterValue, float64(st.APIErrors), src)
		ch <- prometheus.MustNewConstMetric(c.rateLimited, prometheus.CounterValue, float64(st.RateLimited), src)
		ch <- prometheus.MustNewConstMetric(c.noData, prometheus.CounterValue, float64(st.NoData), src)
		ch <- prometheus.MustNewConstMetric(c.multiplier, prometheus.GaugeValue, st.Limiter.Multiplier, src)
		ch <- prometheus.MustNewConstMetric(c.available, prometheus.GaugeValue, float64(st.Limiter.Available), src)
		ch <- prometheus.MustNewConstMetric(c.waited, prometheus.CounterValue, st.Limiter.Waited.Seconds(), src)
	}
}
