// Package metrics counts what a run did and writes it in the Prometheus
// text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ptrun"

// Metrics owns its registry so several runs in one process (scheduled
// scrapes, tests) never collide on the default registerer.
type Metrics struct {
	Registry *prometheus.Registry

	Fetches     *prometheus.CounterVec
	Generations *prometheus.CounterVec
	Listings    *prometheus.CounterVec
	Pages       prometheus.Gauge
	RunDuration prometheus.Gauge
	LastRun     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "External GETs by cache namespace and outcome (hit, miss, error).",
		}, []string{"namespace", "result"}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Text-generation calls by operation and outcome (hit, miss, error).",
		}, []string{"op", "result"}),
		Listings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_total",
			Help:      "Listings enriched, by outcome.",
		}, []string{"result"}),
		Pages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pages_fetched",
			Help:      "Listing pages read in the last run.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	m.Registry.MustRegister(m.Fetches, m.Generations, m.Listings, m.Pages, m.RunDuration, m.LastRun)
	return m
}

func result(fromCache bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case fromCache:
		return "hit"
	default:
		return "miss"
	}
}

// ObserveFetch matches fetch.Observer.
func (m *Metrics) ObserveFetch(ns string, fromCache bool, err error) {
	m.Fetches.WithLabelValues(ns, result(fromCache, err)).Inc()
}

// ObserveGeneration matches textgen.Observer.
func (m *Metrics) ObserveGeneration(op string, fromCache bool, err error) {
	m.Generations.WithLabelValues(op, result(fromCache, err)).Inc()
}

// ObserveListing records one listing outcome.
func (m *Metrics) ObserveListing(_ int, err error) {
	if err != nil {
		m.Listings.WithLabelValues("failed").Inc()
		return
	}
	m.Listings.WithLabelValues("succeeded").Inc()
}

// ObserveRun records the totals of a finished run.
func (m *Metrics) ObserveRun(pages int, elapsed time.Duration, finished time.Time) {
	m.Pages.Set(float64(pages))
	m.RunDuration.Set(elapsed.Seconds())
	m.LastRun.Set(float64(finished.Unix()))
}

// WriteTextfile writes the registry to path, for node_exporter's textfile
// collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
