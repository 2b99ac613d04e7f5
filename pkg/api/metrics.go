package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/maestro/pkg/importer"
	"github.com/hazyhaar/maestro/pkg/kit"
	"github.com/hazyhaar/maestro/pkg/maestro"
)

// Outcomes recorded on the counters.
const (
	outcomeHit   = "hit"
	outcomeMiss  = "miss"
	outcomeOK    = "ok"
	outcomeError = "error"
)

// unknownLabel replaces caller-supplied ids that name nothing loaded.
const unknownLabel = "unknown"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	lookups        *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	resolveSeconds *prometheus.HistogramVec
}

// NewMetrics creates the collectors. Gauges for the loaded maestros read reg
// at scrape time.
func NewMetrics(reg *maestro.Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maestro",
			Name:      "lookups_total",
			Help:      "Key lookups by maestro and outcome (hit, miss, error).",
		}, []string{"maestro", "outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maestro",
			Name:      "resolutions_total",
			Help:      "Resolution requests by job and outcome (ok, error).",
		}, []string{"job", "outcome"}),
		resolveSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "maestro",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a request frame.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	m.registry.MustRegister(
		m.lookups,
		m.resolutions,
		m.resolveSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "tables_loaded",
			Help:      "Maestros currently loaded.",
		}, func() float64 { return float64(reg.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "reference_entries",
			Help:      "Keys across all loaded reference maestros.",
		}, func() float64 { return float64(reg.TotalEntries()) }),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// countLookups records the outcome of every lookup.
func (m *Metrics) countLookups(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*lookupReq)
		resp, err := next(ctx, request)
		outcome := outcomeError
		if r, ok := resp.(*maestro.LookupResult); ok && err == nil {
			outcome = outcomeMiss
			if r.Found {
				outcome = outcomeHit
			}
		}
		label := req.Maestro
		if errors.Is(err, maestro.ErrUnknownMaestro) {
			label = unknownLabel
		}
		m.lookups.WithLabelValues(label, outcome).Inc()
		return resp, err
	}
}

// countResolutions records the outcome and duration of every resolution.
func (m *Metrics) countResolutions(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*resolveReq)
		start := time.Now()
		resp, err := next(ctx, request)
		outcome := outcomeOK
		if err != nil {
			outcome = outcomeError
		}
		label := req.Job
		if errors.Is(err, importer.ErrUnknownAdapter) {
			label = unknownLabel
		}
		m.resolutions.WithLabelValues(label, outcome).Inc()
		m.resolveSeconds.WithLabelValues(label).Observe(time.Since(start).Seconds())
		return resp, err
	}
}
