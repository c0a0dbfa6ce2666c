// Package metrics holds the Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "energy_monitor"

// Cycle outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeFetchError = "fetch_error"
	OutcomeStoreError = "store_error"
	OutcomePanic      = "panic"
)

type Ingest struct {
	Cycles      *prometheus.CounterVec
	Records     prometheus.Counter
	Duration    prometheus.Histogram
	LastSuccess prometheus.Gauge
}

// NewIngest builds the collectors and registers them on reg when reg is non-nil.
func NewIngest(reg prometheus.Registerer) *Ingest {
	m := &Ingest{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cycles_total",
			Help:      "Ingestion cycles by outcome.",
		}, []string{"outcome"}),
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Price records handed to the store.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one fetch+save cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.Records, m.Duration, m.LastSuccess)
	}
	return m
}

func (m *Ingest) ObserveCycle(outcome string, records int, took time.Duration) {
	m.Cycles.WithLabelValues(outcome).Inc()
	m.Duration.Observe(took.Seconds())
	if outcome == OutcomeSuccess {
		m.Records.Add(float64(records))
		m.LastSuccess.SetToCurrentTime()
	}
}
