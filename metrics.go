package ebrmap

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional Prometheus instrumentation for a Table/EBR pair:
// nil by default (no per-op overhead beyond a pointer nil-check), wired
// in with WithMetrics.
type Metrics struct {
	growths      prometheus.Counter
	shrinks      prometheus.Counter
	migrations   prometheus.Counter
	commits      prometheus.Counter
	commitHelps  prometheus.Counter
	retires      prometheus.Counter
	retireUnused prometheus.Counter
	combineWins  prometheus.Counter
	buckets      prometheus.Gauge
}

// NewMetrics builds a Metrics sink and registers it with reg. Pass a
// distinct namespace/subsystem per table instance that shares a
// prometheus.Registerer with other tables to avoid collector collisions.
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	m := &Metrics{
		growths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "growths_total",
			Help: "Number of times the table's bucket store grew during migration.",
		}),
		shrinks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "shrinks_total",
			Help: "Number of times the table's bucket store shrank during migration.",
		}),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "migrations_total",
			Help: "Number of store migrations triggered (grow or shrink).",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "commits_total",
			Help: "Number of write-epoch commits performed by writers.",
		}),
		commitHelps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "commit_helps_total",
			Help: "Number of write-epoch commits performed by a helping reader.",
		}),
		retires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "retires_total",
			Help: "Number of headers retired for deferred reclamation.",
		}),
		retireUnused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "retire_unused_total",
			Help: "Number of headers freed immediately (never observable).",
		}),
		combineWins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "combine_wins_total",
			Help: "Number of times a losing writer combined with the CAS winner instead of retrying.",
		}),
		buckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "buckets",
			Help: "Current number of buckets in the active store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.growths, m.shrinks, m.migrations, m.commits,
			m.commitHelps, m.retires, m.retireUnused, m.combineWins, m.buckets,
		)
	}
	return m
}
