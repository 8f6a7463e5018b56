// Package metrics exposes Prometheus metrics for the inbound pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "smsinbound"

// Metrics holds all Prometheus metrics for the inbound pipeline.
type Metrics struct {
	// Segment intake
	SegmentsTotal     *prometheus.CounterVec // by outcome: accepted, duplicate, error, ignored
	DuplicateMismatch prometheus.Counter
	RejectedTotal     *prometheus.CounterVec // by transport source

	// Reassembly and delivery
	MessagesDelivered *prometheus.CounterVec // by action
	MessagesPending   prometheus.Counter     // incomplete reassembly checks
	PushDiscarded     prometheus.Counter
	FanoutDuration    prometheus.Histogram
	SlowFanouts       prometheus.Counter
	SubscriberFailure prometheus.Counter

	// Store
	RowsDeleted   prometheus.Counter
	DeleteMisses  prometheus.Counter
	StorageErrors *prometheus.CounterVec // by op: insert, query, delete
	RecoveredRows *prometheus.CounterVec // by disposition: resubmitted, expired

	// Transports
	SilentLinks *prometheus.CounterVec // by transport source

	// State machine
	State     *prometheus.GaugeVec // 1 for the active innermost state
	KeepAlive prometheus.Gauge
	Unhandled prometheus.Counter
}

// New creates and registers all metrics with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		SegmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segments",
			Name:      "received_total",
			Help:      "Segments submitted by transports, by outcome",
		}, []string{"outcome"}),
		DuplicateMismatch: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segments",
			Name:      "duplicate_mismatch_total",
			Help:      "Duplicate segments whose payload differed from the stored copy",
		}),
		RejectedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "segments",
			Name:      "rejected_total",
			Help:      "Segments not acknowledged to the transport, by source",
		}, []string{"source"}),
		MessagesDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dispatched_total",
			Help:      "Complete messages handed to subscribers, by action",
		}, []string{"action"}),
		MessagesPending: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "incomplete_total",
			Help:      "Reassembly checks that found segments still missing",
		}),
		PushDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "push_discarded_total",
			Help:      "Binary push payloads that were not dispatched",
		}),
		FanoutDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "fanout_duration_seconds",
			Help:      "Time from dispatch to completion of an ordered notification",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}),
		SlowFanouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "slow_fanouts_total",
			Help:      "Ordered notifications that took longer than the slow threshold",
		}),
		SubscriberFailure: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "subscriber_failures_total",
			Help:      "Fan-outs that completed with a failure result",
		}),
		RowsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rows_deleted_total",
			Help:      "Segment rows deleted after delivery",
		}),
		DeleteMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "delete_misses_total",
			Help:      "Post-delivery deletes that removed no rows",
		}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Segment store failures, by operation",
		}, []string{"op"}),
		RecoveredRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "rows_total",
			Help:      "Rows found by the startup sweep, by disposition",
		}, []string{"disposition"}),
		SilentLinks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "silent_total",
			Help:      "Times a connected transport went quiet past its activity timeout, by source",
		}, []string{"source"}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "state",
			Help:      "1 for the active state of the delivery state machine",
		}, []string{"state"}),
		KeepAlive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "keepalive_held",
			Help:      "1 while the keep-alive hold is in effect",
		}),
		Unhandled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "machine",
			Name:      "unhandled_events_total",
			Help:      "Events no state handled",
		}),
	}
}

// ObserveFanout records a completed fan-out.
func (m *Metrics) ObserveFanout(elapsed time.Duration, slow bool) {
	m.FanoutDuration.Observe(elapsed.Seconds())
	if slow {
		m.SlowFanouts.Inc()
	}
}

// SetState marks name as the active state.
func (m *Metrics) SetState(name string) {
	m.State.Reset()
	m.State.WithLabelValues(name).Set(1)
}

// SetKeepAlive records whether the keep-alive hold is in effect.
func (m *Metrics) SetKeepAlive(held bool) {
	if held {
		m.KeepAlive.Set(1)
	} else {
		m.KeepAlive.Set(0)
	}
}
