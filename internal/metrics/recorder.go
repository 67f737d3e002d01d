// Package metrics exports presence events as Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/presence-service/internal/application"
)

const namespace = "presence"

// Recorder implements application.Instrumentation on top of Prometheus.
type Recorder struct {
	pings       *prometheus.CounterVec
	trackerSize prometheus.Gauge
	sweeps      *prometheus.CounterVec
	demoted     prometheus.Counter
	pruned      prometheus.Counter
	sweepTime   prometheus.Histogram
	waits       *prometheus.HistogramVec
}

var _ application.Instrumentation = (*Recorder)(nil)

// NewRecorder builds the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		pings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pings_total",
				Help:      "Number of activity signals recorded, by kind.",
			},
			[]string{"kind"},
		),
		trackerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracker_entries",
			Help:      "Users currently held in the local heartbeat tracker.",
		}),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweeps_total",
				Help:      "Sweep ticks by status, skip reason and backend.",
			},
			[]string{"status", "reason", "backend"},
		),
		demoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_demoted_total",
			Help:      "Users demoted to offline by sweeps.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_pruned_total",
			Help:      "Local tracker entries pruned by sweeps.",
		}),
		sweepTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
		waits: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "longpoll_wait_seconds",
				Help:      "Time spent in activity long-poll waits.",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"window", "changed"},
		),
	}
	if reg != nil {
		reg.MustRegister(r.pings, r.trackerSize, r.sweeps, r.demoted, r.pruned, r.sweepTime, r.waits)
	}
	return r
}

// PingRecorded counts an activity signal.
func (r *Recorder) PingRecorded(kind string) {
	r.pings.WithLabelValues(kind).Inc()
}

// TrackerSize publishes the local tracker size.
func (r *Recorder) TrackerSize(n int) {
	r.trackerSize.Set(float64(n))
}

// SweepFinished records a sweep outcome.
func (r *Recorder) SweepFinished(outcome application.SweepOutcome) {
	r.sweeps.WithLabelValues(string(outcome.Status), outcome.Reason, outcome.Backend).Inc()
	if outcome.Demoted > 0 {
		r.demoted.Add(float64(outcome.Demoted))
	}
	if outcome.Pruned > 0 {
		r.pruned.Add(float64(outcome.Pruned))
	}
	r.sweepTime.Observe(outcome.Duration.Seconds())
}

// WaitFinished records a completed long-poll wait.
func (r *Recorder) WaitFinished(window application.Window, changed bool, elapsed time.Duration) {
	r.waits.WithLabelValues(string(window), strconv.FormatBool(changed)).Observe(elapsed.Seconds())
}
