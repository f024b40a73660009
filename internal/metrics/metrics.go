// Package metrics holds the Prometheus collectors for matchmaking and
// moderation. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pugbot"

// Metrics groups every collector the bot exports.
type Metrics struct {
	registry *prometheus.Registry

	proposals         *prometheus.CounterVec
	moves             *prometheus.CounterVec
	strikeTransitions *prometheus.CounterVec
	sweepDecays       *prometheus.CounterVec
	ratingJobs        *prometheus.CounterVec
	ratingDelta       prometheus.Histogram
	interactions      *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	auto := promauto.With(reg)
	return &Metrics{
		registry: reg,
		proposals: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proposal",
			Name:      "outcomes_total",
			Help:      "Team proposals by terminal state",
		}, []string{"track", "state"}),
		moves: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proposal",
			Name:      "moves_total",
			Help:      "Participant room moves by result",
		}, []string{"result"}),
		strikeTransitions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discipline",
			Name:      "transitions_total",
			Help:      "Moderation events by event and result",
		}, []string{"event", "result"}),
		sweepDecays: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discipline",
			Name:      "sweep_decays_total",
			Help:      "Penalties decayed by the daily sweep",
		}, []string{"rule"}),
		ratingJobs: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rating",
			Name:      "jobs_total",
			Help:      "Rating jobs by result",
		}, []string{"result"}),
		ratingDelta: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rating",
			Name:      "delta",
			Help:      "Per-side rating change applied after a match",
			Buckets:   prometheus.LinearBuckets(-48, 8, 13),
		}),
		interactions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discord",
			Name:      "interactions_total",
			Help:      "Discord interactions handled by command and result",
		}, []string{"command", "result"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ProposalFinished(track, state string) {
	if m == nil {
		return
	}
	m.proposals.WithLabelValues(track, state).Inc()
}

func (m *Metrics) Move(ok bool) {
	if m == nil {
		return
	}
	m.moves.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) StrikeTransition(event string, err error) {
	if m == nil {
		return
	}
	m.strikeTransitions.WithLabelValues(event, result(err == nil)).Inc()
}

func (m *Metrics) SweepDecay(rule string) {
	if m == nil {
		return
	}
	m.sweepDecays.WithLabelValues(rule).Inc()
}

// RatingJob counts a finished job; result is "applied", "skipped" or "error".
func (m *Metrics) RatingJob(result string) {
	if m == nil {
		return
	}
	m.ratingJobs.WithLabelValues(result).Inc()
}

func (m *Metrics) RatingDelta(delta int) {
	if m == nil {
		return
	}
	m.ratingDelta.Observe(float64(delta))
}

func (m *Metrics) Interaction(command string, ok bool) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(command, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
