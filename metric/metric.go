// Package metric exposes engine counters as prometheus collectors.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "livefx"

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metric contains engine collectors. Nil *Metric is valid and records nothing.
type Metric struct {
	builds        *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	swaps         *prometheus.CounterVec
	notifications *prometheus.CounterVec
	fades         prometheus.Counter
	fadeDuration  prometheus.Histogram
	fadeState     prometheus.Gauge
}

// New creates collectors and registers them with provided registerer.
func New(r prometheus.Registerer) *Metric {
	m := &Metric{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Total effect builds by effect and result.",
		}, []string{"effect", "result"}),
		buildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Effect build duration by locality.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"locality"}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Total artifact swaps by effect.",
		}, []string{"effect"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_total",
			Help:      "Total effect changed notifications by reason.",
		}, []string{"effect", "reason"}),
		fades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fades_total",
			Help:      "Total completed crossfades.",
		}),
		fadeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fade_duration_seconds",
			Help:      "Time between fade start and its completion.",
			Buckets:   prometheus.LinearBuckets(0.25, 0.25, 12),
		}),
		fadeState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fade_state",
			Help:      "Current crossfade state: 0 idle, 1 fading, 2 complete.",
		}),
	}
	if r != nil {
		r.MustRegister(m.builds, m.buildDuration, m.swaps, m.notifications, m.fades, m.fadeDuration, m.fadeState)
	}
	return m
}

// Build captures a build attempt.
func (m *Metric) Build(effect, locality string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.builds.WithLabelValues(effect, result).Inc()
	m.buildDuration.WithLabelValues(locality).Observe(d.Seconds())
}

// Swap captures a published rebuild.
func (m *Metric) Swap(effect string) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(effect).Inc()
}

// Notify captures an effect changed notification.
func (m *Metric) Notify(effect, reason string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(effect, reason).Inc()
}

// FadeState captures crossfade state change.
func (m *Metric) FadeState(state int) {
	if m == nil {
		return
	}
	m.fadeState.Set(float64(state))
}

// Fade captures completed crossfade.
func (m *Metric) Fade(d time.Duration) {
	if m == nil {
		return
	}
	m.fades.Inc()
	m.fadeDuration.Observe(d.Seconds())
}
