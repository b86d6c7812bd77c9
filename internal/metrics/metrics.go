// Package metrics exposes Prometheus collectors for widget engines and the
// session layer.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashureev/chatwidget/internal/speech"
)

const namespace = "chatwidget"

// Collector implements widget.Observer and the session hooks.
type Collector struct {
	messagesSent     prometheus.Counter
	backendRequests  *prometheus.CounterVec
	backendLatency   prometheus.Histogram
	replies          *prometheus.CounterVec
	revealDuration   prometheus.Histogram
	turnsAbandoned   prometheus.Counter
	inactivityResets prometheus.Counter
	voiceAttempts    *prometheus.CounterVec
	activeEngines    prometheus.Gauge
	subscribers      prometheus.Gauge
	enginesReaped    prometheus.Counter
	visitorsDeleted  prometheus.Counter
	rateLimited      prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "User messages accepted by widget engines.",
		}),
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Chat backend requests by result.",
		}, []string{"result"}),
		backendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Chat backend request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_revealed_total",
			Help:      "Bot replies fully revealed, by outcome.",
		}, []string{"outcome"}),
		revealDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reveal_duration_seconds",
			Help:      "Time from placeholder to finalized reply.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		turnsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_abandoned_total",
			Help:      "Turns cancelled by a clear or inactivity reset.",
		}),
		inactivityResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inactivity_resets_total",
			Help:      "Transcripts cleared after the inactivity window.",
		}),
		voiceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_attempts_total",
			Help:      "Speech recognition attempts by result.",
		}, []string{"result"}),
		activeEngines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_engines",
			Help:      "Widget engines held in memory.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected websocket and SSE subscribers.",
		}),
		enginesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engines_reaped_total",
			Help:      "Idle engines closed by the reaper.",
		}),
		visitorsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visitors_deleted_total",
			Help:      "Visitors removed by the retention sweep.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Sends rejected by the per-visitor limiter.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.messagesSent, c.backendRequests, c.backendLatency,
			c.replies, c.revealDuration, c.turnsAbandoned,
			c.inactivityResets, c.voiceAttempts, c.activeEngines,
			c.subscribers, c.enginesReaped, c.visitorsDeleted, c.rateLimited,
		)
	}
	return c
}

// MessageSent counts an accepted user message.
func (c *Collector) MessageSent() { c.messagesSent.Inc() }

// BackendRequest records one backend call.
func (c *Collector) BackendRequest(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.backendRequests.WithLabelValues(result).Inc()
	c.backendLatency.Observe(d.Seconds())
}

// ReplyRevealed records a finalized reply.
func (c *Collector) ReplyRevealed(failed bool, d time.Duration) {
	outcome := "reply"
	if failed {
		outcome = "fallback"
	}
	c.replies.WithLabelValues(outcome).Inc()
	c.revealDuration.Observe(d.Seconds())
}

// TurnAbandoned counts a cancelled turn.
func (c *Collector) TurnAbandoned() { c.turnsAbandoned.Inc() }

// InactivityReset counts an inactivity clear.
func (c *Collector) InactivityReset() { c.inactivityResets.Inc() }

// VoiceAttempt records a recognition outcome.
func (c *Collector) VoiceAttempt(err error) {
	result := "ok"
	switch {
	case errors.Is(err, speech.ErrUnsupported):
		result = "unsupported"
	case err != nil:
		result = "error"
	}
	c.voiceAttempts.WithLabelValues(result).Inc()
}

// SetActiveEngines reports the registry size.
func (c *Collector) SetActiveEngines(n int) { c.activeEngines.Set(float64(n)) }

// AddSubscribers moves the subscriber gauge by delta.
func (c *Collector) AddSubscribers(delta int) { c.subscribers.Add(float64(delta)) }

// EnginesReaped counts engines closed by the reaper.
func (c *Collector) EnginesReaped(n int) { c.enginesReaped.Add(float64(n)) }

// VisitorsDeleted counts visitors removed by retention.
func (c *Collector) VisitorsDeleted(n int64) { c.visitorsDeleted.Add(float64(n)) }

// RateLimited counts a rejected send.
func (c *Collector) RateLimited() { c.rateLimited.Inc() }
