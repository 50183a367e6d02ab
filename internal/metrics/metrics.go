// Package metrics exposes Prometheus collectors for pin ingestion, the
// leaderboard, and the live feed.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spotter"

// Recorder owns a private registry and the service collectors.
type Recorder struct {
	registry          *prometheus.Registry
	pinsCreated       prometheus.Counter
	rateLimitDecision *prometheus.CounterVec
	leaderboardQuery  *prometheus.CounterVec
	liveSessions      prometheus.Gauge
	sessionsDropped   *prometheus.CounterVec
	messagesDelivered prometheus.Counter
}

// NewRecorder builds the collectors and registers them, along with the Go
// runtime and process collectors, on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	recorder := &Recorder{
		registry: registry,
		pinsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pins_created_total",
			Help:      "Pins persisted.",
		}),
		rateLimitDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Pin creation admission decisions by outcome.",
		}, []string{"outcome"}),
		leaderboardQuery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaderboard_queries_total",
			Help:      "Leaderboard queries by ranking type.",
		}, []string{"type"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Registered live feed sessions.",
		}),
		sessionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_drops_total",
			Help:      "Live feed sessions or broadcasts dropped, by reason.",
		}, []string{"reason"}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_messages_delivered_total",
			Help:      "Pin messages written to live feed sessions.",
		}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		recorder.pinsCreated,
		recorder.rateLimitDecision,
		recorder.leaderboardQuery,
		recorder.liveSessions,
		recorder.sessionsDropped,
		recorder.messagesDelivered,
	)
	return recorder
}

// Registry exposes the private registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) PinCreated() { r.pinsCreated.Inc() }

func (r *Recorder) RateLimitDecision(allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	r.rateLimitDecision.WithLabelValues(outcome).Inc()
}

func (r *Recorder) LeaderboardQuery(rankingType string) {
	r.leaderboardQuery.WithLabelValues(rankingType).Inc()
}

func (r *Recorder) SessionOpened() { r.liveSessions.Inc() }

func (r *Recorder) SessionClosed() { r.liveSessions.Dec() }

func (r *Recorder) SessionDropped(reason string) {
	r.sessionsDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) MessageDelivered() { r.messagesDelivered.Inc() }
