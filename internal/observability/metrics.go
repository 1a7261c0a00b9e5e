package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	apiRequestsTotal        *prometheus.CounterVec
	apiLatencySeconds       *prometheus.HistogramVec
	apiErrorsTotal          *prometheus.CounterVec
	sectionSubmissionsTotal *prometheus.CounterVec
	participantTerminations prometheus.Counter
	liveClientsActive       prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oa_requests_total",
			Help: "Total number of assessment API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oa_latency_seconds",
			Help:    "Latency distribution for assessment API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oa_errors_total",
			Help: "Total number of error responses returned by assessment endpoints.",
		}, []string{"method", "route", "status"})

		sectionSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oa_section_submissions_total",
			Help: "Section submissions processed, labelled by outcome.",
		}, []string{"result"})

		participantTerminations = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oa_participant_terminations_total",
			Help: "Participant attempts terminated early.",
		})

		liveClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oa_live_clients_active",
			Help: "Currently connected live leaderboard websocket clients.",
		})

		prometheus.MustRegister(
			apiRequestsTotal,
			apiLatencySeconds,
			apiErrorsTotal,
			sectionSubmissionsTotal,
			participantTerminations,
			liveClientsActive,
		)
	})
}

// APIRequests exposes the counter for assessment API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for assessment API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for assessment API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// SectionSubmissions exposes the submission outcome counter.
func SectionSubmissions() *prometheus.CounterVec {
	RegisterMetrics()
	return sectionSubmissionsTotal
}

// ParticipantTerminations exposes the termination counter.
func ParticipantTerminations() prometheus.Counter {
	RegisterMetrics()
	return participantTerminations
}

// LiveClientsActive exposes the live websocket client gauge.
func LiveClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return liveClientsActive
}
