// Package metrics exposes the daemon's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	sessionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "softline_session_status",
		Help: "Current session status (1 for the active status, 0 otherwise)",
	}, []string{"status"})

	registrationEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softline_registration_events_total",
		Help: "Engine registration events by raw state and outcome",
	}, []string{"state", "outcome"}) // outcome=forwarded|suppressed

	shutdownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softline_shutdowns_total",
		Help: "Shutdown sequences started, by cause",
	}, []string{"cause"}) // cause=call_ended|idle|connection_timeout|requested

	workerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softline_engine_worker_restarts_total",
		Help: "Engine worker restarts after an unexpected exit",
	})

	// Call metrics
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softline_calls_total",
		Help: "Calls started, by direction",
	}, []string{"direction"}) // direction=incoming|outgoing

	callsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softline_calls_ended_total",
		Help: "Calls ended, by end reason",
	}, []string{"reason"})

	missedCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softline_missed_calls_total",
		Help: "Incoming calls that ended without being answered",
	})

	callQuality = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "softline_call_quality",
		Help: "Network quality bucket of the current call (0 unknown .. 5 good)",
	})

	callJitter = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "softline_call_jitter_ms",
		Help:    "Interarrival jitter reported by the media engine",
		Buckets: []float64{1, 5, 10, 20, 40, 80, 160},
	})

	// Effects metrics
	effectStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softline_effect_starts_total",
		Help: "Effect playbacks started, by kind",
	}, []string{"kind"})

	effectErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "softline_effect_errors_total",
		Help: "Effect players discarded after an error, by kind",
	}, []string{"kind"})
)

var statusLabels = []string{"UNKNOWN", "OFFLINE", "CONNECTING", "ONLINE", "ONGOING_CALL", "ERROR"}

// SetSessionStatus marks status as the active session status.
func SetSessionStatus(status string) {
	for _, l := range statusLabels {
		v := 0.0
		if l == status {
			v = 1
		}
		sessionStatus.WithLabelValues(l).Set(v)
	}
}

// RecordRegistrationEvent counts a registration event.
func RecordRegistrationEvent(state string, suppressed bool) {
	outcome := "forwarded"
	if suppressed {
		outcome = "suppressed"
	}
	registrationEvents.WithLabelValues(state, outcome).Inc()
}

// RecordShutdown counts a shutdown sequence.
func RecordShutdown(cause string) {
	shutdownsTotal.WithLabelValues(cause).Inc()
}

// RecordWorkerRestart counts an engine worker restart.
func RecordWorkerRestart() {
	workerRestarts.Inc()
}

// RecordCallStarted counts a new call.
func RecordCallStarted(incoming bool) {
	direction := "outgoing"
	if incoming {
		direction = "incoming"
	}
	callsTotal.WithLabelValues(direction).Inc()
}

// RecordCallEnded counts an ended call.
func RecordCallEnded(reason string, missed bool) {
	callsEnded.WithLabelValues(reason).Inc()
	if missed {
		missedCalls.Inc()
	}
}

// ObserveCallQuality records a connection statistics sample.
func ObserveCallQuality(bucket int, jitterMs int) {
	callQuality.Set(float64(bucket))
	callJitter.Observe(float64(jitterMs))
}

// RecordEffectStart counts an effect playback start.
func RecordEffectStart(kind string) {
	effectStarts.WithLabelValues(kind).Inc()
}

// RecordEffectError counts a discarded effect player.
func RecordEffectError(kind string) {
	effectErrors.WithLabelValues(kind).Inc()
}
