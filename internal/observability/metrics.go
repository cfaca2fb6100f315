package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avatar_gateway_active_sessions",
		Help: "Number of avatar sessions tracked by this process",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_sessions_total",
		Help: "Total number of avatar sessions started",
	}, []string{"mode"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "avatar_gateway_session_duration_seconds",
		Help:    "Lifetime of avatar sessions in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	})

	keepAliveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "avatar_gateway_keepalive_failures_total",
		Help: "Scheduled keepalive heartbeats that failed",
	})

	speakRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_speak_requests_total",
		Help: "Speak requests by delivery mode and outcome",
	}, []string{"mode", "status"})

	// Upstream HTTP metrics
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_upstream_requests_total",
		Help: "Outbound HTTP requests by upstream, operation and status code (0 = transport failure)",
	}, []string{"upstream", "op", "code"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "avatar_gateway_upstream_latency_seconds",
		Help:    "Outbound HTTP request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	}, []string{"upstream", "op"})

	// Control channel metrics
	controlConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avatar_gateway_control_connections",
		Help: "Open control-channel WebSocket connections",
	})

	controlFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_control_frames_total",
		Help: "Frames written to control channels by frame type",
	}, []string{"type"})

	controlReadyWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "avatar_gateway_control_ready_wait_seconds",
		Help:    "Time spent waiting for control-channel readiness",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
	}, []string{"outcome"})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"provider", "status"})

	ttsLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "avatar_gateway_tts_latency_seconds",
		Help:    "TTS processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"provider"})

	// Relay metrics
	relaySubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "avatar_gateway_relay_subscribers",
		Help: "Browser clients subscribed to data-channel relays",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "avatar_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordSessionStart records a session that completed token and start.
func RecordSessionStart(mode string) {
	activeSessions.Inc()
	sessionsTotal.WithLabelValues(mode).Inc()
}

// RecordSessionEnd records local eviction of a session.
func RecordSessionEnd(startedAt time.Time) {
	activeSessions.Dec()
	if !startedAt.IsZero() {
		sessionDuration.Observe(time.Since(startedAt).Seconds())
	}
}

// RecordKeepAliveFailure counts a scheduled heartbeat that failed.
func RecordKeepAliveFailure() {
	keepAliveFailures.Inc()
}

// RecordSpeak counts a speak request.
func RecordSpeak(mode string, success bool) {
	speakRequests.WithLabelValues(mode, status(success)).Inc()
}

// RecordUpstreamRequest records one outbound HTTP attempt.
func RecordUpstreamRequest(upstream, op string, code int, elapsed time.Duration) {
	upstreamRequests.WithLabelValues(upstream, op, strconv.Itoa(code)).Inc()
	upstreamLatency.WithLabelValues(upstream, op).Observe(elapsed.Seconds())
}

// ControlConnectionOpened increments the open control-channel gauge.
func ControlConnectionOpened() {
	controlConnections.Inc()
}

// ControlConnectionClosed decrements the open control-channel gauge.
func ControlConnectionClosed() {
	controlConnections.Dec()
}

// RecordControlFrame counts a frame written to a control channel.
func RecordControlFrame(frameType string) {
	controlFrames.WithLabelValues(frameType).Inc()
}

// RecordReadyWait observes a readiness wait. outcome is connected, soft, timeout or error.
func RecordReadyWait(outcome string, waited time.Duration) {
	controlReadyWait.WithLabelValues(outcome).Observe(waited.Seconds())
}

// RecordTTS records a synthesis attempt.
func RecordTTS(provider string, success bool, elapsed time.Duration) {
	ttsRequests.WithLabelValues(provider, status(success)).Inc()
	ttsLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RelaySubscribed increments the relay subscriber gauge.
func RelaySubscribed() {
	relaySubscribers.Inc()
}

// RelayUnsubscribed decrements the relay subscriber gauge.
func RelayUnsubscribed() {
	relaySubscribers.Dec()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
