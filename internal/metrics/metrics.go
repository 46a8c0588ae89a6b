package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_session_state",
		Help: "Current state of each stream session (1 for the active state, 0 otherwise)",
	}, []string{"camera", "state"})

	sessionConnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_session_connect_attempts_total",
		Help: "Total decoder connect attempts per camera",
	}, []string{"camera"})

	sessionConnectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_session_connect_failures_total",
		Help: "Total failed connect attempts per camera",
	}, []string{"camera", "reason"})

	sessionDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_session_drops_total",
		Help: "Total playback drops detected per camera",
	}, []string{"camera"})

	sessionDegradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_session_degrades_total",
		Help: "Total permanent HQ to SD downgrades per camera",
	}, []string{"camera"})

	sessionThrottledWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_session_throttled_waits_total",
		Help: "Total degrade decisions deferred by the throttle window",
	}, []string{"camera"})

	sessionPausedBackoffsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_session_paused_backoffs_total",
		Help: "Total retry pauses after repeated degrade failures",
	}, []string{"camera"})

	// Audio focus metrics
	audioFocusChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_focus_changes_total",
		Help: "Total audio focus changes",
	})

	audioKickRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_kick_retries_total",
		Help: "Total extra volume-set attempts needed to confirm audio focus",
	}, []string{"camera"})

	// PTZ metrics
	ptzCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptz_commands_total",
		Help: "Total PTZ commands dispatched",
	}, []string{"command"})

	ptzRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptz_rejected_total",
		Help: "Total PTZ move requests rejected before dispatch",
	}, []string{"reason"})
)

// SetSessionState marks state as the camera's active state and clears the
// rest. States is the full set of state labels.
func SetSessionState(camera string, state string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1.0
		}
		sessionState.WithLabelValues(camera, s).Set(v)
	}
}

// IncConnectAttempt records a decoder connect attempt.
func IncConnectAttempt(camera string) {
	sessionConnectAttemptsTotal.WithLabelValues(camera).Inc()
}

// IncConnectFailure records a failed connect attempt.
func IncConnectFailure(camera, reason string) {
	sessionConnectFailuresTotal.WithLabelValues(camera, reason).Inc()
}

// IncDrop records one detected playback drop.
func IncDrop(camera string) {
	sessionDropsTotal.WithLabelValues(camera).Inc()
}

// IncDegrade records a permanent quality downgrade.
func IncDegrade(camera string) {
	sessionDegradesTotal.WithLabelValues(camera).Inc()
}

// IncThrottledWait records a deferred degrade.
func IncThrottledWait(camera string) {
	sessionThrottledWaitsTotal.WithLabelValues(camera).Inc()
}

// IncPausedBackoff records a retry pause.
func IncPausedBackoff(camera string) {
	sessionPausedBackoffsTotal.WithLabelValues(camera).Inc()
}

// IncFocusChange records an audio focus change.
func IncFocusChange() {
	audioFocusChangesTotal.Inc()
}

// AddKickRetries records extra volume-set attempts during a focus change.
func AddKickRetries(camera string, n int) {
	if n > 0 {
		audioKickRetriesTotal.WithLabelValues(camera).Add(float64(n))
	}
}

// IncPTZCommand records a dispatched PTZ command.
func IncPTZCommand(command string) {
	ptzCommandsTotal.WithLabelValues(command).Inc()
}

// IncPTZRejected records a PTZ request rejected before dispatch.
func IncPTZRejected(reason string) {
	ptzRejectedTotal.WithLabelValues(reason).Inc()
}
