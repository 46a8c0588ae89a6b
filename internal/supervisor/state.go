package supervisor

import (
	"time"

	"github.com/quadwatch/quadwatch/internal/config"
	"github.com/quadwatch/quadwatch/internal/player"
)

// State is the lifecycle state of one stream session.
type State string

const (
	// StateDisabled means the slot has no usable stream URL. Terminal
	// until reconfigured.
	StateDisabled State = "disabled"
	// StateConnecting means the session is acquiring a decoder connection.
	StateConnecting State = "connecting"
	// StatePlaying means playback started and startup checks are running.
	StatePlaying State = "playing"
	// StateMonitoring means the long-lived health check loop is active.
	StateMonitoring State = "monitoring"
	// StateDegrading means the session is acting on instability (waiting
	// out the throttle or downgrading quality).
	StateDegrading State = "degrading"
	// StateRetrying means the session is paused in backoff before the
	// next reconnect.
	StateRetrying State = "retrying"
	// StateFailed means connect attempts were exhausted or the decoder
	// died. Terminal until reconfigured.
	StateFailed State = "failed"
)

// AllStates lists every session state, for metrics labelling.
var AllStates = []string{
	string(StateDisabled),
	string(StateConnecting),
	string(StatePlaying),
	string(StateMonitoring),
	string(StateDegrading),
	string(StateRetrying),
	string(StateFailed),
}

// User-visible status texts, reported to the UI collaborator per panel.
const (
	StatusTextDisabled        = "Disabled"
	StatusTextLoading         = "Loading..."
	StatusTextFailed          = "Stream Failed"
	StatusTextWaitingUnstable = "Waiting: Stream Unstable"
	StatusTextPausedUnstable  = "Paused: Stream Unstable"
)

// ControlKind identifies a per-panel UI control the core can toggle.
type ControlKind string

// ControlFullscreen is the per-panel fullscreen/audio-focus toggle.
const ControlFullscreen ControlKind = "fullscreen"

// StatusSink is the UI/status collaborator. Implementations must be cheap
// and non-blocking; they are called from session goroutines.
type StatusSink interface {
	ReportStatus(index int, text string)
	ShowControl(index int, kind ControlKind)
	HideControl(index int)
}

// NopStatusSink discards all status updates.
type NopStatusSink struct{}

func (NopStatusSink) ReportStatus(int, string)      {}
func (NopStatusSink) ShowControl(int, ControlKind)  {}
func (NopStatusSink) HideControl(int)               {}

// ConfigStore is the config-store collaborator, invoked on permanent
// quality downgrades.
type ConfigStore interface {
	PersistHQ(hq [config.NumCameras]bool) error
}

// Snapshot is a point-in-time view of one session, safe to hand to API
// handlers and the status registry. Credentials never appear in it.
type Snapshot struct {
	Index               int               `json:"index"`
	IP                  string            `json:"ip"`
	State               State             `json:"state"`
	StatusText          string            `json:"status_text,omitempty"`
	Quality             config.Quality    `json:"quality"`
	HQEnabled           bool              `json:"hq_enabled"`
	AudioEnabled        bool              `json:"audio_enabled"`
	Resolution          player.Resolution `json:"resolution"`
	DropsInWindow       int               `json:"drops_in_window"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	RunID               string            `json:"run_id,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// StatusPublisher receives session snapshots for external observers. Calls
// are best-effort; errors are logged and dropped.
type StatusPublisher interface {
	Publish(snapshot Snapshot) error
	Remove(index int) error
}
