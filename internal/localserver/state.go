// Package localserver runs the in-process local server: a tick-driven
// lifecycle state machine driven by queued commands that reports its progress
// through public state broadcasts.
package localserver

import "fmt"

// LifecycleState is the internal state of the local server.
type LifecycleState int32

const (
	// NotRunning: no save is loaded.
	NotRunning LifecycleState = iota
	// Loading: a save config is held and the simulation is being prepared.
	Loading
	// Running: the simulation steps every tick.
	Running
	// Paused is reserved; no transition reaches it yet.
	Paused
	// Unloading: tearing down, back to NotRunning on the next tick.
	Unloading
	// Exiting is terminal.
	Exiting
)

func (s LifecycleState) String() string {
	switch s {
	case NotRunning:
		return "not_running"
	case Loading:
		return "loading"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Unloading:
		return "unloading"
	case Exiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// PublicKind is the coarse, externally visible projection of the lifecycle.
type PublicKind int32

const (
	// PublicOff means no server is running.
	PublicOff PublicKind = iota
	// PublicLoading carries a progress value in [0, 1].
	PublicLoading
	// PublicRunning means the server is simulating.
	PublicRunning
	// PublicShuttingDown covers unloading and exiting.
	PublicShuttingDown
)

func (k PublicKind) String() string {
	switch k {
	case PublicOff:
		return "off"
	case PublicLoading:
		return "loading"
	case PublicRunning:
		return "running"
	case PublicShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON.
func (k PublicKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// PublicState is what observers of the local server see. Progress is only
// meaningful for PublicLoading.
type PublicState struct {
	Kind     PublicKind `json:"kind"`
	Progress float64    `json:"progress,omitempty"`
}

// Off returns the PublicOff state.
func Off() PublicState { return PublicState{Kind: PublicOff} }

// LoadingAt returns a PublicLoading state at progress p.
func LoadingAt(p float64) PublicState { return PublicState{Kind: PublicLoading, Progress: p} }

// RunningState returns the PublicRunning state.
func RunningState() PublicState { return PublicState{Kind: PublicRunning} }

// ShuttingDownState returns the PublicShuttingDown state.
func ShuttingDownState() PublicState { return PublicState{Kind: PublicShuttingDown} }

func (p PublicState) String() string {
	if p.Kind == PublicLoading {
		return fmt.Sprintf("loading(%.3f)", p.Progress)
	}
	return p.Kind.String()
}

// Transition describes one lifecycle state change.
type Transition struct {
	From     LifecycleState
	To       LifecycleState
	Tick     uint64
	SavePath string
}
