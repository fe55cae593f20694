package engine

import (
	"fmt"
	"time"
)

// Phase orders systems within a tick.
type Phase int

const (
	// PhaseFirst latches shutdown requests and ingests queued messages.
	PhaseFirst Phase = iota
	// PhaseUpdate advances state.
	PhaseUpdate
	// PhaseLast publishes results. Shutdown finalization runs last.
	PhaseLast

	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseFirst:
		return "first"
	case PhaseUpdate:
		return "update"
	case PhaseLast:
		return "last"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Tick identifies one cycle. Numbers start at 1.
type Tick struct {
	Number uint64
	Start  time.Time
}

type system struct {
	name string
	run  func(Tick)
}

// Schedule runs systems phase by phase, each phase in registration order.
// It is not safe for concurrent use.
type Schedule struct {
	phases [numPhases][]system
}

// Add appends a system to phase p. It panics on an unknown phase or a nil
// function.
func (s *Schedule) Add(p Phase, name string, fn func(Tick)) {
	if p < 0 || p >= numPhases {
		panic(fmt.Sprintf("engine: unknown phase %d for system %q", int(p), name))
	}
	if fn == nil {
		panic(fmt.Sprintf("engine: nil system %q", name))
	}
	s.phases[p] = append(s.phases[p], system{name: name, run: fn})
}

// Run runs every system once.
func (s *Schedule) Run(t Tick) {
	for p := range s.phases {
		for _, sys := range s.phases[p] {
			sys.run(t)
		}
	}
}

// Systems lists the system names of phase p in run order.
func (s *Schedule) Systems(p Phase) []string {
	if p < 0 || p >= numPhases {
		return nil
	}
	names := make([]string, len(s.phases[p]))
	for i, sys := range s.phases[p] {
		names[i] = sys.name
	}
	return names
}
