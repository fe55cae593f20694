package localserver

import (
	"errors"
	"log/slog"

	"github.com/mechaenetia/mechaenetia/internal/metrics"
	"github.com/mechaenetia/mechaenetia/internal/save"
	"github.com/mechaenetia/mechaenetia/internal/shutdown"
)

const (
	DefaultLoadStep              = 0.01
	DefaultLoadCompleteThreshold = 0.999

	// loadSnapEpsilon is how close progress must get to 1 before it is
	// rounded up; repeated smoothing otherwise stalls just below 1.
	loadSnapEpsilon = 1e-9
)

// ExitObserver exposes the shutdown marker; *shutdown.Coordinator satisfies it.
type ExitObserver interface {
	Exiting() *shutdown.Exiting
}

// Simulation is stepped once per tick while the server is Running.
type Simulation interface {
	Step(tick uint64)
}

type noopSimulation struct{}

func (noopSimulation) Step(uint64) {}

// Machine is the local server lifecycle state machine. It is not safe for
// concurrent use; all of its methods run on the tick goroutine and outside
// code talks to it through its Channel.
//
// State Machine:
// NotRunning -> Loading -> Running -> Unloading -> NotRunning
// any -> Exiting (terminal, on shutdown)
type Machine struct {
	state    LifecycleState
	started  bool
	progress float64
	save     *save.Config
	pending  []Command

	ch   *Channel
	exit ExitObserver
	log  *slog.Logger

	loadStep      float64
	loadThreshold float64
	sim           Simulation
	loader        func(path string) (save.Result, error)
	observers     []func(Transition)
}

// Option configures a Machine.
type Option func(*Machine)

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithLoadStep sets the smoothing factor applied to loading progress each tick.
func WithLoadStep(step float64) Option {
	return func(m *Machine) { m.loadStep = step }
}

// WithLoadCompleteThreshold sets the progress at which Loading becomes Running.
func WithLoadCompleteThreshold(th float64) Option {
	return func(m *Machine) { m.loadThreshold = th }
}

func WithSimulation(s Simulation) Option {
	return func(m *Machine) { m.sim = s }
}

// WithLoader replaces save.LoadOrCreate.
func WithLoader(fn func(path string) (save.Result, error)) Option {
	return func(m *Machine) { m.loader = fn }
}

// WithTransitionObserver registers fn to be called on every transition.
func WithTransitionObserver(fn func(Transition)) Option {
	return func(m *Machine) { m.observers = append(m.observers, fn) }
}

// NewMachine creates a machine in NotRunning. Its on-enter broadcast happens
// on the first Update.
func NewMachine(ch *Channel, exit ExitObserver, opts ...Option) *Machine {
	m := &Machine{
		state:         NotRunning,
		ch:            ch,
		exit:          exit,
		log:           slog.Default(),
		loadStep:      DefaultLoadStep,
		loadThreshold: DefaultLoadCompleteThreshold,
		sim:           noopSimulation{},
		loader:        save.LoadOrCreate,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Machine) State() LifecycleState { return m.state }

// SaveConfig returns the config of the loaded save, or nil.
func (m *Machine) SaveConfig() *save.Config { return m.save }

// Progress returns the current loading progress.
func (m *Machine) Progress() float64 { return m.progress }

// Ingest moves queued commands into the machine. It runs in the first phase.
func (m *Machine) Ingest() {
	m.pending = append(m.pending, m.ch.drainCommands()...)
}

// Update evaluates one tick: shutdown first, then queued commands in order,
// then the per-tick action of the state that was active when the tick began.
func (m *Machine) Update(tick uint64) {
	if !m.started {
		m.started = true
		m.enter()
	}

	if ex := m.exit.Exiting(); ex != nil && m.state != Exiting {
		if len(m.pending) > 0 {
			m.log.Debug("discarding local server commands on shutdown", "count", len(m.pending))
		}
		m.pending = nil
		m.transition(Exiting, tick)
		return
	}

	at := m.state
	cmds := m.pending
	m.pending = nil
	for _, cmd := range cmds {
		m.handleCommand(cmd, tick)
	}
	if m.state == at {
		m.onTick(tick)
	}
}

func (m *Machine) transition(to LifecycleState, tick uint64) {
	from := m.state
	tr := Transition{From: from, To: to, Tick: tick}
	if m.save != nil {
		tr.SavePath = m.save.Path
	}
	m.log.Debug("local server transition", "from", from.String(), "to", to.String())
	m.state = to
	m.enter()

	metrics.RecordStateTransition(from.String(), to.String())
	for _, fn := range m.observers {
		fn(tr)
	}
}

func (m *Machine) broadcast(ps PublicState) {
	if ps.Kind == PublicLoading {
		metrics.SetLoadingProgress(ps.Progress)
	}
	m.ch.stage(ps)
}

func (m *Machine) enter() {
	switch m.state {
	case NotRunning:
		m.save = nil
		m.progress = 0
		m.broadcast(Off())
	case Loading:
		m.progress = 0
		m.broadcast(LoadingAt(0))
	case Running, Paused:
		m.broadcast(RunningState())
	case Unloading:
		m.broadcast(ShuttingDownState())
	case Exiting:
		m.save = nil
		m.broadcast(ShuttingDownState())
	}
}

func (m *Machine) onTick(tick uint64) {
	switch m.state {
	case NotRunning, Paused, Exiting:
	case Loading:
		m.progress += (1 - m.progress) * m.loadStep
		if m.progress > 1 || 1-m.progress < loadSnapEpsilon {
			m.progress = 1
		}
		m.broadcast(LoadingAt(m.progress))
		if m.progress >= m.loadThreshold {
			m.log.Info("local server loaded", "path", m.save.Path)
			m.transition(Running, tick)
		}
	case Running:
		m.sim.Step(tick)
	case Unloading:
		m.transition(NotRunning, tick)
	}
}

func (m *Machine) handleCommand(cmd Command, tick uint64) {
	switch c := cmd.(type) {
	case CreateStartServer:
		m.handleCreate(c, tick)
	case StopServer:
		m.handleStop(c, tick)
	default:
		m.log.Warn("unknown local server command", "command", cmd)
	}
}

func (m *Machine) handleCreate(c CreateStartServer, tick uint64) {
	switch m.state {
	case NotRunning:
	case Loading, Running, Paused:
		metrics.IncCommand(c.commandName(), "rejected")
		m.log.Warn("requested to create a server while one is already active", "state", m.state.String(), "path", c.Path)
		return
	case Unloading:
		metrics.IncCommand(c.commandName(), "rejected")
		m.log.Error("cannot load a server while unloading", "path", c.Path)
		return
	case Exiting:
		metrics.IncCommand(c.commandName(), "rejected")
		m.log.Warn("local server is exiting, command ignored", "command", c.commandName())
		return
	}

	m.log.Info("launching server", "path", c.Path)
	res, err := m.loader(c.Path)
	if err != nil {
		metrics.IncSaveLoad("error")
		metrics.IncCommand(c.commandName(), "failed")
		m.logSaveError(c.Path, err)
		m.broadcast(Off())
		return
	}
	if res.Created {
		metrics.IncSaveLoad("created")
		if c.ConfigOnlyIfNotExisting {
			metrics.IncCommand(c.commandName(), "config_only")
			m.log.Info("created save configuration", "path", c.Path)
			m.broadcast(Off())
			return
		}
	} else {
		metrics.IncSaveLoad("existing")
	}
	metrics.IncCommand(c.commandName(), "accepted")
	m.save = res.Config
	m.transition(Loading, tick)
}

func (m *Machine) logSaveError(path string, err error) {
	var (
		le *save.LoadError
		ie *save.InvalidSaveError
	)
	switch {
	case errors.As(err, &le):
		m.log.Error("error loading or creating save config", "path", path, "op", le.Op, "error", le.Err)
	case errors.As(err, &ie):
		m.log.Error("refusing to overwrite invalid save config", "path", path, "config", ie.Path)
	default:
		m.log.Error("error loading or creating save config", "path", path, "error", err)
	}
}

func (m *Machine) handleStop(c StopServer, tick uint64) {
	switch m.state {
	case NotRunning:
		metrics.IncCommand(c.commandName(), "noop")
		m.log.Warn("server stop requested when server is already not running", "force", c.Force)
	case Loading, Running, Paused:
		metrics.IncCommand(c.commandName(), "accepted")
		m.log.Info("unloading server", "state", m.state.String(), "force", c.Force)
		m.transition(Unloading, tick)
	case Unloading:
		metrics.IncCommand(c.commandName(), "noop")
		m.log.Debug("server already stopping", "force", c.Force)
	case Exiting:
		metrics.IncCommand(c.commandName(), "rejected")
		m.log.Warn("local server is exiting, command ignored", "command", c.commandName())
	}
}
