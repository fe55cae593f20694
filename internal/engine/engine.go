// Package engine runs the tick loop that drives the local server, the
// shutdown coordinator and their observers.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mechaenetia/mechaenetia/internal/config"
	"github.com/mechaenetia/mechaenetia/internal/event"
	"github.com/mechaenetia/mechaenetia/internal/history"
	"github.com/mechaenetia/mechaenetia/internal/history/factory"
	"github.com/mechaenetia/mechaenetia/internal/localserver"
	"github.com/mechaenetia/mechaenetia/internal/metrics"
	"github.com/mechaenetia/mechaenetia/internal/shutdown"
)

// Status is a point-in-time snapshot of the engine, published at the end of
// every tick.
type Status struct {
	Tick           uint64                  `json:"tick"`
	Server         bool                    `json:"server"`
	State          string                  `json:"state,omitempty"`
	Public         localserver.PublicState `json:"public"`
	SavePath       string                  `json:"save_path,omitempty"`
	Exiting        bool                    `json:"exiting"`
	Finalized      bool                    `json:"finalized"`
	HistoryPending int                     `json:"history_pending"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

type extraSystem struct {
	phase Phase
	name  string
	fn    func(Tick)
}

// Engine owns one tick loop. Tick and Run must be called from a single
// goroutine; Send, RequestExit, Subscribe and Status are safe from any.
type Engine struct {
	cfg  config.Config
	log  *slog.Logger
	exit *shutdown.Coordinator
	ch   *localserver.Channel

	machine  *localserver.Machine
	recorder *history.Recorder
	idle     *idleExit

	sched  Schedule
	tick   uint64
	status atomic.Pointer[Status]

	sink         history.Sink
	shutdownOpts []shutdown.Option
	machineOpts  []localserver.Option
	extra        []extraSystem

	closeOnce sync.Once
	closeErr  error
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithHistorySink records lifecycle events to s instead of the configured DSN.
func WithHistorySink(s history.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithShutdownOptions passes options to the shutdown coordinator.
func WithShutdownOptions(opts ...shutdown.Option) Option {
	return func(e *Engine) { e.shutdownOpts = append(e.shutdownOpts, opts...) }
}

// WithMachineOptions passes options to the local server machine.
func WithMachineOptions(opts ...localserver.Option) Option {
	return func(e *Engine) { e.machineOpts = append(e.machineOpts, opts...) }
}

// WithSystem registers an additional system. Systems of PhaseLast run
// before the engine's own publishing systems.
func WithSystem(p Phase, name string, fn func(Tick)) Option {
	return func(e *Engine) { e.extra = append(e.extra, extraSystem{phase: p, name: name, fn: fn}) }
}

// New builds an engine from cfg. Nothing runs until the first Tick.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	e := &Engine{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(e)
	}

	if e.sink == nil && cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open history sink: %w", err)
		}
		e.sink = sink
	}
	if e.sink != nil {
		e.recorder = history.NewRecorder(e.sink,
			history.WithBatchSize(cfg.History.BatchSize),
			history.WithTimeout(cfg.History.Timeout),
			history.WithLogger(e.log.With("component", "history")),
		)
		e.recorder.Start(context.Background())
	}

	shutdownOpts := []shutdown.Option{
		shutdown.WithForceExitDelay(cfg.Shutdown.ForceExitDelay),
		shutdown.WithLogger(e.log.With("component", "shutdown")),
		shutdown.WithFinalizeHook(e.onFinalize),
	}
	e.exit = shutdown.New(append(shutdownOpts, e.shutdownOpts...)...)
	e.ch = localserver.NewChannel()

	if cfg.Engine.IncludeServer {
		machineOpts := []localserver.Option{
			localserver.WithLogger(e.log.With("component", "local_server")),
			localserver.WithLoadStep(cfg.Server.LoadStep),
			localserver.WithLoadCompleteThreshold(cfg.Server.LoadCompleteThreshold),
			localserver.WithTransitionObserver(e.onTransition),
		}
		e.machine = localserver.NewMachine(e.ch, e.exit, append(machineOpts, e.machineOpts...)...)

		if cfg.Engine.Client == config.ClientLogger {
			e.idle = &idleExit{
				sub:  e.ch.Subscribe(),
				exit: e.exit,
				log:  e.log.With("component", "client"),
			}
		}
		if cfg.Engine.LoadGame != "" {
			e.ch.Send(localserver.CreateStartServer{Path: cfg.Engine.LoadGame, ConfigOnlyIfNotExisting: true})
		}
	}

	e.buildSchedule()
	e.status.Store(&Status{Server: e.machine != nil, Public: localserver.Off(), State: e.stateName()})
	return e, nil
}

func (e *Engine) buildSchedule() {
	s := &e.sched
	s.Add(PhaseFirst, "shutdown.latch", func(Tick) { e.exit.Latch() })
	if e.machine != nil {
		s.Add(PhaseFirst, "local_server.ingest", func(Tick) { e.machine.Ingest() })
	}
	e.addExtra(PhaseFirst)

	if e.machine != nil {
		s.Add(PhaseUpdate, "local_server.update", func(t Tick) { e.machine.Update(t.Number) })
	}
	if e.idle != nil {
		s.Add(PhaseUpdate, "client.idle_exit", e.idle.run)
	}
	e.addExtra(PhaseUpdate)

	e.addExtra(PhaseLast)
	s.Add(PhaseLast, "local_server.flush", func(Tick) { e.ch.Flush() })
	if e.recorder != nil {
		s.Add(PhaseLast, "history.vote", func(Tick) { e.recorder.Vote(e.exit) })
	}
	s.Add(PhaseLast, "engine.status", e.publishStatus)
	s.Add(PhaseLast, "shutdown.finalize", func(Tick) { e.exit.Finalize() })
}

func (e *Engine) addExtra(p Phase) {
	for _, x := range e.extra {
		if x.phase == p {
			e.sched.Add(p, x.name, x.fn)
		}
	}
}

func (e *Engine) onTransition(tr localserver.Transition) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(history.Event{
		Type:     history.EventTransition,
		Tick:     tr.Tick,
		From:     tr.From.String(),
		To:       tr.To.String(),
		SavePath: tr.SavePath,
	})
}

func (e *Engine) onFinalize() {
	if e.recorder != nil {
		e.recorder.Record(history.Event{Type: history.EventShutdown, Tick: e.tick})
	}
}

func (e *Engine) stateName() string {
	if e.machine == nil {
		return ""
	}
	return e.machine.State().String()
}

func (e *Engine) publishStatus(t Tick) {
	st := &Status{
		Tick:      t.Number,
		Server:    e.machine != nil,
		State:     e.stateName(),
		Public:    e.ch.Current(),
		Exiting:   e.exit.Exiting() != nil,
		Finalized: e.exit.Finalized(),
		UpdatedAt: time.Now(),
	}
	if e.machine != nil {
		if sc := e.machine.SaveConfig(); sc != nil {
			st.SavePath = sc.Path
		}
	}
	if e.recorder != nil {
		st.HistoryPending = e.recorder.Pending()
	}
	e.status.Store(st)
	metrics.ObserveTick(time.Since(t.Start).Seconds())
}

// Tick runs one cycle.
func (e *Engine) Tick() {
	e.tick++
	e.sched.Run(Tick{Number: e.tick, Start: time.Now()})
}

// Run ticks at the configured rate until the shutdown finalizes. Cancelling
// ctx requests a graceful exit; Run keeps ticking until the vote completes.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval())
	defer ticker.Stop()

	done := ctx.Done()
	for {
		e.Tick()
		if e.exit.Finalized() {
			return nil
		}
		select {
		case <-done:
			e.log.Info("shutdown requested", "reason", context.Cause(ctx))
			e.RequestExit()
			done = nil
		case <-ticker.C:
		}
	}
}

// Close stops the history recorder after delivering its backlog.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.recorder != nil {
			e.closeErr = e.recorder.Close()
		}
	})
	return e.closeErr
}

// Send queues a command for the local server.
func (e *Engine) Send(cmd localserver.Command) { e.ch.Send(cmd) }

// RequestExit starts a graceful shutdown.
func (e *Engine) RequestExit() { e.exit.RequestExit() }

// Subscribe returns a reader of local server broadcasts.
func (e *Engine) Subscribe() *event.Subscription[localserver.PublicState] {
	return e.ch.Subscribe()
}

// Status returns the snapshot published by the last tick.
func (e *Engine) Status() Status { return *e.status.Load() }

// Done is closed when the shutdown finalizes.
func (e *Engine) Done() <-chan struct{} { return e.exit.Done() }

// Schedule exposes the system order for inspection.
func (e *Engine) Schedule() *Schedule { return &e.sched }
