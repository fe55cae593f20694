// Package shutdown coordinates process termination between independent
// tick-driven subsystems.
//
// Any goroutine may call RequestExit. The coordinator latches requests at the
// start of the next tick and installs an Exiting marker. Every subsystem gets
// that tick to observe the marker and either comply or call Delay. At the end
// of the tick Finalize terminates unless somebody delayed, in which case the
// vote is reset and re-evaluated one tick later.
package shutdown

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/mechaenetia/mechaenetia/internal/event"
	"github.com/mechaenetia/mechaenetia/internal/metrics"
)

// DefaultForceExitDelay is the grace period before the watchdog kills the
// process after finalization.
const DefaultForceExitDelay = 1000 * time.Millisecond

// Exiting is present while a shutdown is in progress. Subsystems that need
// another cycle to finish call Delay during their tick.
type Exiting struct {
	delay          bool
	forceExitDelay time.Duration
}

// Delay postpones finalization by one cycle. It must be re-asserted every
// tick to keep delaying.
func (e *Exiting) Delay() { e.delay = true }

// Delayed reports whether a subsystem delayed during the current tick.
func (e *Exiting) Delayed() bool { return e.delay }

type request struct{}

// Coordinator owns the process-wide exit marker.
type Coordinator struct {
	requests       event.Queue[request]
	exiting        *Exiting
	forceExitDelay time.Duration
	kill           func(code int)
	log            *slog.Logger
	hooks          []func()

	doneOnce sync.Once
	done     chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithForceExitDelay sets the watchdog grace period; zero disables the
// watchdog.
func WithForceExitDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.forceExitDelay = d }
}

// WithKiller replaces os.Exit as the watchdog's kill function.
func WithKiller(kill func(code int)) Option {
	return func(c *Coordinator) { c.kill = kill }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithFinalizeHook registers fn to run once when the shutdown finalizes.
func WithFinalizeHook(fn func()) Option {
	return func(c *Coordinator) { c.hooks = append(c.hooks, fn) }
}

// New creates a coordinator with no shutdown in progress.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		forceExitDelay: DefaultForceExitDelay,
		kill:           os.Exit,
		log:            slog.Default(),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RequestExit asks every subsystem to shut down. Safe from any goroutine and
// safe to call repeatedly.
func (c *Coordinator) RequestExit() { c.requests.Send(request{}) }

// Exiting returns the shutdown marker, or nil when no shutdown was latched.
func (c *Coordinator) Exiting() *Exiting { return c.exiting }

// Latch must be the first system of every tick. It consumes pending
// requests and clears the previous tick's delay vote.
func (c *Coordinator) Latch() {
	pending := c.requests.Drain()
	if c.exiting != nil {
		c.exiting.delay = false
	}
	if len(pending) == 0 || c.Finalized() {
		return
	}
	if c.exiting == nil {
		c.log.Debug("exit requested")
		c.exiting = &Exiting{forceExitDelay: c.forceExitDelay}
	}
}

// Finalize must be the last system of every tick.
func (c *Coordinator) Finalize() {
	ex := c.exiting
	if ex == nil || c.Finalized() {
		return
	}
	if ex.delay {
		metrics.IncShutdownDelay()
		ex.delay = false
		return
	}

	c.log.Info("exiting")
	c.doneOnce.Do(func() { close(c.done) })
	for _, h := range c.hooks {
		h()
	}
	if d := ex.forceExitDelay; d > 0 {
		kill, log := c.kill, c.log
		go func() {
			time.Sleep(d)
			log.Warn("not shut down in time, killing", "grace", d)
			kill(0)
		}()
	}
}

// Done is closed when the shutdown finalizes.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Finalized reports whether Finalize terminated.
func (c *Coordinator) Finalized() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
