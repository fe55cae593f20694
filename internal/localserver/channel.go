package localserver

import (
	"sync"

	"github.com/mechaenetia/mechaenetia/internal/event"
)

// Command is an inbound request to the local server.
type Command interface {
	commandName() string
}

// CreateStartServer loads (or seeds) the save at Path and starts loading it.
// With ConfigOnlyIfNotExisting a save that had no config yet only gets its
// default config written; the server is not launched.
type CreateStartServer struct {
	Path                    string
	ConfigOnlyIfNotExisting bool
}

// StopServer unloads the running server. Force is reserved and currently
// behaves like a normal stop.
type StopServer struct {
	Force bool
}

func (CreateStartServer) commandName() string { return "create_start_server" }
func (StopServer) commandName() string        { return "stop_server" }

// Channel is the boundary between drivers and the Machine: commands go in,
// public state broadcasts come out.
type Channel struct {
	commands event.Queue[Command]
	states   event.Bus[PublicState]

	// staged broadcasts of the current tick, published by Flush
	staged []PublicState

	mu      sync.RWMutex
	current PublicState
}

// NewChannel returns a channel whose current state is Off.
func NewChannel() *Channel {
	return &Channel{current: Off()}
}

// Send queues cmd for the machine's next tick. Safe from any goroutine.
func (c *Channel) Send(cmd Command) { c.commands.Send(cmd) }

// Subscribe returns a reader of every public state published from now on.
func (c *Channel) Subscribe() *event.Subscription[PublicState] { return c.states.Subscribe() }

// Current returns the last published public state.
func (c *Channel) Current() PublicState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Channel) drainCommands() []Command { return c.commands.Drain() }

func (c *Channel) stage(ps PublicState) { c.staged = append(c.staged, ps) }

// Flush publishes this tick's staged broadcasts in order. It runs in the last
// phase of the tick.
func (c *Channel) Flush() {
	if len(c.staged) == 0 {
		return
	}
	staged := c.staged
	c.staged = nil
	c.mu.Lock()
	c.current = staged[len(staged)-1]
	c.mu.Unlock()
	for _, ps := range staged {
		c.states.Publish(ps)
	}
}
