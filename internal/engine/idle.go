package engine

import (
	"log/slog"

	"github.com/mechaenetia/mechaenetia/internal/event"
	"github.com/mechaenetia/mechaenetia/internal/localserver"
)

// idleExit is the headless logger client: it requests shutdown whenever the
// local server reports Off, except for the initial Off broadcast at startup.
type idleExit struct {
	sub       *event.Subscription[localserver.PublicState]
	exit      interface{ RequestExit() }
	log       *slog.Logger
	seenFirst bool
}

func (i *idleExit) run(Tick) {
	for _, ps := range i.sub.Read() {
		i.log.Debug("local server state", "state", ps.String())
		if ps.Kind != localserver.PublicOff {
			continue
		}
		if !i.seenFirst {
			i.seenFirst = true
			continue
		}
		i.log.Info("local server is off, shutting down")
		i.exit.RequestExit()
	}
}
