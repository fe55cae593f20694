package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechaenetia/mechaenetia/internal/shutdown"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	gate   chan struct{}
	fail   bool
	closed bool
}

func (s *memSink) Send(ctx context.Context, e Event) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.fail {
		return errors.New("sink down")
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

func (s *memSink) got() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestRecorderDeliversInOrder(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, WithBatchSize(2))
	r.Start(t.Context())

	for i := uint64(1); i <= 5; i++ {
		r.Record(Event{Type: EventTransition, Tick: i})
	}
	require.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, 5*time.Millisecond)

	got := sink.got()
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Tick)
		assert.False(t, e.OccurredAt.IsZero())
	}
	require.NoError(t, r.Close())
	assert.True(t, sink.closed)
}

func TestRecorderVotesToDelayShutdownWhilePending(t *testing.T) {
	sink := &memSink{gate: make(chan struct{})}
	r := NewRecorder(sink)
	r.Start(t.Context())
	defer func() { _ = r.Close() }()

	exit := shutdown.New(shutdown.WithForceExitDelay(0))
	r.Record(Event{Type: EventTransition, To: "exiting"})

	r.Vote(exit)
	assert.Nil(t, exit.Exiting(), "no vote without a shutdown")

	exit.RequestExit()
	exit.Latch()
	r.Vote(exit)
	require.True(t, exit.Exiting().Delayed())
	exit.Finalize()
	assert.False(t, exit.Finalized())

	close(sink.gate)
	require.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, 5*time.Millisecond)

	exit.Latch()
	r.Vote(exit)
	assert.False(t, exit.Exiting().Delayed())
	exit.Finalize()
	assert.True(t, exit.Finalized())
}

func TestRecorderDropsFailedEvents(t *testing.T) {
	sink := &memSink{fail: true}
	r := NewRecorder(sink, WithTimeout(50*time.Millisecond))
	r.Start(t.Context())
	r.Record(Event{Type: EventShutdown})
	require.Eventually(t, func() bool { return r.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.got())
	require.NoError(t, r.Close())
}

func TestRecorderCloseFlushesBacklog(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink)
	r.Record(Event{Type: EventTransition, Tick: 1})
	r.Record(Event{Type: EventShutdown, Tick: 2})
	require.NoError(t, r.Close())
	assert.Len(t, sink.got(), 2)
	assert.Equal(t, 0, r.Pending())
}
