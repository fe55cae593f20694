package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mechaenetia/mechaenetia/internal/metrics"
	"github.com/mechaenetia/mechaenetia/internal/shutdown"
)

const (
	DefaultBatchSize = 64
	DefaultTimeout   = 2 * time.Second
)

// ExitObserver exposes the shutdown marker; *shutdown.Coordinator satisfies it.
type ExitObserver interface {
	Exiting() *shutdown.Exiting
}

// Recorder queues events and delivers them to a Sink in batches from a
// single worker goroutine. While a shutdown is in progress Vote delays it
// until the backlog is delivered.
type Recorder struct {
	sink      Sink
	batchSize int
	timeout   time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	backlog []Event
	pending int // queued plus in flight

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBatchSize bounds how many events the worker sends per wake-up.
func WithBatchSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithTimeout bounds each Sink.Send call.
func WithTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.log = l }
}

// NewRecorder creates a recorder for sink. Call Start to begin delivery.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:      sink,
		batchSize: DefaultBatchSize,
		timeout:   DefaultTimeout,
		log:       slog.Default(),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record queues e for delivery. Safe from any goroutine.
func (r *Recorder) Record(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.backlog = append(r.backlog, e)
	r.pending++
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Pending reports events not yet handed to the sink.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Vote delays an in-progress shutdown while events are pending. It runs on
// the tick goroutine before the shutdown is finalized.
func (r *Recorder) Vote(exit ExitObserver) {
	ex := exit.Exiting()
	if ex == nil {
		return
	}
	if n := r.Pending(); n > 0 {
		r.log.Debug("delaying shutdown until history is delivered", "pending", n)
		ex.Delay()
	}
}

// Start launches the delivery worker.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-r.wake:
				for r.deliver(ctx) {
				}
			}
		}
	}()
}

// deliver sends one batch and reports whether more events are waiting.
func (r *Recorder) deliver(ctx context.Context) bool {
	r.mu.Lock()
	n := min(len(r.backlog), r.batchSize)
	batch := r.backlog[:n:n]
	r.backlog = r.backlog[n:]
	r.mu.Unlock()

	for _, e := range batch {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.sink.Send(sctx, e)
		cancel()
		if err != nil {
			metrics.IncHistoryEvent("failed")
			r.log.Warn("failed to export history event", "type", e.Type, "to", e.To, "error", err)
		} else {
			metrics.IncHistoryEvent("sent")
		}
		r.mu.Lock()
		r.pending--
		r.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backlog) > 0
}

// Close stops the worker, delivers what is left and closes the sink if it
// implements io.Closer.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	for r.deliver(context.Background()) {
	}
	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
