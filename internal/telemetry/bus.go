package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fathomlabs/agentcore/pkg/models"
)

// defaultQueueDepth bounds how many events a single processor may lag
// behind the emitter before Emit starts dropping events destined for it.
// Mirrors the batching service's own bounded-mailbox discipline: a slow
// consumer degrades by losing its own events, never by stalling emitters.
const defaultQueueDepth = 256

// worker pairs a registered Processor with its private delivery queue and
// the goroutine draining it. Events for a single processor are delivered
// in emission order; different processors never block one another.
type worker struct {
	proc  Processor
	queue chan models.Event
}

// Bus fans out events to every registered Processor without blocking the
// emitter. The processor list is copy-on-write (§5 "Telemetry processor
// list: copy-on-write; emitters read a stable snapshot.") so Emit never
// takes a lock on the hot path.
type Bus struct {
	logger *slog.Logger

	regMu   sync.Mutex // serializes Register/Shutdown against each other
	workers atomic.Pointer[[]*worker]

	wg sync.WaitGroup
}

// New creates a Bus with no processors registered. A nil logger falls
// back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{logger: logger}
	empty := []*worker{}
	b.workers.Store(&empty)
	return b
}

// Register adds a processor to the bus. Safe to call concurrently with
// Emit; the new processor only sees events emitted after Register returns.
func (b *Bus) Register(p Processor) {
	b.regMu.Lock()
	defer b.regMu.Unlock()

	w := &worker{proc: p, queue: make(chan models.Event, defaultQueueDepth)}
	b.wg.Add(1)
	go b.run(w)

	current := *b.workers.Load()
	next := make([]*worker, len(current), len(current)+1)
	copy(next, current)
	next = append(next, w)
	b.workers.Store(&next)
}

func (b *Bus) run(w *worker) {
	defer b.wg.Done()
	for event := range w.queue {
		if err := w.proc.Process(context.Background(), event); err != nil {
			b.logger.Warn("telemetry processor failed",
				"event_kind", event.Kind,
				"error", err,
			)
		}
	}
}

// Emit dispatches event to every registered processor without blocking.
// A processor whose queue is full has the event dropped for it only; the
// drop is logged and every other processor still receives the event.
func (b *Bus) Emit(event models.Event) {
	for _, w := range *b.workers.Load() {
		if !w.proc.IsRunning() {
			continue
		}
		select {
		case w.queue <- event:
		default:
			b.logger.Warn("telemetry event dropped: processor queue full",
				"event_kind", event.Kind,
			)
		}
	}
}

// Shutdown closes every processor's queue, waits for in-flight deliveries
// to drain, and calls each processor's own Shutdown. Returns the first
// error encountered, after attempting every processor.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.regMu.Lock()
	workers := *b.workers.Load()
	b.regMu.Unlock()

	for _, w := range workers {
		close(w.queue)
	}

	drained := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
	}

	var firstErr error
	for _, w := range workers {
		if err := w.proc.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
