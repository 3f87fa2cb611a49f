package activation

import (
	"context"
	"sync"
	"time"

	"github.com/omar-gamzatov/content-guardian/internal/redact"
)

// Drop reasons reported to the DropRecorder.
const (
	DropQueueFull = "queue_full"
	DropClosed    = "closed"
)

// Sink consumes activation events (file, webhook, kafka, log).
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// DropRecorder is notified of every event that never reaches the queue.
// *telemetry.Provider satisfies it.
type DropRecorder interface {
	RecordActivationDrop(ctx context.Context, reason string)
}

// Stats is a point-in-time copy of the emitter counters.
type Stats struct {
	Enqueued  uint64
	Dropped   uint64
	Delivered map[string]uint64
	Failed    map[string]uint64
}

// EmitterConfig controls worker and queue sizing.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	// DeliverTimeout bounds a single sink delivery. Zero means no bound
	// beyond what the sink enforces itself.
	DeliverTimeout time.Duration
	Drops          DropRecorder
}

// Emitter buffers verdict events and fans them out to sinks on background
// workers. Emit never blocks the moderation path.
type Emitter struct {
	queue           chan *Event
	sinks           []Sink
	drops           DropRecorder
	shutdownTimeout time.Duration
	deliverTimeout  time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// NewEmitter starts background workers to deliver events to the provided sinks.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 2 * time.Second
	}

	em := &Emitter{
		queue:           make(chan *Event, queueSize),
		sinks:           sinks,
		drops:           cfg.Drops,
		shutdownTimeout: shutdownTimeout,
		deliverTimeout:  cfg.DeliverTimeout,
		stats: Stats{
			Delivered: make(map[string]uint64, len(sinks)),
			Failed:    make(map[string]uint64, len(sinks)),
		},
	}
	for i := 0; i < workers; i++ {
		em.wg.Add(1)
		go em.worker()
	}
	return em
}

// Emit enqueues the event, dropping it when the queue is full or the
// emitter is closed.
func (e *Emitter) Emit(ctx context.Context, ev *Event) {
	if e == nil || ev == nil {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(ctx, DropClosed)
		return
	}
	select {
	case e.queue <- ev:
		e.statsMu.Lock()
		e.stats.Enqueued++
		e.statsMu.Unlock()
	default:
		e.drop(ctx, DropQueueFull)
	}
}

func (e *Emitter) drop(ctx context.Context, reason string) {
	e.statsMu.Lock()
	e.stats.Dropped++
	e.statsMu.Unlock()
	if e.drops != nil {
		e.drops.RecordActivationDrop(context.WithoutCancel(ctx), reason)
	}
}

// Close stops accepting new events, waits up to the shutdown timeout for the
// queue to drain and closes every sink.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.shutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-waitCtx.Done():
		redact.Logf("activation: shutdown timed out with %d events queued", len(e.queue))
	}

	for _, s := range e.sinks {
		if err := s.Close(waitCtx); err != nil {
			redact.Logf("activation: sink %s close error: %v", s.Name(), err)
		}
	}
}

// Stats copies the current counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := Stats{
		Enqueued:  e.stats.Enqueued,
		Dropped:   e.stats.Dropped,
		Delivered: make(map[string]uint64, len(e.stats.Delivered)),
		Failed:    make(map[string]uint64, len(e.stats.Failed)),
	}
	for k, v := range e.stats.Delivered {
		out.Delivered[k] = v
	}
	for k, v := range e.stats.Failed {
		out.Failed[k] = v
	}
	return out
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for ev := range e.queue {
		for _, s := range e.sinks {
			e.deliver(s, ev)
		}
	}
}

func (e *Emitter) deliver(s Sink, ev *Event) {
	ctx := context.Background()
	if e.deliverTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.deliverTimeout)
		defer cancel()
	}

	err := s.Deliver(ctx, ev)

	e.statsMu.Lock()
	if err != nil {
		e.stats.Failed[s.Name()]++
	} else {
		e.stats.Delivered[s.Name()]++
	}
	e.statsMu.Unlock()

	if err != nil {
		redact.Logf("activation: sink %s failed for request %s: %v", s.Name(), ev.RequestID, err)
	}
}
