// Package notify fans observable engine activity out to external sinks: the
// database journal, a Redis pub/sub channel and WebSocket clients. Delivery is
// asynchronous and best effort; a failing sink never affects the engine.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xtrntr/parimutuel/internal/models"
)

const defaultBuffer = 1024

// Sink receives activity records
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a models.Activity) error
}

// Dispatcher is a models.Observer that queues activity and delivers it to
// every sink from a single goroutine, preserving emission order.
type Dispatcher struct {
	queue chan models.Activity
	sinks []Sink
	log   *zap.Logger

	mu      sync.Mutex
	dropped int
}

// NewDispatcher creates a dispatcher with room for buffer pending records
func NewDispatcher(logger *zap.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue: make(chan models.Activity, buffer),
		sinks: sinks,
		log:   logger,
	}
}

// Observe enqueues a record without blocking. A full queue drops it.
func (d *Dispatcher) Observe(_ context.Context, a models.Activity) {
	select {
	case d.queue <- a:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.log.Warn("activity queue full, dropping", zap.String("kind", string(a.Kind)), zap.Uint64("event_id", uint64(a.EventID)))
	}
}

// Dropped returns how many records were discarded because the queue was full
func (d *Dispatcher) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Run delivers queued records until ctx is cancelled, then flushes what is
// still queued and returns.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case a := <-d.queue:
			d.deliver(ctx, a)
		}
	}
}

func (d *Dispatcher) flush() {
	ctx := context.Background()
	for {
		select {
		case a := <-d.queue:
			d.deliver(ctx, a)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a models.Activity) {
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, a); err != nil {
			d.log.Warn("sink delivery failed",
				zap.String("sink", s.Name()),
				zap.String("kind", string(a.Kind)),
				zap.String("activity_id", a.ID),
				zap.Error(err))
		}
	}
}
