package event

import (
	"context"
	"sync/atomic"
)

// Sink is the producer side of the queue. The OTA and temperature
// sequencers depend on this interface only.
type Sink interface {
	// Send enqueues ev without blocking and reports whether it was accepted.
	Send(ev Event) bool
}

// Queue is a bounded FIFO of events with many producers and one consumer.
//
// Send never blocks: when the queue is full the event is dropped and
// counted. Events from one producer keep their order; interleaving across
// producers is unspecified.
type Queue struct {
	ch       chan Event
	maxDepth atomic.Int64
	dropped  atomic.Uint64
	metrics  *Metrics
}

// NewQueue returns a queue holding at most capacity events.
// metrics may be nil.
func NewQueue(capacity int, metrics *Metrics) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		ch:      make(chan Event, capacity),
		metrics: metrics,
	}
	metrics.setCapacity(capacity)
	return q
}

// Send implements Sink.
func (q *Queue) Send(ev Event) bool {
	select {
	case q.ch <- ev:
		depth := int64(len(q.ch))
		q.observeDepth(depth)
		q.metrics.enqueued(ev.Kind, depth)
		return true
	default:
		q.dropped.Add(1)
		q.metrics.droppedEvent(ev.Kind)
		return false
	}
}

// observeDepth raises the high-water mark to depth if it is larger.
func (q *Queue) observeDepth(depth int64) {
	for {
		cur := q.maxDepth.Load()
		if depth <= cur || q.maxDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

// Receive blocks until an event is available or ctx is done.
func (q *Queue) Receive(ctx context.Context) (Event, bool) {
	select {
	case ev := <-q.ch:
		q.metrics.setDepth(len(q.ch))
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// Events exposes the receive side for select loops. Only the single
// consumer may read from it.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

// Len returns the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// MaxDepth returns the highest depth observed since start.
func (q *Queue) MaxDepth() int64 { return q.maxDepth.Load() }

// Dropped returns the number of events rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

var _ Sink = (*Queue)(nil)
