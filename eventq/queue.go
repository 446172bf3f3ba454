// Package eventq provides the bounded event channel between interrupt
// context and the request engine. The producer side never blocks and never
// allocates; when the queue is full the newest record is dropped and
// counted, so overflow is visible without ever stalling the interrupt.
package eventq

import (
	"errors"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/sdwire/sdmmc/hw"
)

// ErrInvalidDepth is returned when a queue cannot be created because the
// requested capacity is not positive.
var ErrInvalidDepth = errors.New("event queue depth must be positive")

// DefaultDepth matches the reference controller sizing.
const DefaultDepth = 32

// Queue is a fixed-capacity FIFO of hardware event records. Exactly one
// producer (interrupt context) and one consumer (the request engine) are
// supported.
type Queue struct {
	ch      chan hw.Event
	dropped metrics.Counter
}

// New creates a queue with the given capacity.
func New(depth int) (*Queue, error) {
	if depth <= 0 {
		return nil, ErrInvalidDepth
	}
	return &Queue{
		ch:      make(chan hw.Event, depth),
		dropped: metrics.GetOrRegisterCounter("eventq.dropped", nil),
	}, nil
}

// Enqueue adds an event record. Safe to call from interrupt context: it
// never blocks and never allocates. When the queue is full the record is
// dropped and the drop counter bumped; the consumer reports the loss the
// next time it looks.
func (q *Queue) Enqueue(evt hw.Event) {
	select {
	case q.ch <- evt:
	default:
		q.dropped.Inc(1)
	}
}

// TryDequeue removes the oldest event record without blocking. Used to
// drain stray events while no request is in flight.
func (q *Queue) TryDequeue() (hw.Event, bool) {
	select {
	case evt, ok := <-q.ch:
		return evt, ok
	default:
		return hw.Event{}, false
	}
}

// Dequeue removes the oldest event record, waiting for one to arrive. A
// zero timeout waits forever, matching the controller contract that the
// consumer has nothing else to do until hardware responds. A non-zero
// timeout returns false when it elapses.
func (q *Queue) Dequeue(timeout time.Duration) (hw.Event, bool) {
	if timeout == 0 {
		evt, ok := <-q.ch
		return evt, ok
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case evt, ok := <-q.ch:
		return evt, ok
	case <-t.C:
		return hw.Event{}, false
	}
}

// Dropped returns the number of records dropped due to overflow since the
// process started.
func (q *Queue) Dropped() int64 {
	return q.dropped.Count()
}

// Close releases the queue. The producer must be unregistered first; an
// Enqueue racing a Close is a lifecycle bug in the caller.
func (q *Queue) Close() {
	close(q.ch)
}
