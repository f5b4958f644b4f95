package vision

import "sync/atomic"

// Queue is a bounded measurement buffer. Push never blocks: when full, the oldest measurement is
// discarded to make room.
type Queue struct {
	ch      chan Measurement
	dropped atomic.Uint64
}

// NewQueue returns a Queue holding up to size measurements.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan Measurement, size)}
}

// Push enqueues m and reports whether an older measurement had to be dropped.
func (q *Queue) Push(m Measurement) bool {
	dropped := false
	for {
		select {
		case q.ch <- m:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped = true
			q.dropped.Add(1)
		default:
		}
	}
}

// C is the receive side of the queue.
func (q *Queue) C() <-chan Measurement {
	return q.ch
}

// Drain returns every queued measurement without blocking.
func (q *Queue) Drain() []Measurement {
	var out []Measurement
	for {
		select {
		case m := <-q.ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

// Dropped is the number of measurements discarded so far.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
