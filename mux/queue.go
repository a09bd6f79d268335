// Package mux provides the bounded hand-off queue between a capture pump and
// the dispatcher. One queue exists per media kind. Push and Pop never block;
// when the queue is full the oldest sample is evicted to admit the newest,
// because for a live stream a stale frame is worse than a dropped one.
package mux

import (
	"sync"

	"github.com/buchio/rpi-camera-streamer/domain"
)

// DefaultCapacity absorbs brief jitter between capture and dispatch cadence
// while keeping drop-oldest responsive under sustained overload.
const DefaultCapacity = 8

// Queue is a fixed-capacity FIFO of samples with drop-oldest overflow.
// It is safe for one producer and one consumer running concurrently.
type Queue struct {
	mu      sync.Mutex
	buf     []domain.Sample
	head    int
	n       int
	dropped uint64
	ready   chan struct{}
}

// New creates a queue holding up to capacity samples. Capacity below 1 uses
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{
		buf:   make([]domain.Sample, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push adds the sample, evicting the oldest entry if the queue is full.
// It never blocks.
func (q *Queue) Push(s domain.Sample) {
	q.mu.Lock()
	if q.n == len(q.buf) {
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		q.dropped++
	}
	q.buf[(q.head+q.n)%len(q.buf)] = s
	q.n++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest sample, or ok=false when the queue is
// empty. It never blocks.
func (q *Queue) Pop() (domain.Sample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return domain.Sample{}, false
	}
	s := q.buf[q.head]
	q.buf[q.head] = domain.Sample{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return s, true
}

// Len reports the number of queued samples.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Dropped reports how many samples drop-oldest has evicted.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready signals after each Push. The channel has capacity one; a consumer
// waking on it drains the queue with Pop until empty.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
