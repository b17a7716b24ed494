// Package broadcast implements a fan-out channel for measurement buffers:
// every output subscribes independently and consumes at its own rate: a
// slow subscriber loses the oldest buffers from its own queue rather than
// stalling the others (spec.md §4.7, "transforms-to-outputs uses a
// broadcast with a fixed ring buffer").
package broadcast

import (
	"sync"
	"sync/atomic"

	"alumet/pkg/measurement"
)

// Subscriber is one output's view onto the broadcast. C delivers buffers in
// the order they were sent; Missed reports how many buffers were evicted
// before this subscriber could receive them.
type Subscriber struct {
	ch     chan *measurement.Buffer
	missed atomic.Uint64
}

func (s *Subscriber) C() <-chan *measurement.Buffer { return s.ch }

func (s *Subscriber) Missed() uint64 { return s.missed.Load() }

// Broadcaster fans a single stream of buffers out to every live
// subscriber. It never blocks Send: a subscriber whose queue is full has
// its oldest buffer evicted to make room.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscriber
	next     uint64
	capacity int
}

func New(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = 1
	}
	return &Broadcaster{subs: make(map[uint64]*Subscriber), capacity: capacity}
}

// Subscribe registers a new receiver and returns it along with an
// unsubscribe function the caller must invoke exactly once when done.
func (b *Broadcaster) Subscribe() (*Subscriber, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	sub := &Subscriber{ch: make(chan *measurement.Buffer, b.capacity)}
	b.subs[id] = sub
	return sub, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// NumSubscribers reports how many outputs are currently listening; Send
// drops the buffer entirely when this is zero (spec.md §4.6).
func (b *Broadcaster) NumSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Send fans buf out to every subscriber. A subscriber with a full queue
// has its oldest pending buffer dropped to make room, and its Missed
// counter is incremented; Send itself never blocks.
func (b *Broadcaster) Send(buf *measurement.Buffer) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub.ch <- buf:
		default:
			select {
			case <-sub.ch:
				sub.missed.Add(1)
			default:
			}
			select {
			case sub.ch <- buf:
			default:
				sub.missed.Add(1)
			}
		}
	}
}
