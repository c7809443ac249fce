// Package events holds outbound telemetry between the access loop and the
// uplink session.
//
// The queue is FIFO and bounded. When full, Push drops the oldest event so
// that the most recent activity survives a long network outage.
package events

import (
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 256

// Event names.
const (
	NameHash = "hash"
	NameSync = "sync"
)

// Event is one telemetry item, published under events/{Name}.
type Event struct {
	Name    string
	Payload []byte
	Time    time.Time
}

// Queue is safe for concurrent use by any number of producers and
// consumers.
type Queue struct {
	mu       sync.Mutex
	items    []Event
	capacity int
	dropped  uint64
}

// New creates a queue holding at most capacity events.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Push appends an event. It reports false if the oldest event had to be
// dropped to make room.
func (q *Queue) Push(name string, payload []byte) bool {
	ev := Event{Name: name, Payload: payload, Time: time.Now()}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := true
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
		kept = false
	}
	q.items = append(q.items, ev)
	return kept
}

// Pop removes and returns the oldest event.
func (q *Queue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Event{}, false
	}
	ev := q.items[0]
	q.items[0] = Event{}
	q.items = q.items[1:]
	return ev, true
}

// Requeue puts an event that could not be delivered back at the head so it
// is the next one popped. If the queue filled up meanwhile, the event is
// dropped instead.
func (q *Queue) Requeue(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.dropped++
		return false
	}
	q.items = append([]Event{ev}, q.items...)
	return true
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many events have been discarded for lack of room.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
