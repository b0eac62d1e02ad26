package eventqueue

import (
	"sync"
	"time"
)

// Event is one message delivered to an agent.
type Event struct {
	Message string    `json:"message"`
	Body    any       `json:"body"`
	Queued  time.Time `json:"queued"`
}

// Queue is a bounded FIFO that drops its oldest event when full.
type Queue struct {
	mu      sync.Mutex
	events  []Event
	max     int
	dropped uint64
	notify  chan struct{}
}

func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 64
	}
	return &Queue{max: max, notify: make(chan struct{}, 1)}
}

// Push appends e and reports whether an older event was dropped for it.
func (q *Queue) Push(e Event) bool {
	q.mu.Lock()
	dropped := false
	if len(q.events) >= q.max {
		q.events = q.events[1:]
		q.dropped++
		dropped = true
	}
	q.events = append(q.events, e)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Drain removes and returns everything queued.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled after every Push.
func (q *Queue) Ready() <-chan struct{} { return q.notify }
