package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kohaku-project/kohaku/internal/apperr"
)

// Event is one pending notification produced inside the process, waiting for
// the dispatch job to route it.
type Event struct {
	Code            string
	TriggeringEvent string
	Embed           json.RawMessage
	Message         *string
}

// Queue buffers events between producers (scheduled jobs, internal
// subsystems) and the dispatch job. Bounded; a full queue rejects rather
// than grows, so a stuck transport cannot exhaust memory.
type Queue struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{capacity: capacity}
}

// Enqueue adds an event. A full queue is TooManyRequests.
func (q *Queue) Enqueue(ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) >= q.capacity {
		return apperr.Newf(apperr.TooManyRequests,
			"notification queue full (%d pending)", len(q.events))
	}
	q.events = append(q.events, ev)
	return nil
}

// Len reports the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// take removes and returns all pending events.
func (q *Queue) take() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// Drain routes every pending event through the router. Events that fail to
// deliver are put back for the next drain; the first failure is returned
// after the whole batch has been attempted.
func (q *Queue) Drain(ctx context.Context, router *Router) error {
	events := q.take()
	var firstErr error
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			// Cancelled mid-batch: everything not yet attempted goes back.
			q.requeue(events[i:])
			if firstErr == nil {
				firstErr = apperr.Wrap(apperr.TaskTimeout, "drain interrupted", err)
			}
			return firstErr
		}
		if err := router.Notify(ctx, ev.Code, ev.TriggeringEvent, ev.Embed, ev.Message); err != nil {
			q.requeue(events[i : i+1])
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (q *Queue) requeue(events []Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// Requeued events may exceed capacity; dropping them would lose data the
	// caller already accepted.
	q.events = append(q.events, events...)
}
