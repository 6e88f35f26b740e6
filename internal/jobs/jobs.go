// Package jobs holds the bodies behind the scheduled job names accepted in
// the configuration file. The scheduler runs them; this package defines what
// each name does.
package jobs

import (
	"context"
	"log/slog"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/notify"
)

// Refresher pulls fresh data from an upstream source and reports any
// notification-worthy changes as events.
type Refresher interface {
	Refresh(ctx context.Context) ([]notify.Event, error)
}

// Registry maps configured job names to their bodies. Config entries naming
// an unregistered job fail startup instead of silently doing nothing.
type Registry struct {
	bodies map[string]func(ctx context.Context) error
}

func NewRegistry() *Registry {
	return &Registry{bodies: make(map[string]func(ctx context.Context) error)}
}

// Register binds a name to a body. Re-registering a name is a Conflict.
func (r *Registry) Register(name string, body func(ctx context.Context) error) error {
	if _, exists := r.bodies[name]; exists {
		return apperr.Newf(apperr.Conflict, "job body %q already registered", name)
	}
	r.bodies[name] = body
	return nil
}

// Body resolves a configured job name. An unknown name is TaskNotFound.
func (r *Registry) Body(name string) (func(ctx context.Context) error, error) {
	body, ok := r.bodies[name]
	if !ok {
		return nil, apperr.Newf(apperr.TaskNotFound, "no job body registered for %q", name)
	}
	return body, nil
}

// DataRefresh builds the body for the data-refresh job: pull from the
// refresher and queue whatever events it reports.
func DataRefresh(refresher Refresher, queue *notify.Queue, log *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		events, err := refresher.Refresh(ctx)
		if err != nil {
			return apperr.Wrap(apperr.TaskExecutionError, "refresh upstream data", err)
		}
		queued := 0
		for _, ev := range events {
			if err := queue.Enqueue(ev); err != nil {
				log.Warn("event dropped, queue full", "code", ev.Code, "event", ev.TriggeringEvent)
				continue
			}
			queued++
		}
		if queued > 0 {
			log.Info("refresh produced events", "queued", queued)
		}
		return nil
	}
}

// NotificationDispatch builds the body for the notification-dispatch job:
// drain the pending queue through the router.
func NotificationDispatch(queue *notify.Queue, router *notify.Router) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return queue.Drain(ctx, router)
	}
}
