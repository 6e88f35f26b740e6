// Package notify maps notification codes to their subscribed delivery
// targets and builds per-target dispatch payloads. Actual delivery is a
// collaborator behind the Transport interface; the router never talks to
// Discord or any other sink itself.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/model"
	"github.com/kohaku-project/kohaku/internal/store"
)

// ScopeManage guards the mutating notification endpoints: code registry
// changes, subscription changes and event dispatch.
const ScopeManage = "notifications:manage"

// Transport delivers a finished payload to subscribed clients.
type Transport interface {
	Deliver(ctx context.Context, payload *model.NotificationPayload) error
}

// TargetStore is the subset of the store the router needs.
type TargetStore interface {
	RegisterCode(ctx context.Context, code string, description *string) (*model.NotificationCode, error)
	GetCode(ctx context.Context, code string) (*model.NotificationCode, error)
	ListCodes(ctx context.Context) ([]model.NotificationCode, error)
	TouchCode(ctx context.Context, code string) error
	UnregisterCode(ctx context.Context, code string) error
	InsertTarget(ctx context.Context, target *model.NotificationTarget) error
	SelectTargets(ctx context.Context, f store.TargetFilter) ([]model.NotificationTarget, error)
	DeleteTarget(ctx context.Context, code string, channelID, guildID int64) error
}

// Router resolves codes to targets and fans events out through a Transport.
type Router struct {
	store     TargetStore
	transport Transport
	log       *slog.Logger
}

func NewRouter(st TargetStore, transport Transport, log *slog.Logger) *Router {
	return &Router{store: st, transport: transport, log: log}
}

// RegisterCode adds a topic to the code registry. last_used starts at the
// registration time.
func (r *Router) RegisterCode(ctx context.Context, code string, description *string) (*model.NotificationCode, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperr.New(apperr.ValidationError, "code must not be empty")
	}
	return r.store.RegisterCode(ctx, code, description)
}

func (r *Router) GetCode(ctx context.Context, code string) (*model.NotificationCode, error) {
	return r.store.GetCode(ctx, code)
}

func (r *Router) ListCodes(ctx context.Context) ([]model.NotificationCode, error) {
	return r.store.ListCodes(ctx)
}

// UnregisterCode removes a topic; its subscriptions go with it.
func (r *Router) UnregisterCode(ctx context.Context, code string) error {
	return r.store.UnregisterCode(ctx, code)
}

// Subscribe adds a channel in a guild as a target for a code. The code must
// already be registered; the store's foreign key rejects unknown codes and
// its unique constraints reject duplicate subscriptions.
func (r *Router) Subscribe(ctx context.Context, code string, channelID, guildID int64, format *string) (*model.NotificationTarget, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperr.New(apperr.ValidationError, "code must not be empty")
	}
	target := &model.NotificationTarget{
		Code:      code,
		ChannelID: channelID,
		GuildID:   guildID,
		Format:    format,
	}
	if err := r.store.InsertTarget(ctx, target); err != nil {
		return nil, err
	}
	r.log.Info("subscription added", "code", code, "channel_id", channelID, "guild_id", guildID)
	return target, nil
}

// Unsubscribe removes one channel's subscription to a code.
func (r *Router) Unsubscribe(ctx context.Context, code string, channelID, guildID int64) error {
	if err := r.store.DeleteTarget(ctx, code, channelID, guildID); err != nil {
		return err
	}
	r.log.Info("subscription removed", "code", code, "channel_id", channelID, "guild_id", guildID)
	return nil
}

// TargetsFor returns the subscriptions matching the given filters. At least
// one filter must be set; no match is an empty slice, not an error.
func (r *Router) TargetsFor(ctx context.Context, code *string, channelID, guildID *int64) ([]model.NotificationTarget, error) {
	return r.store.SelectTargets(ctx, store.TargetFilter{
		Code:      code,
		ChannelID: channelID,
		GuildID:   guildID,
	})
}

// BuildPayload resolves a code's targets and applies each target's format to
// the event message. A target whose resolved message and embed are both
// empty is dropped. Formats substitute the event message for the literal
// placeholder {message}; a format with no placeholder is sent as-is.
func (r *Router) BuildPayload(ctx context.Context, code, triggeringEvent string, embed json.RawMessage, message *string) (*model.NotificationPayload, error) {
	targets, err := r.TargetsFor(ctx, &code, nil, nil)
	if err != nil {
		return nil, err
	}

	data := make([]model.NotificationData, 0, len(targets))
	for _, target := range targets {
		if target.Format == nil && len(embed) == 0 && message == nil {
			continue
		}

		var msg *string
		switch {
		case target.Format != nil && message != nil:
			formatted := strings.ReplaceAll(*target.Format, "{message}", *message)
			msg = &formatted
		case target.Format != nil:
			msg = target.Format
		case message != nil:
			msg = message
		}

		data = append(data, model.NotificationData{
			TriggeringEvent: triggeringEvent,
			ChannelID:       target.ChannelID,
			GuildID:         target.GuildID,
			Embed:           embed,
			Message:         msg,
		})
	}

	return &model.NotificationPayload{
		Code:      code,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Notify builds the payload for an event and hands it to the transport,
// updating the code's last_used timestamp on success. An event with no
// reachable targets is a no-op, not an error.
func (r *Router) Notify(ctx context.Context, code, triggeringEvent string, embed json.RawMessage, message *string) error {
	payload, err := r.BuildPayload(ctx, code, triggeringEvent, embed, message)
	if err != nil {
		return err
	}
	if len(payload.Data) == 0 {
		r.log.Debug("no targets for event, dropping", "code", code, "event", triggeringEvent)
		return nil
	}

	if err := r.transport.Deliver(ctx, payload); err != nil {
		return apperr.Wrap(apperr.ExternalServiceError, "deliver notification for "+code, err)
	}
	if err := r.store.TouchCode(ctx, code); err != nil {
		// Delivery already happened; a stale timestamp is not worth failing
		// the dispatch over.
		r.log.Warn("update code timestamp failed", "code", code, "error", err)
	}
	r.log.Info("notification dispatched",
		"code", code, "event", triggeringEvent, "targets", len(payload.Data))
	return nil
}
