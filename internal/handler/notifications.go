package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kohaku-project/kohaku/internal/notify"
)

// NotificationHandler exposes the code registry, subscription management and
// event dispatch on top of the router.
type NotificationHandler struct {
	router *notify.Router
	log    *slog.Logger
}

func NewNotificationHandler(router *notify.Router, log *slog.Logger) *NotificationHandler {
	return &NotificationHandler{router: router, log: log}
}

type registerCodeRequest struct {
	Code        string  `json:"code"`
	Description *string `json:"description,omitempty"`
}

type subscribeRequest struct {
	Code      string  `json:"code"`
	ChannelID int64   `json:"channel_id"`
	GuildID   int64   `json:"guild_id"`
	Format    *string `json:"format,omitempty"`
}

type unsubscribeRequest struct {
	Code      string `json:"code"`
	ChannelID int64  `json:"channel_id"`
	GuildID   int64  `json:"guild_id"`
}

type dispatchRequest struct {
	Code            string          `json:"code"`
	TriggeringEvent string          `json:"triggering_event"`
	Embed           json.RawMessage `json:"embed,omitempty"`
	Message         *string         `json:"message,omitempty"`
}

// ListCodes returns the full code registry.
func (h *NotificationHandler) ListCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.router.ListCodes(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

// GetCode returns one registry entry.
func (h *NotificationHandler) GetCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.router.GetCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}

// RegisterCode adds a topic to the registry. A duplicate code is 409.
func (h *NotificationHandler) RegisterCode(w http.ResponseWriter, r *http.Request) {
	var req registerCodeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	code, err := h.router.RegisterCode(r.Context(), req.Code, req.Description)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, code)
}

// UnregisterCode drops a topic and every subscription to it.
func (h *NotificationHandler) UnregisterCode(w http.ResponseWriter, r *http.Request) {
	if err := h.router.UnregisterCode(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions filters subscriptions by code, channel_id and guild_id
// query parameters. At least one must be given.
func (h *NotificationHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	channelID, err := queryInt64(r, "channel_id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	guildID, err := queryInt64(r, "guild_id")
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	targets, err := h.router.TargetsFor(r.Context(), queryStringPtr(r, "code"), channelID, guildID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": targets})
}

// Subscribe adds a channel as a target for a code.
func (h *NotificationHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	target, err := h.router.Subscribe(r.Context(), req.Code, req.ChannelID, req.GuildID, req.Format)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

// Unsubscribe removes one channel's subscription to a code.
func (h *NotificationHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.router.Unsubscribe(r.Context(), req.Code, req.ChannelID, req.GuildID); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Dispatch routes an event to every subscribed target. An event with no
// targets is accepted and dropped.
func (h *NotificationHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.router.Notify(r.Context(), req.Code, req.TriggeringEvent, req.Embed, req.Message); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
