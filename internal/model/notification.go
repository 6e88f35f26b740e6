package model

import (
	"encoding/json"
	"time"
)

// NotificationCode is one topic that channels can subscribe to. last_used
// tracks the most recent dispatch for the code (creation time until then).
type NotificationCode struct {
	Code        string    `json:"code" db:"code"`
	LastUsed    time.Time `json:"last_used" db:"last_used"`
	Description *string   `json:"description,omitempty" db:"description"`
}

// NotificationTarget maps a code to one delivery destination. A given channel
// or guild receives a given code through at most one row; the store enforces
// UNIQUE(code, channel_id) and UNIQUE(code, guild_id).
type NotificationTarget struct {
	ID        int64     `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Code      string    `json:"code" db:"code"`
	ChannelID int64     `json:"channel_id" db:"channel_id"`
	GuildID   int64     `json:"guild_id" db:"guild_id"`
	Format    *string   `json:"format,omitempty" db:"format"`
}

// NotificationData is the per-target payload handed to the delivery
// transport. Message has already had the target's format applied.
type NotificationData struct {
	TriggeringEvent string          `json:"triggering_event"`
	ChannelID       int64           `json:"channel_id"`
	GuildID         int64           `json:"guild_id"`
	Embed           json.RawMessage `json:"embed,omitempty"`
	Message         *string         `json:"message,omitempty"`
}

// NotificationPayload bundles everything the transport needs for one dispatch.
type NotificationPayload struct {
	Code      string             `json:"code"`
	Timestamp time.Time          `json:"timestamp"`
	Data      []NotificationData `json:"data"`
}
