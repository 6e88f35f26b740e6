package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/model"
)

// ---------------------------------------------------------------------------
// Notification codes (topic registry)
// ---------------------------------------------------------------------------

// RegisterCode creates a topic in the code registry. last_used starts at the
// creation time. Re-registering an existing code is a Conflict.
func (s *Store) RegisterCode(ctx context.Context, code string, description *string) (*model.NotificationCode, error) {
	entry := model.NotificationCode{
		Code:        code,
		LastUsed:    time.Now().UTC(),
		Description: description,
	}
	q := s.rebind(`INSERT INTO notification_codes (code, last_used, description) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, entry.Code, entry.LastUsed, entry.Description); err != nil {
		return nil, mapWriteError("register notification code", err)
	}
	return &entry, nil
}

// GetCode returns one registry entry.
func (s *Store) GetCode(ctx context.Context, code string) (*model.NotificationCode, error) {
	var entry model.NotificationCode
	q := s.rebind(`SELECT * FROM notification_codes WHERE code = ?`)
	if err := s.db.GetContext(ctx, &entry, q, code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Newf(apperr.NotFound, "notification code %q not found", code)
		}
		return nil, mapReadError("get notification code", err)
	}
	return &entry, nil
}

// ListCodes returns all registered topics.
func (s *Store) ListCodes(ctx context.Context) ([]model.NotificationCode, error) {
	var codes []model.NotificationCode
	if err := s.db.SelectContext(ctx, &codes, `SELECT * FROM notification_codes ORDER BY code`); err != nil {
		return nil, mapReadError("list notification codes", err)
	}
	return codes, nil
}

// TouchCode updates last_used to now, marking a dispatch for the code.
func (s *Store) TouchCode(ctx context.Context, code string) error {
	q := s.rebind(`UPDATE notification_codes SET last_used = ? WHERE code = ?`)
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC(), code)
	if err != nil {
		return mapWriteError("touch notification code", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.DatabaseQueryError, "touch notification code rows affected", err)
	}
	if n == 0 {
		return apperr.Newf(apperr.NotFound, "notification code %q not found", code)
	}
	return nil
}

// UnregisterCode removes a topic. Targets subscribed to it are removed with
// it via the foreign key cascade, keeping registry and subscriptions
// consistent.
func (s *Store) UnregisterCode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM notification_codes WHERE code = ?`), code)
	if err != nil {
		return mapWriteError("unregister notification code", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.DatabaseQueryError, "unregister notification code rows affected", err)
	}
	if n == 0 {
		return apperr.Newf(apperr.NotFound, "notification code %q not found", code)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Notification targets (subscriptions)
// ---------------------------------------------------------------------------

// InsertTarget subscribes a channel in a guild to a code. The unique
// constraints guarantee at most one target per (code, channel) and per
// (code, guild); violating either is a Conflict.
func (s *Store) InsertTarget(ctx context.Context, target *model.NotificationTarget) error {
	target.CreatedAt = time.Now().UTC()

	if s.driver == "postgres" {
		const q = `INSERT INTO notification_targets (created_at, code, channel_id, guild_id, format)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`
		err := s.db.QueryRowxContext(ctx, q,
			target.CreatedAt, target.Code, target.ChannelID, target.GuildID, target.Format).Scan(&target.ID)
		if err != nil {
			return mapWriteError("insert notification target", err)
		}
		return nil
	}

	const q = `INSERT INTO notification_targets (created_at, code, channel_id, guild_id, format)
		VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		target.CreatedAt, target.Code, target.ChannelID, target.GuildID, target.Format)
	if err != nil {
		return mapWriteError("insert notification target", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperr.Wrap(apperr.DatabaseQueryError, "read inserted target id", err)
	}
	target.ID = id
	return nil
}

// TargetFilter narrows SelectTargets. Nil fields are not filtered on; at
// least one must be set.
type TargetFilter struct {
	Code      *string
	ChannelID *int64
	GuildID   *int64
}

// SelectTargets returns the targets matching the filter. No match yields an
// empty slice, not an error.
func (s *Store) SelectTargets(ctx context.Context, f TargetFilter) ([]model.NotificationTarget, error) {
	if f.Code == nil && f.ChannelID == nil && f.GuildID == nil {
		return nil, apperr.New(apperr.ValidationError,
			"at least one of code, channel_id, guild_id must be set")
	}

	var conds []string
	var args []any
	if f.Code != nil {
		conds = append(conds, "code = ?")
		args = append(args, *f.Code)
	}
	if f.ChannelID != nil {
		conds = append(conds, "channel_id = ?")
		args = append(args, *f.ChannelID)
	}
	if f.GuildID != nil {
		conds = append(conds, "guild_id = ?")
		args = append(args, *f.GuildID)
	}

	q := s.rebind(`SELECT * FROM notification_targets WHERE ` + strings.Join(conds, " AND "))
	targets := []model.NotificationTarget{}
	if err := s.db.SelectContext(ctx, &targets, q, args...); err != nil {
		return nil, mapReadError("select notification targets", err)
	}
	return targets, nil
}

// DeleteTarget removes the subscription of one channel in one guild to a code.
func (s *Store) DeleteTarget(ctx context.Context, code string, channelID, guildID int64) error {
	q := s.rebind(`DELETE FROM notification_targets WHERE code = ? AND channel_id = ? AND guild_id = ?`)
	res, err := s.db.ExecContext(ctx, q, code, channelID, guildID)
	if err != nil {
		return mapWriteError("delete notification target", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.DatabaseQueryError, "delete notification target rows affected", err)
	}
	if n == 0 {
		return apperr.Newf(apperr.NotFound, "no subscription for code %q on that channel", code)
	}
	return nil
}
