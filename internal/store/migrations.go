package store

import (
	"fmt"
	"strings"
)

// Migrations are idempotent and run on every Open. The sqlite and postgres
// texts differ only in the id column form and timestamp defaults.
func (s *Store) migrate() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	now := "CURRENT_TIMESTAMP"
	if s.driver == "postgres" {
		serial = "BIGSERIAL PRIMARY KEY"
		now = "NOW()"
	}

	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS api_keys (
			id %s,
			hashed_key TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			owner TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			UNIQUE(key_prefix, hashed_key)
		)`, serial, now),
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS notification_codes (
			code TEXT PRIMARY KEY,
			last_used TIMESTAMP NOT NULL DEFAULT %s,
			description TEXT
		)`, now),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS notification_targets (
			id %s,
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			code TEXT NOT NULL REFERENCES notification_codes(code) ON DELETE CASCADE,
			channel_id BIGINT NOT NULL,
			guild_id BIGINT NOT NULL,
			format TEXT,
			UNIQUE(code, channel_id),
			UNIQUE(code, guild_id)
		)`, serial, now),
		`CREATE INDEX IF NOT EXISTS idx_notification_targets_code ON notification_targets(code)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_targets_guild ON notification_targets(guild_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_targets_channel ON notification_targets(channel_id)`,

		// Key-value settings (session secret, instance metadata).
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
