package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/model"
)

// InsertAPIKey persists a new key record. The hashed_key must already be set.
// ID and CreatedAt are populated after insert. A (key_prefix, hashed_key)
// uniqueness violation maps to Conflict, never a silent overwrite.
func (s *Store) InsertAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	if s.driver == "postgres" {
		const q = `INSERT INTO api_keys (hashed_key, key_prefix, owner, scopes, created_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`
		err := s.db.QueryRowxContext(ctx, q,
			key.HashedKey, key.KeyPrefix, key.Owner, key.Scopes, key.CreatedAt).Scan(&key.ID)
		if err != nil {
			return mapWriteError("insert api key", err)
		}
		return nil
	}

	const q = `INSERT INTO api_keys (hashed_key, key_prefix, owner, scopes, created_at)
		VALUES (?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		key.HashedKey, key.KeyPrefix, key.Owner, key.Scopes, key.CreatedAt)
	if err != nil {
		return mapWriteError("insert api key", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return apperr.Wrap(apperr.DatabaseQueryError, "read inserted api key id", err)
	}
	key.ID = id
	return nil
}

// APIKeysByPrefix returns every stored key sharing the given prefix. The
// prefix space is small, so collisions are expected; callers hash-compare
// against each candidate. An empty result is not an error.
func (s *Store) APIKeysByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error) {
	var keys []model.APIKey
	q := s.rebind(`SELECT * FROM api_keys WHERE key_prefix = ?`)
	if err := s.db.SelectContext(ctx, &keys, q, prefix); err != nil {
		return nil, mapReadError("select api keys by prefix", err)
	}
	return keys, nil
}

// ListAPIKeys returns all keys, newest first. Hashes stay server-side; the
// model hides them from JSON.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, `SELECT * FROM api_keys ORDER BY created_at DESC`); err != nil {
		return nil, mapReadError("list api keys", err)
	}
	return keys, nil
}

// DeleteAPIKey removes a key record by id. Revocation is deletion; the rows
// are never updated in place.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM api_keys WHERE id = ?`), id)
	if err != nil {
		return mapWriteError("delete api key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.DatabaseQueryError, "delete api key rows affected", err)
	}
	if n == 0 {
		return apperr.Newf(apperr.NotFound, "api key %d not found", id)
	}
	return nil
}

// GetSetting reads one settings value. Missing keys map to NotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	q := s.rebind(`SELECT value FROM settings WHERE key = ?`)
	if err := s.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperr.Newf(apperr.NotFound, "setting %q not found", key)
		}
		return "", mapReadError("get setting", err)
	}
	return value, nil
}

// SetSetting upserts one settings value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	q := s.rebind(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return mapWriteError("set setting", err)
	}
	return nil
}

// mapReadError converts a driver read failure into the taxonomy.
func mapReadError(op string, err error) error {
	if isConnectionFailure(err) {
		return apperr.Wrap(apperr.DatabaseConnectionError, op, err)
	}
	return apperr.Wrap(apperr.DatabaseQueryError, op, err)
}

// mapWriteError converts a driver write failure into the taxonomy. Unique
// violations become Conflict so callers can act on them without retrying
// blindly.
func mapWriteError(op string, err error) error {
	switch {
	case isUniqueViolation(err):
		return apperr.Wrap(apperr.Conflict, op+": already exists", err)
	case isConnectionFailure(err):
		return apperr.Wrap(apperr.DatabaseConnectionError, op, err)
	default:
		return apperr.Wrap(apperr.DatabaseQueryError, op, err)
	}
}
