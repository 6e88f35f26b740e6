package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Scopes is a set of permission strings in `category:verb` form. Order is
// irrelevant. Persisted as a JSON array in one column so the layout is the
// same across sqlite and postgres.
type Scopes []string

// Value implements driver.Valuer for sqlx writes.
func (s Scopes) Value() (driver.Value, error) {
	if s == nil {
		s = Scopes{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal scopes: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner for sqlx reads.
func (s *Scopes) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("scan scopes: unsupported type %T", src)
	}
}

// Contains reports whether the set holds the given scope.
func (s Scopes) Contains(scope string) bool {
	for _, sc := range s {
		if sc == scope {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every required scope is present.
func (s Scopes) ContainsAll(required []string) bool {
	for _, r := range required {
		if !s.Contains(r) {
			return false
		}
	}
	return true
}

// APIKey is the persisted record of an issued key. The raw key is never
// stored; only a salted argon2id hash and a short non-secret prefix used to
// narrow lookups are persisted. Records are immutable after insert; revocation
// deletes the row.
type APIKey struct {
	ID        int64     `json:"id" db:"id"`
	HashedKey string    `json:"-" db:"hashed_key"` // argon2id, never expose
	KeyPrefix string    `json:"key_prefix" db:"key_prefix"`
	Owner     string    `json:"owner" db:"owner"`
	Scopes    Scopes    `json:"scopes" db:"scopes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
