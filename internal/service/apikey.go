package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/model"
)

// KeyStore is the slice of the storage collaborator the key service needs.
type KeyStore interface {
	InsertAPIKey(ctx context.Context, key *model.APIKey) error
	APIKeysByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error)
	DeleteAPIKey(ctx context.Context, id int64) error
}

// APIKeyService issues, verifies and revokes API keys. Verification is
// read-only and re-queries the store every time; no credential cache exists,
// so a revocation takes effect on the next request.
type APIKeyService struct {
	store    KeyStore
	sessions *SessionService
	log      *slog.Logger
}

func NewAPIKeyService(store KeyStore, sessions *SessionService, log *slog.Logger) *APIKeyService {
	return &APIKeyService{store: store, sessions: sessions, log: log}
}

// Issue generates a key for owner, persists its hash and prefix, and returns
// the plaintext exactly once; it is not recoverable afterward. Scopes in the
// keys category are bootstrap-exclusive and rejected here.
func (s *APIKeyService) Issue(ctx context.Context, owner string, scopes model.Scopes) (string, *model.APIKey, error) {
	if strings.TrimSpace(owner) == "" {
		return "", nil, apperr.New(apperr.ValidationError, "owner must not be empty")
	}
	for _, scope := range scopes {
		if strings.HasPrefix(scope, "keys") {
			return "", nil, apperr.New(apperr.ValidationError,
				"scopes in the keys category are not allowed on general API keys")
		}
	}

	plaintext, prefix, err := GenerateKey()
	if err != nil {
		return "", nil, err
	}
	hashed, err := HashKey(plaintext)
	if err != nil {
		return "", nil, err
	}

	record := &model.APIKey{
		HashedKey: hashed,
		KeyPrefix: prefix,
		Owner:     owner,
		Scopes:    scopes,
	}
	if err := s.store.InsertAPIKey(ctx, record); err != nil {
		// Conflict on (prefix, hash) is astronomically unlikely but handled,
		// not retried blindly; the store has already mapped the kind.
		return "", nil, err
	}

	s.log.Info("api key issued", "prefix", prefix, "owner", owner)
	return plaintext, record, nil
}

// Verify authenticates a presented key and checks the required scopes. The
// prefix narrows the candidate set via the store index; each candidate is
// checked with a constant-time hash comparison. No side effects.
func (s *APIKeyService) Verify(ctx context.Context, presented string, required []string) (*model.AuthContext, error) {
	match, err := s.findByPlaintext(ctx, presented)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, apperr.New(apperr.Unauthorized, "invalid API key")
	}

	if !match.Scopes.ContainsAll(required) {
		return nil, apperr.Newf(apperr.Forbidden,
			"missing required scope: %s", strings.Join(missingScopes(match.Scopes, required), ", "))
	}

	return &model.AuthContext{
		Owner:  match.Owner,
		KeyID:  match.ID,
		Scopes: match.Scopes,
	}, nil
}

// Revoke deletes the key matching the presented plaintext and blacklists its
// id so outstanding session tokens are denied early.
func (s *APIKeyService) Revoke(ctx context.Context, presented string) error {
	match, err := s.findByPlaintext(ctx, presented)
	if err != nil {
		return err
	}
	if match == nil {
		return apperr.New(apperr.NotFound, "API key could not be found")
	}

	if err := s.store.DeleteAPIKey(ctx, match.ID); err != nil {
		return err
	}
	s.sessions.BlacklistKey(match.ID)
	s.log.Info("api key revoked", "prefix", match.KeyPrefix, "owner", match.Owner)
	return nil
}

// findByPlaintext resolves a presented key to its stored record, or nil when
// no candidate hash matches.
func (s *APIKeyService) findByPlaintext(ctx context.Context, presented string) (*model.APIKey, error) {
	prefix, err := SplitKey(presented)
	if err != nil {
		return nil, err
	}

	candidates, err := s.store.APIKeysByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		ok, err := VerifyKey(presented, candidates[i].HashedKey)
		if err != nil {
			// A corrupt stored hash disqualifies that candidate only.
			s.log.Error("stored key hash unreadable", "key_id", candidates[i].ID, "error", err)
			continue
		}
		if ok {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func missingScopes(have model.Scopes, required []string) []string {
	var missing []string
	for _, r := range required {
		if !have.Contains(r) {
			missing = append(missing, r)
		}
	}
	return missing
}
