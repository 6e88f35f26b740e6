package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kohaku-project/kohaku/internal/model"
	"github.com/kohaku-project/kohaku/internal/service"
)

// KeyLister is the read side of key management, kept separate from the
// issue/revoke service so listing never touches hashes.
type KeyLister interface {
	ListAPIKeys(ctx context.Context) ([]model.APIKey, error)
}

// KeyHandler exposes API key management. Every route behind it requires the
// keys:manage scope, which only bootstrap tokens carry.
type KeyHandler struct {
	keys   *service.APIKeyService
	lister KeyLister
	log    *slog.Logger
}

func NewKeyHandler(keys *service.APIKeyService, lister KeyLister, log *slog.Logger) *KeyHandler {
	return &KeyHandler{keys: keys, lister: lister, log: log}
}

type createKeyRequest struct {
	Owner  string       `json:"owner"`
	Scopes model.Scopes `json:"scopes"`
}

type createKeyResponse struct {
	APIKey    string       `json:"api_key"`
	KeyPrefix string       `json:"key_prefix"`
	Owner     string       `json:"owner"`
	Scopes    model.Scopes `json:"scopes"`
}

type revokeKeyRequest struct {
	APIKey string `json:"api_key"`
}

// Create mints a new API key. The plaintext appears in this response and
// then never again; only its hash is stored.
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	plaintext, record, err := h.keys.Issue(r.Context(), req.Owner, req.Scopes)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, createKeyResponse{
		APIKey:    plaintext,
		KeyPrefix: record.KeyPrefix,
		Owner:     record.Owner,
		Scopes:    record.Scopes,
	})
}

// List returns all stored key records. Hashes never serialize.
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.lister.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": records})
}

// Revoke deletes the key named by its plaintext and blacklists its session
// tokens. Revoking an unknown key is 404.
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.keys.Revoke(r.Context(), req.APIKey); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
