package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/model"
	"github.com/kohaku-project/kohaku/internal/service"
)

// AuthHandler exposes the session endpoints: API key login and access token
// refresh.
type AuthHandler struct {
	keys         *service.APIKeyService
	sessions     *service.SessionService
	bootstrapKey string
	log          *slog.Logger
}

func NewAuthHandler(keys *service.APIKeyService, sessions *service.SessionService, bootstrapKey string, log *slog.Logger) *AuthHandler {
	return &AuthHandler{keys: keys, sessions: sessions, bootstrapKey: bootstrapKey, log: log}
}

// Login exchanges an X-API-Key credential for a session token pair. The
// configured bootstrap key short-circuits to a bootstrap token; everything
// else goes through prefix lookup and hash verification.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		writeError(w, h.log, apperr.New(apperr.ValidationError, "missing X-API-Key header"))
		return
	}

	if h.bootstrapKey != "" &&
		subtle.ConstantTimeCompare([]byte(apiKey), []byte(h.bootstrapKey)) == 1 {
		token, err := h.sessions.IssueBootstrap()
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		h.log.Info("bootstrap session issued")
		writeJSON(w, http.StatusOK, model.TokenResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   int(service.BootstrapTTL.Seconds()),
		})
		return
	}

	auth, err := h.keys.Verify(r.Context(), apiKey, nil)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	pair, err := h.sessions.IssuePair(auth.Owner, auth.KeyID, auth.Scopes)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.Info("session issued", "owner", auth.Owner, "key_id", auth.KeyID)
	writeJSON(w, http.StatusOK, pair)
}

// Refresh exchanges a Bearer refresh token for a fresh access token. Any
// other token type in the Authorization header is a ValidationError.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		writeError(w, h.log, apperr.New(apperr.Unauthorized, "missing bearer token"))
		return
	}

	auth, typ, err := h.sessions.Verify(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if typ != model.TokenRefresh {
		writeError(w, h.log, apperr.New(apperr.ValidationError, "invalid token type"))
		return
	}

	access, err := h.sessions.Issue(auth.Owner, auth.KeyID, auth.Scopes, model.TokenAccess, service.AccessTTL)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.log.Info("session refreshed", "owner", auth.Owner, "key_id", auth.KeyID)
	writeJSON(w, http.StatusOK, model.TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(service.AccessTTL.Seconds()),
	})
}
