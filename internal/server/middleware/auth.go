package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/metrics"
	"github.com/kohaku-project/kohaku/internal/model"
	"github.com/kohaku-project/kohaku/internal/service"
)

type contextKeyAuth string

// AuthContextKey is the context key for the verified identity.
const AuthContextKey contextKeyAuth = "auth_context"

// Authenticate validates the request's credential and attaches the verified
// identity to the context. Two transports are accepted:
//
//  1. An API key via the X-API-Key header.
//  2. A session token via Authorization: Bearer.
//
// Refresh tokens are not request credentials; presenting one here is a 401.
// Scope enforcement happens separately in RequireScope.
func Authenticate(keys *service.APIKeyService, sessions *service.SessionService, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var auth *model.AuthContext

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				verified, err := keys.Verify(r.Context(), apiKey, nil)
				if err != nil {
					metrics.RecordAuthFailure("api_key")
					writeAuthError(w, log, err)
					return
				}
				auth = verified
			}

			if auth == nil {
				if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
					token := strings.TrimPrefix(header, "Bearer ")
					verified, typ, err := sessions.Verify(token)
					if err != nil {
						metrics.RecordAuthFailure("session_token")
						writeAuthError(w, log, err)
						return
					}
					if typ == model.TokenRefresh {
						metrics.RecordAuthFailure("refresh_as_access")
						writeAuthError(w, log, apperr.New(apperr.Unauthorized,
							"refresh tokens cannot authenticate requests"))
						return
					}
					auth = verified
				}
			}

			if auth == nil {
				metrics.RecordAuthFailure("missing_credential")
				writeAuthError(w, log, apperr.New(apperr.Unauthorized,
					"authentication required: provide an X-API-Key header or a Bearer token"))
				return
			}

			ctx := context.WithValue(r.Context(), AuthContextKey, auth)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope enforces that the authenticated identity carries the given
// scope. Must run after Authenticate. A missing scope is 403, not 401; the
// caller is known, just not allowed.
func RequireScope(scope string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := GetAuthContext(r.Context())
			if auth == nil {
				writeAuthError(w, log, apperr.New(apperr.Unauthorized, "authentication required"))
				return
			}
			if !auth.Scopes.Contains(scope) {
				metrics.RecordAuthFailure("missing_scope")
				writeAuthError(w, log, apperr.Newf(apperr.Forbidden, "missing required scope: %s", scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetAuthContext extracts the verified identity from the context, or nil for
// an unauthenticated request.
func GetAuthContext(ctx context.Context) *model.AuthContext {
	if auth, ok := ctx.Value(AuthContextKey).(*model.AuthContext); ok {
		return auth
	}
	return nil
}

// writeAuthError renders err in the taxonomy envelope. Internal kinds record
// their full cause here; the client only ever sees the generic message.
func writeAuthError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, body := apperr.Response(err)
	if status >= http.StatusInternalServerError {
		log.Error("credential check failed", "kind", body.Kind, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
