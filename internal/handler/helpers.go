// Package handler holds the HTTP handlers for the Kohaku API surface. Every
// error response goes through the taxonomy envelope; handlers never render a
// collaborator's native error text.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kohaku-project/kohaku/internal/apperr"
)

// writeJSON serializes v as JSON with the given HTTP status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err through the taxonomy envelope. Internal kinds are
// logged with their full cause here and leave the process as a generic
// message only.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, body := apperr.Response(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "kind", body.Kind, "error", err)
	}
	writeJSON(w, status, body)
}

// readJSON decodes the request body into v. A malformed body is a
// BadRequest; the caller renders it.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(apperr.BadRequest, "invalid request body", err)
	}
	return nil
}

// queryInt64 extracts an optional int64 query parameter. A present but
// unparsable value is a ValidationError.
func queryInt64(r *http.Request, key string) (*int64, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, apperr.Newf(apperr.ValidationError, "%s must be an integer", key)
	}
	return &n, nil
}

// queryStringPtr extracts an optional string query parameter.
func queryStringPtr(r *http.Request, key string) *string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil
	}
	return &val
}
