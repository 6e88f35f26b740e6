package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kohaku-project/kohaku/internal/model"
	"github.com/kohaku-project/kohaku/internal/notify"
	"github.com/kohaku-project/kohaku/internal/service"
	"github.com/kohaku-project/kohaku/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testSessionSecret = "test-secret-for-session-integration-tests"
	testBootstrapKey  = "khk_bootstrap_test_credential"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server   *Server
	store    *store.Store
	keys     *service.APIKeyService
	sessions *service.SessionService
}

// newTestEnv creates a fresh test environment with an in-memory store, a
// logging notification transport, and a fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(store.Config{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessions, err := service.NewSessionService([]byte(testSessionSecret), logger)
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	keys := service.NewAPIKeyService(st, sessions, logger)
	notifier := notify.NewRouter(st, notify.NewLogTransport(logger), logger)

	cfg := DefaultConfig()
	cfg.RateLimit = 0      // no per-IP throttling in tests
	cfg.LoginRateLimit = 0 // no login throttling in tests
	srv := New(cfg, st, keys, sessions, nil, notifier, nil, testBootstrapKey, logger)

	return &testEnv{
		server:   srv,
		store:    st,
		keys:     keys,
		sessions: sessions,
	}
}

// do issues a request against the wired router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// decode unmarshals the recorder body into out, failing the test on error.
func decode(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

// errorBody is the wire shape every error response carries.
type errorBody struct {
	Status  int    `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// bootstrapToken logs in with the configured bootstrap key and returns the
// resulting key-management token.
func (e *testEnv) bootstrapToken(t *testing.T) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/auth/session", nil, map[string]string{
		"X-API-Key": testBootstrapKey,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("bootstrap login: status %d, body %s", rr.Code, rr.Body.String())
	}
	var resp model.TokenResponse
	decode(t, rr, &resp)
	if resp.AccessToken == "" {
		t.Fatal("bootstrap login returned empty access token")
	}
	return resp.AccessToken
}

// mintKey creates an API key with the given scopes through the HTTP surface
// and returns the plaintext key.
func (e *testEnv) mintKey(t *testing.T, owner string, scopes []string) string {
	t.Helper()
	token := e.bootstrapToken(t)
	rr := e.do(t, "POST", "/api/v1/keys", map[string]any{
		"owner":  owner,
		"scopes": scopes,
	}, map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create key: status %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		APIKey string `json:"api_key"`
	}
	decode(t, rr, &resp)
	if resp.APIKey == "" {
		t.Fatal("create key returned empty api_key")
	}
	return resp.APIKey
}

// ---------------------------------------------------------------------------
// Health and document endpoints
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestReadyzReportsStore(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Status string         `json:"status"`
		Checks map[string]any `json:"checks"`
	}
	decode(t, rr, &resp)
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %q", resp.Status)
	}
	if resp.Checks["store"] != "ok" {
		t.Errorf("expected store check ok, got %v", resp.Checks["store"])
	}
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var doc struct {
		OpenAPI string         `json:"openapi"`
		Paths   map[string]any `json:"paths"`
	}
	decode(t, rr, &doc)
	if doc.OpenAPI != "3.1.0" {
		t.Errorf("expected openapi 3.1.0, got %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/api/v1/auth/session"]; !ok {
		t.Error("expected /api/v1/auth/session in document paths")
	}
}

// ---------------------------------------------------------------------------
// Authentication flow
// ---------------------------------------------------------------------------

func TestLoginWithBootstrapKey(t *testing.T) {
	env := newTestEnv(t)

	token := env.bootstrapToken(t)
	auth, typ, err := env.sessions.Verify(token)
	if err != nil {
		t.Fatalf("verify bootstrap token: %v", err)
	}
	if typ != model.TokenBootstrap {
		t.Errorf("expected bootstrap token type, got %q", typ)
	}
	if !auth.Scopes.Contains(service.ScopeManageKeys) {
		t.Errorf("expected %q scope, got %v", service.ScopeManageKeys, auth.Scopes)
	}
}

func TestLoginMissingHeader(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/auth/session", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	decode(t, rr, &body)
	if body.Kind != "ValidationError" {
		t.Errorf("expected ValidationError, got %q", body.Kind)
	}
}

func TestLoginWithUnknownKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/auth/session", nil, map[string]string{
		"X-API-Key": "khk_zzzzzz_0123456789abcdefghijklmnopqrs",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	decode(t, rr, &body)
	if body.Kind != "Unauthorized" {
		t.Errorf("expected Unauthorized, got %q", body.Kind)
	}
	if body.Status != http.StatusUnauthorized {
		t.Errorf("expected status field 401, got %d", body.Status)
	}
}

func TestLoginWithIssuedKey(t *testing.T) {
	env := newTestEnv(t)
	key := env.mintKey(t, "bot", []string{"read"})

	rr := env.do(t, "POST", "/api/v1/auth/session", nil, map[string]string{
		"X-API-Key": key,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var pair model.TokenResponse
	decode(t, rr, &pair)
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected full token pair, got %+v", pair)
	}

	auth, typ, err := env.sessions.Verify(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}
	if typ != model.TokenAccess {
		t.Errorf("expected access token type, got %q", typ)
	}
	if auth.Owner != "bot" {
		t.Errorf("expected owner bot, got %q", auth.Owner)
	}
}

func TestRefreshFlow(t *testing.T) {
	env := newTestEnv(t)
	key := env.mintKey(t, "bot", []string{"read"})

	rr := env.do(t, "POST", "/api/v1/auth/session", nil, map[string]string{
		"X-API-Key": key,
	})
	var pair model.TokenResponse
	decode(t, rr, &pair)

	rr = env.do(t, "POST", "/api/v1/auth/refresh", nil, map[string]string{
		"Authorization": "Bearer " + pair.RefreshToken,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var refreshed model.TokenResponse
	decode(t, rr, &refreshed)
	if refreshed.AccessToken == "" {
		t.Fatal("refresh returned empty access token")
	}
	if _, typ, err := env.sessions.Verify(refreshed.AccessToken); err != nil || typ != model.TokenAccess {
		t.Fatalf("refreshed token verify: typ=%q err=%v", typ, err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	key := env.mintKey(t, "bot", []string{"read"})

	rr := env.do(t, "POST", "/api/v1/auth/session", nil, map[string]string{
		"X-API-Key": key,
	})
	var pair model.TokenResponse
	decode(t, rr, &pair)

	rr = env.do(t, "POST", "/api/v1/auth/refresh", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	decode(t, rr, &body)
	if body.Kind != "ValidationError" {
		t.Errorf("expected ValidationError, got %q", body.Kind)
	}
}

// ---------------------------------------------------------------------------
// Key management authorization
// ---------------------------------------------------------------------------

func TestKeyRoutesRequireManageScope(t *testing.T) {
	env := newTestEnv(t)
	key := env.mintKey(t, "bot", []string{"read", notify.ScopeManage})

	// An ordinary API key never carries keys:manage, so the key routes must
	// refuse it even though the credential itself is valid.
	rr := env.do(t, "GET", "/api/v1/keys", nil, map[string]string{
		"X-API-Key": key,
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	decode(t, rr, &body)
	if body.Kind != "Forbidden" {
		t.Errorf("expected Forbidden, got %q", body.Kind)
	}
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrapToken(t)
	authz := map[string]string{"Authorization": "Bearer " + token}

	rr := env.do(t, "POST", "/api/v1/keys", map[string]any{
		"owner":  "worker",
		"scopes": []string{"read"},
	}, authz)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		APIKey    string `json:"api_key"`
		KeyPrefix string `json:"key_prefix"`
	}
	decode(t, rr, &created)

	rr = env.do(t, "GET", "/api/v1/keys", nil, authz)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var listed struct {
		Keys []model.APIKey `json:"keys"`
	}
	decode(t, rr, &listed)
	found := false
	for _, k := range listed.Keys {
		if k.KeyPrefix == created.KeyPrefix {
			found = true
		}
	}
	if !found {
		t.Errorf("expected prefix %q in key list", created.KeyPrefix)
	}

	rr = env.do(t, "DELETE", "/api/v1/keys", map[string]any{
		"api_key": created.APIKey,
	}, authz)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("revoke: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}

	// The revoked key must no longer authenticate.
	rr = env.do(t, "POST", "/api/v1/auth/session", nil, map[string]string{
		"X-API-Key": created.APIKey,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("revoked login: expected 401, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Notification routes
// ---------------------------------------------------------------------------

func TestNotificationScopeEnforcement(t *testing.T) {
	env := newTestEnv(t)
	readerKey := env.mintKey(t, "reader", []string{"read"})
	managerKey := env.mintKey(t, "manager", []string{"read", notify.ScopeManage})

	// Reads work for any authenticated caller.
	rr := env.do(t, "GET", "/api/v1/notifications/codes", nil, map[string]string{
		"X-API-Key": readerKey,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("list codes as reader: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Mutations need notifications:manage.
	registerBody := map[string]any{"code": "service_down"}
	rr = env.do(t, "POST", "/api/v1/notifications/codes", registerBody, map[string]string{
		"X-API-Key": readerKey,
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("register as reader: expected 403, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "POST", "/api/v1/notifications/codes", registerBody, map[string]string{
		"X-API-Key": managerKey,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register as manager: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	// No credential at all is a 401, not a 403.
	rr = env.do(t, "GET", "/api/v1/notifications/codes", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated read: expected 401, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	decode(t, rr, &body)
	if body.Kind != "Unauthorized" {
		t.Errorf("expected Unauthorized, got %q", body.Kind)
	}
}

func TestRefreshTokenRejectedAsRequestCredential(t *testing.T) {
	env := newTestEnv(t)
	key := env.mintKey(t, "bot", []string{"read"})

	rr := env.do(t, "POST", "/api/v1/auth/session", nil, map[string]string{
		"X-API-Key": key,
	})
	var pair model.TokenResponse
	decode(t, rr, &pair)

	rr = env.do(t, "GET", "/api/v1/notifications/codes", nil, map[string]string{
		"Authorization": "Bearer " + pair.RefreshToken,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestNotificationSubscriptionFlow(t *testing.T) {
	env := newTestEnv(t)
	key := env.mintKey(t, "manager", []string{"read", notify.ScopeManage})
	authz := map[string]string{"X-API-Key": key}

	rr := env.do(t, "POST", "/api/v1/notifications/codes", map[string]any{
		"code":        "low_balance",
		"description": "wallet balance dropped below threshold",
	}, authz)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register code: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "POST", "/api/v1/notifications/subscriptions", map[string]any{
		"code":       "low_balance",
		"channel_id": 42,
		"guild_id":   7,
		"format":     "alert: {message}",
	}, authz)
	if rr.Code != http.StatusCreated {
		t.Fatalf("subscribe: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "GET", "/api/v1/notifications/subscriptions?guild_id=7", nil, authz)
	if rr.Code != http.StatusOK {
		t.Fatalf("list subscriptions: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var listed struct {
		Subscriptions []model.NotificationTarget `json:"subscriptions"`
	}
	decode(t, rr, &listed)
	if len(listed.Subscriptions) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(listed.Subscriptions))
	}
	if listed.Subscriptions[0].ChannelID != 42 {
		t.Errorf("expected channel 42, got %d", listed.Subscriptions[0].ChannelID)
	}

	msg := "balance at 0.2 ETH"
	rr = env.do(t, "POST", "/api/v1/notifications/dispatch", map[string]any{
		"code":             "low_balance",
		"triggering_event": "balance_check",
		"message":          msg,
	}, authz)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("dispatch: expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, "DELETE", "/api/v1/notifications/subscriptions", map[string]any{
		"code":       "low_balance",
		"channel_id": 42,
		"guild_id":   7,
	}, authz)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("unsubscribe: expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/nope", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body errorBody
	decode(t, rr, &body)
	if body.Kind != "NotFound" || body.Status != http.StatusNotFound {
		t.Errorf("expected NotFound envelope, got %+v", body)
	}
}

func TestWrongMethodReturnsEnvelope(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "DELETE", "/healthz", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	decode(t, rr, &body)
	if body.Kind != "BadRequest" {
		t.Errorf("expected BadRequest envelope, got %+v", body)
	}
}

// TestGracefulConstruction exercises the full constructor with every
// collaborator present, as the serve command wires it.
func TestGracefulConstruction(t *testing.T) {
	env := newTestEnv(t)
	if env.server.Router() == nil {
		t.Fatal("expected non-nil router")
	}
	// The router must be usable directly as an http.Handler.
	srv := httptest.NewServer(env.server.Router())
	defer srv.Close()

	resp, err := http.Get(fmt.Sprintf("%s/healthz", srv.URL))
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
