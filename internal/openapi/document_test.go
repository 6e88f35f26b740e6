package openapi

import (
	"encoding/json"
	"testing"
)

func TestDocumentCoversSurface(t *testing.T) {
	doc := Document()

	paths := []string{
		"/api/v1/auth/session",
		"/api/v1/auth/refresh",
		"/api/v1/keys",
		"/api/v1/notifications/codes",
		"/api/v1/notifications/codes/{code}",
		"/api/v1/notifications/subscriptions",
		"/api/v1/notifications/dispatch",
	}
	for _, p := range paths {
		if doc.Paths.Value(p) == nil {
			t.Errorf("missing path %s", p)
		}
	}

	for _, scheme := range []string{"apiKey", "bearerAuth"} {
		if _, ok := doc.Components.SecuritySchemes[scheme]; !ok {
			t.Errorf("missing security scheme %s", scheme)
		}
	}
	if _, ok := doc.Components.Schemas["Error"]; !ok {
		t.Error("missing Error schema")
	}
}

func TestDocumentSerializes(t *testing.T) {
	raw, err := json.Marshal(Document())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["openapi"] != "3.1.0" {
		t.Fatalf("openapi version = %v", decoded["openapi"])
	}
}
