package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPRefresherDecodesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"code": "news", "triggering_event": "scraper", "message": "v2 released"},
			{"code": "charts", "triggering_event": "weekly", "embed": {"title": "w32"}}
		]`))
	}))
	defer srv.Close()

	events, err := NewHTTPRefresher(srv.URL).Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Code != "news" || events[0].Message == nil || *events[0].Message != "v2 released" {
		t.Fatalf("event[0] = %+v", events[0])
	}
	if events[1].Code != "charts" || len(events[1].Embed) == 0 {
		t.Fatalf("event[1] = %+v", events[1])
	}
}

func TestHTTPRefresherUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewHTTPRefresher(srv.URL).Refresh(context.Background()); err == nil {
		t.Fatal("expected error for 503 upstream")
	}
}
