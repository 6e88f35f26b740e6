package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kohaku-project/kohaku/internal/model"
)

func TestWebhookDeliverPostsPayload(t *testing.T) {
	var received model.NotificationPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport := NewWebhookTransport(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	msg := "hello"
	payload := &model.NotificationPayload{
		Code:      "news",
		Timestamp: time.Now().UTC(),
		Data: []model.NotificationData{
			{TriggeringEvent: "test", ChannelID: 1, GuildID: 2, Message: &msg},
		},
	}

	if err := transport.Deliver(context.Background(), payload); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if received.Code != "news" || len(received.Data) != 1 {
		t.Fatalf("received = %+v", received)
	}
}

func TestWebhookDeliverNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	transport := NewWebhookTransport(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := transport.Deliver(context.Background(), &model.NotificationPayload{Code: "x"})
	if err == nil {
		t.Fatal("expected error for 502 answer")
	}
}
