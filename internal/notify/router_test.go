package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kohaku-project/kohaku/internal/apperr"
	"github.com/kohaku-project/kohaku/internal/model"
	"github.com/kohaku-project/kohaku/internal/store"
)

type captureTransport struct {
	payloads []*model.NotificationPayload
	err      error
}

func (t *captureTransport) Deliver(_ context.Context, p *model.NotificationPayload) error {
	if t.err != nil {
		return t.err
	}
	t.payloads = append(t.payloads, p)
	return nil
}

func newTestRouter(t *testing.T) (*Router, *store.Store, *captureTransport) {
	t.Helper()
	st, err := store.Open(store.Config{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	transport := &captureTransport{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(st, transport, log), st, transport
}

func strptr(s string) *string { return &s }

func TestSubscribeAndTargetsFor(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	if _, err := r.RegisterCode(ctx, "game1-news", nil); err != nil {
		t.Fatalf("register code: %v", err)
	}
	if _, err := r.Subscribe(ctx, "game1-news", 100, 200, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	code := "game1-news"
	targets, err := r.TargetsFor(ctx, &code, nil, nil)
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(targets) != 1 || targets[0].ChannelID != 100 || targets[0].GuildID != 200 {
		t.Fatalf("targets = %+v, want one (100, 200) entry", targets)
	}
}

func TestTargetsForRequiresFilter(t *testing.T) {
	r, _, _ := newTestRouter(t)
	_, err := r.TargetsFor(context.Background(), nil, nil, nil)
	if apperr.KindOf(err) != apperr.ValidationError {
		t.Fatalf("got kind %v, want ValidationError", apperr.KindOf(err))
	}
}

func TestTargetsForEmptyResult(t *testing.T) {
	r, _, _ := newTestRouter(t)
	code := "silence"
	targets, err := r.TargetsFor(context.Background(), &code, nil, nil)
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if targets == nil || len(targets) != 0 {
		t.Fatalf("targets = %#v, want empty non-nil slice", targets)
	}
}

func TestSubscribeUnknownCode(t *testing.T) {
	r, _, _ := newTestRouter(t)
	_, err := r.Subscribe(context.Background(), "never-registered", 1, 2, nil)
	if err == nil {
		t.Fatal("subscribe to unknown code succeeded, want foreign key rejection")
	}
}

func TestBuildPayloadFormatting(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	if _, err := r.RegisterCode(ctx, "releases", nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	cases := []struct {
		name    string
		channel int64
		guild   int64
		format  *string
		message *string
		want    *string
	}{
		{"format and message", 1, 1, strptr("@here {message}!"), strptr("v2 is out"), strptr("@here v2 is out!")},
		{"format only", 2, 2, strptr("something happened"), nil, strptr("something happened")},
		{"message only", 3, 3, nil, strptr("plain text"), strptr("plain text")},
		{"placeholder twice", 4, 4, strptr("{message} / {message}"), strptr("x"), strptr("x / x")},
	}
	for _, tc := range cases {
		if _, err := r.Subscribe(ctx, "releases", tc.channel, tc.guild, tc.format); err != nil {
			t.Fatalf("%s: subscribe: %v", tc.name, err)
		}
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := r.BuildPayload(ctx, "releases", "test-event", nil, tc.message)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			var got *string
			for _, d := range payload.Data {
				if d.ChannelID == tc.channel {
					got = d.Message
				}
			}
			if got == nil || *got != *tc.want {
				t.Fatalf("message = %v, want %q", got, *tc.want)
			}
		})
	}
}

func TestBuildPayloadDropsEmpty(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	if _, err := r.RegisterCode(ctx, "quiet", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	// No format on the target and no message or embed on the event.
	if _, err := r.Subscribe(ctx, "quiet", 9, 9, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload, err := r.BuildPayload(ctx, "quiet", "test-event", nil, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(payload.Data) != 0 {
		t.Fatalf("payload.Data = %+v, want empty", payload.Data)
	}
}

func TestBuildPayloadEmbedOnly(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	if _, err := r.RegisterCode(ctx, "charts", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Subscribe(ctx, "charts", 7, 8, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	embed := json.RawMessage(`{"title":"weekly"}`)
	payload, err := r.BuildPayload(ctx, "charts", "chart-job", embed, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(payload.Data) != 1 {
		t.Fatalf("payload.Data len = %d, want 1", len(payload.Data))
	}
	if payload.Data[0].Message != nil {
		t.Fatalf("message = %q, want nil", *payload.Data[0].Message)
	}
	if string(payload.Data[0].Embed) != `{"title":"weekly"}` {
		t.Fatalf("embed = %s", payload.Data[0].Embed)
	}
}

func TestNotifyDispatchesAndTouches(t *testing.T) {
	r, st, transport := newTestRouter(t)
	ctx := context.Background()

	created, err := r.RegisterCode(ctx, "news", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Subscribe(ctx, "news", 5, 6, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if err := r.Notify(ctx, "news", "scraper", nil, strptr("headline")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(transport.payloads) != 1 {
		t.Fatalf("delivered %d payloads, want 1", len(transport.payloads))
	}
	if transport.payloads[0].Code != "news" {
		t.Fatalf("code = %q", transport.payloads[0].Code)
	}

	after, err := st.GetCode(ctx, "news")
	if err != nil {
		t.Fatalf("get code: %v", err)
	}
	if !after.LastUsed.After(created.LastUsed) {
		t.Fatalf("last_used not advanced: %v -> %v", created.LastUsed, after.LastUsed)
	}
}

func TestNotifyNoTargetsIsNoop(t *testing.T) {
	r, _, transport := newTestRouter(t)
	ctx := context.Background()

	if _, err := r.RegisterCode(ctx, "empty", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Notify(ctx, "empty", "nobody", nil, strptr("hello")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(transport.payloads) != 0 {
		t.Fatalf("delivered %d payloads, want 0", len(transport.payloads))
	}
}

func TestNotifyTransportFailure(t *testing.T) {
	r, _, transport := newTestRouter(t)
	ctx := context.Background()
	transport.err = errors.New("gateway down")

	if _, err := r.RegisterCode(ctx, "bad", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Subscribe(ctx, "bad", 1, 1, strptr("fmt")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err := r.Notify(ctx, "bad", "event", nil, strptr("msg"))
	if apperr.KindOf(err) != apperr.ExternalServiceError {
		t.Fatalf("got kind %v, want ExternalServiceError", apperr.KindOf(err))
	}
}

func TestUnsubscribe(t *testing.T) {
	r, _, _ := newTestRouter(t)
	ctx := context.Background()

	if _, err := r.RegisterCode(ctx, "gone", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Subscribe(ctx, "gone", 3, 4, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := r.Unsubscribe(ctx, "gone", 3, 4); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	code := "gone"
	targets, err := r.TargetsFor(ctx, &code, nil, nil)
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(targets) != 0 {
		t.Fatalf("targets = %+v, want none", targets)
	}
}
