package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kohaku-project/kohaku/internal/notify"
)

// refreshEvent is the wire form an upstream source answers with.
type refreshEvent struct {
	Code            string          `json:"code"`
	TriggeringEvent string          `json:"triggering_event"`
	Embed           json.RawMessage `json:"embed,omitempty"`
	Message         *string         `json:"message,omitempty"`
}

// HTTPRefresher polls an upstream endpoint for new events. The endpoint
// answers a JSON array of events; an empty array means nothing changed.
type HTTPRefresher struct {
	url    string
	client *http.Client
}

func NewHTTPRefresher(url string) *HTTPRefresher {
	return &HTTPRefresher{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *HTTPRefresher) Refresh(ctx context.Context) ([]notify.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream answered %d", resp.StatusCode)
	}

	var raw []refreshEvent
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode upstream events: %w", err)
	}

	events := make([]notify.Event, len(raw))
	for i, ev := range raw {
		events[i] = notify.Event{
			Code:            ev.Code,
			TriggeringEvent: ev.TriggeringEvent,
			Embed:           ev.Embed,
			Message:         ev.Message,
		}
	}
	return events, nil
}
