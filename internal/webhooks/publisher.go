package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"towerplan/internal/store"
)

// Event types emitted by the solver service.
const (
	EventRunFinished = "run.finished"
	EventRunFailed   = "run.failed"
)

// Publisher enqueues events for a single configured endpoint. A Publisher
// with an empty URL drops everything.
type Publisher struct {
	Store  store.Store
	URL    string
	Secret string
}

func NewPublisher(s store.Store, url, secret string) *Publisher {
	return &Publisher{Store: s, URL: url, Secret: secret}
}

// Emit enqueues an event envelope; the Worker delivers it. The event id is
// derived from the subject so re-emitting the same event is deduplicated.
func (p *Publisher) Emit(ctx context.Context, eventType, subject string, data any) (string, error) {
	if p == nil || p.URL == "" {
		return "", nil
	}
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%s_%s", eventType, subject),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return p.Store.EnqueueWebhook(ctx, eventType, p.URL, p.Secret, body)
}
