package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"towerplan/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu       sync.Mutex
	runs     map[string]model.Run           // id -> run
	order    []string                       // run ids, oldest first
	restarts map[string][]model.RestartView // run id -> reports
	// Webhooks queue state
	deliveries map[string]*WebhookDelivery // id -> delivery state
	dorder     []string                    // delivery ids, enqueue order
	dedup      map[string]string           // event|url|key -> delivery id
	dlq        []WebhookDelivery           // dead-lettered deliveries
}

func NewMemory() *Memory {
	return &Memory{
		runs:       map[string]model.Run{},
		restarts:   map[string][]model.RestartView{},
		deliveries: map[string]*WebhookDelivery{},
		dedup:      map[string]string{},
	}
}

func cloneRun(r model.Run) model.Run {
	r.Solution = slices.Clone(r.Solution)
	r.Params.Seeds = slices.Clone(r.Params.Seeds)
	return r
}

func (m *Memory) CreateRun(ctx context.Context, run model.Run) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunRunning
	}
	m.runs[run.ID] = cloneRun(run)
	m.order = append(m.order, run.ID)
	return run, nil
}

func (m *Memory) UpdateRun(ctx context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	run.CreatedAt = old.CreatedAt
	m.runs[run.ID] = cloneRun(run)
	return nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return model.Run{}, ErrNotFound
	}
	return cloneRun(r), nil
}

// ListRuns returns runs newest first. The cursor is the id of the last run of
// the previous page.
func (m *Memory) ListRuns(ctx context.Context, status, cursor string, limit int) ([]model.Run, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := len(m.order) - 1
	if cursor != "" {
		i := slices.Index(m.order, cursor)
		if i < 0 {
			return nil, "", ErrNotFound
		}
		start = i - 1
	}
	out := []model.Run{}
	next := ""
	for i := start; i >= 0; i-- {
		r := m.runs[m.order[i]]
		if status != "" && r.Status != status {
			continue
		}
		if len(out) == limit {
			next = out[len(out)-1].ID
			break
		}
		out = append(out, cloneRun(r))
	}
	return out, next, nil
}

func (m *Memory) SaveRestarts(ctx context.Context, runID string, reports []model.RestartView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return ErrNotFound
	}
	m.restarts[runID] = slices.Clone(reports)
	return nil
}

func (m *Memory) ListRestarts(ctx context.Context, runID string) ([]model.RestartView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[runID]; !ok {
		return nil, ErrNotFound
	}
	out := slices.Clone(m.restarts[runID])
	if out == nil {
		out = []model.RestartView{}
	}
	return out, nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventType + "|" + url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{ID: id, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending", NextAttemptAt: time.Now()}
	m.dorder = append(m.dorder, id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.dorder {
		d := m.deliveries[id]
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = "retry"
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	m.dlq = append(m.dlq, *d)
	return nil
}

// ListWebhookDeliveries returns deliveries newest first.
func (m *Memory) ListWebhookDeliveries(ctx context.Context, status string, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []WebhookDelivery{}
	for i := len(m.dorder) - 1; i >= 0 && len(out) < limit; i-- {
		d := m.deliveries[m.dorder[i]]
		if status == "" || d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}
