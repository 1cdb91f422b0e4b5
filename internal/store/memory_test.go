package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"towerplan/internal/model"
)

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	run, err := m.CreateRun(ctx, model.Run{Dim: 10, Cities: 3})
	if err != nil || run.ID == "" || run.Status != model.RunRunning {
		t.Fatalf("CreateRun: %+v %v", run, err)
	}
	run.Status = "budget_exhausted"
	run.Solution = []model.PointIn{{X: 1, Y: 1}}
	if err := m.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	run.Solution[0].X = 9 // caller mutation must not leak into the store
	got, err := m.GetRun(ctx, run.ID)
	if err != nil || got.Solution[0].X != 1 || !got.Finished() {
		t.Fatalf("GetRun: %+v %v", got, err)
	}
	if err := m.UpdateRun(ctx, model.Run{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := m.ListRestarts(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := m.SaveRestarts(ctx, run.ID, []model.RestartView{{Index: 0}, {Index: 1}}); err != nil {
		t.Fatal(err)
	}
	reps, _ := m.ListRestarts(ctx, run.ID)
	if len(reps) != 2 {
		t.Fatalf("want 2 reports, got %d", len(reps))
	}
}

func TestMemoryListRunsPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var ids []string
	for i := 0; i < 5; i++ {
		st := model.RunRunning
		if i%2 == 0 {
			st = "target_met"
		}
		r, _ := m.CreateRun(ctx, model.Run{Status: st})
		ids = append(ids, r.ID)
	}
	page, next, err := m.ListRuns(ctx, "", "", 2)
	if err != nil || len(page) != 2 || page[0].ID != ids[4] || next != ids[3] {
		t.Fatalf("first page: %v next=%q err=%v", page, next, err)
	}
	page, next, _ = m.ListRuns(ctx, "", next, 2)
	if len(page) != 2 || page[0].ID != ids[2] {
		t.Fatalf("second page: %v", page)
	}
	page, next, _ = m.ListRuns(ctx, "", next, 2)
	if len(page) != 1 || next != "" {
		t.Fatalf("last page: %v next=%q", page, next)
	}
	done, _, _ := m.ListRuns(ctx, "target_met", "", 10)
	if len(done) != 3 {
		t.Fatalf("status filter: want 3, got %d", len(done))
	}
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, _ := m.EnqueueWebhook(ctx, "run.finished", "http://hook", "s", []byte(`{"id":"evt_1"}`))
	dup, _ := m.EnqueueWebhook(ctx, "run.finished", "http://hook", "s", []byte(`{"id":"evt_1"}`))
	if id != dup {
		t.Fatalf("same event id must dedupe: %s vs %s", id, dup)
	}
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 1 {
		t.Fatalf("want 1 due, got %d", len(due))
	}
	later := time.Now().Add(time.Hour)
	if err := m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3); err != nil {
		t.Fatal(err)
	}
	if due, _ := m.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
		t.Fatalf("retry scheduled later must not be due: %v", due)
	}
	if err := m.FailWebhookDelivery(ctx, id, "boom", 500, 3); err != nil {
		t.Fatal(err)
	}
	failed, _ := m.ListWebhookDeliveries(ctx, "failed", 0)
	if len(failed) != 1 || failed[0].Attempts != 2 {
		t.Fatalf("failed list: %+v", failed)
	}
}
