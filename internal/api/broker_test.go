package api

import (
	"strings"
	"testing"
	"time"

	"towerplan/internal/model"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	rid := "r1"
	ch := b.Subscribe(rid)

	evt := SSEEvent{Type: EventRunImproved, Data: map[string]any{"towers": 3}}
	b.Publish(rid, evt)
	b.Publish("other", SSEEvent{Type: "noise"})

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["towers"].(int) != 3 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(rid, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// a second unsubscribe must not panic on the closed channel
	b.Unsubscribe(rid, ch)
	b.Publish(rid, evt)
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("r")
	defer b.Unsubscribe("r", ch)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish("r", SSEEvent{Type: EventRestartFinished})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d/%d", len(ch), cap(ch))
	}
}

func TestChanName(t *testing.T) {
	if got := chanName("abc"); got != "run:abc" {
		t.Fatalf("chanName: %q", got)
	}
}

func TestFinishedIf(t *testing.T) {
	if finishedIf(model.Run{ID: "a", Status: model.RunRunning}) != nil {
		t.Fatal("running run produced a finished event")
	}
	evt := finishedIf(model.Run{ID: "a", Status: "target_met", Towers: 4, Penalty: 680})
	if evt == nil || evt.Type != EventRunFinished || evt.Data["status"] != "target_met" || evt.Data["towers"] != 4 {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestValidateSolveRequest(t *testing.T) {
	neg := -1
	nan := -0.5
	cases := map[string]struct {
		req model.SolveRequest
		msg string
	}{
		"ok":           {model.SolveRequest{InstanceText: "0\n1\n0\n0\n"}, ""},
		"no input":     {model.SolveRequest{}, "exactly one"},
		"blank text":   {model.SolveRequest{InstanceText: "  \n"}, "exactly one"},
		"policy":       {model.SolveRequest{InstanceText: "x", SolverParams: model.SolverParams{Policy: "fast"}}, "policy"},
		"relocation":   {model.SolveRequest{InstanceText: "x", SolverParams: model.SolverParams{Relocation: "all"}}, "relocation"},
		"restarts":     {model.SolveRequest{InstanceText: "x", SolverParams: model.SolverParams{Restarts: maxRestarts + 1}}, "restarts"},
		"workers":      {model.SolveRequest{InstanceText: "x", SolverParams: model.SolverParams{Workers: -2}}, "workers"},
		"timeout":      {model.SolveRequest{InstanceText: "x", SolverParams: model.SolverParams{TimeBudgetMs: -1}}, "timeouts"},
		"targetTowers": {model.SolveRequest{InstanceText: "x", SolverParams: model.SolverParams{TargetTowers: &neg}}, "targetTowers"},
		"targetPen":    {model.SolveRequest{InstanceText: "x", SolverParams: model.SolverParams{TargetPenalty: &nan}}, "targetPenalty"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := validateSolveRequest(&tc.req)
			if tc.msg == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.msg) {
				t.Fatalf("want error containing %q, got %v", tc.msg, err)
			}
		})
	}
}

func TestInstanceFromLimitsGridSize(t *testing.T) {
	req := model.SolveRequest{Instance: &model.InstanceIn{Dim: 1 << 12}}
	if _, err := instanceFrom(&req); err == nil {
		t.Fatal("expected an oversized grid to be rejected")
	}
	req = model.SolveRequest{Instance: &model.InstanceIn{Dim: 8, ServiceRadius: 1, PenaltyRadius: 2, Cities: []model.PointIn{{X: 1, Y: 1}}}}
	inst, err := instanceFrom(&req)
	if err != nil || inst.Dim != 8 || len(inst.Cities) != 1 {
		t.Fatalf("instanceFrom: %+v %v", inst, err)
	}
}
