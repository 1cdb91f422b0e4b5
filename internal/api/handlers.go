package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"towerplan/internal/auth"
	"towerplan/internal/coverage"
	"towerplan/internal/grid"
	"towerplan/internal/instio"
	"towerplan/internal/model"
	"towerplan/internal/store"
)

const maxBodyBytes = 16 << 20

// SolveHandler handles POST /v1/solve
func (s *Server) SolveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pr, ok := s.solver(w, r)
	if !ok {
		return
	}
	if !s.limiter.Allow() {
		writeRetryLater(w, 1, "Rate limited", "too many solve requests", r.URL.Path)
		return
	}
	var req model.SolveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateSolveRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	inst, err := instanceFrom(&req)
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid instance", err.Error(), r.URL.Path)
		return
	}
	run, err := s.Runs.Start(r.Context(), pr.Subject, inst, req.SolverParams)
	switch {
	case errors.Is(err, ErrBusy):
		writeRetryLater(w, 5, "Busy", err.Error(), r.URL.Path)
		return
	case err != nil:
		writeProblem(w, http.StatusInternalServerError, "Start run failed", err.Error(), r.URL.Path)
		return
	}
	w.Header().Set("Location", "/v1/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"runId":  run.ID,
		"status": run.Status,
		"links": map[string]string{
			"self":     "/v1/runs/" + run.ID,
			"events":   "/v1/runs/" + run.ID + "/events/stream",
			"solution": "/v1/runs/" + run.ID + "/solution",
		},
	})
}

// RunsIndexHandler handles GET /v1/runs
func (s *Server) RunsIndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.principal(w, r); !ok {
		return
	}
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListRuns(r.Context(), q.Get("status"), q.Get("cursor"), limit)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusBadRequest, "Invalid cursor", "", r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List runs failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RunByIDHandler handles /v1/runs/{id} and its sub-resources: /restarts,
// /cancel, /solution, /events/stream and /ws.
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/runs/"), "/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	sub := strings.Join(parts[1:], "/")
	if sub == "cancel" {
		s.cancelRun(w, r, id)
		return
	}
	if _, ok := s.principal(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	run, err := s.Store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Run not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get run failed", err.Error(), r.URL.Path)
		return
	}
	switch sub {
	case "":
		writeJSON(w, http.StatusOK, run)
	case "restarts":
		reps, err := s.Store.ListRestarts(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List restarts failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": reps})
	case "solution":
		s.writeSolution(w, r, run)
	case "events/stream":
		s.streamRun(w, r, run)
	case "ws":
		s.serveRunWS(w, r, run.ID)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.solver(w, r); !ok {
		return
	}
	run, err := s.Store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Run not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get run failed", err.Error(), r.URL.Path)
		return
	}
	if run.Finished() {
		writeProblem(w, http.StatusConflict, "Run finished", run.Status, r.URL.Path)
		return
	}
	if !s.Runs.Cancel(id) {
		writeProblem(w, http.StatusConflict, "Run not active here", "the run is owned by another replica", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": id, "status": "cancelling"})
}

// writeSolution renders the best solution in the contest file format.
func (s *Server) writeSolution(w http.ResponseWriter, r *http.Request, run model.Run) {
	if !run.Finished() {
		writeProblem(w, http.StatusConflict, "Run in progress", "", r.URL.Path)
		return
	}
	if run.Solution == nil {
		writeProblem(w, http.StatusNotFound, "No solution", run.Error, r.URL.Path)
		return
	}
	sol := coverage.Solution{Towers: make([]grid.Point, len(run.Solution))}
	for i, p := range run.Solution {
		sol.Towers[i] = grid.Point{X: p.X, Y: p.Y}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.ID+".out"))
	_ = instio.WriteSolution(w, sol, run.Penalty)
}

// streamRun serves the run's progress as server-sent events until the run
// finishes or the client goes away.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, run model.Run) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// subscribe before re-reading the run so the final event cannot slip by
	ch := s.Broker.Subscribe(run.ID)
	defer s.Broker.Unsubscribe(run.ID, ch)
	if cur, err := s.Store.GetRun(r.Context(), run.ID); err == nil {
		run = cur
	}
	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"runId\":\"%s\",\"ts\":\"%s\"}\n\n", run.ID, time.Now().Format(time.RFC3339))
		flusher.Flush()
	}
	send := func(evt SSEEvent) {
		b, _ := json.Marshal(evt.Data)
		fmt.Fprintf(w, "event: %s\n", evt.Type)
		fmt.Fprintf(w, "data: %s\n\n", string(b))
		flusher.Flush()
	}
	heartbeat()
	if run.Finished() {
		send(finishedEvent(run))
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			send(evt)
			if evt.Type == EventRunFinished {
				return
			}
		case <-ticker.C:
			heartbeat()
		}
	}
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	pr, ok := s.principal(w, r)
	if !ok {
		return
	}
	if pr.Role != auth.RoleAdmin {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.Store.ListWebhookDeliveries(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pinger interface{ Ping(ctx context.Context) error }

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	// Check DB and Redis connectivity when configured
	for name, dep := range map[string]any{"store": s.Store, "broker": s.Broker} {
		if p, ok := dep.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
