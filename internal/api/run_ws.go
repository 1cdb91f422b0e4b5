package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"towerplan/internal/model"
)

// Run progress over WebSocket, using the graphql-transport-ws message
// envelope (connection_init, subscribe, next, complete).

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	RunID string `json:"runId"`
	// Events limits the stream to these event types; empty means all.
	Events []string `json:"events"`
}

type wsEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// serveRunWS handles /v1/runs/{id}/ws. A subscribe without a runId follows
// the run named in the path.
func (s *Server) serveRunWS(w http.ResponseWriter, r *http.Request, pathRunID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	type sub struct {
		runID string
		ch    chan SSEEvent
	}
	subs := map[string]sub{}
	done := make(chan struct{})
	defer close(done)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// gorilla connections allow a single concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	initialised := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			if initialised {
				continue
			}
			initialised = true
			_ = write(wsMessage{Type: "connection_ack"})
			// Start keepalive
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			if !initialised {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"connection_init required"}`)})
				continue
			}
			if _, dup := subs[msg.ID]; dup || msg.ID == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"subscription id missing or in use"}`)})
				continue
			}
			var pl subscribePayload
			_ = json.Unmarshal(msg.Payload, &pl)
			rid := pl.RunID
			if rid == "" {
				rid = pathRunID
			}
			run, err := s.Store.GetRun(r.Context(), rid)
			if err != nil {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"run not found"}`)})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			ch := s.Broker.Subscribe(rid)
			subs[msg.ID] = sub{runID: rid, ch: ch}
			wanted := map[string]bool{}
			for _, e := range pl.Events {
				wanted[e] = true
			}
			// the run may have finished before we subscribed
			if cur, err := s.Store.GetRun(r.Context(), rid); err == nil {
				run = cur
			}
			go func(id string, c chan SSEEvent, finished *SSEEvent) {
				next := func(evt SSEEvent) {
					if len(wanted) > 0 && !wanted[evt.Type] && evt.Type != EventRunFinished {
						return
					}
					payload, _ := json.Marshal(wsEvent{Type: evt.Type, Data: evt.Data})
					_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				if finished != nil {
					next(*finished)
					_ = write(wsMessage{Type: "complete", ID: id})
					return
				}
				for evt := range c {
					next(evt)
					if evt.Type == EventRunFinished {
						break
					}
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, finishedIf(run))
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.runID, s0.ch)
				delete(subs, msg.ID)
			}
		default:
			// ignore
		}
	}
	// Cleanup
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.runID, s0.ch)
		delete(subs, id)
	}
}

func finishedIf(run model.Run) *SSEEvent {
	if !run.Finished() {
		return nil
	}
	evt := finishedEvent(run)
	return &evt
}
