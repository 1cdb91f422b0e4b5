package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"towerplan/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotType = r.Header.Get(HeaderEventType)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	pub := NewPublisher(rs, srv.URL, "secret")
	id, err := pub.Emit(context.Background(), EventRunFinished, "run-1", map[string]any{"towers": 4})
	if err != nil || id == "" {
		t.Fatalf("emit failed: %v", err)
	}

	w.processOnce()

	if gotType != EventRunFinished || VerifyHMAC("secret", body, gotSig, time.Now(), time.Minute) != nil {
		t.Fatalf("missing or bad signature/type headers: sig=%q type=%q", gotSig, gotType)
	}
	var env map[string]any
	if err := json.Unmarshal(body, &env); err != nil || env["id"] != "evt_run.finished_run-1" {
		t.Fatalf("unexpected envelope %s: %v", body, err)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 2}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), EventRunFailed, srv.URL, "", []byte(`{}`))

	w.processOnce()
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 500 {
		t.Fatalf("expected a retry mark, got %+v", rs.marks)
	}
	// backoff keeps it out of the due set until the next attempt time
	w.processOnce()
	if len(rs.fails) != 0 {
		t.Fatalf("delivery retried before its backoff elapsed")
	}
}

func TestWorkerProcessOnce_Fail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 1}
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), EventRunFailed, srv.URL, "", []byte(`{}`))
	w.processOnce()
	if len(rs.fails) == 0 {
		t.Fatalf("expected fail recorded")
	}
}

func TestPublisherWithoutURLIsNoop(t *testing.T) {
	rs := store.NewMemory()
	id, err := NewPublisher(rs, "", "").Emit(context.Background(), EventRunFinished, "x", nil)
	if err != nil || id != "" {
		t.Fatalf("want no-op, got %q %v", id, err)
	}
	var nilPub *Publisher
	if _, err := nilPub.Emit(context.Background(), EventRunFinished, "x", nil); err != nil {
		t.Fatal(err)
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second || nextBackoff(3) != 8*time.Second {
		t.Fatalf("unexpected backoff progression")
	}
	if nextBackoff(100) != time.Hour {
		t.Fatalf("backoff must cap at an hour, got %v", nextBackoff(100))
	}
}

func TestSignVerify(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	h := SignatureHeader("k", at, []byte("body"))
	if !strings.HasPrefix(h, "t=1700000000,v1=") {
		t.Fatalf("unexpected header %q", h)
	}
	if err := VerifyHMAC("k", []byte("body"), h, at.Add(time.Minute), 5*time.Minute); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyHMAC("k", []byte("other"), h, at, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("tampered body: %v", err)
	}
	if err := VerifyHMAC("x", []byte("body"), h, at, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong secret: %v", err)
	}
	if err := VerifyHMAC("k", []byte("body"), "t=1,v1=zz", at, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("malformed header: %v", err)
	}
	if err := VerifyHMAC("k", []byte("body"), h, at.Add(time.Hour), 5*time.Minute); !errors.Is(err, ErrStaleSignature) {
		t.Fatalf("replayed delivery: %v", err)
	}
}
