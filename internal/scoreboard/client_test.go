package scoreboard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBestReturnsMinimum(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Entries":[{"TeamName":"a","TeamScore":812.5},{"TeamName":"b","TeamScore":640.25},{"TeamName":"c","TeamScore":700}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", 0)
	c.HTTP = srv.Client()
	best, err := c.Best(context.Background(), "small", 17)
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best != 640.25 {
		t.Fatalf("want 640.25, got %v", best)
	}
	if gotPath != "/scoreboard/small/17" {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestBestErrors(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Entries":[]}`))
	}))
	defer empty.Close()
	if _, err := New(empty.URL, 0).Best(context.Background(), "small", 1); !errors.Is(err, ErrNoEntries) {
		t.Fatalf("want ErrNoEntries, got %v", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	if _, err := New(broken.URL, 0).Best(context.Background(), "small", 1); !errors.Is(err, ErrBadResponse) {
		t.Fatalf("want ErrBadResponse, got %v", err)
	}
}

func TestLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Entries":[{"TeamName":"a","TeamScore":1}]}`))
	}))
	defer srv.Close()
	c := New(srv.URL, 0.001)
	if _, err := c.Best(context.Background(), "small", 1); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Best(ctx, "small", 1); err == nil {
		t.Fatal("expected the limiter to refuse a cancelled context")
	}
}

func TestComparison(t *testing.T) {
	c := Comparison{Instance: 3, Ours: 510.0000001, Best: 510}
	if c.Worse() || c.Better() {
		t.Fatalf("values equal at six decimals must compare equal: %+v", c)
	}
	c.Ours = 480
	if !c.Better() || c.Diff() != -30 {
		t.Fatalf("unexpected comparison %+v diff %v", c, c.Diff())
	}
}

func TestParseRef(t *testing.T) {
	size, n, err := ParseRef("medium/42")
	if err != nil || size != "medium" || n != 42 {
		t.Fatalf("ParseRef: %q %d %v", size, n, err)
	}
	for _, bad := range []string{"medium", "/4", "large/x", "large/0"} {
		if _, _, err := ParseRef(bad); err == nil {
			t.Fatalf("ParseRef(%q) should fail", bad)
		}
	}
}
