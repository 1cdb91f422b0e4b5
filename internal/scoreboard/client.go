// Package scoreboard queries a contest leaderboard for the best published
// penalty of an instance.
package scoreboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrNoEntries   = errors.New("scoreboard: no entries")
	ErrBadResponse = errors.New("scoreboard: unexpected response")
)

type Entry struct {
	TeamName  string  `json:"TeamName"`
	TeamScore float64 `json:"TeamScore"`
}

type response struct {
	Entries []Entry `json:"Entries"`
}

// Client is safe for concurrent use; the limiter spaces out requests so bulk
// comparisons do not hammer the leaderboard.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	limiter *rate.Limiter
}

// New returns a client allowing rps requests per second. rps <= 0 disables
// limiting.
func New(baseURL string, rps float64) *Client {
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		limiter: lim,
	}
}

// Entries fetches the leaderboard of instance n in the given size class.
func (c *Client) Entries(ctx context.Context, size string, n int) ([]Entry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.BaseURL + "/scoreboard/" + url.PathEscape(size) + "/" + strconv.Itoa(n)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrBadResponse, u, resp.StatusCode)
	}
	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return body.Entries, nil
}

// Best returns the lowest published score.
func (c *Client) Best(ctx context.Context, size string, n int) (float64, error) {
	entries, err := c.Entries(ctx, size, n)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("%w: %s/%d", ErrNoEntries, size, n)
	}
	best := math.Inf(1)
	for _, e := range entries {
		best = math.Min(best, e.TeamScore)
	}
	return best, nil
}

// Round6 rounds to six decimals, the precision leaderboard scores are
// compared at.
func Round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}

// Comparison classifies a local penalty against the leaderboard best.
type Comparison struct {
	Instance int     `json:"instance"`
	Ours     float64 `json:"ours"`
	Best     float64 `json:"best"`
}

func (c Comparison) Diff() float64 { return Round6(c.Ours - c.Best) }

func (c Comparison) Worse() bool  { return Round6(c.Ours) > Round6(c.Best) }
func (c Comparison) Better() bool { return Round6(c.Ours) < Round6(c.Best) }

// ParseRef splits a "size/n" reference such as "small/17".
func ParseRef(ref string) (string, int, error) {
	size, num, ok := strings.Cut(ref, "/")
	if !ok || size == "" {
		return "", 0, fmt.Errorf("scoreboard: reference %q is not size/n", ref)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("scoreboard: bad instance number in %q", ref)
	}
	return size, n, nil
}
