package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const problemBase = "https://towerplan.dev/problems/"

// problemSlugs names the problem types clients are expected to branch on;
// anything else is about:blank.
var problemSlugs = map[int]string{
	http.StatusBadRequest:          "invalid-request",
	http.StatusUnauthorized:        "unauthenticated",
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            "not-found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "invalid-instance",
	http.StatusTooManyRequests:     "rate-limited",
	http.StatusServiceUnavailable:  "unavailable",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	typ := "about:blank"
	if slug, ok := problemSlugs[status]; ok {
		typ = problemBase + slug
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     typ,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeRetryLater answers 429 with a Retry-After hint in seconds.
func writeRetryLater(w http.ResponseWriter, after int, title, detail, instance string) {
	w.Header().Set("Retry-After", strconv.Itoa(after))
	writeProblem(w, http.StatusTooManyRequests, title, detail, instance)
}
