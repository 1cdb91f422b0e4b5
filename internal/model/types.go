package model

import "time"

// API and storage types for solver runs

type PointIn struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type InstanceIn struct {
	Dim           int       `json:"dim"`
	ServiceRadius int       `json:"serviceRadius"`
	PenaltyRadius int       `json:"penaltyRadius"`
	Cities        []PointIn `json:"cities"`
}

// SolverParams tunes a run. Zero values fall back to server defaults.
type SolverParams struct {
	Backend          string   `json:"backend,omitempty"`
	Policy           string   `json:"policy,omitempty"`
	Restarts         int      `json:"restarts,omitempty"`
	Workers          int      `json:"workers,omitempty"`
	BaseSeed         int64    `json:"baseSeed,omitempty"`
	Seeds            []int64  `json:"seeds,omitempty"`
	Relocation       string   `json:"relocation,omitempty"`
	RelocationRadius int      `json:"relocationRadius,omitempty"`
	MaxIterations    int      `json:"maxIterations,omitempty"`
	SeedTimeoutMs    int      `json:"seedTimeoutMs,omitempty"`
	TimeBudgetMs     int      `json:"timeBudgetMs,omitempty"`
	TargetTowers     *int     `json:"targetTowers,omitempty"`
	TargetPenalty    *float64 `json:"targetPenalty,omitempty"`
}

// SolveRequest carries the instance either as JSON or in the contest text
// format (InstanceText).
type SolveRequest struct {
	Instance     *InstanceIn `json:"instance,omitempty"`
	InstanceText string      `json:"instanceText,omitempty"`
	SolverParams
}

const (
	RunRunning = "running"
	RunFailed  = "failed"
)

// Run is a stored solver run. Status is "running", "failed" or one of the
// driver's terminal statuses.
type Run struct {
	ID            string       `json:"id"`
	Owner         string       `json:"owner,omitempty"`
	Status        string       `json:"status"`
	Error         string       `json:"error,omitempty"`
	Dim           int          `json:"dim"`
	Cities        int          `json:"cities"`
	ServiceRadius int          `json:"serviceRadius"`
	PenaltyRadius int          `json:"penaltyRadius"`
	Params        SolverParams `json:"params"`
	Towers        int          `json:"towers"`
	Penalty       float64      `json:"penalty"`
	Solution      []PointIn    `json:"solution,omitempty"`
	BestRestart   int          `json:"bestRestart"`
	Restarts      int          `json:"restarts"`
	Failures      int          `json:"failures"`
	ElapsedMs     int64        `json:"elapsedMs"`
	CreatedAt     time.Time    `json:"createdAt"`
	FinishedAt    *time.Time   `json:"finishedAt,omitempty"`
}

// Finished reports whether the run reached a terminal status.
func (r Run) Finished() bool { return r.Status != RunRunning }

type RestartView struct {
	Index       int     `json:"index"`
	Seed        int64   `json:"seed"`
	Outcome     string  `json:"outcome"`
	Error       string  `json:"error,omitempty"`
	Backend     string  `json:"backend,omitempty"`
	Optimal     bool    `json:"optimal"`
	SeedTowers  int     `json:"seedTowers"`
	SeedMs      int64   `json:"seedMs"`
	Towers      int     `json:"towers"`
	Penalty     float64 `json:"penalty"`
	Removals    int     `json:"removals"`
	Relocations int     `json:"relocations"`
	Iterations  int     `json:"iterations"`
	Improved    bool    `json:"improved"`
	ElapsedMs   int64   `json:"elapsedMs"`
}

// Progress is published on a run's event stream each time the best
// solution improves.
type Progress struct {
	RunID     string  `json:"runId"`
	Restart   int     `json:"restart"`
	Seed      int64   `json:"seed"`
	Towers    int     `json:"towers"`
	Penalty   float64 `json:"penalty"`
	ElapsedMs int64   `json:"elapsedMs"`
}
