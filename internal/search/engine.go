// Package search improves a feasible tower placement by local moves: it drops
// towers that no city depends on and relocates towers when that strictly lowers
// the interference penalty.
package search

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"towerplan/internal/coverage"
	"towerplan/internal/grid"
)

var ErrInfeasibleStart = errors.New("search: starting solution leaves cities uncovered")

// RelocationMode selects which improving relocation is applied.
type RelocationMode int

const (
	// BestImprovement applies the move with the largest penalty drop, ties
	// broken at random.
	BestImprovement RelocationMode = iota
	// SampledImprovement applies a uniformly chosen improving move.
	SampledImprovement
)

func (m RelocationMode) String() string {
	if m == SampledImprovement {
		return "sampled"
	}
	return "best"
}

// ModeByName parses "best" (or "") and "sampled".
func ModeByName(name string) (RelocationMode, error) {
	switch name {
	case "", "best":
		return BestImprovement, nil
	case "sampled":
		return SampledImprovement, nil
	}
	return BestImprovement, fmt.Errorf("search: unknown relocation mode %q", name)
}

type Options struct {
	RelocationRadius int     // <= 0 uses the instance service radius
	Mode             RelocationMode
	MaxIterations    int     // applied moves; <= 0 means run to a local optimum
	Epsilon          float64 // minimum penalty drop for a relocation
	TraceEvery       int     // snapshot period in iterations
}

type Snapshot struct {
	Iteration int     `json:"iteration"`
	Towers    int     `json:"towers"`
	Penalty   float64 `json:"penalty"`
}

type Metrics struct {
	Iterations     int        `json:"iterations"`
	Removals       int        `json:"removals"`
	Relocations    int        `json:"relocations"`
	InitialTowers  int        `json:"initialTowers"`
	FinalTowers    int        `json:"finalTowers"`
	InitialPenalty float64    `json:"initialPenalty"`
	FinalPenalty   float64    `json:"finalPenalty"`
	LocalOptimum   bool       `json:"localOptimum"`
	Trace          []Snapshot `json:"trace,omitempty"`
}

type Engine struct {
	oracle *coverage.Oracle
	opts   Options
}

func NewEngine(o *coverage.Oracle, opts Options) *Engine {
	if opts.RelocationRadius <= 0 {
		opts.RelocationRadius = o.Instance().ServiceRadius
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = 1e-9
	}
	if opts.TraceEvery <= 0 {
		opts.TraceEvery = 50
	}
	return &Engine{oracle: o, opts: opts}
}

func (e *Engine) Options() Options { return e.opts }

// Run improves sol in place until no removal or improving relocation is left,
// the iteration cap is hit or ctx is done. sol covers every city on return,
// including when ctx interrupts the run.
func (e *Engine) Run(ctx context.Context, sol *coverage.Solution, rng *rand.Rand) (m Metrics, err error) {
	st, err := e.oracle.NewState(*sol)
	if err != nil {
		return Metrics{}, err
	}
	if !st.Feasible() {
		return Metrics{}, ErrInfeasibleStart
	}
	m = Metrics{
		InitialTowers:  st.Len(),
		InitialPenalty: st.Penalty(),
	}
	m.Trace = append(m.Trace, Snapshot{Towers: st.Len(), Penalty: st.Penalty()})
	finish := func() {
		st.Recompute()
		sol.Towers = st.Towers()
		m.FinalTowers = st.Len()
		m.FinalPenalty = st.Penalty()
		if last := m.Trace[len(m.Trace)-1]; last.Iteration != m.Iterations {
			m.Trace = append(m.Trace, Snapshot{Iteration: m.Iterations, Towers: st.Len(), Penalty: st.Penalty()})
		}
	}
	defer finish()

	capped := func() bool { return e.opts.MaxIterations > 0 && m.Iterations >= e.opts.MaxIterations }
	for {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		removed := removalPass(st, rng, func() bool { return capped() || ctx.Err() != nil }, func() {
			m.Iterations++
			m.Removals++
			e.snapshot(&m, st)
		})
		if removed > 0 {
			continue
		}
		if capped() {
			return m, nil
		}
		from, to, ok := e.bestRelocation(st, rng)
		if !ok {
			m.LocalOptimum = true
			return m, nil
		}
		if err := st.Move(from, to); err != nil {
			return m, err
		}
		st.Recompute()
		m.Iterations++
		m.Relocations++
		e.snapshot(&m, st)
	}
}

func (e *Engine) snapshot(m *Metrics, st *coverage.State) {
	if m.Iterations%e.opts.TraceEvery == 0 {
		m.Trace = append(m.Trace, Snapshot{Iteration: m.Iterations, Towers: st.Len(), Penalty: st.Penalty()})
	}
}

// RemovalPass removes towers in random order while any tower is removable and
// returns how many it removed. Running it again on its result removes nothing.
func RemovalPass(st *coverage.State, rng *rand.Rand) int {
	return removalPass(st, rng, func() bool { return false }, func() {})
}

// A tower found not removable stays so after other removals since cover
// counts only drop, so one shuffled sweep reaches the fixpoint.
func removalPass(st *coverage.State, rng *rand.Rand, stop func() bool, applied func()) int {
	towers := st.Towers()
	rng.Shuffle(len(towers), func(i, j int) { towers[i], towers[j] = towers[j], towers[i] })
	n := 0
	for _, t := range towers {
		if stop() {
			break
		}
		if !st.CanRemove(t) {
			continue
		}
		if err := st.Remove(t); err != nil {
			continue
		}
		n++
		applied()
	}
	return n
}

type move struct {
	from, to grid.Point
	delta    float64
}

// bestRelocation picks an improving coverage preserving move according to
// the configured mode.
func (e *Engine) bestRelocation(st *coverage.State, rng *rand.Rand) (grid.Point, grid.Point, bool) {
	inst := e.oracle.Instance()
	towers := st.Towers()
	rng.Shuffle(len(towers), func(i, j int) { towers[i], towers[j] = towers[j], towers[i] })

	var (
		best     move
		found    bool
		ties     int
		improved []move
	)
	for _, from := range towers {
		for _, to := range inst.Within(from, e.opts.RelocationRadius) {
			if !st.CanMove(from, to) {
				continue
			}
			d := st.MoveDelta(from, to)
			if d >= -e.opts.Epsilon {
				continue
			}
			cand := move{from: from, to: to, delta: d}
			if e.opts.Mode == SampledImprovement {
				improved = append(improved, cand)
				continue
			}
			switch {
			case !found || d < best.delta-e.opts.Epsilon:
				best, found, ties = cand, true, 1
			case d <= best.delta+e.opts.Epsilon:
				ties++
				if rng.Intn(ties) == 0 {
					best = cand
				}
			}
		}
	}
	if e.opts.Mode == SampledImprovement {
		if len(improved) == 0 {
			return grid.Point{}, grid.Point{}, false
		}
		pick := improved[rng.Intn(len(improved))]
		return pick.from, pick.to, true
	}
	return best.from, best.to, found
}
