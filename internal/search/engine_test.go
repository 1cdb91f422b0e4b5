package search

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"towerplan/internal/coverage"
	"towerplan/internal/grid"
)

func newInstance(t *testing.T, dim, rs, rp int, cities ...grid.Point) *grid.Instance {
	t.Helper()
	inst, err := grid.NewInstance(dim, rs, rp, cities)
	require.NoError(t, err)
	return inst
}

func randomInstance(t *testing.T, rng *rand.Rand, dim, cities int) *grid.Instance {
	t.Helper()
	seen := map[grid.Point]bool{}
	var cs []grid.Point
	for len(cs) < cities {
		p := grid.Point{X: rng.Intn(dim), Y: rng.Intn(dim)}
		if !seen[p] {
			seen[p] = true
			cs = append(cs, p)
		}
	}
	return newInstance(t, dim, 2, 3, cs...)
}

func TestRemovalDropsRedundantTower(t *testing.T) {
	inst := newInstance(t, 10, 1, 1, grid.Point{X: 1, Y: 1}, grid.Point{X: 8, Y: 8})
	o := coverage.NewOracle(inst, nil)
	for seed := int64(0); seed < 10; seed++ {
		sol := coverage.Solution{Towers: []grid.Point{{X: 1, Y: 1}, {X: 1, Y: 2}, {X: 8, Y: 8}}}
		m, err := NewEngine(o, Options{}).Run(context.Background(), &sol, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		require.Equal(t, 2, sol.Len())
		require.Equal(t, 1, m.Removals)
		require.True(t, o.IsFeasible(sol))
	}
}

func TestRelocationRemovesInterference(t *testing.T) {
	inst := newInstance(t, 10, 2, 2, grid.Point{X: 2, Y: 5}, grid.Point{X: 7, Y: 5})
	o := coverage.NewOracle(inst, nil)
	for _, mode := range []RelocationMode{BestImprovement, SampledImprovement} {
		t.Run(mode.String(), func(t *testing.T) {
			sol := coverage.Solution{Towers: []grid.Point{{X: 4, Y: 5}, {X: 5, Y: 5}}}
			require.Equal(t, 1, o.Interference(sol))

			m, err := NewEngine(o, Options{Mode: mode}).Run(context.Background(), &sol, rand.New(rand.NewSource(3)))
			require.NoError(t, err)
			require.Equal(t, 2, sol.Len())
			require.Equal(t, 0, o.Interference(sol))
			require.InDelta(t, 2*coverage.ExpPenalty(0), m.FinalPenalty, 1e-9)
			require.GreaterOrEqual(t, m.Relocations, 1)
			require.True(t, m.LocalOptimum)
			require.True(t, o.IsFeasible(sol))
		})
	}
}

func TestRemovalPassIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 20; i++ {
		inst := randomInstance(t, rng, 15, 12)
		o := coverage.NewOracle(inst, nil)
		st, err := o.NewState(coverage.Solution{Towers: inst.CandidatePoints()})
		require.NoError(t, err)
		require.Greater(t, RemovalPass(st, rng), 0)
		require.True(t, st.Feasible())
		require.Equal(t, 0, RemovalPass(st, rng))
		for _, tw := range st.Towers() {
			require.False(t, st.CanRemove(tw))
		}
	}
}

func TestRunKeepsCoverageAndNeverWorsens(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 25; i++ {
		inst := randomInstance(t, rng, 20, 15)
		o := coverage.NewOracle(inst, nil)
		sol := coverage.Solution{Towers: append([]grid.Point(nil), inst.Cities...)}
		startPenalty := o.Penalty(sol)

		m, err := NewEngine(o, Options{TraceEvery: 1}).Run(context.Background(), &sol, rng)
		require.NoError(t, err)
		require.True(t, o.IsFeasible(sol))
		require.False(t, sol.HasDuplicates())
		require.LessOrEqual(t, sol.Len(), len(inst.Cities))
		require.LessOrEqual(t, m.FinalPenalty, startPenalty+1e-9)
		require.InDelta(t, o.Penalty(sol), m.FinalPenalty, 1e-6)
		for k := 1; k < len(m.Trace); k++ {
			require.LessOrEqual(t, m.Trace[k].Towers, m.Trace[k-1].Towers)
			require.LessOrEqual(t, m.Trace[k].Penalty, m.Trace[k-1].Penalty+1e-9)
		}
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	inst := newInstance(t, 10, 1, 1, grid.Point{X: 1, Y: 1})
	o := coverage.NewOracle(inst, nil)
	sol := coverage.Solution{Towers: []grid.Point{{X: 1, Y: 1}, {X: 1, Y: 2}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(o, Options{}).Run(ctx, &sol, rand.New(rand.NewSource(1)))
	require.True(t, errors.Is(err, context.Canceled))
	require.True(t, o.IsFeasible(sol))
}

func TestRunHonoursIterationCap(t *testing.T) {
	inst := newInstance(t, 10, 1, 1, grid.Point{X: 5, Y: 5})
	o := coverage.NewOracle(inst, nil)
	sol := coverage.Solution{Towers: []grid.Point{{X: 5, Y: 5}, {X: 5, Y: 4}, {X: 4, Y: 5}, {X: 6, Y: 5}}}
	m, err := NewEngine(o, Options{MaxIterations: 2}).Run(context.Background(), &sol, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Equal(t, 2, m.Iterations)
	require.Equal(t, 2, sol.Len())
	require.False(t, m.LocalOptimum)
}

func TestRunRejectsInfeasibleStart(t *testing.T) {
	inst := newInstance(t, 10, 1, 1, grid.Point{X: 5, Y: 5})
	o := coverage.NewOracle(inst, nil)
	sol := coverage.Solution{Towers: []grid.Point{{X: 0, Y: 0}}}
	_, err := NewEngine(o, Options{}).Run(context.Background(), &sol, rand.New(rand.NewSource(1)))
	require.True(t, errors.Is(err, ErrInfeasibleStart))
	require.Equal(t, []grid.Point{{X: 0, Y: 0}}, sol.Towers)
}

func TestModeByName(t *testing.T) {
	m, err := ModeByName("sampled")
	require.NoError(t, err)
	require.Equal(t, SampledImprovement, m)
	m, err = ModeByName("")
	require.NoError(t, err)
	require.Equal(t, "best", m.String())
	_, err = ModeByName("anneal")
	require.Error(t, err)
}
