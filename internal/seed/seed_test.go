package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/go-air/gini"
	"github.com/stretchr/testify/require"

	"towerplan/internal/coverage"
	"towerplan/internal/grid"
)

func instance(t *testing.T, dim, rs, rp int, cities ...grid.Point) *grid.Instance {
	t.Helper()
	inst, err := grid.NewInstance(dim, rs, rp, cities)
	require.NoError(t, err)
	return inst
}

func TestFormulate(t *testing.T) {
	inst := instance(t, 10, 1, 1, grid.Point{X: 0, Y: 0}, grid.Point{X: 9, Y: 9})
	f, err := Formulate(inst)
	require.NoError(t, err)
	require.Equal(t, 6, f.Model.NumVars)
	require.Len(t, f.Model.Constraints, 2)
	for _, c := range f.Model.Constraints {
		require.Equal(t, 1, c.AtLeast)
		require.Len(t, c.Vars, 3)
	}
}

func TestBackendsFindMinimumCount(t *testing.T) {
	cases := []struct {
		name  string
		inst  *grid.Instance
		count int
	}{
		{"single city", instance(t, 5, 1, 1, grid.Point{X: 2, Y: 2}), 1},
		{"two distant cities", instance(t, 20, 2, 2, grid.Point{X: 0, Y: 0}, grid.Point{X: 19, Y: 19}), 2},
		{"shared cover", instance(t, 8, 1, 1, grid.Point{X: 2, Y: 2}, grid.Point{X: 4, Y: 2}), 1},
		{"no cities", instance(t, 4, 1, 1), 0},
	}
	for _, b := range []Backend{SATBackend{}, GreedyBackend{}} {
		for _, tc := range cases {
			t.Run(b.Name()+"/"+tc.name, func(t *testing.T) {
				s := New(b, time.Minute)
				sol, st, err := s.Seed(context.Background(), tc.inst, 42)
				require.NoError(t, err)
				require.Equal(t, tc.count, sol.Len())
				require.True(t, coverage.NewOracle(tc.inst, nil).IsFeasible(sol))
				require.False(t, sol.HasDuplicates())
				require.Equal(t, tc.count, st.Towers)
				require.Equal(t, b.Name(), st.Backend)
			})
		}
	}
}

func TestSATBackendProvesOptimum(t *testing.T) {
	// a row of cities three apart: every tower covers at most one
	var cities []grid.Point
	for x := 0; x < 12; x += 3 {
		cities = append(cities, grid.Point{X: x, Y: 0})
	}
	inst := instance(t, 12, 1, 1, cities...)
	sol, st, err := New(SATBackend{}, 0).Seed(context.Background(), inst, 7)
	require.NoError(t, err)
	require.True(t, st.Optimal)
	require.Equal(t, 4, sol.Len())
}

// clusterInstance is 30 random cities on a 25x25 grid, the size of a small
// contest instance.
func clusterInstance(t *testing.T) *grid.Instance {
	t.Helper()
	rng := rand.New(rand.NewSource(21))
	seen := map[grid.Point]bool{}
	var cities []grid.Point
	for len(cities) < 30 {
		p := grid.Point{X: rng.Intn(25), Y: rng.Intn(25)}
		if !seen[p] {
			seen[p] = true
			cities = append(cities, p)
		}
	}
	return instance(t, 25, 3, 5, cities...)
}

func TestSATBackendProvesOptimumOnContestSizedInstance(t *testing.T) {
	inst := clusterInstance(t)
	f, err := Formulate(inst)
	require.NoError(t, err)
	s := New(SATBackend{}, 10*time.Second)
	var (
		count    int
		distinct = map[string]bool{}
	)
	for seed := int64(1); seed <= 4; seed++ {
		sol, st, err := s.SeedFrom(context.Background(), f, seed)
		require.NoError(t, err, "seed %d", seed)
		require.True(t, st.Optimal, "seed %d", seed)
		require.Less(t, st.Elapsed, 5*time.Second)
		if count == 0 {
			count = sol.Len()
		}
		require.Equal(t, count, sol.Len(), "every seed must reach the same minimum")
		distinct[fmt.Sprint(sol.Sorted().Towers)] = true
	}
	// the greedy cover can only match or exceed the proven minimum
	g, _, err := New(GreedyBackend{}, 0).SeedFrom(context.Background(), f, 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, g.Len(), count)
	t.Logf("minimum %d towers, %d distinct optima over 4 seeds", count, len(distinct))
}

func TestSATBackendKeepsIncumbentAtDeadline(t *testing.T) {
	f, err := Formulate(clusterInstance(t))
	require.NoError(t, err)
	calls := 0
	solveStep = func(ctx context.Context, g *gini.Gini) (int, error) {
		calls++
		if calls == 1 {
			return runGini(ctx, g)
		}
		return 0, context.DeadlineExceeded
	}
	t.Cleanup(func() { solveStep = runGini })

	a, err := SATBackend{}.Solve(context.Background(), f.Model, 3)
	require.NoError(t, err)
	require.False(t, a.Optimal)
	require.True(t, satisfied(f.Model, a.Values))
	require.Equal(t, 2, calls)
}

func TestSATBackendCancelledDuringDescent(t *testing.T) {
	f, err := Formulate(clusterInstance(t))
	require.NoError(t, err)
	calls := 0
	solveStep = func(ctx context.Context, g *gini.Gini) (int, error) {
		calls++
		if calls == 1 {
			return runGini(ctx, g)
		}
		return 0, context.Canceled
	}
	t.Cleanup(func() { solveStep = runGini })

	_, err = SATBackend{}.Solve(context.Background(), f.Model, 3)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestSATBackendRejectsWeights(t *testing.T) {
	m := Model{NumVars: 1, Constraints: []Constraint{{Vars: []int{0}, AtLeast: 1}}, Objective: []int{3}}
	_, err := SATBackend{}.Solve(context.Background(), m, 1)
	require.True(t, errors.Is(err, ErrSolverFailure))
}

func TestBackendsReportInfeasible(t *testing.T) {
	m := Model{NumVars: 1, Constraints: []Constraint{{Vars: []int{0}, AtLeast: 2}}, Objective: []int{1}}
	for _, b := range []Backend{SATBackend{}, GreedyBackend{}} {
		_, err := b.Solve(context.Background(), m, 1)
		require.True(t, errors.Is(err, ErrInfeasible), "%s: %v", b.Name(), err)
	}
}

type blockingBackend struct{}

func (blockingBackend) Name() string { return "blocking" }

func (blockingBackend) Solve(ctx context.Context, _ Model, _ int64) (Assignment, error) {
	<-ctx.Done()
	return Assignment{}, ctx.Err()
}

type emptyBackend struct{}

func (emptyBackend) Name() string { return "empty" }

func (emptyBackend) Solve(_ context.Context, m Model, _ int64) (Assignment, error) {
	return Assignment{Values: make([]bool, m.NumVars)}, nil
}

func TestSeederTimeout(t *testing.T) {
	inst := instance(t, 5, 1, 1, grid.Point{X: 2, Y: 2})
	_, _, err := New(blockingBackend{}, 10*time.Millisecond).Seed(context.Background(), inst, 1)
	require.True(t, errors.Is(err, ErrSolverTimeout), "got %v", err)
}

func TestSeederRejectsUncoveringAnswer(t *testing.T) {
	inst := instance(t, 5, 1, 1, grid.Point{X: 2, Y: 2})
	_, _, err := New(emptyBackend{}, 0).Seed(context.Background(), inst, 1)
	require.True(t, errors.Is(err, ErrSolverFailure), "got %v", err)
}

func TestSeedVariesWithSeed(t *testing.T) {
	// many optimal single-tower placements: different seeds should not all agree
	inst := instance(t, 9, 2, 1, grid.Point{X: 4, Y: 4})
	f, err := Formulate(inst)
	require.NoError(t, err)
	s := New(GreedyBackend{}, 0)
	seen := map[grid.Point]bool{}
	for seed := int64(0); seed < 20; seed++ {
		sol, _, err := s.SeedFrom(context.Background(), f, seed)
		require.NoError(t, err)
		require.Equal(t, 1, sol.Len())
		seen[sol.Towers[0]] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestBackendByName(t *testing.T) {
	b, err := BackendByName("greedy")
	require.NoError(t, err)
	require.Equal(t, "greedy", b.Name())
	_, err = BackendByName("cplex")
	require.Error(t, err)
}
