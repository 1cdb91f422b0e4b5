package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"towerplan/internal/coverage"
	"towerplan/internal/grid"
)

// Stats describes one seeding call.
type Stats struct {
	Backend     string        `json:"backend"`
	Vars        int           `json:"vars"`
	Constraints int           `json:"constraints"`
	Towers      int           `json:"towers"`
	Optimal     bool          `json:"optimal"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Seeder produces initial feasible solutions. A zero Timeout means no limit
// beyond the caller's context.
type Seeder struct {
	Backend Backend
	Timeout time.Duration
}

func New(b Backend, timeout time.Duration) *Seeder {
	if b == nil {
		b = SATBackend{}
	}
	return &Seeder{Backend: b, Timeout: timeout}
}

// Seed formulates inst and solves it. Callers seeding the same instance many
// times should Formulate once and use SeedFrom.
func (s *Seeder) Seed(ctx context.Context, inst *grid.Instance, seed int64) (coverage.Solution, Stats, error) {
	f, err := Formulate(inst)
	if err != nil {
		return coverage.Solution{}, Stats{}, err
	}
	return s.SeedFrom(ctx, f, seed)
}

// SeedFrom solves an existing formulation and checks the answer covers every
// city before returning it.
func (s *Seeder) SeedFrom(ctx context.Context, f *Formulation, seed int64) (coverage.Solution, Stats, error) {
	st := Stats{
		Backend:     s.Backend.Name(),
		Vars:        f.Model.NumVars,
		Constraints: len(f.Model.Constraints),
	}
	start := time.Now()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	a, err := s.Backend.Solve(ctx, f.Model, seed)
	st.Elapsed = time.Since(start)
	if err != nil {
		return coverage.Solution{}, st, classify(err)
	}
	if !satisfied(f.Model, a.Values) {
		return coverage.Solution{}, st, fmt.Errorf("%w: %s returned an assignment violating the model", ErrSolverFailure, s.Backend.Name())
	}
	sol := coverage.Solution{Towers: f.Towers(a)}
	if !coverage.NewOracle(f.Instance, nil).IsFeasible(sol) {
		return coverage.Solution{}, st, fmt.Errorf("%w: %s left cities uncovered", ErrSolverFailure, s.Backend.Name())
	}
	st.Towers = sol.Len()
	st.Optimal = a.Optimal
	return sol, st, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrInfeasible), errors.Is(err, ErrSolverTimeout), errors.Is(err, ErrSolverFailure):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrSolverTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrSolverFailure, err)
	}
}

// BackendByName resolves the names accepted by configuration and flags.
func BackendByName(name string) (Backend, error) {
	switch name {
	case "", "sat":
		return SATBackend{}, nil
	case "greedy":
		return GreedyBackend{}, nil
	}
	return nil, fmt.Errorf("seed: unknown backend %q", name)
}
