package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
)

const satPollInterval = 5 * time.Millisecond

// SATBackend minimises unit-cost models exactly with gini. It finds any
// model, then repeatedly asks for one with fewer set variables through a
// cardinality network until the solver proves none exists. When the deadline
// hits during that descent the best model so far is returned as non-optimal.
type SATBackend struct{}

func (SATBackend) Name() string { return "sat" }

func (SATBackend) Solve(ctx context.Context, m Model, seed int64) (Assignment, error) {
	for v, w := range m.Objective {
		if w != 1 {
			return Assignment{}, fmt.Errorf("%w: variable %d has weight %d, only unit weights are supported", ErrSolverFailure, v, w)
		}
	}

	if m.NumVars == 0 {
		if len(m.Constraints) > 0 {
			return Assignment{}, ErrInfeasible
		}
		return Assignment{Values: []bool{}, Optimal: true}, nil
	}

	// The seed decides which solver variable each model variable becomes, which
	// changes the branching order and so which optimum is found. The counting
	// network stays in model order: neighbouring candidates then meet early in
	// the sorter, which keeps the bound proofs short.
	rng := rand.New(rand.NewSource(seed))
	c := logic.NewCCap(4 * (m.NumVars + 1))
	lits := make([]z.Lit, m.NumVars)
	for _, v := range rng.Perm(m.NumVars) {
		lits[v] = c.Lit()
	}
	count := c.CardSort(append([]z.Lit(nil), lits...))

	var atLeast []z.Lit
	for _, con := range m.Constraints {
		if con.AtLeast > 1 {
			ms := make([]z.Lit, len(con.Vars))
			for i, v := range con.Vars {
				ms[i] = lits[v]
			}
			atLeast = append(atLeast, c.CardSort(ms).Geq(con.AtLeast))
		}
	}

	g := gini.New()
	c.ToCnf(g)
	for _, con := range m.Constraints {
		if con.AtLeast == 1 {
			for _, v := range con.Vars {
				g.Add(lits[v])
			}
			g.Add(z.LitNull)
		}
	}
	for _, lit := range atLeast {
		g.Add(lit)
		g.Add(z.LitNull)
	}

	res, err := solveStep(ctx, g)
	if err != nil {
		return Assignment{}, err
	}
	if res != 1 {
		return Assignment{}, ErrInfeasible
	}
	best, k := readModel(g, lits)
	for k > 0 {
		g.Assume(count.Leq(k - 1))
		res, err := solveStep(ctx, g)
		if errors.Is(err, context.DeadlineExceeded) {
			// out of time mid-descent: the incumbent is still a feasible cover
			return Assignment{Values: best}, nil
		}
		if err != nil {
			return Assignment{}, err
		}
		if res != 1 {
			break
		}
		best, k = readModel(g, lits)
	}
	return Assignment{Values: best, Optimal: true}, nil
}

// solveStep is replaced in tests to interrupt the descent.
var solveStep = runGini

// runGini solves in the background and stops the solver once ctx is done.
func runGini(ctx context.Context, g *gini.Gini) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := g.GoSolve()
	tick := time.NewTicker(satPollInterval)
	defer tick.Stop()
	for {
		if res, done := s.Test(); done {
			return res, nil
		}
		select {
		case <-ctx.Done():
			s.Stop()
			return 0, ctx.Err()
		case <-tick.C:
		}
	}
}

func readModel(g *gini.Gini, lits []z.Lit) ([]bool, int) {
	vals := make([]bool, len(lits))
	n := 0
	for i, m := range lits {
		if g.Value(m) {
			vals[i] = true
			n++
		}
	}
	return vals, n
}
