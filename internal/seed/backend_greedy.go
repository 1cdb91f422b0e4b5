package seed

import (
	"context"
	"math/rand"
)

// GreedyBackend is a randomised greedy set cover followed by a redundancy
// sweep. It is fast but gives no optimality guarantee.
type GreedyBackend struct{}

func (GreedyBackend) Name() string { return "greedy" }

func (GreedyBackend) Solve(ctx context.Context, m Model, seed int64) (Assignment, error) {
	rng := rand.New(rand.NewSource(seed))
	cons := make([][]int, m.NumVars) // constraints each variable appears in
	for ci, c := range m.Constraints {
		for _, v := range c.Vars {
			cons[v] = append(cons[v], ci)
		}
	}
	need := make([]int, len(m.Constraints))
	open := 0
	for ci, c := range m.Constraints {
		need[ci] = c.AtLeast
		if need[ci] > 0 {
			open++
		}
	}
	vals := make([]bool, m.NumVars)

	for open > 0 {
		if err := ctx.Err(); err != nil {
			return Assignment{}, err
		}
		bestVar, bestGain, ties := -1, 0, 0
		for v := 0; v < m.NumVars; v++ {
			if vals[v] {
				continue
			}
			gain := 0
			for _, ci := range cons[v] {
				if need[ci] > 0 {
					gain++
				}
			}
			if gain == 0 {
				continue
			}
			cost := 1
			if v < len(m.Objective) && m.Objective[v] > 0 {
				cost = m.Objective[v]
			}
			// compare gain/cost ratios without division
			switch {
			case bestVar < 0 || gain*bestCost(m, bestVar) > bestGain*cost:
				bestVar, bestGain, ties = v, gain, 1
			case gain*bestCost(m, bestVar) == bestGain*cost:
				ties++
				if rng.Intn(ties) == 0 {
					bestVar, bestGain = v, gain
				}
			}
		}
		if bestVar < 0 {
			return Assignment{}, ErrInfeasible
		}
		vals[bestVar] = true
		for _, ci := range cons[bestVar] {
			if need[ci] > 0 {
				need[ci]--
				if need[ci] == 0 {
					open--
				}
			}
		}
	}

	// drop variables every constraint can spare, in random order
	slack := make([]int, len(m.Constraints))
	for ci, c := range m.Constraints {
		for _, v := range c.Vars {
			if vals[v] {
				slack[ci]++
			}
		}
		slack[ci] -= c.AtLeast
	}
	for _, v := range rng.Perm(m.NumVars) {
		if !vals[v] {
			continue
		}
		spare := true
		for _, ci := range cons[v] {
			if slack[ci] <= 0 {
				spare = false
				break
			}
		}
		if !spare {
			continue
		}
		vals[v] = false
		for _, ci := range cons[v] {
			slack[ci]--
		}
	}
	return Assignment{Values: vals}, nil
}

func bestCost(m Model, v int) int {
	if v >= 0 && v < len(m.Objective) && m.Objective[v] > 0 {
		return m.Objective[v]
	}
	return 1
}
