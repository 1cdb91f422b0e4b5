// Package coverage answers feasibility and penalty questions about tower sets.
package coverage

import (
	"errors"
	"math"

	"towerplan/internal/grid"
)

var (
	ErrTowerOutOfBounds = errors.New("coverage: tower outside grid")
	ErrDuplicateTower   = errors.New("coverage: duplicate tower")
	ErrUnknownTower     = errors.New("coverage: no tower at position")
)

// PenaltyFunc maps the number of other towers inside a tower's penalty radius
// to that tower's contribution.
type PenaltyFunc func(w int) float64

// ExpPenalty is the scoring rule of the tower placement contest: 170·e^(0.17·w).
func ExpPenalty(w int) float64 {
	return 170 * math.Exp(0.17*float64(w))
}

// Oracle evaluates solutions against a single instance.
type Oracle struct {
	inst    *grid.Instance
	penalty PenaltyFunc
}

// NewOracle returns an oracle for inst. A nil fn selects ExpPenalty.
func NewOracle(inst *grid.Instance, fn PenaltyFunc) *Oracle {
	if fn == nil {
		fn = ExpPenalty
	}
	return &Oracle{inst: inst, penalty: fn}
}

func (o *Oracle) Instance() *grid.Instance { return o.inst }

func (o *Oracle) PenaltyFunc() PenaltyFunc { return o.penalty }

// IsFeasible reports whether every city is covered by at least one tower.
func (o *Oracle) IsFeasible(sol Solution) bool {
	return len(o.Uncovered(sol)) == 0
}

// Uncovered lists the cities no tower of sol serves.
func (o *Oracle) Uncovered(sol Solution) []grid.Point {
	var out []grid.Point
	for _, c := range o.inst.Cities {
		if len(o.CoveringTowers(c, sol)) == 0 {
			out = append(out, c)
		}
	}
	return out
}

// CoveringTowers returns every tower of sol that serves city.
func (o *Oracle) CoveringTowers(city grid.Point, sol Solution) []grid.Point {
	var out []grid.Point
	for _, t := range sol.Towers {
		if o.inst.Covers(t, city) {
			out = append(out, t)
		}
	}
	return out
}

// Penalty recomputes the total interference penalty from scratch.
func (o *Oracle) Penalty(sol Solution) float64 {
	total := 0.0
	for i, t := range sol.Towers {
		w := 0
		for j, u := range sol.Towers {
			if i != j && o.inst.Interferes(t, u) {
				w++
			}
		}
		total += o.penalty(w)
	}
	return total
}

// Interference counts unordered tower pairs within the penalty radius.
func (o *Oracle) Interference(sol Solution) int {
	n := 0
	for i := range sol.Towers {
		for j := i + 1; j < len(sol.Towers); j++ {
			if o.inst.Interferes(sol.Towers[i], sol.Towers[j]) {
				n++
			}
		}
	}
	return n
}
