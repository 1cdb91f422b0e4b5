// Package seed builds the minimum tower count covering model for an instance
// and hands it to a pluggable 0/1 solver backend.
package seed

import (
	"context"
	"errors"
	"fmt"

	"towerplan/internal/grid"
)

var (
	ErrInfeasible    = errors.New("seed: model is infeasible")
	ErrSolverTimeout = errors.New("seed: solver timed out")
	ErrSolverFailure = errors.New("seed: solver failed")
)

// Constraint requires at least AtLeast of Vars to be set.
type Constraint struct {
	Vars    []int
	AtLeast int
}

// Model is a 0/1 minimisation problem: minimise sum(Objective[v] * x_v) subject
// to every constraint. Variables are numbered 0..NumVars-1.
type Model struct {
	NumVars     int
	Constraints []Constraint
	Objective   []int
}

// Assignment is a backend answer. Optimal is set only when the backend proved
// no cheaper assignment exists.
type Assignment struct {
	Values  []bool
	Optimal bool
}

// Backend solves a Model. Implementations must honour ctx and return
// ErrInfeasible only when they proved the model unsatisfiable.
type Backend interface {
	Name() string
	Solve(ctx context.Context, m Model, seed int64) (Assignment, error)
}

// Formulation ties model variables back to grid points.
type Formulation struct {
	Instance *grid.Instance
	Points   []grid.Point
	Model    Model
}

// Formulate emits one variable per candidate point and one covering
// constraint per city.
func Formulate(inst *grid.Instance) (*Formulation, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	pts := inst.CandidatePoints()
	idx := make(map[grid.Point]int, len(pts))
	for i, p := range pts {
		idx[p] = i
	}
	m := Model{
		NumVars:     len(pts),
		Constraints: make([]Constraint, 0, len(inst.Cities)),
		Objective:   make([]int, len(pts)),
	}
	for i := range m.Objective {
		m.Objective[i] = 1
	}
	for _, c := range inst.Cities {
		var vars []int
		for _, p := range inst.Within(c, inst.ServiceRadius) {
			if v, ok := idx[p]; ok {
				vars = append(vars, v)
			}
		}
		if len(vars) == 0 {
			return nil, fmt.Errorf("%w: city %v has no candidate tower", ErrInfeasible, c)
		}
		m.Constraints = append(m.Constraints, Constraint{Vars: vars, AtLeast: 1})
	}
	return &Formulation{Instance: inst, Points: pts, Model: m}, nil
}

// Towers maps an assignment back to tower positions.
func (f *Formulation) Towers(a Assignment) []grid.Point {
	var out []grid.Point
	for v, set := range a.Values {
		if set && v < len(f.Points) {
			out = append(out, f.Points[v])
		}
	}
	return out
}

// satisfied reports whether values meets every constraint of m.
func satisfied(m Model, values []bool) bool {
	if len(values) != m.NumVars {
		return false
	}
	for _, c := range m.Constraints {
		n := 0
		for _, v := range c.Vars {
			if values[v] {
				n++
			}
		}
		if n < c.AtLeast {
			return false
		}
	}
	return true
}
