package api

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"towerplan/internal/grid"
	"towerplan/internal/instio"
	"towerplan/internal/model"
)

const (
	maxRestarts  = 4096
	maxGridCells = 1 << 22
)

func validateSolveRequest(req *model.SolveRequest) error {
	if (req.Instance == nil) == (strings.TrimSpace(req.InstanceText) == "") {
		return errors.New("exactly one of instance or instanceText is required")
	}
	p := req.SolverParams
	switch p.Backend {
	case "", "sat", "greedy":
	default:
		return fmt.Errorf("invalid backend: %s", p.Backend)
	}
	switch p.Policy {
	case "", "lexicographic", "penalty":
	default:
		return fmt.Errorf("invalid policy: %s", p.Policy)
	}
	switch p.Relocation {
	case "", "best", "sampled":
	default:
		return fmt.Errorf("invalid relocation: %s", p.Relocation)
	}
	if p.Restarts < 0 || p.Restarts > maxRestarts || len(p.Seeds) > maxRestarts {
		return fmt.Errorf("restarts must be in [0,%d]", maxRestarts)
	}
	if p.Workers < 0 || p.RelocationRadius < 0 || p.MaxIterations < 0 {
		return errors.New("workers, relocationRadius and maxIterations must be >= 0")
	}
	if p.SeedTimeoutMs < 0 || p.TimeBudgetMs < 0 {
		return errors.New("timeouts must be >= 0")
	}
	if p.TargetTowers != nil && *p.TargetTowers < 0 {
		return errors.New("targetTowers must be >= 0")
	}
	if p.TargetPenalty != nil && (*p.TargetPenalty < 0 || math.IsNaN(*p.TargetPenalty)) {
		return errors.New("targetPenalty must be >= 0")
	}
	return nil
}

// instanceFrom builds and validates the request's instance.
func instanceFrom(req *model.SolveRequest) (*grid.Instance, error) {
	var (
		inst *grid.Instance
		err  error
	)
	if req.Instance != nil {
		in := req.Instance
		cities := make([]grid.Point, len(in.Cities))
		for i, c := range in.Cities {
			cities[i] = grid.Point{X: c.X, Y: c.Y}
		}
		inst, err = grid.NewInstance(in.Dim, in.ServiceRadius, in.PenaltyRadius, cities)
	} else {
		inst, err = instio.ReadInstance(strings.NewReader(req.InstanceText))
	}
	if err != nil {
		return nil, err
	}
	if inst.Dim > 0 && inst.Dim*inst.Dim > maxGridCells {
		return nil, fmt.Errorf("grid of %d x %d exceeds the service limit", inst.Dim, inst.Dim)
	}
	return inst, nil
}
