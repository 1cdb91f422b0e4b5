package restart

import (
	"fmt"
	"math"
)

// Score is the quality of a solution; lower is better on both fields.
type Score struct {
	Towers  int     `json:"towers"`
	Penalty float64 `json:"penalty"`
}

func (s Score) String() string { return fmt.Sprintf("%d towers, penalty %.2f", s.Towers, s.Penalty) }

// Policy orders scores. Less must be a strict weak order.
type Policy interface {
	Name() string
	Less(a, b Score) bool
}

// Lexicographic prefers fewer towers, then lower penalty.
type Lexicographic struct{}

func (Lexicographic) Name() string { return "lexicographic" }

func (Lexicographic) Less(a, b Score) bool {
	if a.Towers != b.Towers {
		return a.Towers < b.Towers
	}
	return a.Penalty < b.Penalty
}

// PenaltyFirst prefers lower penalty, then fewer towers. It is the order
// contest leaderboards rank by.
type PenaltyFirst struct{}

func (PenaltyFirst) Name() string { return "penalty" }

func (PenaltyFirst) Less(a, b Score) bool {
	if a.Penalty != b.Penalty {
		return a.Penalty < b.Penalty
	}
	return a.Towers < b.Towers
}

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "lexicographic":
		return Lexicographic{}, nil
	case "penalty":
		return PenaltyFirst{}, nil
	}
	return nil, fmt.Errorf("restart: unknown policy %q", name)
}

// Target is the "good enough" bound. Either component may be left unset.
type Target struct {
	Towers     int     `json:"towers,omitempty"`
	Penalty    float64 `json:"penalty,omitempty"`
	HasTowers  bool    `json:"hasTowers"`
	HasPenalty bool    `json:"hasPenalty"`
}

func TowerTarget(n int) Target { return Target{Towers: n, HasTowers: true} }

func PenaltyTarget(p float64) Target { return Target{Penalty: p, HasPenalty: true} }

func (t Target) Set() bool { return t.HasTowers || t.HasPenalty }

// Met reports whether s meets or beats t. With both components set the
// comparison follows the policy; a single component is compared directly.
func (t Target) Met(p Policy, s Score) bool {
	switch {
	case t.HasTowers && t.HasPenalty:
		return !p.Less(Score{Towers: t.Towers, Penalty: t.Penalty}, s)
	case t.HasTowers:
		return s.Towers <= t.Towers
	case t.HasPenalty:
		return s.Penalty <= t.Penalty+1e-9*math.Max(1, math.Abs(t.Penalty))
	}
	return false
}
