package coverage

import (
	"slices"

	"towerplan/internal/grid"
)

// Solution is an unordered set of tower positions for one instance.
type Solution struct {
	Towers []grid.Point `json:"towers"`
}

func (s Solution) Len() int { return len(s.Towers) }

// Clone returns a deep copy.
func (s Solution) Clone() Solution {
	return Solution{Towers: append([]grid.Point(nil), s.Towers...)}
}

// Sorted returns a copy with towers in canonical row-major order.
func (s Solution) Sorted() Solution {
	out := s.Clone()
	slices.SortFunc(out.Towers, comparePoints)
	return out
}

// HasDuplicates reports whether two towers share a position.
func (s Solution) HasDuplicates() bool {
	seen := make(map[grid.Point]struct{}, len(s.Towers))
	for _, t := range s.Towers {
		if _, ok := seen[t]; ok {
			return true
		}
		seen[t] = struct{}{}
	}
	return false
}

// CompareCanonical orders two solutions by their sorted tower lists. It gives
// callers a total order to break score ties deterministically.
func CompareCanonical(a, b Solution) int {
	return slices.CompareFunc(a.Sorted().Towers, b.Sorted().Towers, comparePoints)
}

func comparePoints(a, b grid.Point) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}
