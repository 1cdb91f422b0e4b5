package coverage

import (
	"fmt"

	"towerplan/internal/grid"
)

// State keeps a solution together with per-city cover counts and per-tower
// interference counts so that removal and relocation trials do not rescan the
// whole instance. A State is owned by one goroutine.
type State struct {
	inst *grid.Instance
	fn   PenaltyFunc

	towers    []grid.Point
	pos       map[grid.Point]int
	covers    [][]int // city indices served by towers[i]
	w         []int   // other towers within the penalty radius of towers[i]
	cityCount []int
	uncovered int
	penalty   float64
}

// NewState indexes sol. Towers must be in bounds and pairwise distinct.
func (o *Oracle) NewState(sol Solution) (*State, error) {
	st := &State{
		inst:      o.inst,
		fn:        o.penalty,
		pos:       make(map[grid.Point]int, len(sol.Towers)),
		cityCount: make([]int, len(o.inst.Cities)),
		uncovered: len(o.inst.Cities),
	}
	for _, t := range sol.Towers {
		if err := st.Add(t); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *State) Len() int { return len(s.towers) }

func (s *State) Penalty() float64 { return s.penalty }

func (s *State) Feasible() bool { return s.uncovered == 0 }

func (s *State) Has(p grid.Point) bool {
	_, ok := s.pos[p]
	return ok
}

// Towers returns a copy of the current tower positions.
func (s *State) Towers() []grid.Point {
	return append([]grid.Point(nil), s.towers...)
}

// Solution snapshots the state.
func (s *State) Solution() Solution {
	return Solution{Towers: s.Towers()}
}

// CoverCount is the number of towers serving city i.
func (s *State) CoverCount(i int) int { return s.cityCount[i] }

// Add places a tower at p.
func (s *State) Add(p grid.Point) error {
	if !s.inst.InBounds(p) {
		return fmt.Errorf("%w: %v", ErrTowerOutOfBounds, p)
	}
	if s.Has(p) {
		return fmt.Errorf("%w: %v", ErrDuplicateTower, p)
	}
	wNew := 0
	for j, u := range s.towers {
		if s.inst.Interferes(p, u) {
			s.penalty += s.fn(s.w[j]+1) - s.fn(s.w[j])
			s.w[j]++
			wNew++
		}
	}
	covered := s.inst.CoveredCities(p)
	for _, c := range covered {
		if s.cityCount[c] == 0 {
			s.uncovered--
		}
		s.cityCount[c]++
	}
	s.pos[p] = len(s.towers)
	s.towers = append(s.towers, p)
	s.covers = append(s.covers, covered)
	s.w = append(s.w, wNew)
	s.penalty += s.fn(wNew)
	return nil
}

// CanRemove reports whether every city served by the tower at p keeps another
// covering tower.
func (s *State) CanRemove(p grid.Point) bool {
	i, ok := s.pos[p]
	if !ok {
		return false
	}
	for _, c := range s.covers[i] {
		if s.cityCount[c] < 2 {
			return false
		}
	}
	return true
}

// Remove deletes the tower at p whether or not coverage survives.
func (s *State) Remove(p grid.Point) error {
	i, ok := s.pos[p]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownTower, p)
	}
	for j, u := range s.towers {
		if j != i && s.inst.Interferes(p, u) {
			s.penalty += s.fn(s.w[j]-1) - s.fn(s.w[j])
			s.w[j]--
		}
	}
	s.penalty -= s.fn(s.w[i])
	for _, c := range s.covers[i] {
		s.cityCount[c]--
		if s.cityCount[c] == 0 {
			s.uncovered++
		}
	}

	last := len(s.towers) - 1
	if i != last {
		s.towers[i] = s.towers[last]
		s.covers[i] = s.covers[last]
		s.w[i] = s.w[last]
		s.pos[s.towers[i]] = i
	}
	s.towers = s.towers[:last]
	s.covers = s.covers[:last]
	s.w = s.w[:last]
	delete(s.pos, p)
	return nil
}

// CanMove reports whether relocating the tower at from to the free point to
// leaves no city uncovered.
func (s *State) CanMove(from, to grid.Point) bool {
	i, ok := s.pos[from]
	if !ok || from == to || !s.inst.InBounds(to) || s.Has(to) {
		return false
	}
	for _, c := range s.covers[i] {
		if s.cityCount[c] < 2 && !s.inst.Covers(to, s.inst.Cities[c]) {
			return false
		}
	}
	return true
}

// MoveDelta is the penalty change of relocating from to to, without applying it.
func (s *State) MoveDelta(from, to grid.Point) float64 {
	i, ok := s.pos[from]
	if !ok {
		return 0
	}
	delta := 0.0
	wNew := 0
	for j, u := range s.towers {
		if j == i {
			continue
		}
		before := s.inst.Interferes(from, u)
		after := s.inst.Interferes(to, u)
		if after {
			wNew++
		}
		switch {
		case after && !before:
			delta += s.fn(s.w[j]+1) - s.fn(s.w[j])
		case before && !after:
			delta += s.fn(s.w[j]-1) - s.fn(s.w[j])
		}
	}
	return delta + s.fn(wNew) - s.fn(s.w[i])
}

// Move relocates the tower at from to to.
func (s *State) Move(from, to grid.Point) error {
	if s.Has(to) {
		return fmt.Errorf("%w: %v", ErrDuplicateTower, to)
	}
	if !s.inst.InBounds(to) {
		return fmt.Errorf("%w: %v", ErrTowerOutOfBounds, to)
	}
	if err := s.Remove(from); err != nil {
		return err
	}
	return s.Add(to)
}

// Recompute refreshes the running penalty to discard accumulated rounding.
func (s *State) Recompute() {
	total := 0.0
	for _, w := range s.w {
		total += s.fn(w)
	}
	s.penalty = total
}
