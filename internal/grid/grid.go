// Package grid models a tower placement instance: a square lattice, the cities on
// it and the two radii that drive coverage and interference.
package grid

import (
	"errors"
	"fmt"
	"iter"
	"sync"
)

var (
	ErrInvalidParams = errors.New("grid: invalid instance parameters")
	ErrOutOfBounds   = errors.New("grid: point outside grid")
	ErrDuplicateCity = errors.New("grid: duplicate city")
)

// Point is an integer lattice position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d, %d)", p.X, p.Y) }

// Less orders points row by row (x, then y).
func (p Point) Less(q Point) bool {
	if p.X != q.X {
		return p.X < q.X
	}
	return p.Y < q.Y
}

func dist2(a, b Point) int {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// Instance is read-only once validated.
type Instance struct {
	Dim           int
	ServiceRadius int
	PenaltyRadius int
	Cities        []Point

	once      sync.Once
	cityIdx   map[Point]int
	cands     []Point
	offsetsMu sync.Mutex
	offsets   map[int][]Point
}

// NewInstance builds and validates an instance.
func NewInstance(dim, serviceRadius, penaltyRadius int, cities []Point) (*Instance, error) {
	inst := &Instance{
		Dim:           dim,
		ServiceRadius: serviceRadius,
		PenaltyRadius: penaltyRadius,
		Cities:        append([]Point(nil), cities...),
	}
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst, nil
}

// Validate checks the parameters, city bounds and city uniqueness.
func (in *Instance) Validate() error {
	if in.Dim <= 0 {
		return fmt.Errorf("%w: dimension %d", ErrInvalidParams, in.Dim)
	}
	if in.ServiceRadius < 0 || in.PenaltyRadius < 0 {
		return fmt.Errorf("%w: radii must be >= 0 (service %d, penalty %d)", ErrInvalidParams, in.ServiceRadius, in.PenaltyRadius)
	}
	seen := make(map[Point]struct{}, len(in.Cities))
	for _, c := range in.Cities {
		if !in.InBounds(c) {
			return fmt.Errorf("%w: city %v for dimension %d", ErrOutOfBounds, c, in.Dim)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: %v", ErrDuplicateCity, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// InBounds reports whether p lies in [0, Dim) on both axes.
func (in *Instance) InBounds(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < in.Dim && p.Y < in.Dim
}

// Covers reports whether a tower at t serves city c.
func (in *Instance) Covers(t, c Point) bool {
	return dist2(t, c) <= in.ServiceRadius*in.ServiceRadius
}

// Interferes reports whether two distinct towers are within the penalty radius.
func (in *Instance) Interferes(a, b Point) bool {
	return a != b && dist2(a, b) <= in.PenaltyRadius*in.PenaltyRadius
}

// Points enumerates every grid point in row-major order. The sequence can be
// ranged over any number of times.
func (in *Instance) Points() iter.Seq[Point] {
	return func(yield func(Point) bool) {
		for x := 0; x < in.Dim; x++ {
			for y := 0; y < in.Dim; y++ {
				if !yield(Point{X: x, Y: y}) {
					return
				}
			}
		}
	}
}

// Within returns the in-bounds lattice points within radius r of p, p included.
func (in *Instance) Within(p Point, r int) []Point {
	offs := in.diskOffsets(r)
	out := make([]Point, 0, len(offs))
	for _, o := range offs {
		q := Point{X: p.X + o.X, Y: p.Y + o.Y}
		if in.InBounds(q) {
			out = append(out, q)
		}
	}
	return out
}

func (in *Instance) diskOffsets(r int) []Point {
	in.offsetsMu.Lock()
	defer in.offsetsMu.Unlock()
	if offs, ok := in.offsets[r]; ok {
		return offs
	}
	if in.offsets == nil {
		in.offsets = map[int][]Point{}
	}
	var offs []Point
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			if dx*dx+dy*dy <= r*r {
				offs = append(offs, Point{X: dx, Y: dy})
			}
		}
	}
	in.offsets[r] = offs
	return offs
}

func (in *Instance) index() {
	in.once.Do(func() {
		in.cityIdx = make(map[Point]int, len(in.Cities))
		for i, c := range in.Cities {
			in.cityIdx[c] = i
		}
		useful := map[Point]struct{}{}
		for _, c := range in.Cities {
			for _, p := range in.Within(c, in.ServiceRadius) {
				useful[p] = struct{}{}
			}
		}
		for p := range in.Points() {
			if _, ok := useful[p]; ok {
				in.cands = append(in.cands, p)
			}
		}
	})
}

// CityIndex returns the position of c in Cities.
func (in *Instance) CityIndex(c Point) (int, bool) {
	in.index()
	i, ok := in.cityIdx[c]
	return i, ok
}

// CoveredCities returns the indices of the cities a tower at t would serve.
func (in *Instance) CoveredCities(t Point) []int {
	in.index()
	var out []int
	for _, p := range in.Within(t, in.ServiceRadius) {
		if i, ok := in.cityIdx[p]; ok {
			out = append(out, i)
		}
	}
	return out
}

// CandidatePoints lists, in row-major order, the grid points that cover at
// least one city. Callers must not modify the returned slice.
func (in *Instance) CandidatePoints() []Point {
	in.index()
	return in.cands
}
