// Package instio reads and writes the plain text instance and solution files
// used by the tower placement contest.
//
// Instance files hold, after any lines starting with '#': the city count, the
// grid dimension, the service radius, the penalty radius and one "x y" line per
// city. Solution files start with "# Penalty = <p>", then the tower count and
// one "x y" line per tower.
package instio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"towerplan/internal/coverage"
	"towerplan/internal/grid"
)

var ErrSyntax = errors.New("instio: malformed file")

type line struct {
	no     int
	fields []string
}

// scan returns non-empty, non-comment lines split on whitespace.
func scan(r io.Reader) ([]line, []string, error) {
	var (
		out      []line
		comments []string
	)
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			comments = append(comments, strings.TrimSpace(strings.TrimPrefix(text, "#")))
			continue
		}
		out = append(out, line{no: n, fields: strings.Fields(text)})
	}
	return out, comments, sc.Err()
}

func (l line) ints(want int) ([]int, error) {
	if len(l.fields) < want {
		return nil, fmt.Errorf("%w: line %d: want %d values, got %q", ErrSyntax, l.no, want, strings.Join(l.fields, " "))
	}
	out := make([]int, want)
	for i := 0; i < want; i++ {
		v, err := strconv.Atoi(l.fields[i])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrSyntax, l.no, err)
		}
		out[i] = v
	}
	return out, nil
}

// ReadInstance parses and validates an instance.
func ReadInstance(r io.Reader) (*grid.Instance, error) {
	lines, _, err := scan(r)
	if err != nil {
		return nil, err
	}
	if len(lines) < 4 {
		return nil, fmt.Errorf("%w: header needs 4 lines, got %d", ErrSyntax, len(lines))
	}
	var hdr [4]int
	for i := range hdr {
		v, err := lines[i].ints(1)
		if err != nil {
			return nil, err
		}
		hdr[i] = v[0]
	}
	n := hdr[0]
	if n < 0 {
		return nil, fmt.Errorf("%w: negative city count %d", ErrSyntax, n)
	}
	if len(lines)-4 < n {
		return nil, fmt.Errorf("%w: header promises %d cities, file has %d", ErrSyntax, n, len(lines)-4)
	}
	cities := make([]grid.Point, 0, n)
	for _, l := range lines[4 : 4+n] {
		xy, err := l.ints(2)
		if err != nil {
			return nil, err
		}
		cities = append(cities, grid.Point{X: xy[0], Y: xy[1]})
	}
	return grid.NewInstance(hdr[1], hdr[2], hdr[3], cities)
}

func ReadInstanceFile(path string) (*grid.Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	inst, err := ReadInstance(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inst, nil
}

func WriteInstance(w io.Writer, inst *grid.Instance) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n%d\n%d\n%d\n", len(inst.Cities), inst.Dim, inst.ServiceRadius, inst.PenaltyRadius)
	for _, c := range inst.Cities {
		fmt.Fprintf(bw, "%d %d\n", c.X, c.Y)
	}
	return bw.Flush()
}

func WriteSolution(w io.Writer, sol coverage.Solution, penalty float64) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Penalty = %s\n", strconv.FormatFloat(penalty, 'f', -1, 64))
	fmt.Fprintf(bw, "%d\n", len(sol.Towers))
	for _, t := range sol.Towers {
		fmt.Fprintf(bw, "%d %d\n", t.X, t.Y)
	}
	return bw.Flush()
}

// ReadSolution parses a solution file. hasPenalty is false when the file has
// no "Penalty = " comment.
func ReadSolution(r io.Reader) (sol coverage.Solution, penalty float64, hasPenalty bool, err error) {
	lines, comments, err := scan(r)
	if err != nil {
		return sol, 0, false, err
	}
	for _, c := range comments {
		k, v, ok := strings.Cut(c, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "penalty") {
			continue
		}
		penalty, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return sol, 0, false, fmt.Errorf("%w: penalty comment: %v", ErrSyntax, err)
		}
		hasPenalty = true
		break
	}
	if len(lines) == 0 {
		return sol, 0, false, fmt.Errorf("%w: missing tower count", ErrSyntax)
	}
	cnt, err := lines[0].ints(1)
	if err != nil {
		return sol, 0, false, err
	}
	if cnt[0] < 0 || len(lines)-1 < cnt[0] {
		return sol, 0, false, fmt.Errorf("%w: header promises %d towers, file has %d", ErrSyntax, cnt[0], len(lines)-1)
	}
	sol.Towers = make([]grid.Point, 0, cnt[0])
	for _, l := range lines[1 : 1+cnt[0]] {
		xy, err := l.ints(2)
		if err != nil {
			return sol, 0, false, err
		}
		sol.Towers = append(sol.Towers, grid.Point{X: xy[0], Y: xy[1]})
	}
	return sol, penalty, hasPenalty, nil
}

func ReadSolutionFile(path string) (coverage.Solution, float64, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return coverage.Solution{}, 0, false, err
	}
	defer f.Close()
	return ReadSolution(f)
}

// WriteSolutionIfBetter replaces path only when it is missing, carries no
// penalty, or records a penalty strictly higher than penalty. The write goes
// through a temporary file so a crash never leaves a truncated solution.
func WriteSolutionIfBetter(path string, sol coverage.Solution, penalty float64) (bool, error) {
	_, existing, has, err := ReadSolutionFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil && !errors.Is(err, ErrSyntax):
		return false, err
	case err == nil && has && penalty >= existing:
		return false, nil
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return false, err
	}
	defer os.Remove(tmp.Name())
	if err := WriteSolution(tmp, sol, penalty); err != nil {
		tmp.Close()
		return false, err
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, err
	}
	return true, nil
}
