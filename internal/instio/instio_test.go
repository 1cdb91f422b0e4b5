package instio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"towerplan/internal/coverage"
	"towerplan/internal/grid"
)

const sample = `# Small instance
# generated by hand
3
30
3
8
1 2
10 10
29 0
`

func TestReadInstance(t *testing.T) {
	inst, err := ReadInstance(strings.NewReader(sample))
	require.NoError(t, err)
	require.Equal(t, 30, inst.Dim)
	require.Equal(t, 3, inst.ServiceRadius)
	require.Equal(t, 8, inst.PenaltyRadius)
	require.Equal(t, []grid.Point{{X: 1, Y: 2}, {X: 10, Y: 10}, {X: 29, Y: 0}}, inst.Cities)

	var buf bytes.Buffer
	require.NoError(t, WriteInstance(&buf, inst))
	again, err := ReadInstance(&buf)
	require.NoError(t, err)
	require.Equal(t, inst.Cities, again.Cities)
}

func TestReadInstanceErrors(t *testing.T) {
	cases := map[string]struct {
		in   string
		want error
	}{
		"short header":   {"3\n30\n", ErrSyntax},
		"missing cities": {"3\n30\n3\n8\n1 2\n", ErrSyntax},
		"bad number":     {"1\n30\nthree\n8\n1 2\n", ErrSyntax},
		"off grid":       {"1\n30\n3\n8\n30 2\n", grid.ErrOutOfBounds},
		"duplicate":      {"2\n30\n3\n8\n1 2\n1 2\n", grid.ErrDuplicateCity},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadInstance(strings.NewReader(tc.in))
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestSolutionFile(t *testing.T) {
	sol := coverage.Solution{Towers: []grid.Point{{X: 4, Y: 4}, {X: 20, Y: 1}}}
	var buf bytes.Buffer
	require.NoError(t, WriteSolution(&buf, sol, 340.5))
	require.True(t, strings.HasPrefix(buf.String(), "# Penalty = 340.5\n2\n"))

	got, p, has, err := ReadSolution(&buf)
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, 340.5, p)
	require.Equal(t, sol, got)

	got, _, has, err = ReadSolution(strings.NewReader("1\n3 3\n"))
	require.NoError(t, err)
	require.False(t, has)
	require.Equal(t, []grid.Point{{X: 3, Y: 3}}, got.Towers)
}

func TestWriteSolutionIfBetter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "001.out")
	a := coverage.Solution{Towers: []grid.Point{{X: 1, Y: 1}}}
	b := coverage.Solution{Towers: []grid.Point{{X: 2, Y: 2}}}

	wrote, err := WriteSolutionIfBetter(path, a, 500)
	require.NoError(t, err)
	require.True(t, wrote)

	wrote, err = WriteSolutionIfBetter(path, b, 500)
	require.NoError(t, err)
	require.False(t, wrote, "equal penalty must not overwrite")

	wrote, err = WriteSolutionIfBetter(path, b, 499.9)
	require.NoError(t, err)
	require.True(t, wrote)

	got, p, _, err := ReadSolutionFile(path)
	require.NoError(t, err)
	require.Equal(t, b, got)
	require.Equal(t, 499.9, p)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files must be cleaned up")
}
