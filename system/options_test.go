package system

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	data := []byte(`
max_iterations: 20
abs_tol: 1.0e-11
line_search: true
workers: 4
partitioning: graph
eigen:
  shift: 1.5
`)
	opts, err := ParseOptions(data)
	require.NoError(t, err)

	want := DefaultOptions()
	want.MaxIterations = 20
	want.AbsTol = 1e-11
	want.LineSearch = true
	want.Workers = 4
	want.Partitioning = "graph"
	want.Eigen.Shift = 1.5
	if diff := cmp.Diff(want, opts, cmpopts.IgnoreFields(Options{}, "Logger")); diff != "" {
		t.Errorf("ParseOptions mismatch (-want +got):\n%s", diff)
	}

	_, err = ParseOptions([]byte("workers: [1, 2"))
	assert.Error(t, err)
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("linear: true\nquadrature_points: 6\n"), 0o644))
	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.True(t, opts.Linear)
	assert.Equal(t, 6, opts.QuadraturePoints)
	assert.Equal(t, DefaultOptions().MaxIterations, opts.MaxIterations)

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWithDefaults(t *testing.T) {
	opts := Options{Workers: -3, RelTol: 1e-6}.withDefaults()
	assert.Equal(t, 1, opts.Workers)
	assert.Equal(t, 1e-6, opts.RelTol)
	assert.Equal(t, "block", opts.Partitioning)
	assert.NotNil(t, opts.Logger)

	_, _, err := SolveStatic(newBeam(t, 2, 1, testProps, false),
		cantilever(2, [6]float64{1: 1}), nil, Options{Partitioning: "spiral"}, nil)
	assert.Error(t, err)
}
