package system

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Options controls the nonlinear solver and the residual assembly
type Options struct {
	// Linear evaluates the small-deformation residual. The Newton iteration
	// then converges in one step.
	Linear bool `yaml:"linear"`

	// Newton convergence: ‖R‖∞ <= AbsTol, or ‖R‖∞ <= RelTol·‖R₀‖∞ after the
	// first update, where R₀ is the residual at the start of the solve
	MaxIterations int     `yaml:"max_iterations"`
	AbsTol        float64 `yaml:"abs_tol"`
	RelTol        float64 `yaml:"rel_tol"`

	// LineSearch halves Newton updates that increase the residual norm
	LineSearch bool `yaml:"line_search"`

	// Workers evaluating element blocks concurrently, and how elements are
	// grouped among them ("block", "round-robin" or "graph")
	Workers      int    `yaml:"workers"`
	Partitioning string `yaml:"partitioning"`

	// QuadraturePoints per element for non-uniform distributed loads
	QuadraturePoints int `yaml:"quadrature_points"`

	// Time at which static conditions and loads are evaluated
	Time float64 `yaml:"time"`

	Eigen EigenOptions `yaml:"eigen"`

	// Logger receives solver progress; nil disables logging
	Logger *zap.Logger `yaml:"-"`
}

// EigenOptions controls the generalized eigen-analysis
type EigenOptions struct {
	// Shift σ of the shift-invert transform. Eigenvalues nearest σ are
	// returned first.
	Shift float64 `yaml:"shift"`

	// Filter discards transformed eigenvalues |μ| < Filter·max|μ|; these are
	// the infinite eigenvalues of algebraic constraints
	Filter float64 `yaml:"filter"`

	// SkipEquilibrium linearizes about the current state instead of first
	// solving for static equilibrium
	SkipEquilibrium bool `yaml:"skip_equilibrium"`
}

// DefaultOptions returns the solver defaults
func DefaultOptions() Options {
	return Options{
		MaxIterations:    100,
		AbsTol:           1e-9,
		RelTol:           1e-10,
		Workers:          1,
		Partitioning:     "block",
		QuadraturePoints: 4,
		Eigen: EigenOptions{
			Filter: 1e-9,
		},
	}
}

// withDefaults fills zero valued fields from DefaultOptions
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.AbsTol <= 0 {
		o.AbsTol = d.AbsTol
	}
	if o.RelTol <= 0 {
		o.RelTol = d.RelTol
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Partitioning == "" {
		o.Partitioning = d.Partitioning
	}
	if o.QuadraturePoints <= 0 {
		o.QuadraturePoints = d.QuadraturePoints
	}
	if o.Eigen.Filter <= 0 {
		o.Eigen.Filter = d.Eigen.Filter
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ParseOptions decodes YAML on top of DefaultOptions
func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("failed to parse options: %w", err)
	}
	return opts, nil
}

// LoadOptions reads YAML options from a file
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read options: %w", err)
	}
	return ParseOptions(data)
}
