// Package system solves the intrinsic beam equations of an assembly: static
// equilibrium, implicit time marching and generalized eigen-analysis, all
// through one Newton-Raphson core over a fixed sparse Jacobian pattern.
package system

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notargets/BeamKernel/assembly"
	"github.com/notargets/BeamKernel/boundary"
	"github.com/notargets/BeamKernel/element"
	"github.com/notargets/BeamKernel/partitions"
	"github.com/notargets/BeamKernel/utils"
)

// System owns the unknown vector of one assembly connectivity and everything
// reused between solves: layout, Jacobian pattern, scratch buffers and the
// last converged state used as the next warm start.
type System struct {
	id        uuid.UUID
	signature uuid.UUID
	dynamic   bool

	lay *layout
	pat *pattern

	x        []float64 // unknowns
	xdot     []float64 // rates of the differentiated unknowns
	hasRate  []bool    // unknowns integrated in time
	time     float64
	linear   bool // residual form of the last solve

	// prescribed displacement history for the time integrator
	presPrev  [][6]float64
	presRate  [][6]float64
	presValid bool

	// partitioned evaluation state, rebuilt when Workers/Partitioning change
	workers   int
	strategy  partitions.PartitionStrategy
	parts     *partitions.PartitionLayout
	connector *utils.PointConnector
	scratch   *partitions.PartitionedArray

	rule       *element.ShapeRule
	rulePoints int

	eig *eigenOperator
}

// Result reports the outcome of one Newton solve
type Result struct {
	Converged  bool
	Iterations int     // Newton updates applied
	Residual   float64 // final ‖R‖∞
}

// New allocates a System for asm. Points listed in kept get their own
// unknowns; any other point joining exactly two elements is eliminated. A nil
// kept slice keeps every point. Points joining one or more than two elements
// are always kept.
func New(asm *assembly.Assembly, kept []int, dynamic bool) (*System, error) {
	if asm == nil {
		return nil, fmt.Errorf("system: nil assembly")
	}
	if dynamic && !asm.HasMass() {
		return nil, fmt.Errorf("%w: assembly has elements without inverse mass", ErrNotDynamic)
	}
	lay, err := newLayout(asm, kept, dynamic)
	if err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}
	nP := asm.NumPoints()
	s := &System{
		id:        uuid.New(),
		signature: asm.Signature(),
		dynamic:   dynamic,
		lay:       lay,
		pat:       newPattern(lay),
		x:         make([]float64, lay.n),
		xdot:      make([]float64, lay.n),
		hasRate:   lay.rateSlots(),
		presPrev:  make([][6]float64, nP),
		presRate:  make([][6]float64, nP),
	}
	return s, nil
}

// ID identifies the System in log output
func (s *System) ID() uuid.UUID { return s.id }

// Dynamic reports whether the System carries momentum and velocity unknowns
func (s *System) Dynamic() bool { return s.dynamic }

// Size returns the number of unknowns
func (s *System) Size() int { return s.lay.n }

// NonZeros returns the number of structural Jacobian entries
func (s *System) NonZeros() int { return s.pat.nnz }

// Time returns the time of the stored state
func (s *System) Time() float64 { return s.time }

// X returns a copy of the unknown vector
func (s *System) X() []float64 { return append([]float64(nil), s.x...) }

// Rates returns a copy of the unknown rates
func (s *System) Rates() []float64 { return append([]float64(nil), s.xdot...) }

// Reset returns the System to the undeformed state at rest at time zero
func (s *System) Reset() {
	for i := range s.x {
		s.x[i], s.xdot[i] = 0, 0
	}
	for p := range s.presPrev {
		s.presPrev[p], s.presRate[p] = [6]float64{}, [6]float64{}
	}
	s.time, s.presValid, s.eig = 0, false, nil
}

// Snapshot is a saved copy of a System's state
type Snapshot struct {
	signature          uuid.UUID
	x, xdot            []float64
	time               float64
	presPrev, presRate [][6]float64
	presValid          bool
}

// Snapshot captures the current state, e.g. before a trial load increment
func (s *System) Snapshot() Snapshot {
	return Snapshot{
		signature: s.signature,
		x:         append([]float64(nil), s.x...),
		xdot:      append([]float64(nil), s.xdot...),
		time:      s.time,
		presPrev:  append([][6]float64(nil), s.presPrev...),
		presRate:  append([][6]float64(nil), s.presRate...),
		presValid: s.presValid,
	}
}

// Restore reinstates a snapshot taken from this System
func (s *System) Restore(snap Snapshot) error {
	if snap.signature != s.signature || len(snap.x) != len(s.x) {
		return fmt.Errorf("restore: %w", ErrAssemblyMismatch)
	}
	copy(s.x, snap.x)
	copy(s.xdot, snap.xdot)
	copy(s.presPrev, snap.presPrev)
	copy(s.presRate, snap.presRate)
	s.time, s.presValid = snap.time, snap.presValid
	s.eig = nil
	return nil
}

// pointCondition is a Condition evaluated at one time
type pointCondition struct {
	kind            [6]boundary.Kind
	value, follower [6]float64
}

// checkInputs validates the analysis inputs against the System layout
func (s *System) checkInputs(asm *assembly.Assembly, conds boundary.Conditions, loads boundary.DistributedLoads) error {
	if asm == nil || asm.Signature() != s.signature {
		return ErrAssemblyMismatch
	}
	if err := conds.Validate(asm.NumPoints()); err != nil {
		return err
	}
	if err := loads.Validate(asm.NumElements()); err != nil {
		return err
	}
	for _, p := range conds.Points() {
		switch s.lay.role[p] {
		case roleEliminated:
			return &ValidationError{Point: p, Msg: "conditions on a point that was not kept"}
		case roleIsolated:
			return &ValidationError{Point: p, Msg: "conditions on a point no element touches"}
		}
	}
	return nil
}

// evalContext holds everything the residual needs besides the unknowns
type evalContext struct {
	asm      *assembly.Assembly
	points   []pointCondition
	loads    []element.LumpedLoads
	presRate [][6]float64
	xdot     []float64
	linear   bool
	dynamic  bool
}

// newContext evaluates conditions and lumps distributed loads at time t
func (s *System) newContext(asm *assembly.Assembly, conds boundary.Conditions,
	loads boundary.DistributedLoads, t float64, opts Options) (*evalContext, error) {
	if s.rule == nil || s.rulePoints != opts.QuadraturePoints {
		rule, err := element.NewShapeRule(opts.QuadraturePoints)
		if err != nil {
			return nil, err
		}
		s.rule, s.rulePoints = rule, opts.QuadraturePoints
	}
	ctx := &evalContext{
		asm:      asm,
		points:   make([]pointCondition, asm.NumPoints()),
		loads:    make([]element.LumpedLoads, asm.NumElements()),
		presRate: s.presRate,
		xdot:     make([]float64, s.lay.n),
		linear:   opts.Linear,
		dynamic:  s.dynamic,
	}
	for p, c := range conds {
		ctx.points[p].kind = c.Kind
		ctx.points[p].value, ctx.points[p].follower = c.Eval(t)
	}
	for _, e := range loads.Elements() {
		el := asm.Element(e)
		ctx.loads[e] = loads.Lump(e, &el, t, s.rule)
	}
	return ctx, nil
}

// prescribed returns the prescribed displacement values of every point at time t
func prescribed(ctx *evalContext) [][6]float64 {
	out := make([][6]float64, len(ctx.points))
	for p, c := range ctx.points {
		for d := 0; d < 6; d++ {
			if c.kind[d] == boundary.Displacement {
				out[p][d] = c.value[d]
			}
		}
	}
	return out
}

// ensurePartitions builds the element partitions used for concurrent evaluation
func (s *System) ensurePartitions(asm *assembly.Assembly, opts Options) error {
	strategy, err := partitions.ParseStrategy(opts.Partitioning)
	if err != nil {
		return err
	}
	if s.parts != nil && s.workers == opts.Workers && s.strategy == strategy {
		return nil
	}

	nE := asm.NumElements()
	target := (nE + opts.Workers - 1) / opts.Workers
	pb := &partitions.PartitionBuilder{
		Mesh: &partitions.Connectivity{
			NumElements: nE,
			EToE:        asm.ElementNeighbors(),
		},
		TargetPartitionSize: target,
		Strategy:            strategy,
	}
	layout, err := pb.BuildPartitions()
	if err != nil {
		return fmt.Errorf("system: %w", err)
	}
	connector, err := utils.NewPointConnector(asm.NumPoints(), s.lay.ends, layout.EToP)
	if err != nil {
		return fmt.Errorf("system: %w", err)
	}
	if err := connector.Verify(); err != nil {
		return fmt.Errorf("system: %w", err)
	}

	sizes := make([]int, nE)
	for e := range sizes {
		sizes[e] = element.NumResidual * (1 + len(s.lay.elemCols[e]))
	}
	s.parts, s.connector = layout, connector
	s.scratch = partitions.AllocatePartitionedArray(layout, sizes)
	s.workers, s.strategy = opts.Workers, strategy

	stats := layout.PartitionStatistics()
	opts.Logger.Debug("partitioned assembly",
		zap.String("system", s.id.String()),
		zap.Stringer("strategy", strategy),
		zap.Int("partitions", stats.NumPartitions),
		zap.Float64("imbalance", stats.Imbalance),
		zap.Int("shared_points", len(connector.SharedPoints)))
	return nil
}
