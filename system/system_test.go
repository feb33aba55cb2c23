package system

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/BeamKernel/assembly"
	"github.com/notargets/BeamKernel/boundary"
	"github.com/notargets/BeamKernel/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// section stiffness and mass per unit length; a zero shear stiffness makes
// shear rigid
type beamProps struct {
	EA, GA, GJ, EI2, EI3 float64
	m, i1, i2, i3        float64
}

var testProps = beamProps{
	EA: 1e6, GA: 1e5, GJ: 1, EI2: 2, EI3: 1,
	m: 1, i1: 2e-4, i2: 1e-4, i3: 1e-4,
}

func inv(v float64) float64 {
	if v == 0 {
		return 0
	}
	return 1 / v
}

func diag6(v ...float64) *mat.Dense {
	m := mat.NewDense(6, 6, nil)
	for i, x := range v {
		m.Set(i, i, x)
	}
	return m
}

func (p beamProps) compliance() *mat.Dense {
	return diag6(inv(p.EA), inv(p.GA), inv(p.GA), inv(p.GJ), inv(p.EI2), inv(p.EI3))
}

func (p beamProps) inverseMass() *mat.Dense {
	return diag6(inv(p.m), inv(p.m), inv(p.m), inv(p.i1), inv(p.i2), inv(p.i3))
}

// beamConfig describes n equal elements from the origin along x
func beamConfig(n int, L float64, props beamProps, withMass bool) assembly.Config {
	cfg := assembly.Config{
		Points:     make([]r3.Vec, n+1),
		Endpoints:  make([][2]int, n),
		Compliance: make([]mat.Matrix, n),
	}
	if withMass {
		cfg.InverseMass = make([]mat.Matrix, n)
	}
	for i := range cfg.Points {
		cfg.Points[i] = r3.Vec{X: L * float64(i) / float64(n)}
	}
	for e := 0; e < n; e++ {
		cfg.Endpoints[e] = [2]int{e, e + 1}
		cfg.Compliance[e] = props.compliance()
		if withMass {
			cfg.InverseMass[e] = props.inverseMass()
		}
	}
	return cfg
}

func newBeam(t testing.TB, n int, L float64, props beamProps, withMass bool) *assembly.Assembly {
	t.Helper()
	asm, err := assembly.New(beamConfig(n, L, props, withMass))
	require.NoError(t, err)
	return asm
}

// cantilever clamps point 0 and loads point tip
func cantilever(tip int, load [6]float64) boundary.Conditions {
	return boundary.Conditions{
		0:   boundary.Clamped(),
		tip: boundary.PointLoad(load),
	}
}

func tightOptions() Options {
	opts := DefaultOptions()
	opts.AbsTol = 1e-12
	opts.RelTol = 1e-14
	opts.LineSearch = true
	return opts
}

func TestCantileverEndMomentSweep(t *testing.T) {
	const (
		n  = 40
		L  = 1.0
		EI = 1.0
	)
	asm := newBeam(t, n, L, testProps, false)
	var sys *System
	for _, frac := range []float64{0.25, 0.5, 0.75, 0.9} {
		M := frac * math.Pi * EI / L
		conds := cantilever(n, [6]float64{0, 0, 0, 0, 0, M})
		var (
			res Result
			err error
		)
		sys, res, err = SolveStatic(asm, conds, nil, tightOptions(), sys)
		require.NoError(t, err)
		require.Truef(t, res.Converged, "moment %g: residual %g", M, res.Residual)

		st, err := ExtractState(sys, asm, conds)
		require.NoError(t, err)
		rho := EI / M
		for p, ps := range st.Points {
			s := L * float64(p) / n
			x := s + ps.U[0]
			y := ps.U[1]
			assert.InDeltaf(t, rho*math.Sin(s/rho), x, 1e-3, "moment %g point %d x", M, p)
			assert.InDeltaf(t, rho*(1-math.Cos(s/rho)), y, 1e-3, "moment %g point %d y", M, p)
			assert.InDeltaf(t, s/rho, ps.Theta[2], 1e-8, "moment %g point %d rotation", M, p)
			assert.InDelta(t, 0, ps.U[2], 1e-12)
		}
		for e, es := range st.Elements {
			assert.InDeltaf(t, M, es.M[2], 1e-8, "element %d moment", e)
			assert.InDeltaf(t, M/EI, es.Curvature[2], 1e-8, "element %d curvature", e)
			assert.InDeltaSlice(t, []float64{0, 0, 0}, es.F[:], 1e-8)
		}
	}
}

func TestDiscretizationConvergence(t *testing.T) {
	const M = 0.5 * math.Pi
	rho := 1 / M
	want := r3.Vec{X: rho * math.Sin(1/rho), Y: rho * (1 - math.Cos(1/rho))}
	prev := math.Inf(1)
	for _, n := range []int{4, 8, 16, 32} {
		asm := newBeam(t, n, 1, testProps, false)
		conds := cantilever(n, [6]float64{5: M})
		sys, res, err := SolveStatic(asm, conds, nil, tightOptions(), nil)
		require.NoError(t, err)
		require.True(t, res.Converged)
		st, err := ExtractState(sys, asm, conds)
		require.NoError(t, err)
		tip := st.Points[n]
		got := r3.Vec{X: 1 + tip.U[0], Y: tip.U[1]}
		dev := r3.Norm(r3.Sub(got, want))
		assert.Lessf(t, dev, prev, "%d elements", n)
		prev = dev
	}
	assert.Less(t, prev, 1e-3)
}

func TestLinearMatchesNonlinearForSmallLoad(t *testing.T) {
	const n = 10
	asm := newBeam(t, n, 1, testProps, false)
	// tip deflection about 1e-7 of the length
	conds := cantilever(n, [6]float64{1: 3e-7, 2: -1e-7, 3: 1e-8})

	opts := tightOptions()
	opts.AbsTol = 1e-15
	nonlinear, res, err := SolveStatic(asm, conds, nil, opts, nil)
	require.NoError(t, err)
	require.True(t, res.Converged)

	opts.Linear = true
	linear, res, err := SolveStatic(asm, conds, nil, opts, nil)
	require.NoError(t, err)
	require.True(t, res.Converged)
	assert.LessOrEqual(t, res.Iterations, 1)

	a, err := ExtractState(nonlinear, asm, conds)
	require.NoError(t, err)
	b, err := ExtractState(linear, asm, conds)
	require.NoError(t, err)
	scale := 0.0
	for _, ps := range b.Points {
		for i := 0; i < 3; i++ {
			scale = math.Max(scale, math.Abs(ps.U[i]))
		}
	}
	require.Greater(t, scale, 0.0)
	for p := range a.Points {
		assert.InDeltaSlicef(t, b.Points[p].U[:], a.Points[p].U[:], 1e-6*scale, "point %d", p)
		assert.InDeltaSlicef(t, b.Points[p].Theta[:], a.Points[p].Theta[:], 1e-6*scale, "point %d", p)
	}
}

func TestReactionsBalanceLoads(t *testing.T) {
	const n = 10
	asm := newBeam(t, n, 1, testProps, false)
	f := [3]float64{0.1, 0.5, 0.2}
	m := [3]float64{0.1, 0, -0.05}
	conds := cantilever(n, [6]float64{f[0], f[1], f[2], m[0], m[1], m[2]})
	sys, res, err := SolveStatic(asm, conds, nil, tightOptions(), nil)
	require.NoError(t, err)
	require.True(t, res.Converged)

	st, err := ExtractState(sys, asm, conds)
	require.NoError(t, err)
	root, tip := st.Points[0], st.Points[n]
	assert.InDeltaSlice(t, f[:], tip.F[:], 1e-14)
	assert.InDeltaSlice(t, []float64{-f[0], -f[1], -f[2]}, root.F[:], 1e-9)

	arm := r3.Vec{X: 1 + tip.U[0], Y: tip.U[1], Z: tip.U[2]}
	moment := r3.Add(r3.Cross(arm, r3.Vec{X: f[0], Y: f[1], Z: f[2]}), r3.Vec{X: m[0], Y: m[1], Z: m[2]})
	assert.InDeltaSlice(t, []float64{-moment.X, -moment.Y, -moment.Z}, root.M[:], 1e-9)
	assert.Greater(t, tip.U[1], 0.05, "load should bend the beam visibly")
}

func TestWarmStartConvergesImmediately(t *testing.T) {
	const n = 8
	asm := newBeam(t, n, 1, testProps, false)
	conds := cantilever(n, [6]float64{1: 0.8, 5: 0.3})
	sys, res, err := SolveStatic(asm, conds, nil, tightOptions(), nil)
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Greater(t, res.Iterations, 1)

	res, err = sys.SolveStatic(asm, conds, nil, tightOptions())
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.LessOrEqual(t, res.Iterations, 1)
	assert.LessOrEqual(t, res.Residual, 1e-12)
}

func TestEliminatedPointsMatchKeptPoints(t *testing.T) {
	const n = 8
	asm := newBeam(t, n, 1, testProps, false)
	conds := cantilever(n, [6]float64{1: 0.6, 2: 0.2, 3: 0.1, 5: 0.4})
	loads := boundary.DistributedLoads{}
	loads.Add(3, boundary.Uniform(boundary.Global, [6]float64{2: -0.5}))

	full, res, err := SolveStatic(asm, conds, loads, tightOptions(), nil)
	require.NoError(t, err)
	require.True(t, res.Converged)

	reduced, err := New(asm, []int{0, n}, false)
	require.NoError(t, err)
	assert.Equal(t, n*12+2*6, reduced.Size())
	assert.Equal(t, n*12+(n+1)*6, full.Size())
	res, err = reduced.SolveStatic(asm, conds, loads, tightOptions())
	require.NoError(t, err)
	require.True(t, res.Converged)

	a, err := ExtractState(full, asm, conds)
	require.NoError(t, err)
	b, err := ExtractState(reduced, asm, conds)
	require.NoError(t, err)
	for p := range a.Points {
		assert.InDeltaSlicef(t, a.Points[p].U[:], b.Points[p].U[:], 1e-8, "point %d", p)
		assert.InDeltaSlicef(t, a.Points[p].Theta[:], b.Points[p].Theta[:], 1e-8, "point %d", p)
	}
	for e := range a.Elements {
		assert.InDeltaSlicef(t, a.Elements[e].F[:], b.Elements[e].F[:], 1e-6, "element %d", e)
		assert.InDeltaSlicef(t, a.Elements[e].M[:], b.Elements[e].M[:], 1e-7, "element %d", e)
	}

	var verr *ValidationError
	bad := cantilever(n, [6]float64{1: 1})
	bad[3] = boundary.PointLoad([6]float64{1: 1})
	_, err = reduced.SolveStatic(asm, bad, nil, tightOptions())
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 3, verr.Point)
}

func TestJunctionOfThreeBeams(t *testing.T) {
	// a T joint: two collinear arms and one stem meeting at point 2
	cfg := assembly.Config{
		Points: []r3.Vec{
			{X: 0}, {X: 0.5}, {X: 1}, {X: 1.5}, {X: 2},
			{X: 1, Y: 0.5}, {X: 1, Y: 1},
		},
		Endpoints: [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {2, 5}, {5, 6}},
	}
	for range cfg.Endpoints {
		cfg.Compliance = append(cfg.Compliance, testProps.compliance())
	}
	asm, err := assembly.New(cfg)
	require.NoError(t, err)
	conds := boundary.Conditions{
		0: boundary.Clamped(),
		4: boundary.Clamped(),
		6: boundary.PointLoad([6]float64{0, 0, -0.2, 0, 0, 0}),
	}
	for _, kept := range [][]int{nil, {0, 4, 6}} {
		sys, err := New(asm, kept, false)
		require.NoError(t, err)
		res, err := sys.SolveStatic(asm, conds, nil, tightOptions())
		require.NoError(t, err)
		require.True(t, res.Converged)
		st, err := ExtractState(sys, asm, conds)
		require.NoError(t, err)

		// the reactions of the two clamps carry the stem load, symmetrically
		r0, r4 := st.Points[0], st.Points[4]
		assert.InDelta(t, 0.2, r0.F[2]+r4.F[2], 1e-9)
		assert.InDelta(t, r0.F[2], r4.F[2], 1e-9)
		assert.Less(t, st.Points[6].U[2], st.Points[2].U[2])
	}
}

func TestWorkersDoNotChangeResults(t *testing.T) {
	const n = 12
	asm := newBeam(t, n, 1, testProps, false)
	conds := cantilever(n, [6]float64{1: 0.7, 2: -0.3, 3: 0.2})
	loads := boundary.DistributedLoads{}
	for e := 0; e < n; e++ {
		loads.Add(e, boundary.Varying(boundary.Follower, func(xi, t float64) [6]float64 {
			return [6]float64{2: 0.1 * xi}
		}))
	}
	serial, res, err := SolveStatic(asm, conds, loads, tightOptions(), nil)
	require.NoError(t, err)
	require.True(t, res.Converged)

	for _, strategy := range []string{"block", "round-robin", "graph"} {
		opts := tightOptions()
		opts.Workers = 4
		opts.Partitioning = strategy
		parallel, res, err := SolveStatic(asm, conds, loads, opts, nil)
		require.NoError(t, err)
		require.True(t, res.Converged)
		assert.Equalf(t, serial.X(), parallel.X(), "strategy %s", strategy)
	}
}

func rotateFrame(q, f utils.Frame) utils.Frame {
	var out utils.Frame
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += q[i][k] * f[k][j]
			}
		}
	}
	return out
}

func TestRigidBodyInvariance(t *testing.T) {
	const n = 8
	f := [6]float64{0.2, 0.4, -0.3, 0.05, 0.1, 0.2}
	base := beamConfig(n, 1, testProps, false)
	asm := newBeam(t, n, 1, testProps, false)
	conds := cantilever(n, f)
	sys, res, err := SolveStatic(asm, conds, nil, tightOptions(), nil)
	require.NoError(t, err)
	require.True(t, res.Converged)
	want, err := ExtractState(sys, asm, conds)
	require.NoError(t, err)

	q := utils.RotationMatrix(utils.Vec3{0.3, -0.8, 1.1}).Real()
	shift := r3.Vec{X: 3, Y: -1, Z: 2}
	cfg := base
	cfg.Points = make([]r3.Vec, len(base.Points))
	cfg.Frames = make([]utils.Frame, n)
	for i, p := range base.Points {
		v := q.MulVec([3]float64{p.X, p.Y, p.Z})
		cfg.Points[i] = r3.Add(r3.Vec{X: v[0], Y: v[1], Z: v[2]}, shift)
	}
	for e := range cfg.Frames {
		cfg.Frames[e] = rotateFrame(q, utils.FrameFromDirection(r3.Vec{X: 1}))
	}
	moved, err := assembly.New(cfg)
	require.NoError(t, err)
	fq := q.MulVec([3]float64{f[0], f[1], f[2]})
	mq := q.MulVec([3]float64{f[3], f[4], f[5]})
	movedConds := cantilever(n, [6]float64{fq[0], fq[1], fq[2], mq[0], mq[1], mq[2]})
	sys2, res, err := SolveStatic(moved, movedConds, nil, tightOptions(), nil)
	require.NoError(t, err)
	require.True(t, res.Converged)
	got, err := ExtractState(sys2, moved, movedConds)
	require.NoError(t, err)

	for e := range want.Elements {
		a, b := want.Elements[e], got.Elements[e]
		assert.InDeltaSlicef(t, a.F[:], b.F[:], 1e-6, "element %d force", e)
		assert.InDeltaSlicef(t, a.M[:], b.M[:], 1e-7, "element %d moment", e)
		assert.InDeltaSlicef(t, a.Strain[:], b.Strain[:], 1e-9, "element %d strain", e)
		assert.InDeltaSlicef(t, a.Curvature[:], b.Curvature[:], 1e-7, "element %d curvature", e)
	}
	for p := range want.Points {
		u := q.MulVec(want.Points[p].U)
		assert.InDeltaSlicef(t, u[:], got.Points[p].U[:], 1e-8, "point %d displacement", p)
	}
}

func TestNonConvergenceIsReported(t *testing.T) {
	const n = 6
	asm := newBeam(t, n, 1, testProps, false)
	conds := cantilever(n, [6]float64{1: 20})
	opts := DefaultOptions()
	opts.MaxIterations = 1
	sys, res, err := SolveStatic(asm, conds, nil, opts, nil)
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assert.Greater(t, res.Residual, opts.AbsTol)
	assert.NotEqual(t, make([]float64, sys.Size()), sys.X(), "last iterate is kept")
}

func TestUnconstrainedAssemblyIsSingular(t *testing.T) {
	const n = 4
	asm := newBeam(t, n, 1, testProps, false)
	conds := boundary.Conditions{n: boundary.PointLoad([6]float64{1: 1})}
	_, _, err := SolveStatic(asm, conds, nil, DefaultOptions(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStructurallySingular), "got %v", err)
}

func TestInputValidation(t *testing.T) {
	asm := newBeam(t, 4, 1, testProps, false)
	other := newBeam(t, 5, 1, testProps, false)
	sys, err := New(asm, nil, false)
	require.NoError(t, err)

	_, err = sys.SolveStatic(other, cantilever(5, [6]float64{1: 1}), nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrAssemblyMismatch)

	var berr *boundary.ValidationError
	_, err = sys.SolveStatic(asm, boundary.Conditions{9: boundary.Clamped()}, nil, DefaultOptions())
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 9, berr.Index)

	loads := boundary.DistributedLoads{}
	loads.Add(7, boundary.Uniform(boundary.Global, [6]float64{1: 1}))
	_, err = sys.SolveStatic(asm, cantilever(4, [6]float64{}), loads, DefaultOptions())
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 7, berr.Index)

	_, err = New(asm, nil, true)
	assert.ErrorIs(t, err, ErrNotDynamic)

	_, err = sys.AdvanceTimeStep(asm, cantilever(4, [6]float64{}), nil, 0.1, DefaultOptions())
	assert.ErrorIs(t, err, ErrNotDynamic)

	_, err = New(asm, []int{12}, false)
	assert.Error(t, err)

	_, err = LeftEigenvectors(sys, nil, nil)
	assert.ErrorIs(t, err, ErrNoOperator)
}

func TestSnapshotRestore(t *testing.T) {
	const n = 6
	asm := newBeam(t, n, 1, testProps, false)
	sys, _, err := SolveStatic(asm, cantilever(n, [6]float64{1: 0.3}), nil, tightOptions(), nil)
	require.NoError(t, err)
	snap := sys.Snapshot()
	want := sys.X()

	_, err = sys.SolveStatic(asm, cantilever(n, [6]float64{2: -0.5}), nil, tightOptions())
	require.NoError(t, err)
	require.NotEqual(t, want, sys.X())

	require.NoError(t, sys.Restore(snap))
	assert.Equal(t, want, sys.X())

	other, err := New(newBeam(t, n+1, 1, testProps, false), nil, false)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Restore(snap), ErrAssemblyMismatch)

	sys.Reset()
	assert.Equal(t, make([]float64, sys.Size()), sys.X())
	assert.Zero(t, sys.Time())
}

func TestSizeAndPattern(t *testing.T) {
	const n = 5
	asm := newBeam(t, n, 1, testProps, true)
	static, err := New(asm, nil, false)
	require.NoError(t, err)
	dynamic, err := New(asm, nil, true)
	require.NoError(t, err)
	assert.Equal(t, 12*n+6*(n+1), static.Size())
	assert.Equal(t, 18*n+12*(n+1), dynamic.Size())
	assert.True(t, dynamic.Dynamic())
	assert.Less(t, static.NonZeros(), static.Size()*static.Size())
	assert.NotEqual(t, static.ID(), dynamic.ID())
}
