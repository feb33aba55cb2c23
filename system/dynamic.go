package system

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/BeamKernel/assembly"
	"github.com/notargets/BeamKernel/boundary"
)

// AdvanceTimeStep integrates the System from Time() to Time()+dt with the
// trapezoidal rule ẏₙ₊₁ = 2/dt·(yₙ₊₁ - yₙ) - ẏₙ on every unknown that carries
// a rate, solving the resulting nonlinear equations with Newton-Raphson.
// Conditions and loads are evaluated at the new time. When the step does not
// converge the time is not advanced and the unknowns hold the last iterate.
//
// The first step takes the stored rates as ẏₙ without solving for rates
// consistent with the conditions at Time(): zero after New, Reset or a
// static solve. Loads that are out of balance at the start therefore act as
// if applied at Time().
func (s *System) AdvanceTimeStep(asm *assembly.Assembly, conds boundary.Conditions,
	loads boundary.DistributedLoads, dt float64, opts Options) (Result, error) {
	if !s.dynamic {
		return Result{}, ErrNotDynamic
	}
	if !(dt > 0) {
		return Result{}, fmt.Errorf("time step must be positive, got %g", dt)
	}
	opts = opts.withDefaults()
	if err := s.checkInputs(asm, conds, loads); err != nil {
		return Result{}, err
	}
	if err := s.ensurePartitions(asm, opts); err != nil {
		return Result{}, err
	}

	if !s.presValid {
		ctx0, err := s.newContext(asm, conds, nil, s.time, opts)
		if err != nil {
			return Result{}, err
		}
		s.presPrev = prescribed(ctx0)
		for p := range s.presRate {
			s.presRate[p] = [6]float64{}
		}
		s.presValid = true
	}

	t1 := s.time + dt
	ctx, err := s.newContext(asm, conds, loads, t1, opts)
	if err != nil {
		return Result{}, err
	}

	a := 2 / dt
	b := make([]float64, len(s.x))
	for k, ok := range s.hasRate {
		if ok {
			b[k] = -a*s.x[k] - s.xdot[k]
		}
	}
	v1 := prescribed(ctx)
	r1 := make([][6]float64, len(v1))
	for p := range v1 {
		for d := 0; d < 6; d++ {
			if ctx.points[p].kind[d] == boundary.Displacement {
				r1[p][d] = a*(v1[p][d]-s.presPrev[p][d]) - s.presRate[p][d]
			}
		}
	}
	ctx.presRate = r1

	setRates := func(x []float64) {
		for k, ok := range s.hasRate {
			if ok {
				ctx.xdot[k] = a*x[k] + b[k]
			}
		}
	}
	problem := &newtonProblem{ctx: ctx, mode: transientJacobian(a), setRates: setRates}
	res, err := s.newton(problem, opts)
	if err != nil || !res.Converged {
		return res, err
	}

	setRates(s.x)
	copy(s.xdot, ctx.xdot)
	s.time, s.linear = t1, opts.Linear
	s.presPrev, s.presRate = v1, r1
	s.eig = nil
	return res, nil
}

// History is the output of a time march
type History struct {
	Times  []float64
	States []*AssemblyState // States[0] is the starting state

	Converged  bool
	FailedStep int     // 1-based index of the step that failed, 0 if none
	FailedTime float64 // target time of the failed step
}

// SolveTimeDomain marches steps time steps of size dt from the System's
// current state and time. A nil sys allocates a dynamic System keeping every
// point, starting at rest in the undeformed configuration. The march starts
// from the stored rates as they are, see AdvanceTimeStep. A step that fails
// to converge ends the march; the History then holds every state computed
// before the failure.
func SolveTimeDomain(asm *assembly.Assembly, dt float64, conds boundary.Conditions,
	loads boundary.DistributedLoads, steps int, opts Options, sys *System) (*System, *History, error) {
	if sys == nil {
		var err error
		if sys, err = New(asm, nil, true); err != nil {
			return nil, nil, err
		}
	}
	if !sys.dynamic {
		return sys, nil, ErrNotDynamic
	}
	opts = opts.withDefaults()

	start, err := ExtractState(sys, asm, conds)
	if err != nil {
		return sys, nil, err
	}
	hist := &History{
		Times:     []float64{sys.time},
		States:    []*AssemblyState{start},
		Converged: true,
	}
	for step := 1; step <= steps; step++ {
		res, err := sys.AdvanceTimeStep(asm, conds, loads, dt, opts)
		if err != nil {
			return sys, hist, fmt.Errorf("step %d: %w", step, err)
		}
		if !res.Converged {
			hist.Converged = false
			hist.FailedStep = step
			hist.FailedTime = sys.time + dt
			opts.Logger.Warn("time step failed",
				zap.String("system", sys.id.String()),
				zap.Int("step", step),
				zap.Float64("time", hist.FailedTime),
				zap.Float64("residual", res.Residual))
			return sys, hist, nil
		}
		state, err := ExtractState(sys, asm, conds)
		if err != nil {
			return sys, hist, err
		}
		hist.Times = append(hist.Times, sys.time)
		hist.States = append(hist.States, state)
	}
	return sys, hist, nil
}
