package system

import (
	"go.uber.org/zap"

	"github.com/notargets/BeamKernel/assembly"
	"github.com/notargets/BeamKernel/boundary"
)

// SolveStatic solves for static equilibrium at opts.Time, warm starting from
// the stored state. On a dynamic System the momenta and velocities converge
// to zero and all rates are cleared.
func (s *System) SolveStatic(asm *assembly.Assembly, conds boundary.Conditions,
	loads boundary.DistributedLoads, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if err := s.checkInputs(asm, conds, loads); err != nil {
		return Result{}, err
	}
	if err := s.ensurePartitions(asm, opts); err != nil {
		return Result{}, err
	}
	ctx, err := s.newContext(asm, conds, loads, opts.Time, opts)
	if err != nil {
		return Result{}, err
	}
	for i := range s.xdot {
		s.xdot[i] = 0
	}
	for p := range s.presRate {
		s.presRate[p] = [6]float64{}
	}

	res, err := s.newton(&newtonProblem{ctx: ctx, mode: stateJacobian}, opts)
	if err != nil {
		return res, err
	}
	s.time, s.linear = opts.Time, opts.Linear
	s.presPrev = prescribed(ctx)
	s.presValid = true
	s.eig = nil

	opts.Logger.Debug("static solve",
		zap.String("system", s.id.String()),
		zap.Bool("converged", res.Converged),
		zap.Int("iterations", res.Iterations),
		zap.Float64("residual", res.Residual))
	return res, nil
}

// SolveStatic solves for static equilibrium of asm. A nil sys allocates a new
// System keeping every point; otherwise sys is warm started and updated in
// place. opts.Linear selects the small-deformation residual.
func SolveStatic(asm *assembly.Assembly, conds boundary.Conditions, loads boundary.DistributedLoads,
	opts Options, sys *System) (*System, Result, error) {
	if sys == nil {
		var err error
		if sys, err = New(asm, nil, false); err != nil {
			return nil, Result{}, err
		}
	}
	res, err := sys.SolveStatic(asm, conds, loads, opts)
	return sys, res, err
}
