package system

import (
	"errors"
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// newtonProblem is one nonlinear solve R(x) = 0 on the System unknowns
type newtonProblem struct {
	ctx  *evalContext
	mode jacMode

	// setRates refreshes ctx.xdot from a trial x; nil keeps ctx.xdot fixed
	setRates func(x []float64)
}

func (p *newtonProblem) residual(s *System, x, R []float64) (float64, error) {
	if p.setRates != nil {
		p.setRates(x)
	}
	if err := s.assemble(p.ctx, x, R, nil, p.mode); err != nil {
		return math.NaN(), err
	}
	return floats.Norm(R, math.Inf(1)), nil
}

// jacobian returns the dense Jacobian at x, densified from the fixed CSR pattern
func (s *System) jacobian(ctx *evalContext, x []float64, mode jacMode) (*mat.Dense, error) {
	data := make([]float64, s.pat.nnz)
	R := make([]float64, s.lay.n)
	if err := s.assemble(ctx, x, R, data, mode); err != nil {
		return nil, err
	}
	return sparse.NewCSR(s.lay.n, s.lay.n, s.pat.ia, s.pat.ja, data).ToDense(), nil
}

// newton iterates x ← x - J⁻¹R(x) on s.x in place. Non-convergence is
// reported in the Result with s.x left at the last iterate; only a singular
// first factorization is an error. Later iterations solve through an
// ill-conditioned Jacobian and leave the verdict to the residual test.
func (s *System) newton(p *newtonProblem, opts Options) (Result, error) {
	log := opts.Logger.With(zap.String("system", s.id.String()))
	n := s.lay.n
	x := s.x
	R := make([]float64, n)
	dx := make([]float64, n)
	trial := make([]float64, n)
	Rtrial := make([]float64, n)

	var (
		res    Result
		r0     float64
		lu     equilibratedLU
		rhs    = mat.NewVecDense(n, nil)
		update = mat.NewVecDense(n, dx)
	)
	norm, err := p.residual(s, x, R)
	if err != nil {
		log.Warn("residual evaluation failed", zap.Error(err))
		res.Residual = norm
		return res, nil
	}
	r0 = norm

	for it := 0; ; it++ {
		res.Residual = norm
		log.Debug("newton iteration", zap.Int("iteration", it), zap.Float64("residual", norm))
		if norm <= opts.AbsTol || (it > 0 && norm <= opts.RelTol*r0) {
			res.Converged = true
			return res, nil
		}
		if it == opts.MaxIterations {
			log.Warn("newton did not converge",
				zap.Int("iterations", it), zap.Float64("residual", norm), zap.Float64("initial", r0))
			return res, nil
		}

		J, err := s.jacobian(p.ctx, x, p.mode)
		if err != nil {
			log.Warn("jacobian evaluation failed", zap.Error(err))
			return res, nil
		}
		lu.Factorize(J)
		if it == 0 && lu.Singular() {
			return res, fmt.Errorf("%w: equilibrated condition estimate %g", ErrStructurallySingular, lu.Cond())
		}
		for i := range R {
			rhs.SetVec(i, -R[i])
		}
		if err := lu.SolveVecTo(update, false, rhs); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return res, err
			}
			log.Debug("ill-conditioned jacobian", zap.Int("iteration", it), zap.Float64("condition", float64(cond)))
		}
		// the solve may leave dx in a different backing array
		copy(dx, update.RawVector().Data)
		if !finite(dx) {
			log.Warn("singular jacobian", zap.Int("iteration", it), zap.Float64("condition", lu.Cond()))
			return res, nil
		}

		alpha := 1.0
		floats.AddScaledTo(trial, x, alpha, dx)
		tnorm, terr := p.residual(s, trial, Rtrial)
		if opts.LineSearch {
			for (terr != nil || tnorm > norm) && alpha > 1.0/256 {
				alpha /= 2
				floats.AddScaledTo(trial, x, alpha, dx)
				tnorm, terr = p.residual(s, trial, Rtrial)
			}
		}
		copy(x, trial)
		res.Iterations++
		if terr != nil {
			log.Warn("residual evaluation failed", zap.Error(terr))
			res.Residual = math.NaN()
			return res, nil
		}
		norm = tnorm
		copy(R, Rtrial)
	}
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
