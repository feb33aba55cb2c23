package system

import (
	"fmt"

	"github.com/notargets/BeamKernel/assembly"
	"github.com/notargets/BeamKernel/boundary"
	"github.com/notargets/BeamKernel/element"
	"github.com/notargets/BeamKernel/utils"
)

// PointState is the state of one connection point in the global frame
type PointState struct {
	U, Theta [3]float64 // displacement and rotation vector

	// F, M are the external force and moment acting on the point: prescribed
	// loads on load DOFs, reactions on displacement DOFs
	F, M [3]float64

	// Linear and angular velocity. Eliminated points take the rate of their
	// recovered displacement and rotation.
	V, Omega [3]float64
}

// ElementState is the state at the center of one element
type ElementState struct {
	U, Theta [3]float64 // displacement and rotation vector, global frame

	// Resultants and the quantities derived from them, deformed local frame
	F, M              [3]float64
	Strain, Curvature [3]float64
	P, H              [3]float64
	V, Omega          [3]float64
}

// AssemblyState is the post-processed state of an assembly
type AssemblyState struct {
	Time     float64
	Points   []PointState
	Elements []ElementState
}

func vec3(s []float64) [3]float64 { return [3]float64{s[0], s[1], s[2]} }

// ExtractState reads the stored state of sys into per-point and per-element
// quantities. conds must be the conditions of the last solve; they supply the
// prescribed values that have no unknowns. Eliminated points are recovered
// from the compatibility of their lower numbered element.
func ExtractState(sys *System, asm *assembly.Assembly, conds boundary.Conditions) (*AssemblyState, error) {
	if sys == nil {
		return nil, ErrAssemblyMismatch
	}
	if err := sys.checkInputs(asm, conds, nil); err != nil {
		return nil, err
	}
	ctx, err := sys.stateContext(asm, conds)
	if err != nil {
		return nil, err
	}
	l := sys.lay
	x := sys.x
	st := &AssemblyState{
		Time:     sys.time,
		Points:   make([]PointState, asm.NumPoints()),
		Elements: make([]ElementState, asm.NumElements()),
	}

	for e := range st.Elements {
		el := asm.Element(e)
		es := &st.Elements[e]
		base := x[l.elemOffset[e]:]
		es.U, es.Theta = vec3(base[element.IU:]), vec3(base[element.IT:])
		es.F, es.M = vec3(base[element.IF:]), vec3(base[element.IM:])
		es.Strain, es.Curvature = el.StrainCurvature(es.F, es.M)
		if !sys.dynamic {
			continue
		}
		es.P, es.H = vec3(base[element.IP:]), vec3(base[element.IH:])
		es.V, es.Omega = el.Velocities(es.P, es.H)
	}

	ws := newWorkspace()
	res := make([]float64, element.NumResidual)
	for p := range st.Points {
		ps := &st.Points[p]
		switch l.role[p] {
		case roleKept:
			cond := &ctx.points[p]
			base := x[l.pointOffset[p]:]
			var state, load [6]float64
			for d := 0; d < 6; d++ {
				if cond.kind[d] == boundary.Load {
					state[d] = base[d]
					load[d] = cond.value[d]
				} else {
					state[d] = cond.value[d]
					load[d] = base[d]
				}
			}
			ff, fm := utils.VecFrom(vec3(cond.follower[0:])), utils.VecFrom(vec3(cond.follower[3:]))
			if !sys.linear {
				R := utils.RotationMatrix(utils.VecFrom(vec3(state[3:])))
				ff, fm = R.MulVec(ff), R.MulVec(fm)
			}
			ps.U, ps.Theta = vec3(state[0:]), vec3(state[3:])
			fr, mr := ff.Real(), fm.Real()
			for i := 0; i < 3; i++ {
				ps.F[i] = load[i] + fr[i]
				ps.M[i] = load[3+i] + mr[i]
			}
			if sys.dynamic {
				ps.V, ps.Omega = vec3(base[pointVel:]), vec3(base[pointVel+3:])
			}
		case roleEliminated:
			e1, k1 := l.primary[p], l.primaryEnd[p]
			cols := l.elemCols[e1]
			nc := len(cols)
			var jac []float64
			if sys.dynamic {
				jac = make([]float64, element.NumResidual*nc)
			}
			if err := sys.evalElement(ctx, e1, x, ws, res, jac, stateJacobian); err != nil {
				return nil, err
			}
			g := res[compatRows[k1]:]
			sign := -endSign(k1)
			for i := 0; i < 3; i++ {
				ps.U[i] = sign * g[i]
				ps.Theta[i] = sign * g[3+i]
			}
			if !sys.dynamic {
				continue
			}
			// d/dt of the recovered state through the compatibility rows
			var rate [6]float64
			for i := range rate {
				r := compatRows[k1] + i
				for c, col := range cols {
					rate[i] += jac[r*nc+c] * sys.xdot[col]
				}
				rate[i] *= sign
			}
			omega := utils.VecFrom(vec3(rate[3:]))
			if !sys.linear {
				omega = utils.LeftTangent(utils.VecFrom(ps.Theta)).MulVec(omega)
			}
			ps.V, ps.Omega = vec3(rate[:]), omega.Real()
		}
	}
	return st, nil
}

// stateContext evaluates conditions at the stored time without loads
func (s *System) stateContext(asm *assembly.Assembly, conds boundary.Conditions) (*evalContext, error) {
	opts := DefaultOptions().withDefaults()
	if s.rulePoints > 0 {
		opts.QuadraturePoints = s.rulePoints
	}
	ctx, err := s.newContext(asm, conds, nil, s.time, opts)
	if err != nil {
		return nil, err
	}
	ctx.linear = s.linear
	copy(ctx.xdot, s.xdot)
	return ctx, nil
}

// PointMode is the complex displacement and rotation of a point in one mode
type PointMode struct {
	U, Theta [3]complex128
}

// ModeShape maps an eigenvector of sys onto the connection points. Prescribed
// DOFs do not move; eliminated points follow from the linearized
// compatibility of their lower numbered element.
func ModeShape(sys *System, asm *assembly.Assembly, conds boundary.Conditions, vector []complex128) ([]PointMode, error) {
	if sys == nil {
		return nil, ErrAssemblyMismatch
	}
	if err := sys.checkInputs(asm, conds, nil); err != nil {
		return nil, err
	}
	l := sys.lay
	if len(vector) != l.n {
		return nil, fmt.Errorf("eigenvector has length %d, want %d", len(vector), l.n)
	}
	ctx, err := sys.stateContext(asm, conds)
	if err != nil {
		return nil, err
	}

	modes := make([]PointMode, asm.NumPoints())
	ws := newWorkspace()
	res := make([]float64, element.NumResidual)
	for p := range modes {
		switch l.role[p] {
		case roleKept:
			base := l.pointOffset[p]
			for d := 0; d < 3; d++ {
				if ctx.points[p].kind[d] == boundary.Load {
					modes[p].U[d] = vector[base+d]
				}
				if ctx.points[p].kind[3+d] == boundary.Load {
					modes[p].Theta[d] = vector[base+3+d]
				}
			}
		case roleEliminated:
			e1, k1 := l.primary[p], l.primaryEnd[p]
			cols := l.elemCols[e1]
			nc := len(cols)
			jac := make([]float64, element.NumResidual*nc)
			if err := sys.evalElement(ctx, e1, sys.x, ws, res, jac, stateJacobian); err != nil {
				return nil, err
			}
			sign := complex(-endSign(k1), 0)
			for i := 0; i < 6; i++ {
				r := compatRows[k1] + i
				var dg complex128
				for c, col := range cols {
					dg += complex(jac[r*nc+c], 0) * vector[col]
				}
				if i < 3 {
					modes[p].U[i] = sign * dg
				} else {
					modes[p].Theta[i-3] = sign * dg
				}
			}
		}
	}
	return modes, nil
}
