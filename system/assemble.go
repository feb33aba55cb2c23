package system

import (
	"fmt"
	"math"
	"math/cmplx"

	"golang.org/x/sync/errgroup"

	"github.com/notargets/BeamKernel/boundary"
	"github.com/notargets/BeamKernel/element"
)

// Local Jacobian blocks are taken with the complex-step derivative
// f'(x) = Im f(x + ih)/h, exact to round-off for analytic kernels.
const complexStep = 1e-30

// jacMode selects which derivative the Jacobian holds. Column j is the
// derivative along δx_j = dx, δẋ_j = dxdot, the latter only on unknowns that
// carry a rate.
type jacMode struct {
	dx, dxdot float64
}

var (
	stateJacobian = jacMode{dx: 1}    // ∂R/∂x
	rateJacobian  = jacMode{dxdot: 1} // ∂R/∂ẋ
)

// transientJacobian is ∂R/∂x + a·∂R/∂ẋ for ẋ = a·x + b
func transientJacobian(a float64) jacMode { return jacMode{dx: 1, dxdot: a} }

// elementHasRate reports whether local element column k carries a rate
func (l *layout) elementHasRate(k int) bool {
	if k >= l.ne {
		return true // point displacement/rotation slots
	}
	return k < element.IF || k >= element.IP
}

// rateSlots marks every global unknown that carries a rate
func (l *layout) rateSlots() []bool {
	mask := make([]bool, l.n)
	for e := range l.ends {
		for k := 0; k < l.ne; k++ {
			if l.elementHasRate(k) {
				mask[l.elemOffset[e]+k] = true
			}
		}
	}
	for _, p := range l.keptPoints() {
		for d := 0; d < 6; d++ {
			mask[l.pointOffset[p]+d] = true
		}
	}
	return mask
}

type workspace struct {
	zx, zxd, out []complex128
}

func newWorkspace() *workspace {
	n := element.NumDynamic + 12
	return &workspace{
		zx:  make([]complex128, n),
		zxd: make([]complex128, n),
		out: make([]complex128, element.NumResidual),
	}
}

// evalElement writes element e's local residual into res and, when jac is
// non-nil, its local Jacobian (row-major, NumResidual × len(cols)).
func (s *System) evalElement(ctx *evalContext, e int, x []float64, ws *workspace,
	res, jac []float64, mode jacMode) error {
	l := s.lay
	cols := l.elemCols[e]
	nc := len(cols)
	zx, zxd := ws.zx[:nc], ws.zxd[:nc]
	for k, c := range cols {
		zx[k] = complex(x[c], 0)
		zxd[k] = complex(ctx.xdot[c], 0)
	}

	el := ctx.asm.Element(e)
	in := element.ResidualInput{
		Loads:   &ctx.loads[e],
		Linear:  ctx.linear,
		Dynamic: ctx.dynamic,
	}
	eval := func() {
		in.X, in.Xdot = zx[:l.ne], zxd[:l.ne]
		off := l.ne
		for k, p := range l.ends[e] {
			var st [6]complex128
			if l.role[p] == roleKept {
				for d := 0; d < 6; d++ {
					if ctx.points[p].kind[d] == boundary.Load {
						st[d] = zx[off+d]
					} else {
						st[d] = complex(ctx.points[p].value[d], 0)
					}
				}
				off += 6
			}
			if k == 0 {
				in.Start = st
			} else {
				in.Stop = st
			}
		}
		el.Residual(ws.out, &in)
	}

	eval()
	for r := 0; r < element.NumResidual; r++ {
		v := real(ws.out[r])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("element %d: non-finite residual", e)
		}
		res[r] = v
	}
	if jac == nil {
		return nil
	}

	for j := 0; j < nc; j++ {
		dx, dxdot := mode.dx, 0.0
		if l.elementHasRate(j) {
			dxdot = mode.dxdot
		}
		if dx == 0 && dxdot == 0 {
			for r := 0; r < element.NumResidual; r++ {
				jac[r*nc+j] = 0
			}
			continue
		}
		x0, xd0 := zx[j], zxd[j]
		zx[j] += complex(0, complexStep*dx)
		zxd[j] += complex(0, complexStep*dxdot)
		eval()
		for r := 0; r < element.NumResidual; r++ {
			jac[r*nc+j] = imag(ws.out[r]) / complexStep
		}
		zx[j], zxd[j] = x0, xd0
	}
	return nil
}

// evalPoint writes kept point p's local residual and Jacobian (np × np)
func (s *System) evalPoint(ctx *evalContext, p int, x []float64, res, jac []float64, mode jacMode) error {
	l := s.lay
	np := l.np
	base := l.pointOffset[p]
	var zx, zxd [pointDynamic]complex128
	for k := 0; k < np; k++ {
		zx[k] = complex(x[base+k], 0)
		zxd[k] = complex(ctx.xdot[base+k], 0)
	}
	cond := &ctx.points[p]

	var out [element.NumPointResidual]complex128
	eval := func() {
		in := element.PointInput{
			Follower: cond.follower,
			Linear:   ctx.linear,
			Dynamic:  ctx.dynamic,
		}
		for d := 0; d < 6; d++ {
			if cond.kind[d] == boundary.Load {
				in.State[d] = zx[d]
				in.Rate[d] = zxd[d]
				in.Dead[d] = cond.value[d]
			} else {
				in.State[d] = complex(cond.value[d], 0)
				in.Rate[d] = complex(ctx.presRate[p][d], 0)
				in.Reaction[d] = zx[d]
			}
		}
		if ctx.dynamic {
			copy(in.Velocity[:], zx[pointVel:pointDynamic])
		}
		element.PointResidual(out[:], &in)
	}

	eval()
	for r := 0; r < np; r++ {
		v := real(out[r])
		if cmplx.IsNaN(out[r]) || math.IsInf(v, 0) {
			return fmt.Errorf("point %d: non-finite residual", p)
		}
		res[r] = v
	}
	if jac == nil {
		return nil
	}
	for j := 0; j < np; j++ {
		dx, dxdot := mode.dx, 0.0
		if j < 6 {
			dxdot = mode.dxdot
		}
		x0, xd0 := zx[j], zxd[j]
		zx[j] += complex(0, complexStep*dx)
		zxd[j] += complex(0, complexStep*dxdot)
		eval()
		for r := 0; r < np; r++ {
			jac[r*np+j] = imag(out[r]) / complexStep
		}
		zx[j], zxd[j] = x0, xd0
	}
	return nil
}

// assemble evaluates the global residual R(x) and, when data is non-nil, the
// Jacobian values in CSR slot order. Element blocks are computed concurrently
// per partition into disjoint scratch ranges and merged serially in element
// order, so results do not depend on the number of workers.
func (s *System) assemble(ctx *evalContext, x, R, data []float64, mode jacMode) error {
	l, pt := s.lay, s.pat
	withJac := data != nil

	var g errgroup.Group
	g.SetLimit(s.workers)
	for pID := range s.parts.Partitions {
		pID := pID
		g.Go(func() error {
			ws := newWorkspace()
			for _, e := range s.connector.LocalToGlobalElem[pID] {
				nc := len(l.elemCols[e])
				buf := s.scratch.GetElementData(e, element.NumResidual*(1+nc))
				var jac []float64
				if withJac {
					jac = buf[element.NumResidual:]
				}
				if err := s.evalElement(ctx, e, x, ws, buf[:element.NumResidual], jac, mode); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range R {
		R[i] = 0
	}
	for i := range data {
		data[i] = 0
	}

	for e := range l.ends {
		nc := len(l.elemCols[e])
		buf := s.scratch.GetElementData(e, element.NumResidual*(1+nc))
		res, jac := buf[:element.NumResidual], buf[element.NumResidual:]
		slots := pt.elemSlots[e]
		for r, gr := range l.rowMap[e] {
			if gr < 0 {
				continue
			}
			sign := l.rowSign[e][r]
			R[gr] += sign * res[r]
			if withJac {
				for c := 0; c < nc; c++ {
					data[slots[r*nc+c]] += sign * jac[r*nc+c]
				}
			}
		}
	}

	np := l.np
	res := make([]float64, np)
	var jac []float64
	if withJac {
		jac = make([]float64, np*np)
	}
	for _, p := range l.keptPoints() {
		if err := s.evalPoint(ctx, p, x, res, jac, mode); err != nil {
			return err
		}
		base := l.pointOffset[p]
		for r := 0; r < np; r++ {
			R[base+r] += res[r]
		}
		if withJac {
			for k, sl := range pt.pointSlots[p] {
				data[sl] += jac[k]
			}
		}
	}
	return nil
}
