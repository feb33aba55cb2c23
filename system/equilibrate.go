package system

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// A factorization whose condition estimate exceeds maxCondition after
// equilibration is singular. An exact null space leaves round-off pivots near
// 1/ε, below the default tolerance of the LU itself.
const maxCondition = 1e13

// Ruiz equilibration stops once every row and column ∞-norm is within
// equilibrateTol of one, or after equilibratePasses passes
const (
	equilibratePasses = 30
	equilibrateTol    = 1e-3
)

// equilibratedLU factors Dr·J·Dc, where the diagonal scalings bring every row
// and column of the scaled matrix to unit ∞-norm. Rescaling the units of the
// unknowns or of the residual rows is absorbed by Dr and Dc, so the
// condition estimate measures rank deficiency rather than the unit system.
type equilibratedLU struct {
	lu     mat.LU
	dr, dc []float64
}

// Factorize equilibrates and factors J, overwriting it with the scaled matrix
func (e *equilibratedLU) Factorize(J *mat.Dense) {
	e.dr, e.dc = equilibrate(J)
	e.lu.Factorize(J)
}

// Cond returns the condition estimate of the equilibrated matrix
func (e *equilibratedLU) Cond() float64 { return e.lu.Cond() }

// Singular reports whether the equilibrated condition estimate exceeds
// maxCondition
func (e *equilibratedLU) Singular() bool {
	return !(e.lu.Cond() <= maxCondition)
}

// SolveVecTo solves J·x = b, or Jᵀ·x = b when trans is set
func (e *equilibratedLU) SolveVecTo(dst *mat.VecDense, trans bool, b mat.Vector) error {
	in, out := e.dr, e.dc
	if trans {
		in, out = e.dc, e.dr
	}
	n := b.Len()
	sb := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sb.SetVec(i, in[i]*b.AtVec(i))
	}
	err := e.lu.SolveVecTo(dst, trans, sb)
	for i := 0; i < n; i++ {
		dst.SetVec(i, out[i]*dst.AtVec(i))
	}
	return err
}

// SolveTo solves J·X = B, or Jᵀ·X = B when trans is set
func (e *equilibratedLU) SolveTo(dst *mat.Dense, trans bool, b mat.Matrix) error {
	in, out := e.dr, e.dc
	if trans {
		in, out = e.dc, e.dr
	}
	var sb mat.Dense
	sb.CloneFrom(b)
	r, _ := sb.Dims()
	for i := 0; i < r; i++ {
		floats.Scale(in[i], sb.RawRowView(i))
	}
	err := e.lu.SolveTo(dst, trans, &sb)
	for i := 0; i < r; i++ {
		floats.Scale(out[i], dst.RawRowView(i))
	}
	return err
}

// equilibrate scales J in place to Dr·J·Dc by Ruiz iteration and returns the
// accumulated scalings. Zero rows and columns keep unit scale.
func equilibrate(J *mat.Dense) (dr, dc []float64) {
	r, c := J.Dims()
	dr, dc = make([]float64, r), make([]float64, c)
	floats.AddConst(1, dr)
	floats.AddConst(1, dc)
	rowMax, colMax := make([]float64, r), make([]float64, c)

	for pass := 0; pass < equilibratePasses; pass++ {
		for j := range colMax {
			colMax[j] = 0
		}
		done := true
		for i := 0; i < r; i++ {
			row := J.RawRowView(i)
			rowMax[i] = 0
			for j, v := range row {
				a := math.Abs(v)
				rowMax[i] = math.Max(rowMax[i], a)
				colMax[j] = math.Max(colMax[j], a)
			}
			if rowMax[i] > 0 && math.Abs(1-rowMax[i]) > equilibrateTol {
				done = false
			}
		}
		for _, m := range colMax {
			if m > 0 && math.Abs(1-m) > equilibrateTol {
				done = false
			}
		}
		if done {
			break
		}
		for j, m := range colMax {
			if m > 0 {
				colMax[j] = 1 / math.Sqrt(m)
			} else {
				colMax[j] = 1
			}
			dc[j] *= colMax[j]
		}
		for i := 0; i < r; i++ {
			s := 1.0
			if rowMax[i] > 0 {
				s = 1 / math.Sqrt(rowMax[i])
			}
			dr[i] *= s
			row := J.RawRowView(i)
			for j := range row {
				row[j] *= s * colMax[j]
			}
		}
	}
	return dr, dc
}
