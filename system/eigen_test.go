package system

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/BeamKernel/boundary"
)

// first root of the clamped-free bending frequency equation
const cantileverBeta1 = 1.875104068711961

func TestCantileverBendingFrequencies(t *testing.T) {
	const n = 20
	props := testProps
	props.GA = 0
	asm := newBeam(t, n, 1, props, true)
	conds := boundary.Conditions{0: boundary.Clamped()}

	sys, res, err := SolveEigen(asm, conds, nil, 4, DefaultOptions(), nil)
	require.NoError(t, err)
	require.True(t, res.Converged)
	require.Equal(t, 4, res.Found)
	require.Len(t, res.Vectors, 4)

	// weak plane (EI3) first, then the stiff plane (EI2)
	w3 := cantileverBeta1 * cantileverBeta1 * math.Sqrt(props.EI3/props.m)
	w2 := cantileverBeta1 * cantileverBeta1 * math.Sqrt(props.EI2/props.m)
	assert.InDelta(t, w3, imag(res.Values[0]), 0.01*w3)
	assert.InDelta(t, 0, real(res.Values[0]), 1e-6*w3)
	assert.InDelta(t, 0, cmplx.Abs(res.Values[1]-cmplx.Conj(res.Values[0])), 1e-8*w3)
	assert.InDelta(t, w2, imag(res.Values[2]), 0.01*w2)
	assert.Less(t, imag(res.Values[3]), 0.0)

	modes, err := ModeShape(sys, asm, conds, res.Vectors[0])
	require.NoError(t, err)
	require.Len(t, modes, n+1)
	assert.Zero(t, modes[0].U)
	assert.Zero(t, modes[0].Theta)
	tip := modes[n]
	assert.Greater(t, cmplx.Abs(tip.U[1]), 10*cmplx.Abs(tip.U[2]))
	// bending amplitude grows monotonically towards the tip
	for p := 1; p <= n; p++ {
		assert.Greaterf(t, cmplx.Abs(modes[p].U[1]), cmplx.Abs(modes[p-1].U[1]), "point %d", p)
	}
}

func TestEigenReportsPartialResults(t *testing.T) {
	const n = 2
	asm := newBeam(t, n, 1, testProps, true)
	conds := boundary.Conditions{0: boundary.Clamped()}
	sys, err := New(asm, nil, true)
	require.NoError(t, err)

	res, err := sys.SolveEigen(asm, conds, nil, 10*sys.Size(), DefaultOptions())
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Greater(t, res.Found, 0)
	assert.Less(t, res.Found, 10*sys.Size())
	assert.Len(t, res.Values, res.Found)

	static, err := New(asm, nil, false)
	require.NoError(t, err)
	_, err = static.SolveEigen(asm, conds, nil, 2, DefaultOptions())
	assert.ErrorIs(t, err, ErrNotDynamic)
}

func TestEliminatedPointsKeepEigenvalues(t *testing.T) {
	const n = 8
	asm := newBeam(t, n, 1, testProps, true)
	conds := boundary.Conditions{0: boundary.Clamped()}

	fullSys, full, err := SolveEigen(asm, conds, nil, 6, DefaultOptions(), nil)
	require.NoError(t, err)
	require.True(t, full.Converged)
	reduced, err := New(asm, []int{0, n}, true)
	require.NoError(t, err)
	_, part, err := SolveEigen(asm, conds, nil, 6, DefaultOptions(), reduced)
	require.NoError(t, err)
	require.True(t, part.Converged)
	require.Less(t, reduced.Size(), fullSys.Size())

	for i := range full.Values {
		assert.InDeltaf(t, 0, cmplx.Abs(full.Values[i]-part.Values[i]), 1e-8*cmplx.Abs(full.Values[i]), "mode %d", i)
	}

	// shapes agree once scaled to unit tip deflection
	a, err := ModeShape(fullSys, asm, conds, full.Vectors[0])
	require.NoError(t, err)
	b, err := ModeShape(reduced, asm, conds, part.Vectors[0])
	require.NoError(t, err)
	for p := range a {
		ra := a[p].U[1] / a[n].U[1]
		rb := b[p].U[1] / b[n].U[1]
		assert.InDeltaf(t, 0, cmplx.Abs(ra-rb), 1e-6, "point %d", p)
	}
}

// wᵀx with no conjugation
func bilinear(w, x []complex128) complex128 {
	var s complex128
	for i := range w {
		s += w[i] * x[i]
	}
	return s
}

func TestLeftEigenvectorsAreBiorthonormal(t *testing.T) {
	symmetric := testProps
	symmetric.EI2 = symmetric.EI3
	for name, props := range map[string]beamProps{"distinct": testProps, "repeated": symmetric} {
		t.Run(name, func(t *testing.T) {
			const n = 10
			asm := newBeam(t, n, 1, props, true)
			conds := boundary.Conditions{0: boundary.Clamped()}
			sys, res, err := SolveEigen(asm, conds, nil, 6, DefaultOptions(), nil)
			require.NoError(t, err)
			require.True(t, res.Converged)

			left, err := LeftEigenvectors(sys, res.Values, res.Vectors)
			require.NoError(t, err)
			require.Len(t, left, len(res.Values))

			A, B := sys.eig.A, sys.eig.B
			for i := range left {
				for j := range res.Vectors {
					g := bilinearB(B, left[i], res.Vectors[j])
					want := 0.0
					if i == j {
						want = 1
					}
					assert.InDeltaf(t, want, real(g), 1e-6, "w%dᵀBv%d", i, j)
					assert.InDeltaf(t, 0, imag(g), 1e-6, "w%dᵀBv%d", i, j)
				}

				// wᵀ(A - λB) = 0
				nr, _ := A.Dims()
				col := make([]complex128, nr)
				worst, scale := 0.0, 0.0
				for k := 0; k < nr; k++ {
					for r := 0; r < nr; r++ {
						col[r] = complex(A.At(r, k), 0) - res.Values[i]*complex(B.At(r, k), 0)
						scale = math.Max(scale, cmplx.Abs(left[i][r]))
					}
					worst = math.Max(worst, cmplx.Abs(bilinear(left[i], col)))
				}
				assert.Lessf(t, worst, 1e-6*scale*(1+cmplx.Abs(res.Values[i])), "mode %d", i)
			}
			if name == "repeated" {
				assert.InDelta(t, imag(res.Values[0]), imag(res.Values[1]), 1e-6)
			}
		})
	}
}

func TestLeftEigenvectorsValidateInputs(t *testing.T) {
	asm := newBeam(t, 3, 1, testProps, true)
	conds := boundary.Conditions{0: boundary.Clamped()}
	sys, res, err := SolveEigen(asm, conds, nil, 2, DefaultOptions(), nil)
	require.NoError(t, err)

	_, err = LeftEigenvectors(sys, res.Values, res.Vectors[:1])
	assert.Error(t, err)
	_, err = LeftEigenvectors(sys, res.Values[:1], [][]complex128{make([]complex128, 3)})
	assert.Error(t, err)

	// any solve invalidates the operator
	_, err = sys.SolveStatic(asm, conds, nil, DefaultOptions())
	require.NoError(t, err)
	_, err = LeftEigenvectors(sys, res.Values, res.Vectors)
	assert.ErrorIs(t, err, ErrNoOperator)
}

func TestInvertComplex(t *testing.T) {
	G := [][]complex128{
		{2 + 1i, 1, 0},
		{0, 1i, 3},
		{1, 0, 1 - 1i},
	}
	inv, err := invertComplex(G)
	require.NoError(t, err)
	for i := range G {
		for j := range G {
			var s complex128
			for k := range G {
				s += G[i][k] * inv[k][j]
			}
			want := complex(0, 0)
			if i == j {
				want = 1
			}
			assert.InDelta(t, 0, cmplx.Abs(s-want), 1e-14)
		}
	}

	_, err = invertComplex([][]complex128{{1, 2}, {2, 4}})
	assert.Error(t, err)
}

func TestEigenClusters(t *testing.T) {
	values := []complex128{1i, 2i, 1i * (1 + 1e-9), -1i, 2i}
	assert.Equal(t, [][]int{{0, 2}, {1, 4}, {3}}, eigenClusters(values))
}
