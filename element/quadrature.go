package element

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// GaussJacobi returns the n point Gauss-Jacobi rule on [-1, 1] for the weight
// (1-x)^alpha (1+x)^beta, computed with the Golub-Welsch eigenvalue method.
// The rule integrates polynomials of degree 2n-1 exactly.
func GaussJacobi(alpha, beta float64, n int) (x, w []float64, err error) {
	if n < 1 {
		return nil, nil, fmt.Errorf("quadrature needs at least one point, got %d", n)
	}
	if alpha <= -1 || beta <= -1 {
		return nil, nil, fmt.Errorf("invalid Jacobi parameters alpha=%g beta=%g", alpha, beta)
	}
	N := n - 1
	if N == 0 {
		return []float64{-(alpha - beta) / (alpha + beta + 2.)}, []float64{gamma0(alpha, beta)}, nil
	}

	h1 := make([]float64, N+1)
	for i := 0; i < N+1; i++ {
		h1[i] = 2*float64(i) + alpha + beta
	}

	// main diagonal: d0[i] = -(β²-α²)/((2i+α+β)*(2i+α+β+2))
	d0 := make([]float64, N+1)
	fac := beta*beta - alpha*alpha
	for i := 0; i < N+1; i++ {
		d0[i] = fac / (h1[i] * (h1[i] + 2.))
	}
	if alpha+beta < 1e-15 {
		d0[0] = 0.
	}

	d1 := make([]float64, N)
	for i := 0; i < N; i++ {
		ip1 := float64(i + 1)
		val := h1[i]
		d1[i] = 2.0 / (val + 2.0) * math.Sqrt(
			ip1*(ip1+alpha+beta)*(ip1+alpha)*(ip1+beta)/(val+1)/(val+3),
		)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(symTriDiagonal(d0, d1), true); !ok {
		return nil, nil, fmt.Errorf("Golub-Welsch eigen decomposition failed for n=%d", n)
	}
	x = eig.Values(nil)

	V := mat.NewDense(n, n, nil)
	eig.VectorsTo(V)
	w = make([]float64, n)
	g0 := gamma0(alpha, beta)
	for i := range w {
		v := V.At(0, i)
		w[i] = v * v * g0
	}
	return x, w, nil
}

// gamma0 is the integral of the Jacobi weight over [-1, 1]
func gamma0(alpha, beta float64) float64 {
	ab1 := alpha + beta + 1.
	return math.Gamma(alpha+1.) * math.Gamma(beta+1.) * math.Pow(2, ab1) / ab1 / math.Gamma(ab1)
}

func symTriDiagonal(d0, d1 []float64) *mat.SymDense {
	n := len(d0)
	tri := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		tri.SetSym(i, i, d0[i])
		if i < n-1 {
			tri.SetSym(i, i+1, d1[i])
		}
	}
	return tri
}

// ShapeRule holds quadrature nodes on [0, 1] together with weights that
// integrate against the linear shape functions of a two node element:
//
//	∫₀¹ f(ξ)(1-ξ) dξ ≈ Σ WStart[i] f(Xi[i])
//	∫₀¹ f(ξ) ξ dξ    ≈ Σ WStop[i]  f(XiStop[i])
type ShapeRule struct {
	Xi, XiStop    []float64
	WStart, WStop []float64
}

// NewShapeRule builds n point Gauss-Jacobi rules whose weights are the shape
// functions themselves, so each lumped load is exact for polynomial loads of
// degree 2n-1.
func NewShapeRule(n int) (*ShapeRule, error) {
	// with ξ = (1+x)/2: 1-ξ = (1-x)/2 and dξ = dx/2
	xa, wa, err := GaussJacobi(1, 0, n)
	if err != nil {
		return nil, err
	}
	xb, wb, err := GaussJacobi(0, 1, n)
	if err != nil {
		return nil, err
	}
	r := &ShapeRule{
		Xi:     make([]float64, n),
		XiStop: make([]float64, n),
		WStart: make([]float64, n),
		WStop:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		r.Xi[i] = 0.5 * (1 + xa[i])
		r.WStart[i] = 0.25 * wa[i]
		r.XiStop[i] = 0.5 * (1 + xb[i])
		r.WStop[i] = 0.25 * wb[i]
	}
	return r, nil
}
