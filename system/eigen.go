package system

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/BeamKernel/assembly"
	"github.com/notargets/BeamKernel/boundary"
)

// eigenOperator is the linearized dynamic operator of the last eigen solve
type eigenOperator struct {
	A, B  *mat.Dense // A = ∂R/∂x, B = -∂R/∂ẋ
	shift float64
	lu    *equilibratedLU // factorization of A - shift·B
}

// EigenResult holds the modes of A·v = λ·B·v nearest the shift, ordered by
// distance from it. Vectors[i] is the right eigenvector of Values[i] over the
// System unknowns, scaled to unit norm with its largest entry real.
type EigenResult struct {
	Values  []complex128
	Vectors [][]complex128

	// Converged is false when fewer than the requested modes were resolved;
	// Found modes are still returned
	Converged bool
	Found     int
}

// SolveEigen linearizes the dynamic residual about the stored state and
// returns the nev eigenvalues nearest opts.Eigen.Shift. Unless
// opts.Eigen.SkipEquilibrium is set, static equilibrium under conds and loads
// is solved first; when that fails to converge no modes are returned.
func (s *System) SolveEigen(asm *assembly.Assembly, conds boundary.Conditions,
	loads boundary.DistributedLoads, nev int, opts Options) (*EigenResult, error) {
	if !s.dynamic {
		return nil, ErrNotDynamic
	}
	if nev <= 0 {
		return nil, fmt.Errorf("number of modes must be positive, got %d", nev)
	}
	opts = opts.withDefaults()
	log := opts.Logger.With(zap.String("system", s.id.String()))

	if !opts.Eigen.SkipEquilibrium {
		res, err := s.SolveStatic(asm, conds, loads, opts)
		if err != nil {
			return nil, err
		}
		if !res.Converged {
			log.Warn("eigen analysis skipped, equilibrium did not converge",
				zap.Float64("residual", res.Residual))
			return &EigenResult{}, nil
		}
	} else {
		if err := s.checkInputs(asm, conds, loads); err != nil {
			return nil, err
		}
		if err := s.ensurePartitions(asm, opts); err != nil {
			return nil, err
		}
	}

	op, err := s.linearize(asm, conds, loads, opts)
	if err != nil {
		return nil, err
	}
	n := s.lay.n

	var C mat.Dense
	if err := op.lu.SolveTo(&C, false, op.B); err != nil {
		return nil, fmt.Errorf("%w: shifted operator: %v", ErrStructurallySingular, err)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(&C, mat.EigenRight); !ok {
		log.Warn("eigen decomposition did not converge")
		return &EigenResult{}, nil
	}
	mu := eig.Values(nil)
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	keep := resolvedModes(mu, opts.Eigen.Filter)
	out := &EigenResult{}
	for _, k := range keep {
		if len(out.Values) == nev {
			break
		}
		v := make([]complex128, n)
		for i := range v {
			v[i] = vecs.At(i, k)
		}
		normalizeMode(v)
		out.Values = append(out.Values, complex(op.shift, 0)+1/mu[k])
		out.Vectors = append(out.Vectors, v)
	}
	out.Found = len(out.Values)
	out.Converged = out.Found == nev
	s.eig = op

	log.Debug("eigen solve",
		zap.Int("requested", nev),
		zap.Int("found", out.Found),
		zap.Int("finite", len(keep)),
		zap.Float64("shift", op.shift))
	if !out.Converged {
		log.Warn("fewer modes resolved than requested",
			zap.Int("requested", nev), zap.Int("found", out.Found))
	}
	return out, nil
}

// linearize evaluates A and B at the stored state and factors A - σB
func (s *System) linearize(asm *assembly.Assembly, conds boundary.Conditions,
	loads boundary.DistributedLoads, opts Options) (*eigenOperator, error) {
	ctx, err := s.newContext(asm, conds, loads, s.time, opts)
	if err != nil {
		return nil, err
	}
	ctx.linear = s.linear
	copy(ctx.xdot, s.xdot)

	A, err := s.jacobian(ctx, s.x, stateJacobian)
	if err != nil {
		return nil, err
	}
	B, err := s.jacobian(ctx, s.x, rateJacobian)
	if err != nil {
		return nil, err
	}
	B.Scale(-1, B)

	op := &eigenOperator{A: A, B: B, shift: opts.Eigen.Shift, lu: &equilibratedLU{}}
	var K mat.Dense
	K.Scale(-op.shift, B)
	K.Add(A, &K)
	op.lu.Factorize(&K)
	if op.lu.Singular() {
		return nil, fmt.Errorf("%w: shifted operator condition %g", ErrStructurallySingular, op.lu.Cond())
	}
	return op, nil
}

// resolvedModes returns the indices of transformed eigenvalues above the
// filter, largest |μ| (nearest the shift) first. Conjugate pairs are ordered
// positive imaginary part first.
func resolvedModes(mu []complex128, filter float64) []int {
	maxAbs := 0.0
	for _, m := range mu {
		maxAbs = math.Max(maxAbs, cmplx.Abs(m))
	}
	var idx []int
	for k, m := range mu {
		if cmplx.Abs(m) > filter*maxAbs && m != 0 {
			idx = append(idx, k)
		}
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := mu[idx[i]], mu[idx[j]]
		da, db := cmplx.Abs(a), cmplx.Abs(b)
		if math.Abs(da-db) > 1e-10*maxAbs {
			return da > db
		}
		// 1/μ and μ have opposite imaginary signs
		return imag(a) < imag(b)
	})
	return idx
}

// normalizeMode scales v to unit 2-norm with its largest entry real positive
func normalizeMode(v []complex128) {
	var (
		norm float64
		big  complex128
	)
	for _, c := range v {
		a := cmplx.Abs(c)
		norm += a * a
		if a > cmplx.Abs(big) {
			big = c
		}
	}
	if norm == 0 {
		return
	}
	scale := complex(1/math.Sqrt(norm), 0) * cmplx.Conj(big) / complex(cmplx.Abs(big), 0)
	for i := range v {
		v[i] *= scale
	}
}

// SolveEigen runs an eigen-analysis of asm. A nil sys allocates a dynamic
// System keeping every point.
func SolveEigen(asm *assembly.Assembly, conds boundary.Conditions, loads boundary.DistributedLoads,
	nev int, opts Options, sys *System) (*System, *EigenResult, error) {
	if sys == nil {
		var err error
		if sys, err = New(asm, nil, true); err != nil {
			return nil, nil, err
		}
	}
	res, err := sys.SolveEigen(asm, conds, loads, nev, opts)
	return sys, res, err
}

// clusterTol groups eigenvalues that are equal up to round-off
const clusterTol = 1e-6

// LeftEigenvectors returns w with wᵀA = λwᵀB for each eigenpair of the last
// SolveEigen on sys. The result is scaled so that wᵢᵀBvⱼ = δᵢⱼ; within a
// group of repeated eigenvalues the left vectors are recombined to achieve
// this.
func LeftEigenvectors(sys *System, values []complex128, vectors [][]complex128) ([][]complex128, error) {
	if sys == nil || sys.eig == nil {
		return nil, ErrNoOperator
	}
	op := sys.eig
	n := sys.lay.n
	if len(values) != len(vectors) {
		return nil, fmt.Errorf("%d eigenvalues but %d eigenvectors", len(values), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != n {
			return nil, fmt.Errorf("eigenvector %d has length %d, want %d", i, len(v), n)
		}
	}
	if len(values) == 0 {
		return nil, nil
	}

	// (A - σB)⁻ᵀBᵀ w = μ w shares μ = 1/(λ - σ) with the right problem
	var M mat.Dense
	if err := op.lu.SolveTo(&M, true, op.B.T()); err != nil {
		return nil, fmt.Errorf("%w: shifted operator: %v", ErrStructurallySingular, err)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(&M, mat.EigenRight); !ok {
		return nil, errors.New("left eigen decomposition did not converge")
	}
	mu := eig.Values(nil)
	var vecs mat.CDense
	eig.VectorsTo(&vecs)

	left := make([][]complex128, len(values))
	used := make([]bool, len(mu))
	for i, lambda := range values {
		d := lambda - complex(op.shift, 0)
		if d == 0 {
			return nil, fmt.Errorf("eigenvalue %d equals the shift", i)
		}
		target := 1 / d
		best := -1
		for k, m := range mu {
			if used[k] {
				continue
			}
			if best < 0 || cmplx.Abs(m-target) < cmplx.Abs(mu[best]-target) {
				best = k
			}
		}
		if best < 0 {
			return nil, fmt.Errorf("no left eigenvector for eigenvalue %d", i)
		}
		used[best] = true
		w := make([]complex128, n)
		for r := range w {
			w[r] = vecs.At(r, best)
		}
		left[i] = w
	}

	for _, cluster := range eigenClusters(values) {
		if err := biorthonormalize(op.B, left, vectors, cluster); err != nil {
			return nil, err
		}
	}
	return left, nil
}

// eigenClusters groups indices of eigenvalues equal to within clusterTol
func eigenClusters(values []complex128) [][]int {
	assigned := make([]bool, len(values))
	var clusters [][]int
	for i := range values {
		if assigned[i] {
			continue
		}
		c := []int{i}
		assigned[i] = true
		scale := math.Max(1, cmplx.Abs(values[i]))
		for j := i + 1; j < len(values); j++ {
			if !assigned[j] && cmplx.Abs(values[j]-values[i]) <= clusterTol*scale {
				c = append(c, j)
				assigned[j] = true
			}
		}
		clusters = append(clusters, c)
	}
	return clusters
}

// bilinearB returns wᵀBv without conjugation
func bilinearB(B *mat.Dense, w, v []complex128) complex128 {
	n, _ := B.Dims()
	var sum complex128
	for i := 0; i < n; i++ {
		if w[i] == 0 {
			continue
		}
		var row complex128
		for j, b := range B.RawRowView(i) {
			if b != 0 {
				row += complex(b, 0) * v[j]
			}
		}
		sum += w[i] * row
	}
	return sum
}

// biorthonormalize replaces the left vectors of one cluster by combinations
// w'ₐ = Σ_c (G⁻¹)ₐc w_c with Gₐc = wₐᵀBv_c, so that w'ᵀBv = I on the cluster
func biorthonormalize(B *mat.Dense, left, right [][]complex128, cluster []int) error {
	m := len(cluster)
	G := make([][]complex128, m)
	for a, ia := range cluster {
		G[a] = make([]complex128, m)
		for c, ic := range cluster {
			G[a][c] = bilinearB(B, left[ia], right[ic])
		}
	}
	inv, err := invertComplex(G)
	if err != nil {
		return fmt.Errorf("eigenvalue %d: left and right eigenvectors are B-orthogonal: %w", cluster[0], err)
	}
	n := len(left[cluster[0]])
	updated := make([][]complex128, m)
	for a := range cluster {
		w := make([]complex128, n)
		for c, ic := range cluster {
			g := inv[a][c]
			for r, v := range left[ic] {
				w[r] += g * v
			}
		}
		updated[a] = w
	}
	for a, ia := range cluster {
		left[ia] = updated[a]
	}
	return nil
}

// invertComplex inverts a small dense complex matrix by Gauss-Jordan
// elimination with partial pivoting
func invertComplex(G [][]complex128) ([][]complex128, error) {
	m := len(G)
	a := make([][]complex128, m)
	inv := make([][]complex128, m)
	scale := 0.0
	for i := range G {
		a[i] = append([]complex128(nil), G[i]...)
		inv[i] = make([]complex128, m)
		inv[i][i] = 1
		for _, g := range G[i] {
			scale = math.Max(scale, cmplx.Abs(g))
		}
	}
	for col := 0; col < m; col++ {
		piv := col
		for r := col + 1; r < m; r++ {
			if cmplx.Abs(a[r][col]) > cmplx.Abs(a[piv][col]) {
				piv = r
			}
		}
		if cmplx.Abs(a[piv][col]) <= 1e-14*scale || scale == 0 {
			return nil, errors.New("singular matrix")
		}
		a[col], a[piv] = a[piv], a[col]
		inv[col], inv[piv] = inv[piv], inv[col]
		p := 1 / a[col][col]
		for j := 0; j < m; j++ {
			a[col][j] *= p
			inv[col][j] *= p
		}
		for r := 0; r < m; r++ {
			if r == col || a[r][col] == 0 {
				continue
			}
			f := a[r][col]
			for j := 0; j < m; j++ {
				a[r][j] -= f * a[col][j]
				inv[r][j] -= f * inv[col][j]
			}
		}
	}
	return inv, nil
}
