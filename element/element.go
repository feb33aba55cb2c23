package element

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/BeamKernel/utils"
)

// Section holds the cross-sectional properties of a beam element. Both
// matrices are ordered [axial, shear 2, shear 3, torsion, bending 2, bending 3]
// in the element's local frame.
type Section struct {
	// Compliance maps resultants to generalized strains:
	//   [γ; κ] = Compliance · [F; M]
	// Symmetric positive semi-definite. Zero rows make the corresponding
	// strain rigid (e.g. zero shear compliance gives Euler-Bernoulli kinematics).
	Compliance [6][6]float64

	// InverseMass maps momenta to velocities:
	//   [V; Ω] = InverseMass · [P; H]
	// Only used by dynamic analyses.
	InverseMass [6][6]float64
	HasMass     bool
}

// NewSection validates and copies 6×6 compliance and inverse mass matrices.
// A nil inverse mass gives a massless section.
func NewSection(compliance, inverseMass mat.Matrix) (Section, error) {
	var s Section
	if compliance == nil {
		return s, fmt.Errorf("compliance matrix is required")
	}
	if err := checkSymmetricPSD(compliance, "compliance"); err != nil {
		return s, err
	}
	copy6(&s.Compliance, compliance)
	if inverseMass != nil {
		if err := checkSymmetricPSD(inverseMass, "inverse mass"); err != nil {
			return s, err
		}
		copy6(&s.InverseMass, inverseMass)
		s.HasMass = true
	}
	return s, nil
}

func copy6(dst *[6][6]float64, m mat.Matrix) {
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			dst[i][j] = m.At(i, j)
		}
	}
}

func checkSymmetricPSD(m mat.Matrix, name string) error {
	r, c := m.Dims()
	if r != 6 || c != 6 {
		return fmt.Errorf("%s matrix must be 6x6, got %dx%d", name, r, c)
	}
	scale := mat.Norm(m, math.Inf(1))
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s matrix has non-finite entry (%d,%d)", name, i, j)
			}
			if math.Abs(v-m.At(j, i)) > 1e-10*scale {
				return fmt.Errorf("%s matrix is not symmetric at (%d,%d)", name, i, j)
			}
		}
	}
	if scale == 0 {
		return nil
	}

	sym := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return fmt.Errorf("%s matrix eigen decomposition failed", name)
	}
	values := eig.Values(nil)
	if values[0] < -1e-12*values[5] {
		return fmt.Errorf("%s matrix is not positive semi-definite (min eigenvalue %g)", name, values[0])
	}
	return nil
}

// Element is one straight beam element between two connection points
type Element struct {
	Start, Stop int // Connection point indices

	Length   float64
	Midpoint r3.Vec

	// Frame (Cab) rotates local vectors into the global frame. Column 0 is
	// the beam axis.
	Frame utils.Frame

	Section
}

// Element unknown layout. Static elements carry the first twelve entries.
const (
	IU = 0  // displacement of the element center, global
	IT = 3  // rotation vector of the element center, global
	IF = 6  // internal force, deformed local frame
	IM = 9  // internal moment, deformed local frame
	IP = 12 // linear momentum per unit length, deformed local frame
	IH = 15 // angular momentum per unit length, deformed local frame

	NumStatic  = 12
	NumDynamic = 18
)

// Element residual layout written by Residual.
const (
	RowCompatStart = 0  // compatibility between start point and center
	RowCompatStop  = 6  // compatibility between center and stop point
	RowKinematic   = 12 // velocity/rate relations (dynamic only)
	RowLoadStart   = 18 // force and moment exerted on the start point
	RowLoadStop    = 24 // force and moment exerted on the stop point

	NumResidual = 30
)

// StrainCurvature returns the generalized strains of real resultants F, M.
func (s *Section) StrainCurvature(F, M [3]float64) (gamma, kappa [3]float64) {
	fm := [6]float64{F[0], F[1], F[2], M[0], M[1], M[2]}
	var out [6]float64
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out[i] += s.Compliance[i][j] * fm[j]
		}
	}
	copy(gamma[:], out[:3])
	copy(kappa[:], out[3:])
	return
}

// Velocities returns the local velocities of real momenta P, H.
func (s *Section) Velocities(P, H [3]float64) (V, Omega [3]float64) {
	ph := [6]float64{P[0], P[1], P[2], H[0], H[1], H[2]}
	var out [6]float64
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out[i] += s.InverseMass[i][j] * ph[j]
		}
	}
	copy(V[:], out[:3])
	copy(Omega[:], out[3:])
	return
}
