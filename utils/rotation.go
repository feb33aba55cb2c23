package utils

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/spatial/r3"
)

// Rotations are parameterized by the rotation vector φ = θ n, R = exp(φ̃).
// All coefficients below are even functions of θ and are evaluated from
// θ² = φ·φ, switching to their Taylor series near zero where the closed
// forms cancel.
const seriesThreshold = 1e-2

// rotationCoefficients returns a = sinθ/θ, b = (1-cosθ)/θ², c = (θ-sinθ)/θ³.
func rotationCoefficients(x complex128) (a, b, c complex128) {
	if cmplx.Abs(x) < seriesThreshold {
		a = 1 + x*(-1.0/6+x*(1.0/120+x*(-1.0/5040+x/362880)))
		b = 0.5 + x*(-1.0/24+x*(1.0/720+x*(-1.0/40320+x/3628800)))
		c = 1.0/6 + x*(-1.0/120+x*(1.0/5040+x*(-1.0/362880+x/39916800)))
		return
	}
	theta := cmplx.Sqrt(x)
	sin, cos := cmplx.Sin(theta), cmplx.Cos(theta)
	a = sin / theta
	b = (1 - cos) / x
	c = (theta - sin) / (theta * x)
	return
}

// inverseCoefficient returns d = 1/θ² - cot(θ/2)/(2θ).
func inverseCoefficient(x complex128) complex128 {
	if cmplx.Abs(x) < seriesThreshold {
		return 1.0/12 + x*(1.0/720+x*(1.0/30240+x*(1.0/1209600+x/47900160)))
	}
	a, b, _ := rotationCoefficients(x)
	return (1 - a/(2*b)) / x
}

// RotationMatrix returns R = exp(φ̃).
func RotationMatrix(phi Vec3) Mat3 {
	a, b, _ := rotationCoefficients(phi.Dot(phi))
	pt := Tilde(phi)
	return Identity3().Add(pt.Scale(a)).Add(pt.Mul(pt).Scale(b))
}

// RightTangent returns J_r(φ), the operator with Rᵀ Ṙ = (J_r φ̇)~.
func RightTangent(phi Vec3) Mat3 {
	_, b, c := rotationCoefficients(phi.Dot(phi))
	pt := Tilde(phi)
	return Identity3().Add(pt.Scale(-b)).Add(pt.Mul(pt).Scale(c))
}

// RightTangentInv returns J_r(φ)⁻¹.
func RightTangentInv(phi Vec3) Mat3 {
	d := inverseCoefficient(phi.Dot(phi))
	pt := Tilde(phi)
	return Identity3().Add(pt.Scale(0.5)).Add(pt.Mul(pt).Scale(d))
}

// LeftTangent returns J_l(φ), the operator with Ṙ Rᵀ = (J_l φ̇)~.
func LeftTangent(phi Vec3) Mat3 {
	_, b, c := rotationCoefficients(phi.Dot(phi))
	pt := Tilde(phi)
	return Identity3().Add(pt.Scale(b)).Add(pt.Mul(pt).Scale(c))
}

// FrameFromDirection builds the default local frame of an element whose axis
// points along dir: e1 along the axis, e2 = ẑ×e1 normalized (ŷ×e1 when the
// axis is parallel to ẑ) and e3 = e1×e2. An x-aligned element gets the
// identity frame.
func FrameFromDirection(dir r3.Vec) Frame {
	e1 := r3.Unit(dir)
	e2 := r3.Cross(r3.Vec{Z: 1}, e1)
	if r3.Norm(e2) < 1e-8 {
		e2 = r3.Cross(r3.Vec{Y: 1}, e1)
	}
	e2 = r3.Unit(e2)
	e3 := r3.Cross(e1, e2)
	return Frame{
		{e1.X, e2.X, e3.X},
		{e1.Y, e2.Y, e3.Y},
		{e1.Z, e2.Z, e3.Z},
	}
}

// OrthonormalityError returns max |FᵀF - I| and the determinant of f.
func OrthonormalityError(f Frame) (maxErr, det float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += f[k][i] * f[k][j]
			}
			if i == j {
				s -= 1
			}
			maxErr = math.Max(maxErr, math.Abs(s))
		}
	}
	det = f[0][0]*(f[1][1]*f[2][2]-f[1][2]*f[2][1]) -
		f[0][1]*(f[1][0]*f[2][2]-f[1][2]*f[2][0]) +
		f[0][2]*(f[1][0]*f[2][1]-f[1][1]*f[2][0])
	return
}
