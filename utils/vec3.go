package utils

// Vec3 is a three component vector carried in complex arithmetic. The beam
// residual kernels are evaluated on Vec3/Mat3 so their Jacobians can be taken
// with the complex-step method; real inputs simply have zero imaginary parts.
type Vec3 [3]complex128

// Mat3 is a row-major 3×3 matrix in complex arithmetic.
type Mat3 [3][3]complex128

// Frame is a real 3×3 direction cosine matrix whose columns are the local
// element axes expressed in global components.
type Frame [3][3]float64

// E1 is the local axial direction.
var E1 = Vec3{1, 0, 0}

// VecFrom lifts a real vector.
func VecFrom(v [3]float64) Vec3 {
	return Vec3{complex(v[0], 0), complex(v[1], 0), complex(v[2], 0)}
}

// Real returns the real parts of v.
func (v Vec3) Real() [3]float64 {
	return [3]float64{real(v[0]), real(v[1]), real(v[2])}
}

func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

func (v Vec3) Scale(a complex128) Vec3 {
	return Vec3{a * v[0], a * v[1], a * v[2]}
}

// Dot is the bilinear (non-conjugating) product, which keeps it analytic.
func (v Vec3) Dot(w Vec3) complex128 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

// Identity3 returns the 3×3 identity.
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Tilde returns the skew symmetric cross product matrix of v, so that
// Tilde(v).MulVec(w) == v.Cross(w).
func Tilde(v Vec3) Mat3 {
	return Mat3{
		{0, -v[2], v[1]},
		{v[2], 0, -v[0]},
		{-v[1], v[0], 0},
	}
}

func (m Mat3) MulVec(v Vec3) Vec3 {
	var r Vec3
	for i := 0; i < 3; i++ {
		r[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return r
}

func (m Mat3) Mul(n Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*n[0][j] + m[i][1]*n[1][j] + m[i][2]*n[2][j]
		}
	}
	return r
}

func (m Mat3) Add(n Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][j] + n[i][j]
		}
	}
	return r
}

func (m Mat3) Scale(a complex128) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = a * m[i][j]
		}
	}
	return r
}

func (m Mat3) T() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Real returns the real parts of m.
func (m Mat3) Real() Frame {
	var r Frame
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = real(m[i][j])
		}
	}
	return r
}

// Complex lifts the frame into complex arithmetic.
func (f Frame) Complex() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = complex(f[i][j], 0)
		}
	}
	return r
}

// Column returns local axis j of the frame.
func (f Frame) Column(j int) [3]float64 {
	return [3]float64{f[0][j], f[1][j], f[2][j]}
}

// MulVec rotates a real local vector into global components.
func (f Frame) MulVec(v [3]float64) [3]float64 {
	var r [3]float64
	for i := 0; i < 3; i++ {
		r[i] = f[i][0]*v[0] + f[i][1]*v[1] + f[i][2]*v[2]
	}
	return r
}
