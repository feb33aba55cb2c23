package element

import (
	"github.com/notargets/BeamKernel/utils"
)

// LumpedLoads are an element's distributed loads integrated against its
// shape functions. Index 0 is the start point, index 1 the stop point; each
// entry is [force; moment].
type LumpedLoads struct {
	Dead     [2][6]float64 // global frame
	Follower [2][6]float64 // deformed local frame, rotated with the element
}

// ResidualInput gathers what one element sees of the global state.
type ResidualInput struct {
	X, Xdot []complex128 // element unknowns and their rates, NumStatic or NumDynamic long
	Start   [6]complex128 // displacement and rotation of the start point
	Stop    [6]complex128 // displacement and rotation of the stop point
	Loads   *LumpedLoads
	Linear  bool
	Dynamic bool
}

func vec(s []complex128) utils.Vec3 {
	return utils.Vec3{s[0], s[1], s[2]}
}

func put(dst []complex128, v utils.Vec3) {
	dst[0], dst[1], dst[2] = v[0], v[1], v[2]
}

func liftLoad(f [6]float64) (force, moment utils.Vec3) {
	force = utils.Vec3{complex(f[0], 0), complex(f[1], 0), complex(f[2], 0)}
	moment = utils.Vec3{complex(f[3], 0), complex(f[4], 0), complex(f[5], 0)}
	return
}

// Residual evaluates the intrinsic beam equations of the element into out,
// laid out as RowCompatStart ... RowLoadStop. Kinematic rows are zero for
// static evaluations.
func (el *Element) Residual(out []complex128, in *ResidualInput) {
	for i := range out[:NumResidual] {
		out[i] = 0
	}
	x := in.X
	u, phi := vec(x[IU:]), vec(x[IT:])
	F, M := vec(x[IF:]), vec(x[IM:])

	var gamma, kappa utils.Vec3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			gamma[i] += complex(el.Compliance[i][j], 0)*F[j] + complex(el.Compliance[i][j+3], 0)*M[j]
			kappa[i] += complex(el.Compliance[i+3][j], 0)*F[j] + complex(el.Compliance[i+3][j+3], 0)*M[j]
		}
	}

	Cab := el.Frame.Complex()
	axis := Cab.MulVec(utils.E1)
	half := complex(0.5*el.Length, 0)

	var (
		T              utils.Mat3
		uPrime, tPrime utils.Vec3
		lever          utils.Vec3
	)
	if in.Linear {
		T = Cab
		uPrime = Cab.MulVec(gamma).Add(phi.Cross(axis))
		tPrime = Cab.MulVec(kappa)
		lever = axis.Cross(Cab.MulVec(F)).Scale(half)
	} else {
		T = utils.RotationMatrix(phi).Mul(Cab)
		tangent := T.MulVec(utils.E1.Add(gamma))
		uPrime = tangent.Sub(axis)
		tPrime = utils.RightTangentInv(phi).MulVec(Cab.MulVec(kappa))
		lever = tangent.Cross(T.MulVec(F)).Scale(half)
	}

	ua, ta := vec(in.Start[0:]), vec(in.Start[3:])
	ub, tb := vec(in.Stop[0:]), vec(in.Stop[3:])
	put(out[RowCompatStart:], u.Sub(ua).Sub(uPrime.Scale(half)))
	put(out[RowCompatStart+3:], phi.Sub(ta).Sub(tPrime.Scale(half)))
	put(out[RowCompatStop:], ub.Sub(u).Sub(uPrime.Scale(half)))
	put(out[RowCompatStop+3:], tb.Sub(phi).Sub(tPrime.Scale(half)))

	Fg, Mg := T.MulVec(F), T.MulVec(M)

	var inertiaF, inertiaM utils.Vec3
	if in.Dynamic {
		P, H := vec(x[IP:]), vec(x[IH:])
		xd := in.Xdot
		var V, Omega utils.Vec3
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				V[i] += complex(el.InverseMass[i][j], 0)*P[j] + complex(el.InverseMass[i][j+3], 0)*H[j]
				Omega[i] += complex(el.InverseMass[i+3][j], 0)*P[j] + complex(el.InverseMass[i+3][j+3], 0)*H[j]
			}
		}
		uDot, tDot := vec(xd[IU:]), vec(xd[IT:])
		pDot, hDot := vec(xd[IP:]), vec(xd[IH:])
		if in.Linear {
			inertiaF = Cab.MulVec(pDot)
			inertiaM = Cab.MulVec(hDot)
			put(out[RowKinematic:], Cab.MulVec(V).Sub(uDot))
			put(out[RowKinematic+3:], Cab.MulVec(Omega).Sub(tDot))
		} else {
			inertiaF = T.MulVec(pDot.Add(Omega.Cross(P)))
			inertiaM = T.MulVec(hDot.Add(Omega.Cross(H)).Add(V.Cross(P)))
			put(out[RowKinematic:], T.MulVec(V).Sub(uDot))
			put(out[RowKinematic+3:], Cab.MulVec(Omega).Sub(utils.RightTangent(phi).MulVec(tDot)))
		}
		inertiaF = inertiaF.Scale(half)
		inertiaM = inertiaM.Scale(half)
	}

	var loads [2][2]utils.Vec3
	if in.Loads != nil {
		for end := 0; end < 2; end++ {
			df, dm := liftLoad(in.Loads.Dead[end])
			ff, fm := liftLoad(in.Loads.Follower[end])
			loads[end][0] = df.Add(T.MulVec(ff))
			loads[end][1] = dm.Add(T.MulVec(fm))
		}
	}

	put(out[RowLoadStart:], Fg.Add(loads[0][0]).Sub(inertiaF))
	put(out[RowLoadStart+3:], Mg.Add(lever).Add(loads[0][1]).Sub(inertiaM))
	put(out[RowLoadStop:], Fg.Scale(-1).Add(loads[1][0]).Sub(inertiaF))
	put(out[RowLoadStop+3:], Mg.Scale(-1).Add(lever).Add(loads[1][1]).Sub(inertiaM))
}

// PointInput gathers the state of one connection point.
type PointInput struct {
	State    [6]complex128 // displacement and rotation
	Rate     [6]complex128 // their time derivatives
	Velocity [6]complex128 // linear and angular velocity unknowns
	Reaction [6]complex128 // reaction unknowns, zero on load DOFs

	Dead     [6]float64 // prescribed loads, global frame
	Follower [6]float64 // prescribed loads rotating with the point
	Linear   bool
	Dynamic  bool
}

// Point residual layout written by PointResidual.
const (
	RowPointLoad     = 0 // external force and moment acting on the point
	RowPointVelocity = 6 // velocity definitions (dynamic only)

	NumPointResidual = 12
)

// PointResidual evaluates the external loading of a connection point and, for
// dynamic systems, the definition of its velocities.
func PointResidual(out []complex128, in *PointInput) {
	for i := range out[:NumPointResidual] {
		out[i] = 0
	}
	theta := vec(in.State[3:])
	ff, fm := liftLoad(in.Follower)
	if !in.Linear {
		R := utils.RotationMatrix(theta)
		ff, fm = R.MulVec(ff), R.MulVec(fm)
	}
	df, dm := liftLoad(in.Dead)
	put(out[RowPointLoad:], df.Add(ff).Add(vec(in.Reaction[0:])))
	put(out[RowPointLoad+3:], dm.Add(fm).Add(vec(in.Reaction[3:])))

	if !in.Dynamic {
		return
	}
	uDot, tDot := vec(in.Rate[0:]), vec(in.Rate[3:])
	omega := tDot
	if !in.Linear {
		omega = utils.LeftTangent(theta).MulVec(tDot)
	}
	put(out[RowPointVelocity:], vec(in.Velocity[0:]).Sub(uDot))
	put(out[RowPointVelocity+3:], vec(in.Velocity[3:]).Sub(omega))
}
