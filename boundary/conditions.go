// Package boundary holds prescribed point conditions and distributed element
// loads. Values are functions of time so the same description serves static,
// sweep and transient analyses.
package boundary

import (
	"fmt"
	"sort"
)

// Kind selects what is prescribed on one degree of freedom
type Kind uint8

const (
	// Load prescribes a force (DOF 0-2) or moment (DOF 3-5) component; the
	// displacement or rotation component is solved for.
	Load Kind = iota
	// Displacement prescribes a displacement or rotation component; the
	// reaction force or moment is solved for.
	Displacement
)

func (k Kind) String() string {
	switch k {
	case Load:
		return "load"
	case Displacement:
		return "displacement"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// TimeFunc gives a prescribed value as a function of time. A nil TimeFunc is zero.
type TimeFunc func(t float64) float64

// Constant returns a time independent value
func Constant(v float64) TimeFunc {
	return func(float64) float64 { return v }
}

// Step returns 0 before t0 and v from t0 on
func Step(v, t0 float64) TimeFunc {
	return func(t float64) float64 {
		if t < t0 {
			return 0
		}
		return v
	}
}

// Ramp rises linearly from 0 at t0 to v at t1 and holds v afterwards
func Ramp(v, t0, t1 float64) TimeFunc {
	return func(t float64) float64 {
		switch {
		case t <= t0:
			return 0
		case t >= t1:
			return v
		default:
			return v * (t - t0) / (t1 - t0)
		}
	}
}

func (f TimeFunc) eval(t float64) float64 {
	if f == nil {
		return 0
	}
	return f(t)
}

// Condition prescribes the six degrees of freedom of one connection point,
// ordered [ux, uy, uz, θx, θy, θz] / [Fx, Fy, Fz, Mx, My, Mz] in the global frame.
type Condition struct {
	Kind  [6]Kind
	Value [6]TimeFunc

	// Follower loads are given in the reference global frame and rotate with
	// the point. Only allowed on Load DOFs.
	Follower [6]TimeFunc
}

// Clamped fixes all six displacement and rotation components at zero
func Clamped() Condition {
	var c Condition
	for i := range c.Kind {
		c.Kind[i] = Displacement
	}
	return c
}

// PinnedXYZ fixes the translations and leaves the rotations free
func PinnedXYZ() Condition {
	var c Condition
	for i := 0; i < 3; i++ {
		c.Kind[i] = Displacement
	}
	return c
}

// PointLoad applies constant dead loads on all six DOFs
func PointLoad(f [6]float64) Condition {
	var c Condition
	for i, v := range f {
		if v != 0 {
			c.Value[i] = Constant(v)
		}
	}
	return c
}

// FollowerLoad applies constant follower loads on all six DOFs
func FollowerLoad(f [6]float64) Condition {
	var c Condition
	for i, v := range f {
		if v != 0 {
			c.Follower[i] = Constant(v)
		}
	}
	return c
}

// Eval returns the prescribed values and follower loads at time t
func (c *Condition) Eval(t float64) (value, follower [6]float64) {
	for i := 0; i < 6; i++ {
		value[i] = c.Value[i].eval(t)
		follower[i] = c.Follower[i].eval(t)
	}
	return
}

// Conditions maps point index to its prescribed condition. Points without an
// entry are free and unloaded.
type Conditions map[int]Condition

// ValidationError reports an inconsistent boundary or load description
type ValidationError struct {
	Field string
	Index int
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("boundary: %s[%d]: %s", e.Field, e.Index, e.Msg)
}

// Points returns the constrained point indices in ascending order
func (c Conditions) Points() []int {
	pts := make([]int, 0, len(c))
	for p := range c {
		pts = append(pts, p)
	}
	sort.Ints(pts)
	return pts
}

// Validate checks point indices against the assembly size and the DOF kinds
func (c Conditions) Validate(numPoints int) error {
	for _, p := range c.Points() {
		cond := c[p]
		if p < 0 || p >= numPoints {
			return &ValidationError{Field: "Conditions", Index: p,
				Msg: fmt.Sprintf("point outside [0,%d)", numPoints)}
		}
		for dof := 0; dof < 6; dof++ {
			switch cond.Kind[dof] {
			case Load:
			case Displacement:
				if cond.Follower[dof] != nil {
					return &ValidationError{Field: "Conditions", Index: p,
						Msg: fmt.Sprintf("follower load on displacement DOF %d", dof)}
				}
			default:
				return &ValidationError{Field: "Conditions", Index: p,
					Msg: fmt.Sprintf("unknown kind %v on DOF %d", cond.Kind[dof], dof)}
			}
		}
	}
	return nil
}
