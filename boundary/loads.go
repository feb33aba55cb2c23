package boundary

import (
	"fmt"
	"sort"

	"github.com/notargets/BeamKernel/element"
)

// LoadFrame selects the frame distributed load components are given in
type LoadFrame uint8

const (
	Global   LoadFrame = iota // fixed global axes
	Local                     // undeformed element axes
	Follower                  // deformed element axes
)

func (f LoadFrame) String() string {
	switch f {
	case Global:
		return "global"
	case Local:
		return "local"
	case Follower:
		return "follower"
	default:
		return fmt.Sprintf("LoadFrame(%d)", uint8(f))
	}
}

// LoadFunc gives the load per unit length [f; m] at normalized position
// ξ ∈ [0, 1] from the element start and time t
type LoadFunc func(xi, t float64) [6]float64

// DistributedLoad is one load per unit length acting along an element
type DistributedLoad struct {
	Frame LoadFrame
	Fn    LoadFunc

	uniform bool
	value   [6]float64
	scale   TimeFunc
}

// Uniform returns a constant load per unit length
func Uniform(frame LoadFrame, f [6]float64) DistributedLoad {
	return DistributedLoad{
		Frame:   frame,
		Fn:      func(float64, float64) [6]float64 { return f },
		uniform: true,
		value:   f,
	}
}

// Varying returns a load that changes along the element and/or in time
func Varying(frame LoadFrame, fn LoadFunc) DistributedLoad {
	return DistributedLoad{Frame: frame, Fn: fn}
}

// Scaled multiplies the load by a time history
func (d DistributedLoad) Scaled(s TimeFunc) DistributedLoad {
	if d.scale != nil {
		prev := d.scale
		d.scale = func(t float64) float64 { return prev(t) * s(t) }
	} else {
		d.scale = s
	}
	return d
}

// Lump integrates the load against the element shape functions and adds the
// result to dst, rotating local loads into the global frame.
func (d DistributedLoad) Lump(dst *element.LumpedLoads, el *element.Element, t float64, rule *element.ShapeRule) {
	scale := 1.0
	if d.scale != nil {
		scale = d.scale(t)
	}
	if scale == 0 {
		return
	}

	var ends [2][6]float64
	if d.uniform {
		for i := 0; i < 6; i++ {
			ends[0][i] = 0.5 * el.Length * d.value[i]
			ends[1][i] = ends[0][i]
		}
	} else {
		for q := range rule.Xi {
			fa := d.Fn(rule.Xi[q], t)
			fb := d.Fn(rule.XiStop[q], t)
			for i := 0; i < 6; i++ {
				ends[0][i] += el.Length * rule.WStart[q] * fa[i]
				ends[1][i] += el.Length * rule.WStop[q] * fb[i]
			}
		}
	}

	for end := 0; end < 2; end++ {
		f := ends[end]
		for i := range f {
			f[i] *= scale
		}
		switch d.Frame {
		case Global:
			addTo(&dst.Dead[end], f)
		case Local:
			force := el.Frame.MulVec([3]float64{f[0], f[1], f[2]})
			moment := el.Frame.MulVec([3]float64{f[3], f[4], f[5]})
			addTo(&dst.Dead[end], [6]float64{force[0], force[1], force[2], moment[0], moment[1], moment[2]})
		case Follower:
			addTo(&dst.Follower[end], f)
		}
	}
}

func addTo(dst *[6]float64, f [6]float64) {
	for i := range f {
		dst[i] += f[i]
	}
}

// DistributedLoads maps element index to the loads acting on it
type DistributedLoads map[int][]DistributedLoad

// Add appends a load to element e
func (d DistributedLoads) Add(e int, load DistributedLoad) {
	d[e] = append(d[e], load)
}

// Elements returns the loaded element indices in ascending order
func (d DistributedLoads) Elements() []int {
	elems := make([]int, 0, len(d))
	for e := range d {
		elems = append(elems, e)
	}
	sort.Ints(elems)
	return elems
}

// Validate checks element indices and load definitions
func (d DistributedLoads) Validate(numElements int) error {
	for _, e := range d.Elements() {
		if e < 0 || e >= numElements {
			return &ValidationError{Field: "DistributedLoads", Index: e,
				Msg: fmt.Sprintf("element outside [0,%d)", numElements)}
		}
		for _, load := range d[e] {
			if load.Fn == nil {
				return &ValidationError{Field: "DistributedLoads", Index: e, Msg: "load without a function"}
			}
			if load.Frame > Follower {
				return &ValidationError{Field: "DistributedLoads", Index: e,
					Msg: fmt.Sprintf("unknown frame %v", load.Frame)}
			}
		}
	}
	return nil
}

// Lump integrates every load on element e at time t
func (d DistributedLoads) Lump(e int, el *element.Element, t float64, rule *element.ShapeRule) element.LumpedLoads {
	var out element.LumpedLoads
	for _, load := range d[e] {
		load.Lump(&out, el, t, rule)
	}
	return out
}
