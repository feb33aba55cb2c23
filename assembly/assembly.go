// Package assembly describes a frame of straight beam elements joined at
// connection points. An Assembly is immutable once built and may be shared by
// any number of concurrent analyses.
package assembly

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/notargets/BeamKernel/element"
	"github.com/notargets/BeamKernel/utils"
)

// Config is the raw description of an assembly. Per element slices are
// indexed like Endpoints; optional slices may be nil.
type Config struct {
	Points    []r3.Vec // Connection point coordinates
	Endpoints [][2]int // Element → [start point, stop point]

	Compliance  []mat.Matrix // Required, 6×6 per element
	InverseMass []mat.Matrix // Optional, 6×6 per element; required for dynamics

	Frames    []utils.Frame // Optional, default FrameFromDirection(stop - start)
	Lengths   []float64     // Optional, default |stop - start|
	Midpoints []r3.Vec      // Optional, default (start + stop)/2
}

// ValidationError reports an inconsistent assembly description
type ValidationError struct {
	Field string
	Index int // Element or point index, -1 when not applicable
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("assembly: %s: %s", e.Field, e.Msg)
	}
	return fmt.Sprintf("assembly: %s[%d]: %s", e.Field, e.Index, e.Msg)
}

func invalid(field string, index int, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Index: index, Msg: fmt.Sprintf(format, args...)}
}

// Assembly stores points and elements in flat arenas indexed by integer IDs
type Assembly struct {
	points    []r3.Vec
	elements  []element.Element
	connector *utils.PointConnector
	hasMass   bool
	signature uuid.UUID
}

// New validates a configuration and builds the assembly
func New(cfg Config) (*Assembly, error) {
	nPts, nElem := len(cfg.Points), len(cfg.Endpoints)
	if nPts == 0 {
		return nil, invalid("Points", -1, "at least one point is required")
	}
	if nElem == 0 {
		return nil, invalid("Endpoints", -1, "at least one element is required")
	}
	for i, p := range cfg.Points {
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
			return nil, invalid("Points", i, "non-finite coordinate %v", p)
		}
	}
	if len(cfg.Compliance) != nElem {
		return nil, invalid("Compliance", -1, "%d matrices for %d elements", len(cfg.Compliance), nElem)
	}
	if cfg.InverseMass != nil && len(cfg.InverseMass) != nElem {
		return nil, invalid("InverseMass", -1, "%d matrices for %d elements", len(cfg.InverseMass), nElem)
	}
	if cfg.Frames != nil && len(cfg.Frames) != nElem {
		return nil, invalid("Frames", -1, "%d frames for %d elements", len(cfg.Frames), nElem)
	}
	if cfg.Lengths != nil && len(cfg.Lengths) != nElem {
		return nil, invalid("Lengths", -1, "%d lengths for %d elements", len(cfg.Lengths), nElem)
	}
	if cfg.Midpoints != nil && len(cfg.Midpoints) != nElem {
		return nil, invalid("Midpoints", -1, "%d midpoints for %d elements", len(cfg.Midpoints), nElem)
	}

	endpoints := make([][2]int, nElem)
	copy(endpoints, cfg.Endpoints)
	connector, err := utils.NewPointConnector(nPts, endpoints, nil)
	if err != nil {
		return nil, &ValidationError{Field: "Endpoints", Index: -1, Msg: err.Error()}
	}

	a := &Assembly{
		points:    append([]r3.Vec(nil), cfg.Points...),
		elements:  make([]element.Element, nElem),
		connector: connector,
		hasMass:   cfg.InverseMass != nil,
	}

	for e, ends := range endpoints {
		p1, p2 := a.points[ends[0]], a.points[ends[1]]
		chord := r3.Sub(p2, p1)

		var inverseMass mat.Matrix
		if cfg.InverseMass != nil {
			inverseMass = cfg.InverseMass[e]
			if inverseMass == nil {
				a.hasMass = false
			}
		}
		section, err := element.NewSection(cfg.Compliance[e], inverseMass)
		if err != nil {
			return nil, invalid("Compliance", e, "%v", err)
		}

		el := element.Element{Start: ends[0], Stop: ends[1], Section: section}

		if cfg.Lengths != nil {
			el.Length = cfg.Lengths[e]
		} else {
			el.Length = r3.Norm(chord)
		}
		if !(el.Length > 0) || math.IsInf(el.Length, 0) {
			return nil, invalid("Lengths", e, "element length must be positive and finite, got %g", el.Length)
		}

		if cfg.Midpoints != nil {
			el.Midpoint = cfg.Midpoints[e]
		} else {
			el.Midpoint = r3.Scale(0.5, r3.Add(p1, p2))
		}

		if cfg.Frames != nil {
			el.Frame = cfg.Frames[e]
		} else {
			if r3.Norm(chord) == 0 {
				return nil, invalid("Frames", e, "coincident end points need an explicit frame")
			}
			el.Frame = utils.FrameFromDirection(chord)
		}
		orth, det := utils.OrthonormalityError(el.Frame)
		if orth > 1e-6 || det <= 0 {
			return nil, invalid("Frames", e, "frame is not a proper rotation (orthonormality error %g, det %g)", orth, det)
		}

		a.elements[e] = el
	}

	a.signature = connectivitySignature(nPts, endpoints)
	return a, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// connectivitySignature fingerprints the point count and element endpoints
func connectivitySignature(numPoints int, endpoints [][2]int) uuid.UUID {
	buf := make([]byte, 0, 8*(1+2*len(endpoints)))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(numPoints))
	for _, ends := range endpoints {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(ends[0]))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(ends[1]))
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, buf)
}

func (a *Assembly) NumPoints() int   { return len(a.points) }
func (a *Assembly) NumElements() int { return len(a.elements) }

// Point returns the coordinates of point i
func (a *Assembly) Point(i int) r3.Vec { return a.points[i] }

// Element returns a copy of element i
func (a *Assembly) Element(i int) element.Element { return a.elements[i] }

// PointElements returns the elements meeting at point p, ascending
func (a *Assembly) PointElements(p int) []int {
	return append([]int(nil), a.connector.PointElements[p]...)
}

// Endpoints returns a copy of the element connectivity
func (a *Assembly) Endpoints() [][2]int {
	return append([][2]int(nil), a.connector.EToV...)
}

// ElementNeighbors returns, per element, the elements sharing an end point
func (a *Assembly) ElementNeighbors() [][]int {
	return a.connector.ElementNeighbors()
}

// HasMass reports whether every element carries inertia
func (a *Assembly) HasMass() bool { return a.hasMass }

// Signature identifies the connectivity pattern. Assemblies with equal
// signatures can share a system layout.
func (a *Assembly) Signature() uuid.UUID { return a.signature }
