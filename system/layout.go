package system

import (
	"fmt"
	"sort"

	"github.com/notargets/BeamKernel/assembly"
	"github.com/notargets/BeamKernel/element"
)

// pointRole classifies connection points by how they enter the unknown vector
type pointRole uint8

const (
	roleKept       pointRole = iota // point carries its own unknowns and equilibrium rows
	roleEliminated                  // two-element joint folded into its elements' rows
	roleIsolated                    // no element touches the point
)

// Point unknown layout. Static points carry the first six entries, one per
// DOF: the displacement/rotation component on load DOFs, the reaction on
// displacement DOFs.
const (
	pointStatic  = 6
	pointDynamic = 12
	pointVel     = 6 // offset of [V; Ω] in a dynamic point block
)

// layout fixes the position of every unknown and residual row. Rows and
// unknowns share the same block structure, so the Jacobian is square with
// one row block per unknown block.
type layout struct {
	dynamic bool
	ne, np  int // unknowns per element and per kept point
	n       int // total unknowns

	elemOffset  []int
	pointOffset []int // -1 unless roleKept
	role        []pointRole
	ends        [][2]int

	// for eliminated points: the element whose compatibility rows carry the
	// combined compatibility (primary) and the element whose rows carry the
	// point equilibrium (secondary), with the end index of p on each
	primary, secondary       []int
	primaryEnd, secondaryEnd []int

	// per element: global columns of its local unknowns, and the global row
	// and sign of each local residual row (-1 when unused)
	elemCols [][]int
	rowMap   [][element.NumResidual]int
	rowSign  [][element.NumResidual]float64
}

// local element rows of the compatibility and load blocks at each end
var (
	compatRows = [2]int{element.RowCompatStart, element.RowCompatStop}
	loadRows   = [2]int{element.RowLoadStart, element.RowLoadStop}
)

func endSign(end int) float64 {
	if end == 0 {
		return -1
	}
	return 1
}

func newLayout(asm *assembly.Assembly, kept []int, dynamic bool) (*layout, error) {
	nP, nE := asm.NumPoints(), asm.NumElements()
	l := &layout{
		dynamic:      dynamic,
		ne:           element.NumStatic,
		np:           pointStatic,
		elemOffset:   make([]int, nE),
		pointOffset:  make([]int, nP),
		role:         make([]pointRole, nP),
		ends:         asm.Endpoints(),
		primary:      make([]int, nP),
		secondary:    make([]int, nP),
		primaryEnd:   make([]int, nP),
		secondaryEnd: make([]int, nP),
	}
	if dynamic {
		l.ne, l.np = element.NumDynamic, pointDynamic
	}

	keep := make([]bool, nP)
	if kept == nil {
		for p := range keep {
			keep[p] = true
		}
	}
	for _, p := range kept {
		if p < 0 || p >= nP {
			return nil, fmt.Errorf("kept point %d outside [0,%d)", p, nP)
		}
		keep[p] = true
	}

	for p := 0; p < nP; p++ {
		l.pointOffset[p] = -1
		l.primary[p], l.secondary[p] = -1, -1
		elems := asm.PointElements(p)
		switch {
		case len(elems) == 0:
			l.role[p] = roleIsolated
		case len(elems) == 2 && !keep[p]:
			l.role[p] = roleEliminated
			l.primary[p], l.secondary[p] = elems[0], elems[1]
			l.primaryEnd[p] = endOf(l.ends[elems[0]], p)
			l.secondaryEnd[p] = endOf(l.ends[elems[1]], p)
		default:
			l.role[p] = roleKept
		}
	}

	// start point, element, stop point, in element order
	idx := 0
	for e, ends := range l.ends {
		if p := ends[0]; l.role[p] == roleKept && l.pointOffset[p] < 0 {
			l.pointOffset[p] = idx
			idx += l.np
		}
		l.elemOffset[e] = idx
		idx += l.ne
		if p := ends[1]; l.role[p] == roleKept && l.pointOffset[p] < 0 {
			l.pointOffset[p] = idx
			idx += l.np
		}
	}
	l.n = idx

	l.buildElementMaps()
	return l, nil
}

func endOf(ends [2]int, p int) int {
	if ends[0] == p {
		return 0
	}
	return 1
}

func (l *layout) buildElementMaps() {
	nE := len(l.ends)
	l.elemCols = make([][]int, nE)
	l.rowMap = make([][element.NumResidual]int, nE)
	l.rowSign = make([][element.NumResidual]float64, nE)

	for e, ends := range l.ends {
		cols := make([]int, 0, l.ne+12)
		for i := 0; i < l.ne; i++ {
			cols = append(cols, l.elemOffset[e]+i)
		}
		for _, p := range ends {
			if l.role[p] == roleKept {
				for i := 0; i < 6; i++ {
					cols = append(cols, l.pointOffset[p]+i)
				}
			}
		}
		l.elemCols[e] = cols

		rows, signs := &l.rowMap[e], &l.rowSign[e]
		for i := range rows {
			rows[i], signs[i] = -1, 0
		}
		set := func(local, global int, sign float64) {
			for i := 0; i < 6; i++ {
				rows[local+i], signs[local+i] = global+i, sign
			}
		}
		for k, p := range ends {
			switch l.role[p] {
			case roleKept:
				set(compatRows[k], l.elemOffset[e]+6*k, 1)
				set(loadRows[k], l.pointOffset[p], 1)
			case roleEliminated:
				e1, k1 := l.primary[p], l.primaryEnd[p]
				e2, k2 := l.secondary[p], l.secondaryEnd[p]
				sign := 1.0
				if e == e2 {
					sign = -endSign(k1) * endSign(k2)
				}
				set(compatRows[k], l.elemOffset[e1]+6*k1, sign)
				set(loadRows[k], l.elemOffset[e2]+6*k2, 1)
			}
		}
		if l.dynamic {
			set(element.RowKinematic, l.elemOffset[e]+element.RowKinematic, 1)
		}
	}
}

// pointCols returns the global columns of a kept point's unknowns
func (l *layout) pointCols(p int) []int {
	cols := make([]int, l.np)
	for i := range cols {
		cols[i] = l.pointOffset[p] + i
	}
	return cols
}

// keptPoints returns kept point indices in ascending order
func (l *layout) keptPoints() []int {
	var pts []int
	for p, r := range l.role {
		if r == roleKept {
			pts = append(pts, p)
		}
	}
	return pts
}

// pattern is the fixed CSR sparsity of the Jacobian together with the data
// slot of every local block entry
type pattern struct {
	n, nnz     int
	ia, ja     []int
	elemSlots  [][]int // [element][localRow*len(cols)+localCol] → data slot, -1 if unused
	pointSlots [][]int // [point][localRow*np+localCol] → data slot
}

func newPattern(l *layout) *pattern {
	rowCols := make([]map[int]struct{}, l.n)
	for i := range rowCols {
		rowCols[i] = make(map[int]struct{})
	}
	for e := range l.ends {
		for _, r := range l.rowMap[e] {
			if r < 0 {
				continue
			}
			for _, c := range l.elemCols[e] {
				rowCols[r][c] = struct{}{}
			}
		}
	}
	for _, p := range l.keptPoints() {
		cols := l.pointCols(p)
		for _, r := range cols {
			for _, c := range cols {
				rowCols[r][c] = struct{}{}
			}
		}
	}

	pt := &pattern{n: l.n, ia: make([]int, l.n+1)}
	for r := 0; r < l.n; r++ {
		cols := make([]int, 0, len(rowCols[r]))
		for c := range rowCols[r] {
			cols = append(cols, c)
		}
		sort.Ints(cols)
		pt.ja = append(pt.ja, cols...)
		pt.ia[r+1] = len(pt.ja)
	}
	pt.nnz = len(pt.ja)

	pt.elemSlots = make([][]int, len(l.ends))
	for e := range l.ends {
		cols := l.elemCols[e]
		slots := make([]int, element.NumResidual*len(cols))
		for lr, r := range l.rowMap[e] {
			for lc, c := range cols {
				if r < 0 {
					slots[lr*len(cols)+lc] = -1
				} else {
					slots[lr*len(cols)+lc] = pt.slot(r, c)
				}
			}
		}
		pt.elemSlots[e] = slots
	}

	pt.pointSlots = make([][]int, len(l.role))
	for _, p := range l.keptPoints() {
		cols := l.pointCols(p)
		slots := make([]int, l.np*l.np)
		for lr, r := range cols {
			for lc, c := range cols {
				slots[lr*l.np+lc] = pt.slot(r, c)
			}
		}
		pt.pointSlots[p] = slots
	}
	return pt
}

func (pt *pattern) slot(r, c int) int {
	row := pt.ja[pt.ia[r]:pt.ia[r+1]]
	k := sort.SearchInts(row, c)
	if k == len(row) || row[k] != c {
		return -1
	}
	return pt.ia[r] + k
}
