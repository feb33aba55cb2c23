package utils

import (
	"fmt"
	"sort"
)

// PointConnector manages point adjacency and partition-local element
// numbering for a beam assembly
type PointConnector struct {
	// Assembly dimensions
	NumPartitions int
	NumPoints     int
	K             int // Total elements

	// Input connectivity
	EToV [][2]int // Element → [start point, stop point]
	EToP []int    // Element → partition mapping

	// Point adjacency
	PointElements [][]int // [point] → incident elements, ascending

	// Partition mappings
	ElemsPerPartition []int   // Elements per partition
	LocalToGlobalElem [][]int // [partition][localElem] → globalElem

	// Points touched by elements of more than one partition. Their
	// equilibrium rows receive contributions from several workers and are
	// merged serially.
	SharedPoints []int
}

// NewPointConnector creates a point connector from element connectivity. A nil
// EToP places every element in partition 0.
func NewPointConnector(numPoints int, EToV [][2]int, EToP []int) (*PointConnector, error) {
	K := len(EToV)
	if numPoints <= 0 {
		return nil, fmt.Errorf("invalid dimensions: numPoints=%d", numPoints)
	}
	if EToP == nil {
		EToP = make([]int, K)
	}
	if len(EToP) != K {
		return nil, fmt.Errorf("EToP length %d does not match K=%d", len(EToP), K)
	}

	numPartitions := 0
	for e, p := range EToP {
		if p < 0 {
			return nil, fmt.Errorf("element %d has negative partition %d", e, p)
		}
		if p+1 > numPartitions {
			numPartitions = p + 1
		}
	}

	pc := &PointConnector{
		NumPartitions: numPartitions,
		NumPoints:     numPoints,
		K:             K,
		EToV:          EToV,
		EToP:          EToP,
	}

	if err := pc.buildPointElements(); err != nil {
		return nil, err
	}
	pc.buildPartitionMappings()
	pc.buildSharedPoints()

	return pc, nil
}

// buildPointElements inverts the element to point connectivity
func (pc *PointConnector) buildPointElements() error {
	pc.PointElements = make([][]int, pc.NumPoints)
	for e, ends := range pc.EToV {
		for _, p := range ends {
			if p < 0 || p >= pc.NumPoints {
				return fmt.Errorf("element %d references point %d outside [0,%d)", e, p, pc.NumPoints)
			}
		}
		if ends[0] == ends[1] {
			return fmt.Errorf("element %d starts and stops at point %d", e, ends[0])
		}
		pc.PointElements[ends[0]] = append(pc.PointElements[ends[0]], e)
		pc.PointElements[ends[1]] = append(pc.PointElements[ends[1]], e)
	}
	return nil
}

// buildPartitionMappings lists each partition's elements in global order
func (pc *PointConnector) buildPartitionMappings() {
	pc.ElemsPerPartition = make([]int, pc.NumPartitions)
	for _, p := range pc.EToP {
		pc.ElemsPerPartition[p]++
	}

	pc.LocalToGlobalElem = make([][]int, pc.NumPartitions)
	for p := 0; p < pc.NumPartitions; p++ {
		pc.LocalToGlobalElem[p] = make([]int, 0, pc.ElemsPerPartition[p])
	}
	for globalElem := 0; globalElem < pc.K; globalElem++ {
		partition := pc.EToP[globalElem]
		pc.LocalToGlobalElem[partition] = append(pc.LocalToGlobalElem[partition], globalElem)
	}
}

func (pc *PointConnector) buildSharedPoints() {
	pc.SharedPoints = pc.SharedPoints[:0]
	for p, elems := range pc.PointElements {
		if len(elems) < 2 {
			continue
		}
		for _, e := range elems[1:] {
			if pc.EToP[e] != pc.EToP[elems[0]] {
				pc.SharedPoints = append(pc.SharedPoints, p)
				break
			}
		}
	}
	sort.Ints(pc.SharedPoints)
}

// ElementNeighbors returns, per element, the other elements sharing one of
// its end points
func (pc *PointConnector) ElementNeighbors() [][]int {
	EToE := make([][]int, pc.K)
	for e, ends := range pc.EToV {
		seen := map[int]bool{e: true}
		for _, p := range ends {
			for _, n := range pc.PointElements[p] {
				if !seen[n] {
					seen[n] = true
					EToE[e] = append(EToE[e], n)
				}
			}
		}
		sort.Ints(EToE[e])
	}
	return EToE
}

// Verify checks index validity and conservation properties
func (pc *PointConnector) Verify() error {
	// Every element appears exactly twice in the point adjacency
	counts := make([]int, pc.K)
	for p, elems := range pc.PointElements {
		for _, e := range elems {
			if e < 0 || e >= pc.K {
				return fmt.Errorf("point %d lists invalid element %d", p, e)
			}
			if pc.EToV[e][0] != p && pc.EToV[e][1] != p {
				return fmt.Errorf("point %d lists element %d which does not touch it", p, e)
			}
			counts[e]++
		}
	}
	for e, c := range counts {
		if c != 2 {
			return fmt.Errorf("element %d appears %d times in point adjacency, want 2", e, c)
		}
	}

	// Every partition lists exactly its own elements
	total := 0
	for p := 0; p < pc.NumPartitions; p++ {
		if len(pc.LocalToGlobalElem[p]) != pc.ElemsPerPartition[p] {
			return fmt.Errorf("partition %d: %d local elements, expected %d",
				p, len(pc.LocalToGlobalElem[p]), pc.ElemsPerPartition[p])
		}
		for local, global := range pc.LocalToGlobalElem[p] {
			if global < 0 || global >= pc.K || pc.EToP[global] != p {
				return fmt.Errorf("partition %d: local element %d maps to element %d outside the partition",
					p, local, global)
			}
		}
		total += pc.ElemsPerPartition[p]
	}
	if total != pc.K {
		return fmt.Errorf("conservation error: partitions hold %d elements, K=%d", total, pc.K)
	}

	return nil
}
