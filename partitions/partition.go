package partitions

import (
	"fmt"
)

// Partition represents a collection of elements whose residual and Jacobian
// blocks are evaluated together by one worker
type Partition struct {
	// Unique identifier for this partition
	ID int

	// Element membership
	Elements    []int // Global element indices in this partition, ascending
	NumElements int   // Number of elements
}

// PartitionLayout manages the complete decomposition of an assembly
type PartitionLayout struct {
	// All partitions
	Partitions []Partition

	// Global sizing information
	KpartMax      int // max(NumElements) across all partitions
	TotalElements int // Sum of all elements across partitions
	NumPartitions int // Total number of partitions

	// Element to partition mapping
	EToP []int // Length TotalElements: element k belongs to partition EToP[k]
}

// PartitionedArray represents per-element scratch data stored contiguously
// partition by partition, so each worker writes a disjoint range
type PartitionedArray struct {
	// Contiguous global storage for all partitions
	// Layout: [Partition 0 Data][Partition 1 Data]...[Partition N-1 Data]
	GlobalData []float64

	// Offset for each partition's data in GlobalData
	// Partition p's data starts at GlobalData[Offsets[p]]
	Offsets []int

	// Offset of each element's data in GlobalData, indexed by global element
	ElementOffsets []int

	// Total allocated size
	AllocatedSize int
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("%d partitions stored, NumPartitions %d", len(pl.Partitions), pl.NumPartitions)
	}
	if len(pl.EToP) != pl.TotalElements {
		return fmt.Errorf("EToP length %d != TotalElements %d", len(pl.EToP), pl.TotalElements)
	}

	// Every element belongs to exactly the partition EToP names
	seen := make([]bool, pl.TotalElements)
	actualMax := 0
	for pID, p := range pl.Partitions {
		if p.ID != pID {
			return fmt.Errorf("partition at position %d has ID %d", pID, p.ID)
		}
		if p.NumElements != len(p.Elements) {
			return fmt.Errorf("partition %d: NumElements %d != len(Elements) %d",
				p.ID, p.NumElements, len(p.Elements))
		}
		for _, e := range p.Elements {
			if e < 0 || e >= pl.TotalElements {
				return fmt.Errorf("partition %d: element %d out of range", p.ID, e)
			}
			if seen[e] {
				return fmt.Errorf("element %d assigned twice", e)
			}
			seen[e] = true
			if pl.EToP[e] != p.ID {
				return fmt.Errorf("element %d in partition %d but EToP says %d", e, p.ID, pl.EToP[e])
			}
		}
		if p.NumElements > actualMax {
			actualMax = p.NumElements
		}
	}
	for e, ok := range seen {
		if !ok {
			return fmt.Errorf("element %d not assigned to any partition", e)
		}
	}
	if actualMax != pl.KpartMax {
		return fmt.Errorf("computed KpartMax %d != stored KpartMax %d",
			actualMax, pl.KpartMax)
	}
	return nil
}

// GetElementData returns the n values stored for element e
func (pa *PartitionedArray) GetElementData(e, n int) []float64 {
	start := pa.ElementOffsets[e]
	return pa.GlobalData[start : start+n]
}
