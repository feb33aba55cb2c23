package partitions

import (
	"fmt"
	"math"
	"strings"
)

// PartitionBuilder constructs partitions from assembly connectivity
type PartitionBuilder struct {
	// Assembly connectivity
	Mesh *Connectivity

	// Partitioning parameters
	TargetPartitionSize int // Desired elements per partition
	Strategy            PartitionStrategy
}

// Connectivity provides the topology needed for partitioning
type Connectivity struct {
	NumElements int

	// Element-to-element connectivity through shared points. Graph
	// partitioning grows partitions along these edges so that few points are
	// shared between workers.
	EToE [][]int
}

// PartitionStrategy defines how elements are grouped
type PartitionStrategy int

const (
	// Simple strategies
	BlockPartition PartitionStrategy = iota // Consecutive elements
	RoundRobin                              // Distribute cyclically

	// Graph-based strategies
	GraphPartition // Breadth-first growth over element adjacency
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "round-robin"
	case GraphPartition:
		return "graph"
	default:
		return fmt.Sprintf("PartitionStrategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration name to a strategy. The empty string
// selects BlockPartition.
func ParseStrategy(name string) (PartitionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "block":
		return BlockPartition, nil
	case "round-robin", "roundrobin":
		return RoundRobin, nil
	case "graph":
		return GraphPartition, nil
	default:
		return 0, fmt.Errorf("unknown partition strategy %q", name)
	}
}

// BuildPartitions creates a partition layout from assembly connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil || pb.Mesh.NumElements <= 0 {
		return nil, fmt.Errorf("partition builder needs a non-empty connectivity")
	}
	if pb.Strategy == GraphPartition && len(pb.Mesh.EToE) != pb.Mesh.NumElements {
		return nil, fmt.Errorf("graph partitioning needs EToE for %d elements, got %d",
			pb.Mesh.NumElements, len(pb.Mesh.EToE))
	}

	// Determine number of partitions needed
	numPartitions := pb.calculateNumPartitions()

	// Partition the elements
	eToP := pb.partitionElements(numPartitions)

	// Create partition structures
	partitions := pb.createPartitions(eToP, numPartitions)

	layout := &PartitionLayout{
		Partitions:    partitions,
		KpartMax:      pb.calculateKpartMax(partitions),
		TotalElements: pb.Mesh.NumElements,
		NumPartitions: numPartitions,
		EToP:          eToP,
	}

	// Validate the layout
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}

	return layout, nil
}

// calculateNumPartitions determines optimal partition count
func (pb *PartitionBuilder) calculateNumPartitions() int {
	target := pb.TargetPartitionSize
	if target < 1 {
		target = pb.Mesh.NumElements
	}
	numPartitions := int(math.Ceil(float64(pb.Mesh.NumElements) / float64(target)))

	// Ensure at least one partition
	if numPartitions < 1 {
		numPartitions = 1
	}

	return numPartitions
}

// partitionElements assigns elements to partitions
func (pb *PartitionBuilder) partitionElements(numPartitions int) []int {
	K := pb.Mesh.NumElements
	eToP := make([]int, K)
	elementsPerPartition := int(math.Ceil(float64(K) / float64(numPartitions)))

	switch pb.Strategy {
	case RoundRobin:
		// Distribute elements cyclically
		for i := 0; i < K; i++ {
			eToP[i] = i % numPartitions
		}

	case GraphPartition:
		return pb.growPartitions(numPartitions, elementsPerPartition)

	default:
		// Simple block partitioning
		for i := 0; i < K; i++ {
			eToP[i] = i / elementsPerPartition
			if eToP[i] >= numPartitions {
				eToP[i] = numPartitions - 1
			}
		}
	}

	return eToP
}

// growPartitions fills partitions one at a time by breadth-first search over
// element adjacency, reseeding from the lowest unassigned element when a
// connected component is exhausted
func (pb *PartitionBuilder) growPartitions(numPartitions, size int) []int {
	K := pb.Mesh.NumElements
	eToP := make([]int, K)
	for i := range eToP {
		eToP[i] = -1
	}

	nextSeed := 0
	for part := 0; part < numPartitions; part++ {
		count := 0
		var queue []int
		for count < size {
			if len(queue) == 0 {
				for nextSeed < K && eToP[nextSeed] >= 0 {
					nextSeed++
				}
				if nextSeed == K {
					break
				}
				eToP[nextSeed] = part
				count++
				queue = append(queue, nextSeed)
				continue
			}
			e := queue[0]
			queue = queue[1:]
			for _, n := range pb.Mesh.EToE[e] {
				if count == size {
					break
				}
				if n >= 0 && n < K && eToP[n] < 0 {
					eToP[n] = part
					count++
					queue = append(queue, n)
				}
			}
		}
	}

	// Remainders from rounding go to the last partition
	for i := range eToP {
		if eToP[i] < 0 {
			eToP[i] = numPartitions - 1
		}
	}
	return eToP
}

// createPartitions builds partition structures from element assignments
func (pb *PartitionBuilder) createPartitions(eToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	for i := range partitions {
		partitions[i] = Partition{
			ID:       i,
			Elements: make([]int, 0),
		}
	}

	// Assign elements to partitions in ascending order
	for elem, part := range eToP {
		partitions[part].Elements = append(partitions[part].Elements, elem)
		partitions[part].NumElements++
	}

	return partitions
}

// calculateKpartMax finds maximum elements across all partitions
func (pb *PartitionBuilder) calculateKpartMax(partitions []Partition) int {
	kpartMax := 0
	for _, p := range partitions {
		if p.NumElements > kpartMax {
			kpartMax = p.NumElements
		}
	}
	return kpartMax
}

// AllocatePartitionedArray creates per-element storage grouped by partition
func AllocatePartitionedArray(layout *PartitionLayout, valuesPerElement []int) *PartitionedArray {
	offsets := make([]int, layout.NumPartitions+1)
	elementOffsets := make([]int, layout.TotalElements)

	for i, p := range layout.Partitions {
		partitionSize := 0
		for _, elemID := range p.Elements {
			elementOffsets[elemID] = offsets[i] + partitionSize
			partitionSize += valuesPerElement[elemID]
		}
		offsets[i+1] = offsets[i] + partitionSize
	}

	totalSize := offsets[layout.NumPartitions]

	return &PartitionedArray{
		GlobalData:     make([]float64, totalSize),
		Offsets:        offsets,
		ElementOffsets: elementOffsets,
		AllocatedSize:  totalSize,
	}
}

// PartitionStatistics computes load balance metrics
func (layout *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: layout.NumPartitions,
		MinElements:   math.MaxInt32,
		MaxElements:   0,
		AvgElements:   float64(layout.TotalElements) / float64(layout.NumPartitions),
	}

	for _, p := range layout.Partitions {
		if p.NumElements < stats.MinElements {
			stats.MinElements = p.NumElements
		}
		if p.NumElements > stats.MaxElements {
			stats.MaxElements = p.NumElements
		}
	}

	stats.Imbalance = float64(stats.MaxElements) / stats.AvgElements

	return stats
}

type PartitionStats struct {
	NumPartitions int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	Imbalance     float64 // MaxElements / AvgElements
}
