package gathergrad

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/brminnick/onnxruntime/internal/tensor"
)

// CPUPlanner is the host-side segmentation-plan producer: it sorts the
// gathered indices by destination row, finds segment boundaries, and splits
// segments into PartialSegmentSize blocks. A device-side producer can replace
// it as long as it emits the same Plan shape.
type CPUPlanner struct{}

// NewPlanner creates a CPUPlanner.
func NewPlanner() *CPUPlanner {
	return &CPUPlanner{}
}

// Plan builds the segmentation plan for the given index tensor (Int32 or
// Int64). Negative indices are rejected; upper-bound validation is the
// caller's obligation since the planner does not know the gather dimension
// size.
func (pl *CPUPlanner) Plan(gatheredIndices *tensor.RawTensor) (*Plan, error) {
	switch gatheredIndices.DType() {
	case tensor.Int32:
		return buildPlan(gatheredIndices.AsInt32(), gatheredIndices.Device())
	case tensor.Int64:
		return buildPlan(gatheredIndices.AsInt64(), gatheredIndices.Device())
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "planner: index type %s", gatheredIndices.DType())
	}
}

func buildPlan[TI indexType](indices []TI, device tensor.Device) (*Plan, error) {
	n := len(indices)

	// Sort event ids by destination, ties broken by event id so the plan is
	// deterministic for a given multiset of indices.
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.Slice(perm, func(a, b int) bool {
		ia, ib := indices[perm[a]], indices[perm[b]]
		if ia != ib {
			return ia < ib
		}
		return perm[a] < perm[b]
	})

	dxSorted := make([]TI, n)
	dySorted := make([]TI, n)
	for i, ev := range perm {
		if indices[ev] < 0 {
			return nil, errors.Errorf("planner: negative index %d at position %d", int64(indices[ev]), ev)
		}
		dxSorted[i] = indices[ev]
		dySorted[i] = TI(ev)
	}

	var segmentOffsets []int32
	for i := 0; i < n; i++ {
		if i == 0 || dxSorted[i] != dxSorted[i-1] {
			segmentOffsets = append(segmentOffsets, int32(i))
		}
	}
	numSegments := len(segmentOffsets)

	partialCounts := make([]int32, numSegments)
	partialOffsets := make([]int32, numSegments)
	var nextOffset int32
	for s := 0; s < numSegments; s++ {
		end := int32(n)
		if s+1 < numSegments {
			end = segmentOffsets[s+1]
		}
		count := end - segmentOffsets[s]
		partialOffsets[s] = nextOffset
		partialCounts[s] = (count + PartialSegmentSize - 1) / PartialSegmentSize
		nextOffset += partialCounts[s]
	}

	plan := &Plan{
		NumGathered:              n,
		NumSegments:              int32(numSegments),
		SegmentOffsets:           segmentOffsets,
		PerSegmentPartialCounts:  partialCounts,
		PerSegmentPartialOffsets: partialOffsets,
	}
	if numSegments > 0 {
		plan.LastSegmentPartialCount = partialCounts[numSegments-1]
		plan.LastSegmentPartialOffset = partialOffsets[numSegments-1]
	}

	var err error
	plan.DXIndicesSorted, err = tensor.FromSlice(dxSorted, tensor.Shape{n}, device)
	if err != nil {
		return nil, err
	}
	plan.DYIndicesSorted, err = tensor.FromSlice(dySorted, tensor.Shape{n}, device)
	if err != nil {
		return nil, err
	}
	return plan, nil
}
