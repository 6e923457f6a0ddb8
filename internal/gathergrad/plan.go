// Package gathergrad implements the gradient of the single-axis Gather
// operation as a two-stage segmented reduction: gathered gradient rows are
// grouped by destination row ("segments"), large segments are split into
// capacity-bounded partial segments summed independently, and a final pass
// folds the partial sums into the input-gradient tensor. Write-sets of
// concurrent workers are disjoint by construction, so neither stage needs
// atomics or locks.
package gathergrad

import (
	"github.com/pkg/errors"

	"github.com/brminnick/onnxruntime/internal/tensor"
)

// PartialSegmentSize is the maximum number of gathered rows summed by one
// partial segment. Segments with more contributions are split into blocks of
// this size; the planner and the reduction kernels must agree on it.
const PartialSegmentSize = 320

// Plan is the segmentation plan for one gather-gradient invocation: the
// gathered (destination, event) index pairs sorted by destination row,
// segment boundaries, and the decomposition of each segment into partial
// segments.
//
// DXIndicesSorted holds the destination row of each sorted position and
// DYIndicesSorted the gather event (row of dY) it came from; both share the
// dtype of the original index tensor (Int32 or Int64).
type Plan struct {
	NumGathered int

	NumSegments    int32
	SegmentOffsets []int32 // start of each segment in the sorted arrays

	// Partial-segment decomposition. Offsets are an exclusive prefix sum of
	// counts, so the scalars for the final segment also give the total:
	// NumPartialSegments = LastSegmentPartialOffset + LastSegmentPartialCount.
	PerSegmentPartialCounts  []int32
	PerSegmentPartialOffsets []int32
	LastSegmentPartialCount  int32
	LastSegmentPartialOffset int32

	DXIndicesSorted *tensor.RawTensor
	DYIndicesSorted *tensor.RawTensor
}

// NumPartialSegments returns the total number of partial segments.
func (p *Plan) NumPartialSegments() int {
	return int(p.LastSegmentPartialOffset + p.LastSegmentPartialCount)
}

// Validate checks the plan's structural invariants: segment offsets strictly
// increasing, partial counts covering each segment, and sorted destinations
// non-decreasing with a strict increase at every segment boundary.
func (p *Plan) Validate() error {
	n := int(p.NumSegments)
	if len(p.SegmentOffsets) != n || len(p.PerSegmentPartialCounts) != n || len(p.PerSegmentPartialOffsets) != n {
		return errors.Errorf("plan: table lengths %d/%d/%d do not match %d segments",
			len(p.SegmentOffsets), len(p.PerSegmentPartialCounts), len(p.PerSegmentPartialOffsets), n)
	}
	if n == 0 {
		if p.NumGathered != 0 {
			return errors.Errorf("plan: %d gathered rows but no segments", p.NumGathered)
		}
		return nil
	}

	for s := 0; s < n; s++ {
		start := p.SegmentOffsets[s]
		end := int32(p.NumGathered)
		if s+1 < n {
			end = p.SegmentOffsets[s+1]
		}
		if end <= start {
			return errors.Errorf("plan: segment %d is empty (offsets %d..%d)", s, start, end)
		}
		count := end - start
		want := (count + PartialSegmentSize - 1) / PartialSegmentSize
		if p.PerSegmentPartialCounts[s] != want {
			return errors.Errorf("plan: segment %d has %d partial segments, want %d for %d rows",
				s, p.PerSegmentPartialCounts[s], want, count)
		}
		var prevEnd int32
		if s > 0 {
			prevEnd = p.PerSegmentPartialOffsets[s-1] + p.PerSegmentPartialCounts[s-1]
		}
		if p.PerSegmentPartialOffsets[s] != prevEnd {
			return errors.Errorf("plan: segment %d partial offset %d, want %d",
				s, p.PerSegmentPartialOffsets[s], prevEnd)
		}
	}
	if p.LastSegmentPartialOffset != p.PerSegmentPartialOffsets[n-1] ||
		p.LastSegmentPartialCount != p.PerSegmentPartialCounts[n-1] {
		return errors.New("plan: last-segment scalars disagree with per-segment tables")
	}
	return nil
}

// Inputs packs the plan and the caller's tensors into the op's positional
// input list (see Op.Compute for the schema).
func (p *Plan) Inputs(xShape, gatheredIndices, dY *tensor.RawTensor) ([]*tensor.RawTensor, error) {
	device := gatheredIndices.Device()

	numSegments, err := tensor.Scalar(p.NumSegments, device)
	if err != nil {
		return nil, err
	}
	segmentOffsets, err := tensor.FromSlice(p.SegmentOffsets, tensor.Shape{len(p.SegmentOffsets)}, device)
	if err != nil {
		return nil, err
	}
	lastCount, err := tensor.Scalar(p.LastSegmentPartialCount, device)
	if err != nil {
		return nil, err
	}
	lastOffset, err := tensor.Scalar(p.LastSegmentPartialOffset, device)
	if err != nil {
		return nil, err
	}
	partialCounts, err := tensor.FromSlice(p.PerSegmentPartialCounts, tensor.Shape{len(p.PerSegmentPartialCounts)}, device)
	if err != nil {
		return nil, err
	}
	partialOffsets, err := tensor.FromSlice(p.PerSegmentPartialOffsets, tensor.Shape{len(p.PerSegmentPartialOffsets)}, device)
	if err != nil {
		return nil, err
	}

	return []*tensor.RawTensor{
		xShape,
		gatheredIndices,
		dY,
		numSegments,
		segmentOffsets,
		lastCount,
		lastOffset,
		partialCounts,
		partialOffsets,
		p.DXIndicesSorted,
		p.DYIndicesSorted,
	}, nil
}

// Planner produces a segmentation plan from an unsorted gathered-index
// tensor. Implementations are swappable; CPUPlanner is the reference.
type Planner interface {
	Plan(gatheredIndices *tensor.RawTensor) (*Plan, error)
}
