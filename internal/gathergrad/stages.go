package gathergrad

import (
	"github.com/brminnick/onnxruntime/internal/parallel"
	"github.com/brminnick/onnxruntime/internal/tensor"
)

// podFloat are the element types accumulated natively; half-precision types
// accumulate in float32 (see stages_float16.go).
type podFloat interface {
	float32 | float64
}

// indexType are the supported index integer widths.
type indexType interface {
	int32 | int64
}

// stageArgs carries everything both stages need for one invocation.
// partialSegmentOffsets and scratch are produced by the partial-sum stage and
// consumed by the final reduction; the stream barrier between the two units
// orders the hand-off.
type stageArgs struct {
	dY *tensor.RawTensor
	dX *tensor.RawTensor

	dxIndicesSorted *tensor.RawTensor
	dyIndicesSorted *tensor.RawTensor

	numSegments              int
	segmentOffsets           []int32
	perSegmentPartialCounts  []int32
	perSegmentPartialOffsets []int32
	numPartialSegments       int

	// Derived in the partial-sum stage: start of each partial segment in the
	// sorted index arrays.
	partialSegmentOffsets []int32

	// Accumulator buffer, one row per (partial segment, batch). Element type
	// is the accumulation type (float32 or float64), not necessarily dY's.
	scratch any

	numBatches    int
	gatherDimSize int
	rowWidth      int
	numGathered   int

	workers parallel.Config
}

func floatView[T podFloat](r *tensor.RawTensor) []T {
	var dummy T
	switch any(dummy).(type) {
	case float32:
		return any(r.AsFloat32()).([]T)
	case float64:
		return any(r.AsFloat64()).([]T)
	default:
		panic("unsupported float type")
	}
}

func indexView[TI indexType](r *tensor.RawTensor) []TI {
	var dummy TI
	switch any(dummy).(type) {
	case int32:
		return any(r.AsInt32()).([]TI)
	case int64:
		return any(r.AsInt64()).([]TI)
	default:
		panic("unsupported index type")
	}
}

// computePartialSegmentOffsets expands the per-segment partial tables into a
// flat table of partial-segment start positions. Partial segment k of segment
// s starts at SegmentOffsets[s] + k*PartialSegmentSize; only the final block
// of a segment may be undersized.
func computePartialSegmentOffsets(a *stageArgs) {
	offsets := make([]int32, a.numPartialSegments)
	parallel.For(a.numSegments, func(s int) {
		base := a.perSegmentPartialOffsets[s]
		start := a.segmentOffsets[s]
		for k := int32(0); k < a.perSegmentPartialCounts[s]; k++ {
			offsets[base+k] = start + k*PartialSegmentSize
		}
	}, a.workers)
	a.partialSegmentOffsets = offsets
}

// partialSegmentEnd returns one past the last sorted position covered by
// partial segment p. The next partial segment's offset is the end in every
// case but the globally last block, which runs to the end of the sorted
// arrays.
func partialSegmentEnd(a *stageArgs, p int) int {
	if p+1 < a.numPartialSegments {
		return int(a.partialSegmentOffsets[p+1])
	}
	return a.numGathered
}

// partialSumsPOD is the Partial-Sum Stage for natively accumulated element
// types: one worker per partial segment sums its dY rows into the scratch
// accumulator row. Distinct partial segments write disjoint scratch rows, so
// workers never synchronize.
func partialSumsPOD[T podFloat, TI indexType](a *stageArgs) {
	dY := floatView[T](a.dY)
	scratch := a.scratch.([]T)
	dyIdx := indexView[TI](a.dyIndicesSorted)

	parallel.For(a.numPartialSegments, func(p int) {
		start := int(a.partialSegmentOffsets[p])
		end := partialSegmentEnd(a, p)
		for b := 0; b < a.numBatches; b++ {
			acc := scratch[(p*a.numBatches+b)*a.rowWidth:][:a.rowWidth]
			clear(acc)
			for r := start; r < end; r++ {
				row := dY[(b*a.numGathered+int(dyIdx[r]))*a.rowWidth:][:a.rowWidth]
				for j, v := range row {
					acc[j] += v
				}
			}
		}
	}, a.workers)
}

// finalReductionPOD is the Final Reduction Stage: one worker per segment sums
// the segment's partial-sum rows into the destination row of dX. Segments
// target distinct destination rows, so writes are disjoint here too.
func finalReductionPOD[T podFloat, TI indexType](a *stageArgs) {
	dX := floatView[T](a.dX)
	scratch := a.scratch.([]T)
	dxIdx := indexView[TI](a.dxIndicesSorted)

	parallel.For(a.numSegments, func(s int) {
		dest := int(dxIdx[a.segmentOffsets[s]])
		pBase := int(a.perSegmentPartialOffsets[s])
		pCount := int(a.perSegmentPartialCounts[s])
		for b := 0; b < a.numBatches; b++ {
			out := dX[(b*a.gatherDimSize+dest)*a.rowWidth:][:a.rowWidth]
			for p := pBase; p < pBase+pCount; p++ {
				row := scratch[(p*a.numBatches+b)*a.rowWidth:][:a.rowWidth]
				for j, v := range row {
					out[j] += v
				}
			}
		}
	}, a.workers)
}
