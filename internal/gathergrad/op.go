package gathergrad

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/brminnick/onnxruntime/internal/parallel"
	"github.com/brminnick/onnxruntime/internal/stream"
	"github.com/brminnick/onnxruntime/internal/tensor"
)

// Positional input schema of the op. The order mirrors the GatherGrad
// training-op contract: shape of the original gather input, the raw gathered
// indices, the output gradient, then the segmentation plan.
const (
	inputXShape = iota
	inputGatheredIndices
	inputGradOutput
	inputNumSegments
	inputSegmentOffsets
	inputLastSegmentPartialCount
	inputLastSegmentPartialOffset
	inputPerSegmentPartialCounts
	inputPerSegmentPartialOffsets
	inputDXIndicesSorted
	inputDYIndicesSorted

	numInputs
)

// Op computes the gradient of a single-axis Gather: it scatter-accumulates
// the rows of the output gradient dY back into an input-shaped gradient dX,
// using the segmentation plan supplied in the input list to keep every
// parallel worker's write-set disjoint.
//
// Compute only enqueues work; the caller owns the stream and must
// Synchronize it before reading dX.
type Op struct {
	// Axis is the gather axis; may be negative (counted from the end of the
	// input shape).
	Axis int

	// Workers controls the data-parallel execution of both stages.
	Workers parallel.Config
}

// New creates a gather-gradient op for the given axis.
func New(axis int) *Op {
	return &Op{Axis: axis, Workers: parallel.DefaultConfig()}
}

// Compute unpacks the positional inputs, zero-fills the output, and enqueues
// the partial-sum and final-reduction stages on the stream. The type matrix
// is checked synchronously: an unsupported (element type, index width) pair
// returns ErrUnsupportedType before anything is enqueued.
//
// Index values must already be validated against the gather dimension size;
// out-of-range indices are the caller's bug and panic in the kernels.
func (op *Op) Compute(s *stream.Stream, inputs []*tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(inputs) != numInputs {
		return nil, errors.Errorf("gather_grad: expected %d inputs, got %d", numInputs, len(inputs))
	}
	for i, in := range inputs {
		if in == nil {
			return nil, errors.Errorf("gather_grad: input %d is nil", i)
		}
	}

	xShapeTensor := inputs[inputXShape]
	if xShapeTensor.DType() != tensor.Int64 {
		return nil, errors.Errorf("gather_grad: input shape tensor must be int64, got %s", xShapeTensor.DType())
	}
	xShape := make(tensor.Shape, xShapeTensor.NumElements())
	for i, d := range xShapeTensor.AsInt64() {
		xShape[i] = int(d)
	}
	if len(xShape) == 0 {
		return nil, errors.New("gather_grad: input shape must have rank >= 1")
	}

	indices := inputs[inputGatheredIndices]
	dY := inputs[inputGradOutput]

	// Resolve the type matrix before any work is enqueued.
	k, err := lookupKernels(dY.DType(), indices.DType())
	if err != nil {
		return nil, err
	}

	axis, err := tensor.HandleNegativeAxis(op.Axis, len(xShape))
	if err != nil {
		return nil, errors.Wrap(err, "gather_grad")
	}

	numBatches := xShape.SizeToDimension(axis)
	gatherDimSize := xShape[axis]
	rowWidth := xShape.SizeFromDimension(axis + 1)
	numGathered := indices.NumElements()

	if dY.NumElements() != numBatches*numGathered*rowWidth {
		return nil, errors.Errorf("gather_grad: dY has %d elements, want %d (batches %d x gathered %d x row width %d)",
			dY.NumElements(), numBatches*numGathered*rowWidth, numBatches, numGathered, rowWidth)
	}

	dX, err := tensor.Zeros(xShape, dY.DType(), dY.Device())
	if err != nil {
		return nil, errors.Wrap(err, "gather_grad: allocating dX")
	}

	// The zero-fill runs as its own unit so it can overlap anything enqueued
	// before this op; rows no segment touches keep these zeros.
	s.Enqueue("gather_grad/zero_fill", func() error {
		dX.ZeroFill()
		return nil
	})

	if numGathered == 0 {
		klog.V(1).Infof("gather_grad: empty gather, returning zero dX %v", xShape)
		return dX, nil
	}

	args, err := op.unpackPlan(inputs, dY, dX, numBatches, gatherDimSize, rowWidth, numGathered)
	if err != nil {
		return nil, err
	}

	klog.V(1).Infof("gather_grad: %d gathered rows, %d segments, %d partial segments, row width %d",
		numGathered, args.numSegments, args.numPartialSegments, rowWidth)

	s.Enqueue("gather_grad/partial_sums", func() error {
		args.scratch = sharedScratch.acquire(k.accType, args.numPartialSegments*numBatches*rowWidth)
		computePartialSegmentOffsets(args)
		k.partialSums(args)
		return nil
	})
	s.Enqueue("gather_grad/final_reduction", func() error {
		k.finalReduction(args)
		sharedScratch.release(args.scratch)
		args.scratch = nil
		return nil
	})

	return dX, nil
}

// unpackPlan validates the plan inputs and assembles the stage arguments.
func (op *Op) unpackPlan(inputs []*tensor.RawTensor, dY, dX *tensor.RawTensor,
	numBatches, gatherDimSize, rowWidth, numGathered int) (*stageArgs, error) {
	for _, i := range []int{inputNumSegments, inputSegmentOffsets, inputLastSegmentPartialCount,
		inputLastSegmentPartialOffset, inputPerSegmentPartialCounts, inputPerSegmentPartialOffsets} {
		if inputs[i].DType() != tensor.Int32 {
			return nil, errors.Errorf("gather_grad: plan input %d must be int32, got %s", i, inputs[i].DType())
		}
	}

	tind := inputs[inputGatheredIndices].DType()
	dxSorted := inputs[inputDXIndicesSorted]
	dySorted := inputs[inputDYIndicesSorted]
	if dxSorted.DType() != tind || dySorted.DType() != tind {
		return nil, errors.Errorf("gather_grad: sorted index tensors must match index type %s", tind)
	}
	if dxSorted.NumElements() != numGathered || dySorted.NumElements() != numGathered {
		return nil, errors.Errorf("gather_grad: sorted index tensors must have %d elements", numGathered)
	}

	numSegments := int(inputs[inputNumSegments].AsInt32()[0])
	lastCount := inputs[inputLastSegmentPartialCount].AsInt32()[0]
	lastOffset := inputs[inputLastSegmentPartialOffset].AsInt32()[0]
	numPartialSegments := int(lastOffset + lastCount)

	if numSegments <= 0 || numSegments > numGathered {
		return nil, errors.Errorf("gather_grad: segment count %d invalid for %d gathered rows", numSegments, numGathered)
	}
	if numPartialSegments < numSegments {
		return nil, errors.Errorf("gather_grad: %d partial segments cannot cover %d segments", numPartialSegments, numSegments)
	}

	segmentOffsets := inputs[inputSegmentOffsets].AsInt32()
	partialCounts := inputs[inputPerSegmentPartialCounts].AsInt32()
	partialOffsets := inputs[inputPerSegmentPartialOffsets].AsInt32()
	if len(segmentOffsets) < numSegments || len(partialCounts) < numSegments || len(partialOffsets) < numSegments {
		return nil, errors.Errorf("gather_grad: plan tables shorter than %d segments", numSegments)
	}

	return &stageArgs{
		dY:                       dY,
		dX:                       dX,
		dxIndicesSorted:          dxSorted,
		dyIndicesSorted:          dySorted,
		numSegments:              numSegments,
		segmentOffsets:           segmentOffsets,
		perSegmentPartialCounts:  partialCounts,
		perSegmentPartialOffsets: partialOffsets,
		numPartialSegments:       numPartialSegments,
		numBatches:               numBatches,
		gatherDimSize:            gatherDimSize,
		rowWidth:                 rowWidth,
		numGathered:              numGathered,
		workers:                  op.Workers,
	}, nil
}
