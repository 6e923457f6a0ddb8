package gathergrad

import (
	"math/rand"
	"testing"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/brminnick/onnxruntime/internal/parallel"
	"github.com/brminnick/onnxruntime/internal/stream"
	"github.com/brminnick/onnxruntime/internal/tensor"
)

func floatTensor(t *testing.T, dtype tensor.DataType, shape tensor.Shape, vals []float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.Zeros(shape, dtype, tensor.CPU)
	require.NoError(t, err)
	switch dtype {
	case tensor.Float16:
		dst := raw.AsFloat16()
		for i, v := range vals {
			dst[i] = float16.Fromfloat32(v)
		}
	case tensor.Float32:
		copy(raw.AsFloat32(), vals)
	case tensor.Float64:
		dst := raw.AsFloat64()
		for i, v := range vals {
			dst[i] = float64(v)
		}
	case tensor.BFloat16:
		dst := raw.AsBFloat16()
		for i, v := range vals {
			dst[i] = bfloat16.FromFloat32(v)
		}
	default:
		t.Fatalf("not a float dtype: %s", dtype)
	}
	return raw
}

func floatValues(t *testing.T, raw *tensor.RawTensor) []float32 {
	t.Helper()
	out := make([]float32, raw.NumElements())
	switch raw.DType() {
	case tensor.Float16:
		for i, v := range raw.AsFloat16() {
			out[i] = v.Float32()
		}
	case tensor.Float32:
		copy(out, raw.AsFloat32())
	case tensor.Float64:
		for i, v := range raw.AsFloat64() {
			out[i] = float32(v)
		}
	case tensor.BFloat16:
		for i, v := range raw.AsBFloat16() {
			out[i] = v.Float32()
		}
	default:
		t.Fatalf("not a float dtype: %s", raw.DType())
	}
	return out
}

func indexTensor(t *testing.T, dtype tensor.DataType, vals []int) *tensor.RawTensor {
	t.Helper()
	var raw *tensor.RawTensor
	var err error
	switch dtype {
	case tensor.Int32:
		v := make([]int32, len(vals))
		for i, x := range vals {
			v[i] = int32(x)
		}
		raw, err = tensor.FromSlice(v, tensor.Shape{len(vals)}, tensor.CPU)
	case tensor.Int64:
		v := make([]int64, len(vals))
		for i, x := range vals {
			v[i] = int64(x)
		}
		raw, err = tensor.FromSlice(v, tensor.Shape{len(vals)}, tensor.CPU)
	default:
		t.Fatalf("not an index dtype: %s", dtype)
	}
	require.NoError(t, err)
	return raw
}

// runOp plans, enqueues, and synchronizes one gather-gradient invocation.
func runOp(t *testing.T, op *Op, xShape []int64, indices, dY *tensor.RawTensor) *tensor.RawTensor {
	t.Helper()
	shapeT, err := tensor.FromSlice(xShape, tensor.Shape{len(xShape)}, tensor.CPU)
	require.NoError(t, err)

	plan, err := NewPlanner().Plan(indices)
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	inputs, err := plan.Inputs(shapeT, indices, dY)
	require.NoError(t, err)

	s := stream.New()
	dX, err := op.Compute(s, inputs)
	require.NoError(t, err)
	require.NoError(t, s.Synchronize())
	return dX
}

// referenceGrad is the naive scatter-add the two-stage reduction must match.
func referenceGrad(xShape []int, axis int, indices []int, dY []float32) []float32 {
	numBatches, rowWidth := 1, 1
	for _, d := range xShape[:axis] {
		numBatches *= d
	}
	for _, d := range xShape[axis+1:] {
		rowWidth *= d
	}
	gatherDimSize := xShape[axis]
	numGathered := len(indices)

	acc := make([]float64, numBatches*gatherDimSize*rowWidth)
	for b := 0; b < numBatches; b++ {
		for g, dest := range indices {
			for j := 0; j < rowWidth; j++ {
				acc[(b*gatherDimSize+dest)*rowWidth+j] += float64(dY[(b*numGathered+g)*rowWidth+j])
			}
		}
	}
	out := make([]float32, len(acc))
	for i, v := range acc {
		out[i] = float32(v)
	}
	return out
}

func TestComputeTypeMatrix(t *testing.T) {
	// Values chosen to be exactly representable (and exactly summable) in
	// every supported element type, including bfloat16.
	idx := []int{0, 2, 0, 1, 2}
	dYVals := make([]float32, len(idx)*4)
	for g := 0; g < len(idx); g++ {
		for j := 0; j < 4; j++ {
			dYVals[g*4+j] = float32(g+1) + 0.5*float32(j)
		}
	}
	want := referenceGrad([]int{3, 4}, 0, idx, dYVals)

	for _, dt := range []tensor.DataType{tensor.Float16, tensor.BFloat16, tensor.Float32, tensor.Float64} {
		for _, it := range []tensor.DataType{tensor.Int32, tensor.Int64} {
			t.Run(dt.String()+"_"+it.String(), func(t *testing.T) {
				indices := indexTensor(t, it, idx)
				dY := floatTensor(t, dt, tensor.Shape{len(idx), 4}, dYVals)

				dX := runOp(t, New(0), []int64{3, 4}, indices, dY)
				assert.Equal(t, dt, dX.DType())
				assert.Equal(t, tensor.Shape{3, 4}, dX.Shape())
				assert.Equal(t, want, floatValues(t, dX))
			})
		}
	}
}

func TestComputeUntouchedRowsStayZero(t *testing.T) {
	idx := []int{1, 3, 1}
	dYVals := []float32{1, 2, 4, 8, 16, 32}
	indices := indexTensor(t, tensor.Int32, idx)
	dY := floatTensor(t, tensor.Float32, tensor.Shape{3, 2}, dYVals)

	dX := runOp(t, New(0), []int64{5, 2}, indices, dY)

	got := floatValues(t, dX)
	assert.Equal(t, []float32{0, 0, 17, 34, 0, 0, 4, 8, 0, 0}, got)
}

func TestComputeEmptyIndices(t *testing.T) {
	indices := indexTensor(t, tensor.Int64, nil)
	dY := floatTensor(t, tensor.Float32, tensor.Shape{0, 4}, nil)

	dX := runOp(t, New(0), []int64{3, 4}, indices, dY)

	assert.Equal(t, tensor.Shape{3, 4}, dX.Shape())
	assert.Equal(t, make([]float32, 12), floatValues(t, dX))
}

func TestComputeSkewedSegmentSplit(t *testing.T) {
	// One destination receives far more rows than the partial-segment
	// capacity, so its segment is split and folded back in the second stage.
	n := 10000
	idx := make([]int, n)
	for i := range idx {
		idx[i] = 3
	}
	idx[0], idx[n-1] = 0, 6

	dYVals := make([]float32, n*2)
	for i := range dYVals {
		dYVals[i] = 1
	}
	indices := indexTensor(t, tensor.Int32, idx)
	dY := floatTensor(t, tensor.Float32, tensor.Shape{n, 2}, dYVals)

	dX := runOp(t, New(0), []int64{8, 2}, indices, dY)

	got := floatValues(t, dX)
	assert.Equal(t, []float32{1, 1}, got[0:2])
	assert.Equal(t, []float32{float32(n - 2), float32(n - 2)}, got[6:8])
	assert.Equal(t, []float32{1, 1}, got[12:14])
}

func TestComputeOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	n := 1500
	idx := make([]int, n)
	dYVals := make([]float32, n*3)
	for i := range idx {
		idx[i] = rng.Intn(10)
	}
	for i := range dYVals {
		dYVals[i] = float32(rng.Intn(16))
	}

	base := runOp(t, New(0), []int64{10, 3},
		indexTensor(t, tensor.Int32, idx),
		floatTensor(t, tensor.Float32, tensor.Shape{n, 3}, dYVals))

	// Shuffle the gather events; the accumulated gradient must not change.
	perm := rng.Perm(n)
	shufIdx := make([]int, n)
	shufDY := make([]float32, n*3)
	for i, p := range perm {
		shufIdx[i] = idx[p]
		copy(shufDY[i*3:i*3+3], dYVals[p*3:p*3+3])
	}
	shuffled := runOp(t, New(0), []int64{10, 3},
		indexTensor(t, tensor.Int32, shufIdx),
		floatTensor(t, tensor.Float32, tensor.Shape{n, 3}, shufDY))

	assert.Equal(t, floatValues(t, base), floatValues(t, shuffled))
}

func TestComputeBatchedAxis(t *testing.T) {
	// Gather along axis 1 of a [2, 5, 3] input: two batches share the index
	// list but accumulate from their own dY slabs.
	xShape := []int{2, 5, 3}
	idx := []int{4, 0, 4, 2}
	rng := rand.New(rand.NewSource(7))
	dYVals := make([]float32, 2*len(idx)*3)
	for i := range dYVals {
		dYVals[i] = float32(rng.Intn(100)) * 0.25
	}
	want := referenceGrad(xShape, 1, idx, dYVals)

	for _, axis := range []int{1, -2} {
		dX := runOp(t, New(axis), []int64{2, 5, 3},
			indexTensor(t, tensor.Int64, idx),
			floatTensor(t, tensor.Float32, tensor.Shape{2, len(idx), 3}, dYVals))
		assert.Equal(t, want, floatValues(t, dX), "axis=%d", axis)
	}
}

func TestComputeSequentialMatchesParallel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 4096
	idx := make([]int, n)
	dYVals := make([]float32, n)
	for i := range idx {
		idx[i] = rng.Intn(32)
		dYVals[i] = rng.Float32()
	}
	indices := indexTensor(t, tensor.Int32, idx)
	dY := floatTensor(t, tensor.Float32, tensor.Shape{n, 1}, dYVals)

	par := runOp(t, New(0), []int64{32, 1}, indices, dY)

	seq := New(0)
	seq.Workers = parallel.Sequential()
	seqOut := runOp(t, seq, []int64{32, 1}, indices, dY)

	assert.Equal(t, floatValues(t, seqOut), floatValues(t, par))
}

func TestComputeHalfPrecisionAccumulation(t *testing.T) {
	// 4000 unit contributions overflow float16's integer precision if summed
	// in float16 (the running sum sticks at 2048); accumulating in float32
	// must land on the exactly representable 4000.
	n := 4000
	idx := make([]int, n)
	dYVals := make([]float32, n)
	for i := range dYVals {
		dYVals[i] = 1
	}
	indices := indexTensor(t, tensor.Int32, idx)
	dY := floatTensor(t, tensor.Float16, tensor.Shape{n, 1}, dYVals)

	dX := runOp(t, New(0), []int64{2, 1}, indices, dY)

	assert.Equal(t, []float32{float32(n), 0}, floatValues(t, dX))
}

func TestComputeUnsupportedElementType(t *testing.T) {
	idx := []int{0, 1}
	indices := indexTensor(t, tensor.Int32, idx)
	dY, err := tensor.FromSlice([]int32{1, 2}, tensor.Shape{2, 1}, tensor.CPU)
	require.NoError(t, err)

	shapeT, err := tensor.FromSlice([]int64{2, 1}, tensor.Shape{2}, tensor.CPU)
	require.NoError(t, err)
	plan, err := NewPlanner().Plan(indices)
	require.NoError(t, err)
	inputs, err := plan.Inputs(shapeT, indices, dY)
	require.NoError(t, err)

	s := stream.New()
	_, err = New(0).Compute(s, inputs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedType))
	assert.Equal(t, 0, s.UnitsEnqueued())
}

func TestComputeInputCountMismatch(t *testing.T) {
	s := stream.New()
	_, err := New(0).Compute(s, make([]*tensor.RawTensor, 3))
	require.Error(t, err)
	assert.Equal(t, 0, s.UnitsEnqueued())
}

func TestComputeRejectsMismatchedGradSize(t *testing.T) {
	idx := []int{0, 1, 2}
	indices := indexTensor(t, tensor.Int32, idx)
	// dY sized for 2 gathered rows instead of 3.
	dY := floatTensor(t, tensor.Float32, tensor.Shape{2, 4}, make([]float32, 8))

	shapeT, err := tensor.FromSlice([]int64{3, 4}, tensor.Shape{2}, tensor.CPU)
	require.NoError(t, err)
	plan, err := NewPlanner().Plan(indices)
	require.NoError(t, err)
	inputs, err := plan.Inputs(shapeT, indices, dY)
	require.NoError(t, err)

	s := stream.New()
	_, err = New(0).Compute(s, inputs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dY has")
	assert.Equal(t, 0, s.UnitsEnqueued())
}
