package tensor

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestNewRawZeroFilled(t *testing.T) {
	r, err := NewRaw(Shape{2, 3}, Float32, CPU)
	require.NoError(t, err)

	assert.Equal(t, Shape{2, 3}, r.Shape())
	assert.Equal(t, Float32, r.DType())
	assert.Equal(t, 6, r.NumElements())
	assert.Equal(t, 24, r.ByteSize())
	for _, v := range r.AsFloat32() {
		assert.Zero(t, v)
	}
}

func TestRawTypedViewsRoundTrip(t *testing.T) {
	r, err := FromSlice([]float32{1, 2, 3, 4}, Shape{4}, CPU)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, r.AsFloat32())

	// Views share memory.
	r.AsFloat32()[2] = 30
	assert.Equal(t, float32(30), r.AsFloat32()[2])

	i64, err := FromSlice([]int64{7, -8}, Shape{2}, CPU)
	require.NoError(t, err)
	assert.Equal(t, Int64, i64.DType())
	assert.Equal(t, []int64{7, -8}, i64.AsInt64())
}

func TestRawHalfPrecisionViews(t *testing.T) {
	h, err := FromSlice([]float16.Float16{
		float16.Fromfloat32(1.5), float16.Fromfloat32(-2),
	}, Shape{2}, CPU)
	require.NoError(t, err)
	assert.Equal(t, Float16, h.DType())
	assert.Equal(t, float32(1.5), h.AsFloat16()[0].Float32())
	assert.Equal(t, float32(-2), h.AsFloat16()[1].Float32())

	b, err := FromSlice([]bfloat16.BFloat16{
		bfloat16.FromFloat32(0.5), bfloat16.FromFloat32(3),
	}, Shape{2}, CPU)
	require.NoError(t, err)
	assert.Equal(t, BFloat16, b.DType())
	assert.Equal(t, float32(0.5), b.AsBFloat16()[0].Float32())
	assert.Equal(t, float32(3), b.AsBFloat16()[1].Float32())
}

func TestRawViewDTypeMismatchPanics(t *testing.T) {
	r, err := NewRaw(Shape{2}, Float32, CPU)
	require.NoError(t, err)
	assert.Panics(t, func() { r.AsInt32() })
	assert.Panics(t, func() { r.AsFloat64() })
}

func TestRawZeroFill(t *testing.T) {
	r, err := FromSlice([]float64{1, 2, 3}, Shape{3}, CPU)
	require.NoError(t, err)
	r.ZeroFill()
	assert.Equal(t, []float64{0, 0, 0}, r.AsFloat64())
}

func TestRawClone(t *testing.T) {
	r, err := FromSlice([]int32{1, 2, 3}, Shape{3}, CPU)
	require.NoError(t, err)

	c := r.Clone()
	c.AsInt32()[0] = 99
	assert.Equal(t, int32(1), r.AsInt32()[0])
}

func TestRawEmptyTensor(t *testing.T) {
	r, err := NewRaw(Shape{0}, Int32, CPU)
	require.NoError(t, err)
	assert.Equal(t, 0, r.NumElements())
	assert.Empty(t, r.AsInt32())
}

func TestFromSliceShapeMismatch(t *testing.T) {
	_, err := FromSlice([]float32{1, 2, 3}, Shape{2, 2}, CPU)
	assert.Error(t, err)
}
