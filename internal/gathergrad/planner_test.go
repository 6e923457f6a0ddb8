package gathergrad

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brminnick/onnxruntime/internal/tensor"
)

func indicesInt32(t *testing.T, vals []int32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromSlice(vals, tensor.Shape{len(vals)}, tensor.CPU)
	require.NoError(t, err)
	return raw
}

func TestPlanSmall(t *testing.T) {
	plan, err := NewPlanner().Plan(indicesInt32(t, []int32{0, 2, 0, 1, 2}))
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	assert.Equal(t, 5, plan.NumGathered)
	assert.Equal(t, int32(3), plan.NumSegments)
	assert.Equal(t, []int32{0, 2, 3}, plan.SegmentOffsets)
	assert.Equal(t, []int32{1, 1, 1}, plan.PerSegmentPartialCounts)
	assert.Equal(t, []int32{0, 1, 2}, plan.PerSegmentPartialOffsets)
	assert.Equal(t, 3, plan.NumPartialSegments())

	assert.Equal(t, []int32{0, 0, 1, 2, 2}, plan.DXIndicesSorted.AsInt32())
	assert.Equal(t, []int32{0, 2, 3, 1, 4}, plan.DYIndicesSorted.AsInt32())
}

func TestPlanSortStableOnTies(t *testing.T) {
	// All rows hit the same destination, so the sorted event ids must come
	// back in their original order.
	plan, err := NewPlanner().Plan(indicesInt32(t, []int32{4, 4, 4, 4}))
	require.NoError(t, err)

	assert.Equal(t, []int32{0, 1, 2, 3}, plan.DYIndicesSorted.AsInt32())
}

func TestPlanSplitsLargeSegment(t *testing.T) {
	n := 10000
	vals := make([]int32, n)
	for i := range vals {
		vals[i] = 7
	}
	plan, err := NewPlanner().Plan(indicesInt32(t, vals))
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	assert.Equal(t, int32(1), plan.NumSegments)
	want := int32((n + PartialSegmentSize - 1) / PartialSegmentSize)
	assert.Equal(t, []int32{want}, plan.PerSegmentPartialCounts)
	assert.Equal(t, int(want), plan.NumPartialSegments())
}

func TestPlanPartialSegmentBoundary(t *testing.T) {
	for _, tc := range []struct {
		n    int
		want int32
	}{
		{PartialSegmentSize - 1, 1},
		{PartialSegmentSize, 1},
		{PartialSegmentSize + 1, 2},
		{2 * PartialSegmentSize, 2},
	} {
		vals := make([]int32, tc.n)
		plan, err := NewPlanner().Plan(indicesInt32(t, vals))
		require.NoError(t, err)
		require.NoError(t, plan.Validate())
		assert.Equal(t, tc.want, plan.PerSegmentPartialCounts[0], "n=%d", tc.n)
	}
}

func TestPlanInt64Indices(t *testing.T) {
	raw, err := tensor.FromSlice([]int64{5, 1, 5}, tensor.Shape{3}, tensor.CPU)
	require.NoError(t, err)

	plan, err := NewPlanner().Plan(raw)
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	assert.Equal(t, int32(2), plan.NumSegments)
	assert.Equal(t, []int64{1, 5, 5}, plan.DXIndicesSorted.AsInt64())
	assert.Equal(t, []int64{1, 0, 2}, plan.DYIndicesSorted.AsInt64())
}

func TestPlanEmpty(t *testing.T) {
	plan, err := NewPlanner().Plan(indicesInt32(t, nil))
	require.NoError(t, err)
	require.NoError(t, plan.Validate())

	assert.Equal(t, int32(0), plan.NumSegments)
	assert.Equal(t, 0, plan.NumPartialSegments())
}

func TestPlanNegativeIndex(t *testing.T) {
	_, err := NewPlanner().Plan(indicesInt32(t, []int32{0, -3, 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative index")
}

func TestPlanRejectsFloatIndices(t *testing.T) {
	raw, err := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2}, tensor.CPU)
	require.NoError(t, err)

	_, err = NewPlanner().Plan(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedType))
}
