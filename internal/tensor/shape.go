package tensor

import "fmt"

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid. Zero-sized dimensions are allowed:
// an empty gather produces tensors with zero elements.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// SizeToDimension returns the number of elements spanned by dimensions [0, dim).
// For dim == 0 the result is 1.
func (s Shape) SizeToDimension(dim int) int {
	if dim < 0 || dim > len(s) {
		panic(fmt.Sprintf("SizeToDimension: dim %d out of range for rank %d", dim, len(s)))
	}
	n := 1
	for i := 0; i < dim; i++ {
		n *= s[i]
	}
	return n
}

// SizeFromDimension returns the number of elements spanned by dimensions [dim, rank).
// For dim == rank the result is 1.
func (s Shape) SizeFromDimension(dim int) int {
	if dim < 0 || dim > len(s) {
		panic(fmt.Sprintf("SizeFromDimension: dim %d out of range for rank %d", dim, len(s)))
	}
	n := 1
	for i := dim; i < len(s); i++ {
		n *= s[i]
	}
	return n
}

// HandleNegativeAxis normalizes a possibly-negative axis (counted from the end)
// into [0, rank). Returns an error when the axis falls outside [-rank, rank).
func HandleNegativeAxis(axis, rank int) (int, error) {
	if axis < -rank || axis >= rank {
		return 0, fmt.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	if axis < 0 {
		axis += rank
	}
	return axis, nil
}
