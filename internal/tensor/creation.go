package tensor

import (
	"fmt"
	"unsafe"
)

// Zeros creates a zero-filled RawTensor with the given shape and type.
func Zeros(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return NewRaw(shape, dtype, device)
}

// FromSlice creates a RawTensor from a Go slice. The slice is copied into the
// tensor's memory and the element type determines the tensor's DataType.
func FromSlice[T DType](data []T, shape Shape, device Device) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), device)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		src := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(unsafe.Sizeof(dummy)))
		copy(raw.data, src)
	}
	return raw, nil
}

// Scalar creates a 0-D RawTensor holding a single value.
func Scalar[T DType](value T, device Device) (*RawTensor, error) {
	return FromSlice([]T{value}, Shape{}, device)
}
