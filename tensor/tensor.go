// Copyright 2026 The onnxruntime-go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor types shared by the training ops
// in this module.
//
// The package re-exports the internal dense tensor representation:
//   - RawTensor: flat row-major buffer with runtime type information
//   - Shape, DataType, Device: core type definitions
//   - Zeros, FromSlice, Scalar: constructors
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
//	data := raw.AsFloat32() // type-safe zero-copy view
package tensor

import (
	"github.com/brminnick/onnxruntime/internal/tensor"
)

// DType is a constraint over the element types a RawTensor can store.
type DType = tensor.DType

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float16  DataType = tensor.Float16
	BFloat16 DataType = tensor.BFloat16
	Float32  DataType = tensor.Float32
	Float64  DataType = tensor.Float64
	Int32    DataType = tensor.Int32
	Int64    DataType = tensor.Int64
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	WebGPU Device = tensor.WebGPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// RawTensor is the low-level tensor representation: a flat row-major byte
// buffer plus shape and runtime type information. Typed views via AsFloat32()
// and friends are zero-copy.
type RawTensor = tensor.RawTensor

// NewRaw creates a zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// Zeros creates a zero-filled RawTensor with the given shape and type.
func Zeros(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.Zeros(shape, dtype, device)
}

// FromSlice creates a RawTensor from a Go slice. The slice is copied and the
// element type determines the tensor's DataType.
func FromSlice[T DType](data []T, shape Shape, device Device) (*RawTensor, error) {
	return tensor.FromSlice(data, shape, device)
}

// Scalar creates a 0-D RawTensor holding a single value.
func Scalar[T DType](value T, device Device) (*RawTensor, error) {
	return tensor.Scalar(value, device)
}

// HandleNegativeAxis normalizes a possibly negative axis against a rank.
func HandleNegativeAxis(axis, rank int) (int, error) {
	return tensor.HandleNegativeAxis(axis, rank)
}
