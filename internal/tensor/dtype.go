// Package tensor provides the dense tensor representation shared by the
// training ops in this module.
package tensor

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// DType is a constraint over the element types a RawTensor can store.
type DType interface {
	~float32 | ~float64 | ~int32 | ~int64 | float16.Float16 | bfloat16.BFloat16
}

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types. Float16 and BFloat16 are stored as their 16-bit wire
// representation (github.com/x448/float16 and gopjrt's bfloat16).
const (
	Float16 DataType = iota
	BFloat16
	Float32
	Float64
	Int32
	Int64
)

// Size returns the byte size of one element of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float16, BFloat16:
		return 2
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the data type is one of the floating-point precisions.
func (dt DataType) IsFloat() bool {
	switch dt {
	case Float16, BFloat16, Float32, Float64:
		return true
	default:
		return false
	}
}

// IsIndex reports whether the data type is a supported index integer width.
func (dt DataType) IsIndex() bool {
	return dt == Int32 || dt == Int64
}

// inferDataType infers DataType from a generic type T.
func inferDataType[T DType](dummy T) DataType {
	switch any(dummy).(type) {
	case float16.Float16:
		return Float16
	case bfloat16.BFloat16:
		return BFloat16
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	default:
		panic("unsupported type")
	}
}
