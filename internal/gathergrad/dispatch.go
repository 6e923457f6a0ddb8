package gathergrad

import (
	"github.com/pkg/errors"

	"github.com/brminnick/onnxruntime/internal/tensor"
)

// ErrUnsupportedType is returned when the gradient element type or the index
// width falls outside the supported matrix. It is reported synchronously,
// before any work is enqueued on the stream.
var ErrUnsupportedType = errors.New("gather_grad: unsupported type")

// kernels is one instantiation of the two stages for a concrete
// (element type, index width) pair, plus the accumulation type its scratch
// buffer uses.
type kernels struct {
	accType        tensor.DataType
	partialSums    func(*stageArgs)
	finalReduction func(*stageArgs)
}

// lookupKernels resolves the closed (element type × index width) matrix:
// {float16, bfloat16, float32, float64} × {int32, int64}. Anything else fails
// fast with ErrUnsupportedType.
func lookupKernels(t, tind tensor.DataType) (kernels, error) {
	switch t {
	case tensor.Float16:
		switch tind {
		case tensor.Int32:
			return kernels{tensor.Float32, partialSumsFloat16[int32], finalReductionFloat16[int32]}, nil
		case tensor.Int64:
			return kernels{tensor.Float32, partialSumsFloat16[int64], finalReductionFloat16[int64]}, nil
		}
	case tensor.BFloat16:
		switch tind {
		case tensor.Int32:
			return kernels{tensor.Float32, partialSumsBFloat16[int32], finalReductionBFloat16[int32]}, nil
		case tensor.Int64:
			return kernels{tensor.Float32, partialSumsBFloat16[int64], finalReductionBFloat16[int64]}, nil
		}
	case tensor.Float32:
		switch tind {
		case tensor.Int32:
			return kernels{tensor.Float32, partialSumsPOD[float32, int32], finalReductionPOD[float32, int32]}, nil
		case tensor.Int64:
			return kernels{tensor.Float32, partialSumsPOD[float32, int64], finalReductionPOD[float32, int64]}, nil
		}
	case tensor.Float64:
		switch tind {
		case tensor.Int32:
			return kernels{tensor.Float64, partialSumsPOD[float64, int32], finalReductionPOD[float64, int32]}, nil
		case tensor.Int64:
			return kernels{tensor.Float64, partialSumsPOD[float64, int64], finalReductionPOD[float64, int64]}, nil
		}
	default:
		return kernels{}, errors.Wrapf(ErrUnsupportedType, "element type %s", t)
	}
	return kernels{}, errors.Wrapf(ErrUnsupportedType, "index type %s", tind)
}
