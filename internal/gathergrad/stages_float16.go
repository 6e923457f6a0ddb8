package gathergrad

// Float16 and BFloat16 instantiations of the two stages. Half-precision
// gradients accumulate in float32 and are cast down only when the final row
// is stored, so repeated accumulation does not lose low-order contributions.

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"

	"github.com/brminnick/onnxruntime/internal/parallel"
)

func partialSumsFloat16[TI indexType](a *stageArgs) {
	dY := a.dY.AsFloat16()
	scratch := a.scratch.([]float32)
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
					acc[j] += v.Float32()
				}
			}
		}
	}, a.workers)
}

func finalReductionFloat16[TI indexType](a *stageArgs) {
	dX := a.dX.AsFloat16()
	scratch := a.scratch.([]float32)
	dxIdx := indexView[TI](a.dxIndicesSorted)

	parallel.For(a.numSegments, func(s int) {
		dest := int(dxIdx[a.segmentOffsets[s]])
		pBase := int(a.perSegmentPartialOffsets[s])
		pCount := int(a.perSegmentPartialCounts[s])
		row := make([]float32, a.rowWidth)
		for b := 0; b < a.numBatches; b++ {
			clear(row)
			for p := pBase; p < pBase+pCount; p++ {
				partial := scratch[(p*a.numBatches+b)*a.rowWidth:][:a.rowWidth]
				for j, v := range partial {
					row[j] += v
				}
			}
			out := dX[(b*a.gatherDimSize+dest)*a.rowWidth:][:a.rowWidth]
			for j, v := range row {
				out[j] = float16.Fromfloat32(v)
			}
		}
	}, a.workers)
}

func partialSumsBFloat16[TI indexType](a *stageArgs) {
	dY := a.dY.AsBFloat16()
	scratch := a.scratch.([]float32)
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
					acc[j] += v.Float32()
				}
			}
		}
	}, a.workers)
}

func finalReductionBFloat16[TI indexType](a *stageArgs) {
	dX := a.dX.AsBFloat16()
	scratch := a.scratch.([]float32)
	dxIdx := indexView[TI](a.dxIndicesSorted)

	parallel.For(a.numSegments, func(s int) {
		dest := int(dxIdx[a.segmentOffsets[s]])
		pBase := int(a.perSegmentPartialOffsets[s])
		pCount := int(a.perSegmentPartialCounts[s])
		row := make([]float32, a.rowWidth)
		for b := 0; b < a.numBatches; b++ {
			clear(row)
			for p := pBase; p < pBase+pCount; p++ {
				partial := scratch[(p*a.numBatches+b)*a.rowWidth:][:a.rowWidth]
				for j, v := range partial {
					row[j] += v
				}
			}
			out := dX[(b*a.gatherDimSize+dest)*a.rowWidth:][:a.rowWidth]
			for j, v := range row {
				out[j] = bfloat16.FromFloat32(v)
			}
		}
	}, a.workers)
}
