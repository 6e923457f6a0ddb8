//go:build windows

package webgpu

import (
	"encoding/binary"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"

	"github.com/brminnick/onnxruntime/internal/gathergrad"
	"github.com/brminnick/onnxruntime/internal/tensor"
)

// RunGatherGrad executes the two-stage gather-gradient reduction on the GPU
// and returns the accumulated [gatherDimSize, rowWidth] gradient.
//
// The GPU path covers the float32, int32-index, single-batch configuration;
// WGSL has no f16 or i64 storage types, so everything else stays on the CPU
// kernels.
func (b *Backend) RunGatherGrad(plan *gathergrad.Plan, dY *tensor.RawTensor, gatherDimSize, rowWidth int) (*tensor.RawTensor, error) {
	if dY.DType() != tensor.Float32 {
		return nil, errors.Errorf("webgpu: gather_grad supports float32 only, got %s", dY.DType())
	}
	if plan.DXIndicesSorted.DType() != tensor.Int32 {
		return nil, errors.Errorf("webgpu: gather_grad supports int32 indices only, got %s", plan.DXIndicesSorted.DType())
	}
	if dY.NumElements() != plan.NumGathered*rowWidth {
		return nil, errors.Errorf("webgpu: dY has %d elements, want %d", dY.NumElements(), plan.NumGathered*rowWidth)
	}
	if err := plan.Validate(); err != nil {
		return nil, errors.Wrap(err, "webgpu: gather_grad")
	}

	numSegments := int(plan.NumSegments)
	numPartial := plan.NumPartialSegments()
	result, err := tensor.NewRaw(tensor.Shape{gatherDimSize, rowWidth}, tensor.Float32, tensor.WebGPU)
	if err != nil {
		return nil, err
	}
	if plan.NumGathered == 0 {
		return result, nil
	}

	// Expand the per-segment tables into flat partial-segment start positions;
	// the shaders index this table directly.
	partialStarts := make([]int32, numPartial)
	for s := 0; s < numSegments; s++ {
		base := plan.PerSegmentPartialOffsets[s]
		for k := int32(0); k < plan.PerSegmentPartialCounts[s]; k++ {
			partialStarts[base+k] = plan.SegmentOffsets[s] + k*gathergrad.PartialSegmentSize
		}
	}

	// Stage 1: partial sums.
	dyBuf := b.createBuffer(dY.Data(), wgpu.BufferUsageStorage)
	defer dyBuf.Release()
	dyIdxBuf := b.createBuffer(plan.DYIndicesSorted.Data(), wgpu.BufferUsageStorage)
	defer dyIdxBuf.Release()
	startsBuf := b.createBuffer(int32Bytes(partialStarts), wgpu.BufferUsageStorage)
	defer startsBuf.Release()

	partialSize := uint64(numPartial * rowWidth * 4)
	partialBuf := b.bufferPool.Acquire(partialSize, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer b.bufferPool.Release(partialBuf, partialSize, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)

	params1 := make([]byte, 16)
	binary.LittleEndian.PutUint32(params1[0:4], uint32(numPartial))
	binary.LittleEndian.PutUint32(params1[4:8], uint32(rowWidth))
	binary.LittleEndian.PutUint32(params1[8:12], uint32(plan.NumGathered))
	params1Buf := b.createUniformBuffer(params1)
	defer params1Buf.Release()

	b.dispatch("gather_grad_partial_sums", partialSumsShader, numPartial*rowWidth, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, dyBuf, 0, uint64(dY.ByteSize())),
		wgpu.BufferBindingEntry(1, dyIdxBuf, 0, uint64(plan.DYIndicesSorted.ByteSize())),
		wgpu.BufferBindingEntry(2, startsBuf, 0, uint64(len(partialStarts)*4)),
		wgpu.BufferBindingEntry(3, partialBuf, 0, partialSize),
		wgpu.BufferBindingEntry(4, params1Buf, 0, 16),
	})

	// Stage 2: fold partial sums into dx. The dx buffer is created
	// zero-filled, so rows no segment targets keep their zeros.
	dxIdxBuf := b.createBuffer(plan.DXIndicesSorted.Data(), wgpu.BufferUsageStorage)
	defer dxIdxBuf.Release()
	segOffBuf := b.createBuffer(int32Bytes(plan.SegmentOffsets), wgpu.BufferUsageStorage)
	defer segOffBuf.Release()
	countsBuf := b.createBuffer(int32Bytes(plan.PerSegmentPartialCounts), wgpu.BufferUsageStorage)
	defer countsBuf.Release()
	offsetsBuf := b.createBuffer(int32Bytes(plan.PerSegmentPartialOffsets), wgpu.BufferUsageStorage)
	defer offsetsBuf.Release()

	dxSize := uint64(result.ByteSize())
	dxBuf := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
		Size:  dxSize,
	})
	defer dxBuf.Release()

	params2 := make([]byte, 16)
	binary.LittleEndian.PutUint32(params2[0:4], uint32(numSegments))
	binary.LittleEndian.PutUint32(params2[4:8], uint32(rowWidth))
	params2Buf := b.createUniformBuffer(params2)
	defer params2Buf.Release()

	b.dispatch("gather_grad_final_reduce", finalReduceShader, numSegments*rowWidth, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, partialBuf, 0, partialSize),
		wgpu.BufferBindingEntry(1, dxIdxBuf, 0, uint64(plan.DXIndicesSorted.ByteSize())),
		wgpu.BufferBindingEntry(2, segOffBuf, 0, uint64(len(plan.SegmentOffsets)*4)),
		wgpu.BufferBindingEntry(3, countsBuf, 0, uint64(len(plan.PerSegmentPartialCounts)*4)),
		wgpu.BufferBindingEntry(4, offsetsBuf, 0, uint64(len(plan.PerSegmentPartialOffsets)*4)),
		wgpu.BufferBindingEntry(5, dxBuf, 0, dxSize),
		wgpu.BufferBindingEntry(6, params2Buf, 0, 16),
	})

	// readBuffer flushes the pending batch, which orders stage 1 before
	// stage 2 before the copy-out.
	dxData, err := b.readBuffer(dxBuf, dxSize)
	if err != nil {
		return nil, err
	}
	copy(result.Data(), dxData)
	return result, nil
}

// dispatch encodes one compute pass over numThreads threads and queues it for
// batched submission.
func (b *Backend) dispatch(name, shaderCode string, numThreads int, entries []wgpu.BindGroupEntry) {
	shader := b.compileShader(name, shaderCode)
	pipeline := b.getOrCreatePipeline(name, shader)

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, entries)
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: workgroup count is non-negative
	workgroups := uint32((numThreads + workgroupSize - 1) / workgroupSize)
	computePass.DispatchWorkgroups(workgroups, 1, 1)
	computePass.End()

	b.queueCommand(encoder.Finish(nil))
}

func int32Bytes(v []int32) []byte {
	if len(v) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy reinterpretation
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}
