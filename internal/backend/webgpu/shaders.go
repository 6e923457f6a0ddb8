//go:build windows

package webgpu

// WGSL compute shaders for the two reduction stages.
// Using string constants instead of embed for simplicity.

// workgroupSize is the number of threads per workgroup.
const workgroupSize = 256

// partialSumsShader computes one partial-sum element per thread: thread
// (p, j) sums column j of the dY rows covered by partial segment p. Distinct
// threads write distinct elements of partial_sums, so no atomics are needed.
const partialSumsShader = `
@group(0) @binding(0) var<storage, read> dy: array<f32>;
@group(0) @binding(1) var<storage, read> dy_indices_sorted: array<i32>;
@group(0) @binding(2) var<storage, read> partial_segment_offsets: array<i32>;
@group(0) @binding(3) var<storage, read_write> partial_sums: array<f32>;

struct Params {
    num_partial_segments: u32,
    row_width: u32,
    num_gathered: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.num_partial_segments * params.row_width) {
        return;
    }
    let p = idx / params.row_width;
    let j = idx % params.row_width;

    let start = u32(partial_segment_offsets[p]);
    var end = params.num_gathered;
    if (p + 1u < params.num_partial_segments) {
        end = u32(partial_segment_offsets[p + 1u]);
    }

    var sum: f32 = 0.0;
    for (var r: u32 = start; r < end; r = r + 1u) {
        let row = u32(dy_indices_sorted[r]);
        sum = sum + dy[row * params.row_width + j];
    }
    partial_sums[idx] = sum;
}
`

// finalReduceShader folds the partial sums of each segment into its
// destination row of dx: thread (s, j) owns element j of segment s's
// destination row. dx is zero-initialized, so untouched rows stay zero.
const finalReduceShader = `
@group(0) @binding(0) var<storage, read> partial_sums: array<f32>;
@group(0) @binding(1) var<storage, read> dx_indices_sorted: array<i32>;
@group(0) @binding(2) var<storage, read> segment_offsets: array<i32>;
@group(0) @binding(3) var<storage, read> partial_counts: array<i32>;
@group(0) @binding(4) var<storage, read> partial_offsets: array<i32>;
@group(0) @binding(5) var<storage, read_write> dx: array<f32>;

struct Params {
    num_segments: u32,
    row_width: u32,
}
@group(0) @binding(6) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.num_segments * params.row_width) {
        return;
    }
    let s = idx / params.row_width;
    let j = idx % params.row_width;

    let dest = u32(dx_indices_sorted[u32(segment_offsets[s])]);
    let base = u32(partial_offsets[s]);
    let count = u32(partial_counts[s]);

    var sum: f32 = 0.0;
    for (var p: u32 = base; p < base + count; p = p + 1u) {
        sum = sum + partial_sums[p * params.row_width + j];
    }
    dx[dest * params.row_width + j] = sum;
}
`
