package gathergrad

import (
	"sync"

	"github.com/brminnick/onnxruntime/internal/tensor"
)

// maxPooledScratch bounds how many accumulator buffers are retained per
// element type; anything beyond that is left to the garbage collector.
const maxPooledScratch = 8

// scratchPool recycles partial-sum accumulator buffers across invocations.
// A buffer is owned exclusively by one invocation from acquire to release.
type scratchPool struct {
	mu  sync.Mutex
	f32 [][]float32
	f64 [][]float64
}

var sharedScratch scratchPool

func (p *scratchPool) acquire(dtype tensor.DataType, n int) any {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch dtype {
	case tensor.Float32:
		for i, buf := range p.f32 {
			if cap(buf) >= n {
				p.f32 = append(p.f32[:i], p.f32[i+1:]...)
				return buf[:n]
			}
		}
		return make([]float32, n)
	case tensor.Float64:
		for i, buf := range p.f64 {
			if cap(buf) >= n {
				p.f64 = append(p.f64[:i], p.f64[i+1:]...)
				return buf[:n]
			}
		}
		return make([]float64, n)
	default:
		panic("scratch: accumulation type must be float32 or float64")
	}
}

func (p *scratchPool) release(buf any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch b := buf.(type) {
	case []float32:
		if len(p.f32) < maxPooledScratch {
			p.f32 = append(p.f32, b)
		}
	case []float64:
		if len(p.f64) < maxPooledScratch {
			p.f64 = append(p.f64, b)
		}
	}
}
