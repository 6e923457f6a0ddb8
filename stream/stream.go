// Copyright 2026 The onnxruntime-go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package stream provides the public execution-stream type that training ops
// enqueue their work onto. Enqueued units run in FIFO order on Synchronize;
// the first failing unit aborts the stream.
package stream

import (
	"github.com/brminnick/onnxruntime/internal/stream"
)

// Stream is a FIFO of asynchronously enqueued work units.
type Stream = stream.Stream

// New creates an empty stream.
func New() *Stream {
	return stream.New()
}
