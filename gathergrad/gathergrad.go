// Copyright 2026 The onnxruntime-go Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package gathergrad provides the public API for the gather-gradient
// operator: the backward pass of an embedding-style Gather, computed as a
// conflict-free two-stage segmented reduction.
//
// Example:
//
//	plan, _ := gathergrad.NewPlanner().Plan(indices)
//	inputs, _ := plan.Inputs(xShape, indices, dY)
//	s := stream.New()
//	dX, _ := gathergrad.New(0).Compute(s, inputs)
//	err := s.Synchronize()
package gathergrad

import (
	"github.com/brminnick/onnxruntime/internal/gathergrad"
)

// PartialSegmentSize is the maximum number of gathered rows summed by one
// partial segment.
const PartialSegmentSize = gathergrad.PartialSegmentSize

// ErrUnsupportedType is returned when the gradient element type or index
// width falls outside the supported matrix.
var ErrUnsupportedType = gathergrad.ErrUnsupportedType

// Op is the gather-gradient operator.
type Op = gathergrad.Op

// Plan is the segmentation plan for one invocation.
type Plan = gathergrad.Plan

// Planner produces a segmentation plan from an unsorted index tensor.
type Planner = gathergrad.Planner

// CPUPlanner is the host-side reference Planner.
type CPUPlanner = gathergrad.CPUPlanner

// New creates a gather-gradient op for the given axis.
func New(axis int) *Op {
	return gathergrad.New(axis)
}

// NewPlanner creates a CPUPlanner.
func NewPlanner() *CPUPlanner {
	return gathergrad.NewPlanner()
}
