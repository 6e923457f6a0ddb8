// Package stream implements the execution-stream context that training ops
// enqueue their work onto. Work units run in FIFO order when the stream is
// synchronized; a failed unit aborts the stream and every unit enqueued after
// the failure is dropped.
package stream

import (
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type unit struct {
	name string
	fn   func() error
}

// Stream is a FIFO of asynchronously enqueued work units. Enqueue never
// blocks; execution happens on Synchronize. Units enqueued by one op are
// ordered with respect to each other, which is the only barrier the two-stage
// reductions in this module rely on.
type Stream struct {
	mu       sync.Mutex
	pending  []unit
	err      error
	enqueued int
}

// New creates an empty stream.
func New() *Stream {
	return &Stream{}
}

// Enqueue appends a named work unit to the stream. If the stream has already
// aborted, the unit is dropped.
func (s *Stream) Enqueue(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		klog.V(2).Infof("stream: dropping %q, stream aborted: %v", name, s.err)
		return
	}
	s.pending = append(s.pending, unit{name: name, fn: fn})
	s.enqueued++
}

// Synchronize drains the stream, running every pending unit in order. The
// first failure aborts the stream: the failing unit's error is recorded,
// remaining units are discarded, and the error is returned. Subsequent calls
// on an aborted stream return the recorded error.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	for len(s.pending) > 0 {
		u := s.pending[0]
		s.pending = s.pending[1:]
		klog.V(2).Infof("stream: running %q", u.name)
		if err := u.fn(); err != nil {
			s.err = errors.Wrapf(err, "stream: unit %q failed", u.name)
			s.pending = nil
			return s.err
		}
	}
	return nil
}

// Err returns the recorded abort error, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// UnitsEnqueued returns the total number of units ever accepted by the
// stream. Tests use it to verify that failed type dispatch issues no work.
func (s *Stream) UnitsEnqueued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enqueued
}
