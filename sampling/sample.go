// Package sampling implements a bounded-memory, byte-weighted reservoir
// of allocation samples for leak detection.
//
// The reservoir retains a fixed number of samples such that every
// allocation interval, measured in bytes rather than events, is
// represented with probability proportional to its size. Samples whose
// objects are later reclaimed are marked dead by the collector's
// liveness scan and their byte weight is folded back into the nearest
// older surviving sample when the reservoir is scavenged.
package sampling

import "github.com/heaplab/leakprof/handle"

// Timestamp is an opaque monotonic time value. Timestamps are only ever
// compared against each other; their unit is whatever the Clock provides.
type Timestamp int64

// CheckpointRef identifies a context checkpoint recorded with the
// external checkpoint store. Zero means no checkpoint.
type CheckpointRef uint64

// Sample is one retained allocation observation.
//
// A Sample is storage owned by the Pool for the lifetime of the Sampler.
// Its age-list links are mutated only by the Pool and its queue position
// only by the span queue.
type Sample struct {
	ref        handle.Ref
	span       uint64
	allocated  uint64
	allocTime  Timestamp
	origin     uint64
	traceID    uint64
	traceHash  uint64
	checkpoint CheckpointRef
	dead       bool

	// Age list links. prev is the more recently admitted neighbor,
	// next the strictly older one.
	prev, next *Sample

	// Position in the span queue, or -1 when not queued.
	index int
}

// Ref returns the weak reference to the sampled object.
func (s *Sample) Ref() handle.Ref { return s.ref }

// Span returns the byte weight currently attributed to the sample.
func (s *Sample) Span() uint64 { return s.span }

// Allocated returns the size in bytes of the allocation that created
// the sample.
func (s *Sample) Allocated() uint64 { return s.allocated }

// AllocationTime returns the timestamp recorded at admission.
func (s *Sample) AllocationTime() Timestamp { return s.allocTime }

// Origin returns the identity of the allocating context. Never zero.
func (s *Sample) Origin() uint64 { return s.origin }

// Trace returns the stack trace id and hash for the sample. Both are
// zero when trace capture was disabled at admission.
func (s *Sample) Trace() (id, hash uint64) { return s.traceID, s.traceHash }

// Checkpoint returns the reference to the context checkpoint recorded
// for the allocating context.
func (s *Sample) Checkpoint() CheckpointRef { return s.checkpoint }

// Dead reports whether the collector has observed the referenced object
// as unreachable. A dead sample stays linked and queued until the next
// scavenge.
func (s *Sample) Dead() bool { return s.dead }

// Next returns the next older sample in the age list, or nil.
func (s *Sample) Next() *Sample { return s.next }

// Prev returns the next newer sample in the age list, or nil.
func (s *Sample) Prev() *Sample { return s.prev }

// reset clears the per-observation fields before a slot is repopulated.
// Links and queue position are owned elsewhere and left alone.
func (s *Sample) reset() {
	s.ref = handle.Ref{}
	s.span = 0
	s.allocated = 0
	s.allocTime = 0
	s.origin = 0
	s.traceID = 0
	s.traceHash = 0
	s.checkpoint = 0
	s.dead = false
}
