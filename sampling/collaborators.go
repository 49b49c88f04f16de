package sampling

import (
	"time"

	"github.com/heaplab/leakprof/handle"
)

// Resolver resolves the identity of an allocating context and manages
// its checkpoint lifetime. The ctx value is whatever the embedding
// runtime passes to Record; the sampler never inspects it.
type Resolver interface {
	// ResolveOrigin returns the identity of the allocating context,
	// or 0 when the context cannot be attributed.
	ResolveOrigin(ctx any) uint64

	// HasCheckpoint reports whether a checkpoint has already been
	// recorded for the context.
	HasCheckpoint(ctx any) bool

	// CreateCheckpoint records the context's checkpoint with the
	// external store. Called at most once per context lifetime.
	CreateCheckpoint(ctx any)

	// Checkpoint returns the reference to the context's checkpoint.
	Checkpoint(ctx any) CheckpointRef
}

// TraceRecorder captures and interns stack traces for admitted events.
type TraceRecorder interface {
	// Enabled reports whether trace capture is currently on. The
	// setting may be toggled at any time.
	Enabled() bool

	// RecordTrace captures the context's current stack, interns it,
	// and returns its id and hash. Implementations may cache the
	// pair on the context for later events.
	RecordTrace(ctx any) (id, hash uint64)
}

// Clock provides the timestamps recorded on samples. Timestamps must be
// monotonic.
type Clock interface {
	Now() Timestamp
}

// AliveFunc reports whether the referenced object is still reachable.
// Supplied by the collector during its own traversal.
type AliveFunc func(handle.Ref) bool

// RelocateFunc returns the reference updated to the object's current
// location; objects may move during collection.
type RelocateFunc func(handle.Ref) handle.Ref

// WallClock is a Clock reading the runtime's monotonic clock.
type WallClock struct{}

func (WallClock) Now() Timestamp {
	return Timestamp(time.Now().UnixNano())
}
