package tracestore

import (
	"sync"
	"time"

	"github.com/heaplab/leakprof/sampling"
)

// Thread is the allocating-context value threaded through Record. It
// carries the resolved identity, the current capture stack, the cached
// trace pair, and the checkpoint state for one allocating thread or
// goroutine.
type Thread struct {
	id         uint64
	name       string
	checkpoint sampling.CheckpointRef

	frames          []uint64
	cachedTraceID   uint64
	cachedTraceHash uint64
}

// ID returns the thread's nonzero identity.
func (t *Thread) ID() uint64 { return t.id }

// Name returns the thread's display name.
func (t *Thread) Name() string { return t.name }

// SetFrames replaces the thread's current capture stack. The caller
// retains ownership of pcs until the next SetFrames.
func (t *Thread) SetFrames(pcs []uint64) { t.frames = pcs }

// CachedTrace returns the most recently recorded trace pair for the
// thread, or zeros if none was recorded yet.
func (t *Thread) CachedTrace() (id, hash uint64) {
	return t.cachedTraceID, t.cachedTraceHash
}

// Checkpoint is one identity snapshot, recorded once per thread.
type Checkpoint struct {
	Origin    uint64
	Name      string
	CreatedAt time.Time
}

// Registry assigns thread identities and records their checkpoints.
// It implements sampling.Resolver.
type Registry struct {
	mu          sync.Mutex
	nextID      uint64
	checkpoints []Checkpoint
}

// NewRegistry returns an empty thread registry.
func NewRegistry() *Registry {
	return &Registry{nextID: 1}
}

// NewThread registers a new allocating context. Identities start at 1;
// zero stays reserved for unattributable contexts.
func (r *Registry) NewThread(name string) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &Thread{id: r.nextID, name: name}
	r.nextID++
	return t
}

// ResolveOrigin returns the thread's identity, or 0 when ctx is not a
// registered thread.
func (r *Registry) ResolveOrigin(ctx any) uint64 {
	t, ok := ctx.(*Thread)
	if !ok || t == nil {
		return 0
	}
	return t.id
}

// HasCheckpoint reports whether the thread's checkpoint was recorded.
func (r *Registry) HasCheckpoint(ctx any) bool {
	t, ok := ctx.(*Thread)
	return ok && t != nil && t.checkpoint != 0
}

// CreateCheckpoint snapshots the thread's identity into the registry.
func (r *Registry) CreateCheckpoint(ctx any) {
	t, ok := ctx.(*Thread)
	if !ok || t == nil || t.checkpoint != 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints = append(r.checkpoints, Checkpoint{
		Origin:    t.id,
		Name:      t.name,
		CreatedAt: time.Now(),
	})
	t.checkpoint = sampling.CheckpointRef(len(r.checkpoints))
}

// Checkpoint returns the thread's checkpoint reference, or zero.
func (r *Registry) Checkpoint(ctx any) sampling.CheckpointRef {
	t, ok := ctx.(*Thread)
	if !ok || t == nil {
		return 0
	}
	return t.checkpoint
}

// Lookup returns the checkpoint behind ref.
func (r *Registry) Lookup(ref sampling.CheckpointRef) (Checkpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref == 0 || int(ref) > len(r.checkpoints) {
		return Checkpoint{}, false
	}
	return r.checkpoints[ref-1], true
}
