package sampling

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/heaplab/leakprof/handle"
)

// Sampler is the admission and eviction engine for the reservoir.
//
// Many allocating contexts may call Record concurrently, but the sampler
// is single-writer: admission is guarded by a non-blocking lock and any
// caller that finds it held drops its event. ScanLiveness and the read
// accessors perform no locking of their own; the collector and the
// reporting code are expected to run them while allocation is externally
// excluded.
type Sampler struct {
	queue *spanQueue
	pool  *Pool

	resolver Resolver
	traces   TraceRecorder
	clock    Clock

	size           int
	totalAllocated uint64
	lastSweep      Timestamp
	deadSamples    bool

	mu sync.Mutex
}

// New returns a sampler retaining at most size samples.
func New(size int, resolver Resolver, traces TraceRecorder, clock Clock) *Sampler {
	if size <= 0 {
		panic("sampler size must be positive")
	}
	if clock == nil {
		clock = WallClock{}
	}
	return &Sampler{
		queue:     newSpanQueue(size),
		pool:      NewPool(size),
		resolver:  resolver,
		traces:    traces,
		clock:     clock,
		size:      size,
		lastSweep: clock.Now(),
	}
}

// Record offers one allocation event of allocated bytes to the reservoir.
//
// The event is dropped without any state change when the context cannot
// be attributed or when the sampler is contended. Once admitted past the
// guard, the event's bytes always advance the cumulative allocation
// counter, even if the event then loses the weight comparison against
// the current minimum and is rejected.
func (s *Sampler) Record(ref handle.Ref, allocated uint64, ctx any) {
	if allocated == 0 {
		panic("recording zero-byte allocation")
	}
	origin := s.resolver.ResolveOrigin(ctx)
	if origin == 0 {
		// Unattributable allocations carry no diagnostic value.
		return
	}

	if !s.resolver.HasCheckpoint(ctx) {
		s.resolver.CreateCheckpoint(ctx)
	}
	checkpoint := s.resolver.Checkpoint(ctx)

	var traceID, traceHash uint64
	if s.traces.Enabled() {
		traceID, traceHash = s.traces.RecordTrace(ctx)
	}

	allocTime := s.clock.Now()

	if !s.mu.TryLock() {
		log.Trace("skipping allocation sample due to lock contention")
		return
	}
	defer s.mu.Unlock()

	if s.deadSamples {
		s.scavenge()
	}

	s.totalAllocated += allocated
	// The byte interval not yet represented by any retained sample:
	// the weight this event carries if admitted.
	span := s.totalAllocated - s.queue.Total()

	var sample *Sample
	if s.queue.Count() == s.size {
		peek := s.queue.Peek()
		if peek.span > span {
			// Would not survive against the weakest retained sample.
			return
		}
		sample = s.pool.Reuse(s.queue.Pop())
	} else {
		sample = s.pool.Acquire()
		if sample == nil {
			panic("sample pool exhausted below reservoir capacity")
		}
	}

	sample.ref = ref
	sample.origin = origin
	sample.checkpoint = checkpoint
	sample.traceID = traceID
	sample.traceHash = traceHash
	sample.span = allocated
	sample.allocated = allocated
	sample.allocTime = allocTime
	s.queue.Push(sample)
}

// ScanLiveness is called by the collector during its reachability pass.
// It walks the whole age list; every sample not already dead is checked
// against isAlive, relocated if the object survived, and marked dead
// otherwise. Dead samples stay linked and queued until the next scavenge.
//
// The collector must exclude concurrent Record calls for the duration.
func (s *Sampler) ScanLiveness(isAlive AliveFunc, relocate RelocateFunc) {
	for current := s.pool.Last(); current != nil; current = current.next {
		if current.dead {
			continue
		}
		if isAlive(current.ref) {
			// The weakly referenced object survived; it may have moved.
			current.ref = relocate(current.ref)
		} else {
			current.dead = true
			s.deadSamples = true
		}
	}
	s.lastSweep = s.clock.Now()
}

// Scavenge removes every dead sample, folding its span into its nearest
// older surviving neighbor, and returns the slots to the pool. Callers
// must hold whatever exclusion Record's guard would provide; Record runs
// it itself when dead samples are pending.
func (s *Sampler) Scavenge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scavenge()
}

func (s *Sampler) scavenge() {
	current := s.pool.Last()
	for current != nil {
		next := current.next
		if current.dead {
			s.removeDead(current)
		}
		current = next
	}
	s.deadSamples = false
}

// removeDead folds the dead sample's span onto its strictly older
// neighbor so the queue total keeps accounting for every byte interval
// observed since the sampler began, then releases the slot.
func (s *Sampler) removeDead(sample *Sample) {
	if !sample.dead {
		panic("removing live sample")
	}
	if older := sample.next; older != nil {
		s.queue.Remove(older)
		older.span += sample.span
		s.queue.Push(older)
	}
	s.queue.Remove(sample)
	s.pool.Release(sample)
}

// ItemCount returns the number of currently queued samples, dead ones
// included until they are scavenged.
func (s *Sampler) ItemCount() int { return s.queue.Count() }

// ItemAt returns the queued sample at position index.
func (s *Sampler) ItemAt(index int) *Sample { return s.queue.ItemAt(index) }

// Last returns the most recently admitted sample, or nil.
func (s *Sampler) Last() *Sample { return s.pool.Last() }

// LastResolved returns the reporting consumer's resolution cursor.
func (s *Sampler) LastResolved() *Sample { return s.pool.LastResolved() }

// SetLastResolved moves the reporting consumer's resolution cursor.
func (s *Sampler) SetLastResolved(sample *Sample) { s.pool.SetLastResolved(sample) }

// LastSweepTime returns the timestamp of the most recent liveness scan.
func (s *Sampler) LastSweepTime() Timestamp { return s.lastSweep }

// TotalAllocated returns the cumulative bytes of all observed events,
// including events rejected by the weight comparison.
func (s *Sampler) TotalAllocated() uint64 { return s.totalAllocated }

// Size returns the reservoir capacity.
func (s *Sampler) Size() int { return s.size }
