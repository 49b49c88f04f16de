// Package replay drives the sampling engine from an allocation trace,
// standing in for the managed runtime the sampler normally embeds in.
//
// Each trace P is treated as one allocating context. Object addresses
// are mapped to weak handles, free events invalidate them, and the end
// of every collection pass runs the sampler's liveness scan, exactly as
// a collector would.
package replay

import (
	"strconv"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/heaplab/leakprof"
	"github.com/heaplab/leakprof/handle"
	"github.com/heaplab/leakprof/sampling"
	"github.com/heaplab/leakprof/tracestore"
)

// tickClock exposes the trace's own timeline as the sampler's clock.
type tickClock struct {
	ticks atomic.Int64
}

func (c *tickClock) Now() sampling.Timestamp {
	return sampling.Timestamp(c.ticks.Load())
}

func (c *tickClock) advance(ticks uint64) {
	c.ticks.Store(int64(ticks))
}

// Machine replays allocation trace events through a Sampler.
type Machine struct {
	sampler  *Sampler
	inGC     bool
	frames   [1]uint64
	pending  []handle.Ref
	threads  map[int32]*tracestore.Thread
	refs     map[uint64]handle.Ref
	events   uint64
	frees    uint64
	gcCycles uint64
}

// Sampler bundles the sampling engine with the collaborators replay
// feeds it.
type Sampler struct {
	Engine   *sampling.Sampler
	Table    *handle.Table
	Store    *tracestore.Store
	Registry *tracestore.Registry

	clock *tickClock
}

// NewSampler constructs a sampling engine of the given reservoir
// capacity wired to a fresh handle table, trace store and thread
// registry, clocked by trace ticks.
func NewSampler(capacity int) *Sampler {
	s := &Sampler{
		Table:    handle.NewTable(),
		Store:    tracestore.NewStore(),
		Registry: tracestore.NewRegistry(),
		clock:    &tickClock{},
	}
	s.Engine = sampling.New(capacity, s.Registry, s.Store, s.clock)
	return s
}

// NewMachine returns a Machine replaying into s.
func NewMachine(s *Sampler) *Machine {
	return &Machine{
		sampler: s,
		threads: make(map[int32]*tracestore.Thread),
		refs:    make(map[uint64]handle.Ref),
	}
}

// Process consumes one trace event.
func (m *Machine) Process(ev leakprof.Event) {
	m.sampler.clock.advance(ev.Timestamp)
	m.events++
	switch ev.Kind {
	case leakprof.EventAlloc:
		ref := m.sampler.Table.Alloc(ev.Address)
		m.refs[ev.Address] = ref
		th := m.thread(ev.P)
		m.frames[0] = ev.PC
		th.SetFrames(m.frames[:])
		m.sampler.Engine.Record(ref, ev.Size, th)
	case leakprof.EventFree:
		ref, ok := m.refs[ev.Address]
		if !ok {
			// Frees for objects allocated before the trace began.
			return
		}
		delete(m.refs, ev.Address)
		m.frees++
		if m.inGC {
			// Objects reclaimed mid-pass are invalidated once the
			// pass completes, so the scan observes a consistent
			// snapshot.
			m.pending = append(m.pending, ref)
			return
		}
		m.sampler.Table.Invalidate(ref)
	case leakprof.EventGCStart:
		m.inGC = true
	case leakprof.EventGCEnd:
		m.inGC = false
		for _, ref := range m.pending {
			m.sampler.Table.Invalidate(ref)
		}
		m.pending = m.pending[:0]
		m.gcCycles++
		m.sampler.Engine.ScanLiveness(m.sampler.Table.IsAlive, m.sampler.Table.Relocate)
	}
}

// Finish flushes any frees still pending from an unterminated collection
// pass, then runs a final liveness scan and scavenge so the retained set
// contains only objects still live at the end of the trace.
func (m *Machine) Finish() {
	for _, ref := range m.pending {
		m.sampler.Table.Invalidate(ref)
	}
	m.pending = m.pending[:0]
	m.sampler.Engine.ScanLiveness(m.sampler.Table.IsAlive, m.sampler.Table.Relocate)
	m.sampler.Engine.Scavenge()
	log.WithFields(log.Fields{
		"events":   m.events,
		"frees":    m.frees,
		"gcCycles": m.gcCycles,
		"retained": m.sampler.Engine.ItemCount(),
	}).Debug("replay finished")
}

func (m *Machine) thread(p int32) *tracestore.Thread {
	th, ok := m.threads[p]
	if !ok {
		th = m.sampler.Registry.NewThread(threadName(p))
		m.threads[p] = th
	}
	return th
}

func threadName(p int32) string {
	if p < 0 {
		return "P?"
	}
	return "P" + strconv.Itoa(int(p))
}
