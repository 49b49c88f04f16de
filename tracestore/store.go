// Package tracestore provides the external collaborators the sampler
// records into: an interning stack-trace repository and a thread
// registry with once-per-thread identity checkpoints.
package tracestore

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Trace is one interned stack trace.
type Trace struct {
	ID     uint64
	Hash   uint64
	Frames []uint64
}

// Store interns stack traces and hands out dense ids for them.
//
// Capture can be toggled dynamically; the sampler consults Enabled on
// every event.
type Store struct {
	enabled atomic.Bool

	mu     sync.Mutex
	byHash map[uint64][]uint64 // hash -> candidate trace ids
	traces []Trace             // id-1 indexes traces
}

// NewStore returns an empty trace store with capture enabled.
func NewStore() *Store {
	s := &Store{byHash: make(map[uint64][]uint64)}
	s.enabled.Store(true)
	return s
}

// Enabled reports whether trace capture is currently on.
func (s *Store) Enabled() bool { return s.enabled.Load() }

// SetEnabled toggles trace capture.
func (s *Store) SetEnabled(on bool) { s.enabled.Store(on) }

// RecordTrace interns the context's current capture stack and caches the
// resulting (id, hash) pair on the thread for later events. ctx must be
// a *Thread; anything else records nothing.
func (s *Store) RecordTrace(ctx any) (id, hash uint64) {
	t, ok := ctx.(*Thread)
	if !ok || t == nil || len(t.frames) == 0 {
		return 0, 0
	}
	id, hash = s.intern(t.frames)
	t.cachedTraceID = id
	t.cachedTraceHash = hash
	return id, hash
}

// Frames returns the frames of the trace with the given id.
func (s *Store) Frames(id uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == 0 || id > uint64(len(s.traces)) {
		return nil
	}
	return s.traces[id-1].Frames
}

// Len returns the number of distinct interned traces.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.traces)
}

func (s *Store) intern(frames []uint64) (id, hash uint64) {
	hash = hashFrames(frames)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cand := range s.byHash[hash] {
		if framesEqual(s.traces[cand-1].Frames, frames) {
			return cand, hash
		}
	}
	stored := make([]uint64, len(frames))
	copy(stored, frames)
	id = uint64(len(s.traces) + 1)
	s.traces = append(s.traces, Trace{ID: id, Hash: hash, Frames: stored})
	s.byHash[hash] = append(s.byHash[hash], id)
	return id, hash
}

func hashFrames(frames []uint64) uint64 {
	var d xxhash.Digest
	d.Reset()
	var buf [8]byte
	for _, pc := range frames {
		binary.LittleEndian.PutUint64(buf[:], pc)
		d.Write(buf[:])
	}
	return d.Sum64()
}

func framesEqual(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
