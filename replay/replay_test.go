package replay

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heaplab/leakprof"
)

type memSource struct{ data []byte }

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memSource) Len() int { return len(m.data) }

func replayTrace(t *testing.T, s *Sampler, build func(*leakprof.Writer)) *Machine {
	t.Helper()
	w := leakprof.NewWriter()
	build(w)
	var buf bytes.Buffer
	_, err := w.WriteTo(&buf)
	require.NoError(t, err)

	p, err := leakprof.NewParser(&memSource{data: buf.Bytes()})
	require.NoError(t, err)

	m := NewMachine(s)
	for {
		ev, err := p.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		m.Process(ev)
	}
	m.Finish()
	return m
}

func TestReplayRetainsLeakedObjects(t *testing.T) {
	s := NewSampler(4)
	replayTrace(t, s, func(w *leakprof.Writer) {
		// Two allocations leak, one is reclaimed by the collector.
		w.Alloc(0, 100, 0x1000, 512, 0x400100)
		w.Alloc(0, 110, 0x2000, 256, 0x400200)
		w.Alloc(0, 120, 0x3000, 128, 0x400300)
		w.GCStart(0, 200)
		w.Free(0, 210, 0x3000)
		w.GCEnd(0, 220)
	})

	engine := s.Engine
	assert.Equal(t, 2, engine.ItemCount())
	assert.Equal(t, uint64(896), engine.TotalAllocated())

	// The reclaimed object's span folded into its older neighbor:
	// the 128-byte sample dies, its span lands on the 256-byte one.
	var spans []uint64
	for i := 0; i < engine.ItemCount(); i++ {
		spans = append(spans, engine.ItemAt(i).Span())
	}
	assert.ElementsMatch(t, []uint64{512, 384}, spans)
}

func TestReplayAssignsOriginsPerP(t *testing.T) {
	s := NewSampler(8)
	replayTrace(t, s, func(w *leakprof.Writer) {
		w.Alloc(0, 100, 0x1000, 64, 0x400100)
		w.Alloc(1, 200, 0x2000, 64, 0x400200)
	})

	engine := s.Engine
	require.Equal(t, 2, engine.ItemCount())
	origins := map[uint64]bool{}
	for i := 0; i < engine.ItemCount(); i++ {
		sm := engine.ItemAt(i)
		origins[sm.Origin()] = true
		assert.NotZero(t, sm.Checkpoint())
	}
	assert.Len(t, origins, 2)
}

func TestReplayRecordsTraces(t *testing.T) {
	s := NewSampler(4)
	replayTrace(t, s, func(w *leakprof.Writer) {
		w.Alloc(0, 100, 0x1000, 64, 0x400100)
		w.Alloc(0, 110, 0x2000, 64, 0x400100)
		w.Alloc(0, 120, 0x3000, 64, 0x400900)
	})

	// Two distinct allocation sites intern two traces.
	assert.Equal(t, 2, s.Store.Len())
	engine := s.Engine
	for i := 0; i < engine.ItemCount(); i++ {
		id, hash := engine.ItemAt(i).Trace()
		assert.NotZero(t, id)
		assert.NotZero(t, hash)
	}
}

func TestReplayTraceCaptureDisabled(t *testing.T) {
	s := NewSampler(4)
	s.Store.SetEnabled(false)
	replayTrace(t, s, func(w *leakprof.Writer) {
		w.Alloc(0, 100, 0x1000, 64, 0x400100)
	})

	assert.Equal(t, 0, s.Store.Len())
	id, hash := s.Engine.Last().Trace()
	assert.Zero(t, id)
	assert.Zero(t, hash)
}

func TestReplayFreeDuringGCDefersInvalidation(t *testing.T) {
	s := NewSampler(4)
	replayTrace(t, s, func(w *leakprof.Writer) {
		w.Alloc(0, 100, 0x1000, 64, 0x400100)
		w.GCStart(0, 200)
		w.Free(0, 210, 0x1000)
		w.GCEnd(0, 220)
		// A second pass with nothing to reclaim.
		w.GCStart(0, 300)
		w.GCEnd(0, 310)
	})

	assert.Equal(t, 0, s.Engine.ItemCount())
	assert.Equal(t, 0, s.Table.Live())
}

func TestReplayClockFollowsTrace(t *testing.T) {
	s := NewSampler(4)
	replayTrace(t, s, func(w *leakprof.Writer) {
		w.Alloc(0, 1234, 0x1000, 64, 0x400100)
	})
	require.Equal(t, 1, s.Engine.ItemCount())
	assert.EqualValues(t, 1234, s.Engine.Last().AllocationTime())
}
