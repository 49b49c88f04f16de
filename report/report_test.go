package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heaplab/leakprof/handle"
	"github.com/heaplab/leakprof/sampling"
	"github.com/heaplab/leakprof/tracestore"
)

type fixture struct {
	builder *Builder
	table   *handle.Table
	thread  *tracestore.Thread
	nextObj uint64
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	store := tracestore.NewStore()
	registry := tracestore.NewRegistry()
	sampler := sampling.New(capacity, registry, store, nil)
	f := &fixture{
		builder: &Builder{Sampler: sampler, Store: store, Registry: registry},
		table:   handle.NewTable(),
		thread:  registry.NewThread("worker"),
		nextObj: 0x1000,
	}
	return f
}

func (f *fixture) record(size uint64, pcs ...uint64) handle.Ref {
	ref := f.table.Alloc(f.nextObj)
	f.nextObj += 0x100
	f.thread.SetFrames(pcs)
	f.builder.Sampler.Record(ref, size, f.thread)
	return ref
}

func TestProfileFromRetainedSet(t *testing.T) {
	f := newFixture(t, 4)
	f.record(512, 0x400100, 0x400200)
	f.record(256, 0x400100, 0x400300)

	prof, err := f.builder.Profile()
	require.NoError(t, err)
	require.NoError(t, prof.CheckValid())

	require.Len(t, prof.Sample, 2)
	var bytes int64
	for _, s := range prof.Sample {
		require.Len(t, s.Value, 2)
		assert.Equal(t, int64(1), s.Value[0])
		bytes += s.Value[1]
		assert.Equal(t, []string{"worker"}, s.Label["thread"])
	}
	assert.Equal(t, int64(768), bytes)

	// 0x400100 is shared between the two traces and interned once.
	assert.Len(t, prof.Location, 3)
}

func TestProfileSkipsDeadSamples(t *testing.T) {
	f := newFixture(t, 4)
	dead := f.record(512, 0x400100)
	f.record(256, 0x400200)

	f.table.Invalidate(dead)
	f.builder.Sampler.ScanLiveness(f.table.IsAlive, f.table.Relocate)

	// Not scavenged yet: the dead sample is still queued but must not
	// be emitted.
	require.Equal(t, 2, f.builder.Sampler.ItemCount())
	prof, err := f.builder.Profile()
	require.NoError(t, err)
	require.Len(t, prof.Sample, 1)
	assert.Equal(t, int64(256), prof.Sample[0].Value[1])
}

func TestProfileWithoutTraces(t *testing.T) {
	f := newFixture(t, 4)
	f.builder.Store.SetEnabled(false)
	f.record(128)

	prof, err := f.builder.Profile()
	require.NoError(t, err)
	require.Len(t, prof.Sample, 1)
	assert.Empty(t, prof.Sample[0].Location)
}

func TestResolveNewAdvancesCursor(t *testing.T) {
	f := newFixture(t, 8)
	f.record(10, 0x1)
	f.record(20, 0x2)

	var seen []uint64
	n := f.builder.ResolveNew(func(s *sampling.Sample) {
		seen = append(seen, s.Allocated())
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{20, 10}, seen, "newest first")

	// Nothing new: the cursor holds.
	n = f.builder.ResolveNew(func(s *sampling.Sample) {
		t.Fatal("visited an already-resolved sample")
	})
	assert.Zero(t, n)

	f.record(30, 0x3)
	seen = nil
	n = f.builder.ResolveNew(func(s *sampling.Sample) {
		seen = append(seen, s.Allocated())
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []uint64{30}, seen)
}

func TestResolveNewEmptySampler(t *testing.T) {
	f := newFixture(t, 2)
	n := f.builder.ResolveNew(func(*sampling.Sample) {
		t.Fatal("nothing to visit")
	})
	assert.Zero(t, n)
	assert.Nil(t, f.builder.Sampler.LastResolved())
}
