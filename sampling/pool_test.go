package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAcquireUntilExhausted(t *testing.T) {
	p := NewPool(3)
	assert.Equal(t, 3, p.Capacity())

	var acquired []*Sample
	for i := 0; i < 3; i++ {
		s := p.Acquire()
		require.NotNil(t, s)
		acquired = append(acquired, s)
	}
	assert.Nil(t, p.Acquire())
	assert.Equal(t, 3, p.Count())

	// Head of the age list is the most recent acquisition.
	assert.Same(t, acquired[2], p.Last())
	assert.Same(t, acquired[1], p.Last().Next())
	assert.Same(t, acquired[0], p.Last().Next().Next())
	assert.Nil(t, p.Last().Next().Next().Next())
}

func TestPoolReuseRelinksAtHead(t *testing.T) {
	p := NewPool(3)
	oldest := p.Acquire()
	middle := p.Acquire()
	newest := p.Acquire()

	oldest.span = 7
	got := p.Reuse(oldest)
	assert.Same(t, oldest, got)
	assert.Zero(t, got.Span(), "reused slot must be cleared")

	// Age order is now: oldest (reused, newest), newest, middle.
	assert.Same(t, oldest, p.Last())
	assert.Same(t, newest, p.Last().Next())
	assert.Same(t, middle, p.Last().Next().Next())
	assert.Equal(t, 3, p.Count())
}

func TestPoolReleaseReturnsSlot(t *testing.T) {
	p := NewPool(2)
	a := p.Acquire()
	b := p.Acquire()
	require.Nil(t, p.Acquire())

	b.dead = true
	p.Release(b)
	assert.Equal(t, 1, p.Count())
	assert.Same(t, a, p.Last())

	// The slot is reusable again.
	c := p.Acquire()
	require.NotNil(t, c)
	assert.Same(t, b, c)
}

func TestPoolReleaseLivePanics(t *testing.T) {
	p := NewPool(1)
	s := p.Acquire()
	require.Panics(t, func() { p.Release(s) })
}

func TestPoolResolvedCursor(t *testing.T) {
	p := NewPool(3)
	a := p.Acquire()
	b := p.Acquire()
	p.Acquire()

	assert.Nil(t, p.LastResolved())
	p.SetLastResolved(b)
	assert.Same(t, b, p.LastResolved())

	// Releasing the cursor sample slides the cursor to the older
	// neighbor.
	b.dead = true
	p.Release(b)
	assert.Same(t, a, p.LastResolved())

	a.dead = true
	p.Release(a)
	assert.Nil(t, p.LastResolved())
}

func TestPoolReuseSlidesCursor(t *testing.T) {
	p := NewPool(2)
	older := p.Acquire()
	newer := p.Acquire()

	p.SetLastResolved(newer)
	p.Reuse(newer)
	assert.Same(t, older, p.LastResolved())
}
