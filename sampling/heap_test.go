package sampling

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSample(span uint64) *Sample {
	return &Sample{span: span, allocated: span, index: -1}
}

// recomputeTotal is the full-scan cross-check the queue never performs
// itself.
func recomputeTotal(q *spanQueue) uint64 {
	var total uint64
	for i := 0; i < q.Count(); i++ {
		total += q.ItemAt(i).span
	}
	return total
}

func TestSpanQueueOrdering(t *testing.T) {
	q := newSpanQueue(8)
	for _, span := range []uint64{50, 10, 70, 30, 20} {
		q.Push(newTestSample(span))
	}
	require.Equal(t, 5, q.Count())
	assert.Equal(t, uint64(180), q.Total())
	assert.Equal(t, uint64(10), q.Peek().Span())

	var got []uint64
	for q.Count() > 0 {
		got = append(got, q.Pop().Span())
	}
	assert.Equal(t, []uint64{10, 20, 30, 50, 70}, got)
	assert.Zero(t, q.Total())
}

func TestSpanQueueTotalIncremental(t *testing.T) {
	q := newSpanQueue(64)
	rng := rand.New(rand.NewSource(1))
	var live []*Sample
	for i := 0; i < 500; i++ {
		switch {
		case len(live) == 0 || rng.Intn(3) != 0:
			s := newTestSample(uint64(rng.Intn(1000) + 1))
			q.Push(s)
			live = append(live, s)
		case rng.Intn(2) == 0:
			s := q.Pop()
			for j := range live {
				if live[j] == s {
					live = append(live[:j], live[j+1:]...)
					break
				}
			}
		default:
			j := rng.Intn(len(live))
			q.Remove(live[j])
			live = append(live[:j], live[j+1:]...)
		}
		require.Equal(t, len(live), q.Count())
		require.Equal(t, recomputeTotal(q), q.Total())
	}
}

func TestSpanQueueRemoveArbitrary(t *testing.T) {
	q := newSpanQueue(8)
	samples := make([]*Sample, 6)
	for i, span := range []uint64{60, 40, 10, 90, 20, 30} {
		samples[i] = newTestSample(span)
		q.Push(samples[i])
	}

	q.Remove(samples[2]) // span 10, current minimum
	assert.Equal(t, uint64(20), q.Peek().Span())
	assert.Equal(t, -1, samples[2].index)

	q.Remove(samples[3]) // span 90, interior
	assert.Equal(t, 4, q.Count())
	assert.Equal(t, recomputeTotal(q), q.Total())
}

func TestSpanQueueRemoveAbsentPanics(t *testing.T) {
	q := newSpanQueue(4)
	queued := newTestSample(10)
	q.Push(queued)

	require.Panics(t, func() { q.Remove(newTestSample(5)) })

	q.Remove(queued)
	require.Panics(t, func() { q.Remove(queued) })
}

func TestSpanQueueDoublePushPanics(t *testing.T) {
	q := newSpanQueue(4)
	s := newTestSample(10)
	q.Push(s)
	require.Panics(t, func() { q.Push(s) })
}

func TestSpanQueuePopEmptyPanics(t *testing.T) {
	q := newSpanQueue(4)
	require.Panics(t, func() { q.Pop() })
	assert.Nil(t, q.Peek())
}
