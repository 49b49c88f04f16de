package sampling

// spanQueue is a min-heap of samples keyed by span, with an incrementally
// maintained running total of all queued spans.
//
// The queue holds positions only; sample storage is owned by the Pool.
// Each sample's index field records its heap position so arbitrary
// elements can be removed in O(log n).
type spanQueue struct {
	items []*Sample
	total uint64
}

func newSpanQueue(capacity int) *spanQueue {
	return &spanQueue{items: make([]*Sample, 0, capacity)}
}

// Count returns the number of queued samples.
func (q *spanQueue) Count() int { return len(q.items) }

// Total returns the sum of the spans of all queued samples.
func (q *spanQueue) Total() uint64 { return q.total }

// Push inserts s and restores heap order.
func (q *spanQueue) Push(s *Sample) {
	if s.index != -1 {
		panic("sample already queued")
	}
	s.index = len(q.items)
	q.items = append(q.items, s)
	q.total += s.span
	q.siftUp(s.index)
}

// Pop removes and returns the minimum-span sample.
func (q *spanQueue) Pop() *Sample {
	if len(q.items) == 0 {
		panic("pop from empty span queue")
	}
	min := q.items[0]
	q.removeAt(0)
	return min
}

// Peek returns the minimum-span sample without removing it, or nil if
// the queue is empty.
func (q *spanQueue) Peek() *Sample {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Remove removes s from the queue. Removing a sample that is not queued
// is a contract violation.
func (q *spanQueue) Remove(s *Sample) {
	if s.index < 0 || s.index >= len(q.items) || q.items[s.index] != s {
		panic("removing sample not in span queue")
	}
	q.removeAt(s.index)
}

// ItemAt returns the queued sample at position i in heap order.
func (q *spanQueue) ItemAt(i int) *Sample { return q.items[i] }

func (q *spanQueue) removeAt(i int) {
	s := q.items[i]
	last := len(q.items) - 1
	q.swap(i, last)
	q.items[last] = nil
	q.items = q.items[:last]
	q.total -= s.span
	s.index = -1
	if i < last {
		i = q.siftDown(i)
		q.siftUp(i)
	}
}

func (q *spanQueue) siftUp(i int) int {
	for i > 0 {
		parent := (i - 1) / 2
		if q.items[parent].span <= q.items[i].span {
			break
		}
		q.swap(i, parent)
		i = parent
	}
	return i
}

func (q *spanQueue) siftDown(i int) int {
	n := len(q.items)
	for {
		min := i
		if l := 2*i + 1; l < n && q.items[l].span < q.items[min].span {
			min = l
		}
		if r := 2*i + 2; r < n && q.items[r].span < q.items[min].span {
			min = r
		}
		if min == i {
			return i
		}
		q.swap(i, min)
		i = min
	}
}

func (q *spanQueue) swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}
