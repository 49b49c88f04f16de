package sampling

// Pool owns a fixed arena of Sample slots and the age-ordered list of
// the live ones.
//
// Slots are created once at construction and reused for the lifetime of
// the sampler; nothing is allocated per event. Every slot is in exactly
// one of two states: on the free list, or linked into the age list.
// The age list runs from the most recently admitted sample (the head,
// returned by Last) via next pointers toward the oldest.
type Pool struct {
	slots    []Sample
	freeList *Sample
	head     *Sample
	tail     *Sample
	resolved *Sample
	count    int
}

// NewPool returns a pool with capacity pre-allocated sample slots.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		panic("pool capacity must be positive")
	}
	p := &Pool{slots: make([]Sample, capacity)}
	for i := range p.slots {
		s := &p.slots[i]
		s.index = -1
		s.next = p.freeList
		p.freeList = s
	}
	return p
}

// Capacity returns the number of slots owned by the pool.
func (p *Pool) Capacity() int { return len(p.slots) }

// Count returns the number of slots currently on the age list.
func (p *Pool) Count() int { return p.count }

// Acquire takes a slot off the free list, links it at the head of the
// age list and returns it. Returns nil when the pool is exhausted; the
// caller must then supply a slot to Reuse instead.
func (p *Pool) Acquire() *Sample {
	s := p.freeList
	if s == nil {
		return nil
	}
	p.freeList = s.next
	s.next = nil
	s.reset()
	p.linkFront(s)
	p.count++
	return s
}

// Reuse relinks old at the head of the age list, making it logically the
// newest sample, and returns it cleared for re-population. old must
// already have been removed from the span queue.
func (p *Pool) Reuse(old *Sample) *Sample {
	if old.index != -1 {
		panic("reuse of queued sample")
	}
	if p.resolved == old {
		p.resolved = old.next
	}
	p.unlink(old)
	old.reset()
	p.linkFront(old)
	return old
}

// Release unlinks s from the age list and returns it to the free list.
// Only dead samples that are no longer queued may be released.
func (p *Pool) Release(s *Sample) {
	if !s.dead {
		panic("release of live sample")
	}
	if s.index != -1 {
		panic("release of queued sample")
	}
	if p.resolved == s {
		p.resolved = s.next
	}
	p.unlink(s)
	s.next = p.freeList
	p.freeList = s
	p.count--
}

// Last returns the most recently admitted sample, or nil if none.
func (p *Pool) Last() *Sample { return p.head }

// LastResolved returns the resolution cursor: the newest sample an
// external consumer has already processed, or nil.
func (p *Pool) LastResolved() *Sample { return p.resolved }

// SetLastResolved moves the resolution cursor to s.
func (p *Pool) SetLastResolved(s *Sample) { p.resolved = s }

func (p *Pool) linkFront(s *Sample) {
	s.prev = nil
	s.next = p.head
	if p.head != nil {
		p.head.prev = s
	} else {
		p.tail = s
	}
	p.head = s
}

func (p *Pool) unlink(s *Sample) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		p.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		p.tail = s.prev
	}
	s.prev = nil
	s.next = nil
}
