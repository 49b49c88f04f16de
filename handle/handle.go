// Package handle provides weak, versioned references to objects managed
// by a relocating collector.
//
// A Ref never keeps its object alive: it is an index into a Table plus a
// generation counter. The collector (or whatever owns object lifetimes)
// updates the Table on moves and invalidates entries on reclamation; a Ref
// whose generation no longer matches its slot is dead.
package handle

// Ref is a weak reference to a managed object.
//
// The zero Ref is invalid and never alive.
type Ref struct {
	id  uint32
	gen uint32
}

// ID returns the slot identifier for the reference.
func (r Ref) ID() uint32 {
	return r.id
}

type slot struct {
	addr uint64
	gen  uint32
	live bool
}

// Table tracks the current location and liveness of managed objects.
//
// Table performs no internal locking. The sampler's concurrency model
// guarantees that liveness queries and relocations only happen while
// the collector has excluded allocation, so callers provide whatever
// synchronization they already hold.
type Table struct {
	slots  []slot
	free   []uint32
	byAddr map[uint64]Ref
}

// NewTable returns an empty handle table.
func NewTable() *Table {
	return &Table{byAddr: make(map[uint64]Ref)}
}

// Alloc registers a new object at addr and returns a weak reference to it.
func (t *Table) Alloc(addr uint64) Ref {
	var id uint32
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		id = uint32(len(t.slots) - 1)
	}
	s := &t.slots[id]
	s.addr = addr
	s.live = true
	r := Ref{id: id, gen: s.gen}
	t.byAddr[addr] = r
	return r
}

// Resolve returns the current address of the referenced object, or false
// if the object has been reclaimed.
func (t *Table) Resolve(r Ref) (uint64, bool) {
	if !t.IsAlive(r) {
		return 0, false
	}
	return t.slots[r.id].addr, true
}

// IsAlive reports whether the referenced object is still reachable.
func (t *Table) IsAlive(r Ref) bool {
	if int(r.id) >= len(t.slots) {
		return false
	}
	s := &t.slots[r.id]
	return s.live && s.gen == r.gen
}

// Move records that the referenced object now lives at newAddr and
// returns the (possibly updated) reference. Moving a dead reference
// is a contract violation.
func (t *Table) Move(r Ref, newAddr uint64) Ref {
	if !t.IsAlive(r) {
		panic("move of dead handle")
	}
	s := &t.slots[r.id]
	delete(t.byAddr, s.addr)
	s.addr = newAddr
	t.byAddr[newAddr] = r
	return r
}

// Relocate returns the reference updated to the object's current location.
// It is the relocation callback the sampler's liveness scan expects: for
// an address-stable table it is the identity function on live refs.
func (t *Table) Relocate(r Ref) Ref {
	if !t.IsAlive(r) {
		panic("relocate of dead handle")
	}
	return r
}

// Invalidate marks the referenced object as reclaimed. Later IsAlive and
// Resolve calls on r (and on any stale copies of it) report dead.
// Invalidating an already-dead reference is a no-op.
func (t *Table) Invalidate(r Ref) {
	if !t.IsAlive(r) {
		return
	}
	s := &t.slots[r.id]
	delete(t.byAddr, s.addr)
	s.live = false
	s.gen++
	t.free = append(t.free, r.id)
}

// InvalidateAddr invalidates the object currently registered at addr.
// Returns true if such an object existed.
func (t *Table) InvalidateAddr(addr uint64) bool {
	r, ok := t.byAddr[addr]
	if !ok {
		return false
	}
	t.Invalidate(r)
	return true
}

// Lookup returns the reference registered for addr, if any.
func (t *Table) Lookup(addr uint64) (Ref, bool) {
	r, ok := t.byAddr[addr]
	return r, ok
}

// Live returns the number of live objects in the table.
func (t *Table) Live() int {
	return len(t.byAddr)
}
