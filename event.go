// Copyright 2025 The leakprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leakprof

// EventKind indicates what kind of allocation trace event
// is captured and returned.
type EventKind uint8

const (
	EventBad     EventKind = iota
	EventAlloc             // Object allocation.
	EventFree              // Object reclamation.
	EventGCStart           // Start of a collection pass.
	EventGCEnd             // End of a collection pass.
)

// Event represents a single allocation trace event.
type Event struct {
	// Timestamp is the time in non-normalized CPU ticks
	// for this event.
	Timestamp uint64

	// Address identifies the object for the allocation or free.
	// Only valid when Kind == EventAlloc or Kind == EventFree.
	Address uint64

	// Size indicates the size of the allocation.
	// Only valid when Kind == EventAlloc.
	Size uint64

	// PC is the program counter considered to have triggered the
	// allocation, used to attribute a capture stack to the event.
	//
	// Only non-zero if Kind == EventAlloc and an allocation site
	// could reasonably be assigned to the allocation during the
	// trace.
	PC uint64

	// P indicates which processor generated the event.
	// Valid for all events.
	P int32

	// Kind indicates what kind of event this is.
	// This may be assumed to always be valid.
	Kind EventKind
}
