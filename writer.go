// Copyright 2025 The leakprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leakprof

import (
	"fmt"
	"io"
)

// Writer encodes allocation trace events into the batch format the
// Parser reads.
//
// Events for a given P must be appended in non-decreasing timestamp
// order. The encoded trace is buffered in memory until WriteTo.
type Writer struct {
	perP   map[int32]*batchWriter
	sealed [][]byte
}

// NewWriter returns an empty trace writer.
func NewWriter() *Writer {
	return &Writer{perP: make(map[int32]*batchWriter)}
}

type batchWriter struct {
	buf      []byte
	syncTick uint64
	lastTick uint64
	started  bool
}

// Alloc appends an object allocation event.
func (w *Writer) Alloc(p int32, ticks, addr, size, pc uint64) {
	b := w.batch(p, ticks, 1+4*maxVarintLen)
	b.event(evAlloc, addr, size, pc, ticks-b.syncTick)
}

// Free appends an object reclamation event.
func (w *Writer) Free(p int32, ticks, addr uint64) {
	b := w.batch(p, ticks, 1+2*maxVarintLen)
	b.event(evFree, addr, ticks-b.syncTick)
}

// GCStart appends the start of a collection pass.
func (w *Writer) GCStart(p int32, ticks uint64) {
	b := w.batch(p, ticks, 1+maxVarintLen)
	b.event(evGCStart, ticks-b.syncTick)
}

// GCEnd appends the end of a collection pass.
func (w *Writer) GCEnd(p int32, ticks uint64) {
	b := w.batch(p, ticks, 1+maxVarintLen)
	b.event(evGCEnd, ticks-b.syncTick)
}

// WriteTo seals all open batches and writes the complete trace.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	for _, b := range w.perP {
		if b.started {
			w.sealed = append(w.sealed, b.seal())
			b.started = false
		}
	}
	var written int64
	n, err := out.Write([]byte{'l', 'p', byte(supportedVersion >> 8), byte(supportedVersion & 0xff)})
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("writing trace header: %v", err)
	}
	for _, batch := range w.sealed {
		n, err := out.Write(batch)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("writing trace batch: %v", err)
		}
	}
	return written, nil
}

const maxVarintLen = 10

// batch returns the open batch for p, sealing and replacing it first if
// need bytes would not fit alongside the closing event.
func (w *Writer) batch(p int32, ticks uint64, need int) *batchWriter {
	pid := uint64(p + 1)
	b, ok := w.perP[p]
	if !ok {
		b = &batchWriter{}
		w.perP[p] = b
	}
	if b.started && ticks < b.lastTick {
		panic("events for a P must be appended in time order")
	}
	if b.started && len(b.buf)+need+1 > batchSize {
		w.sealed = append(w.sealed, b.seal())
		b.started = false
	}
	if !b.started {
		b.buf = b.buf[:0]
		b.buf = append(b.buf, evBatchStart)
		b.buf = appendVarint(b.buf, pid)
		b.buf = append(b.buf, evSync)
		b.buf = appendVarint(b.buf, ticks)
		b.syncTick = ticks
		b.started = true
	}
	b.lastTick = ticks
	return b
}

func (b *batchWriter) event(kind uint8, args ...uint64) {
	b.buf = append(b.buf, kind)
	for _, a := range args {
		b.buf = appendVarint(b.buf, a)
	}
}

func (b *batchWriter) seal() []byte {
	sealed := make([]byte, batchSize)
	n := copy(sealed, b.buf)
	sealed[n] = evBatchEnd
	return sealed
}

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}
