// Copyright 2025 The leakprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leakprof

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

const batchSize = 32 << 10

// Parser contains the allocation trace parsing state.
type Parser struct {
	src          Source
	index        [][]batchOffset
	batches      []batchReader
	totalBatches uint64
}

// Source is an allocation trace source.
type Source interface {
	io.ReaderAt

	// Len returns the size of the allocation
	// trace in bytes.
	Len() int
}

type batchOffset struct {
	startTicks uint64
	fileOffset int64
}

const (
	evBad uint8 = iota
	evBatchStart
	evSync
	evAlloc
	evFree
	evGCStart
	evGCEnd
	evBatchEnd
)

func parseVarint(buf []byte) (int, uint64, error) {
	result := uint64(0)
	shift := uint(0)
	i := 0
loop:
	if i >= len(buf) {
		return 0, 0, fmt.Errorf("not enough bytes left to decode varint")
	}
	result |= uint64(buf[i]&0x7f) << shift
	if buf[i]&(1<<7) == 0 {
		return i + 1, result, nil
	}
	shift += 7
	i++
	if shift >= 64 {
		return 0, 0, fmt.Errorf("varint too long")
	}
	goto loop
}

func parseBatchHeader(buf []byte) (int32, uint64, error) {
	idx := 0
	if buf[idx] != evBatchStart {
		return 0, 0, fmt.Errorf("expected batch start event")
	}
	idx++

	n, pid, err := parseVarint(buf[idx:])
	if err != nil {
		return 0, 0, err
	}
	idx += n

	if buf[idx] != evSync {
		return 0, 0, fmt.Errorf("expected sync event")
	}
	idx++

	_, ticks, err := parseVarint(buf[idx:])
	if err != nil {
		return 0, 0, err
	}
	return int32(pid), ticks, nil
}

const headerSize = 4

const supportedVersion uint16 = uint16(1) << 8

func parseHeader(r Source) (uint16, error) {
	var header [headerSize]byte
	n, err := r.ReadAt(header[:], 0)
	if n != headerSize || err != nil {
		return 0, err
	}
	if header[0] != 'l' || header[1] != 'p' {
		return 0, fmt.Errorf("bad magic")
	}
	version := uint16(header[2])<<8 | uint16(header[3])
	return version, nil
}

// NewParser creates and initializes a new Parser given a Source.
//
// Initialization involves indexing the trace's batches, which may be
// computationally expensive for large traces.
func NewParser(r Source) (*Parser, error) {
	// Check some basic properties, like the size and the header.
	if r.Len()%batchSize != headerSize {
		return nil, fmt.Errorf("bad format: file must be a multiple of %d bytes", batchSize)
	}
	version, err := parseHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %v", err)
	}
	if version != supportedVersion {
		return nil, fmt.Errorf("unsupported version")
	}

	// Figure out how to break up the indexing phase.
	shards := runtime.GOMAXPROCS(-1)
	numBatches := (r.Len() - headerSize) / batchSize
	if shards > numBatches {
		shards = 1
	}
	batchesPerShard := numBatches / shards
	if numBatches%shards != 0 {
		batchesPerShard = numBatches / (shards - 1)
	}

	// Build up a per-shard index.
	perShardIndex := make([][][]batchOffset, shards)
	var eg errgroup.Group
	for i := 0; i < shards; i++ {
		i := i
		eg.Go(func() error {
			const bufSize = 16
			var buf [bufSize]byte

			index := make([][]batchOffset, 8)
			start := int64(batchesPerShard * i)
			end := int64(batchesPerShard * (i + 1))
			if end > int64(numBatches) {
				end = int64(numBatches)
			}
			for idx := start*batchSize + headerSize; idx < end*batchSize+headerSize; idx += batchSize {
				n, err := r.ReadAt(buf[:], idx)
				if n < bufSize {
					return err
				}
				pid, ticks, err := parseBatchHeader(buf[:])
				if err != nil {
					return err
				}
				if int(pid) >= len(index) {
					index = append(index, make([][]batchOffset, int(pid)-len(index)+1)...)
				}
				index[pid] = append(index[pid], batchOffset{
					startTicks: ticks,
					fileOffset: idx,
				})
			}
			perShardIndex[i] = index
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Count the maximum number of Ps we need to account for.
	// This may be more than the number of Ps actually represented
	// in the trace.
	maxP := 0
	for i := range perShardIndex {
		if ps := len(perShardIndex[i]); ps > maxP {
			maxP = ps
		}
	}

	// Flatten the per-shard indices into one per-P index and order
	// each P's batches by start time.
	index := make([][]batchOffset, maxP)
	for i := range perShardIndex {
		for pid := range perShardIndex[i] {
			index[pid] = append(index[pid], perShardIndex[i][pid]...)
		}
	}
	for pid := range index {
		sort.Slice(index[pid], func(i, j int) bool {
			return index[pid][i].startTicks < index[pid][j].startTicks
		})
	}

	p := &Parser{
		src:          r,
		index:        index,
		batches:      make([]batchReader, maxP),
		totalBatches: uint64(r.Len()-headerSize) / batchSize,
	}
	for pid := range index {
		if _, err := p.next(pid); err != nil {
			return nil, fmt.Errorf("initializing parser: %v", err)
		}
	}
	return p, nil
}

var doneEvent = Event{Timestamp: ^uint64(0)}
var streamEnd = errors.New("stream end")

type batchReader struct {
	next     Event
	syncTick uint64
	readBuf  []byte
	batchBuf [batchSize]byte
}

func (b *batchReader) nextEvent() error {
	if len(b.readBuf) == 0 {
		return streamEnd
	}
	b.next = Event{}
	size := 1
	switch evKind := b.readBuf[0]; evKind {
	case evAlloc:
		b.next.Kind = EventAlloc

		// Parse object address for alloc event.
		n, addr, err := parseVarint(b.readBuf[size:])
		if err != nil {
			return fmt.Errorf("parsing address for alloc: %v", err)
		}
		size += n

		// Parse size for alloc event.
		n, allocSize, err := parseVarint(b.readBuf[size:])
		if err != nil {
			return fmt.Errorf("parsing size for alloc: %v", err)
		}
		size += n

		// Parse allocation site PC for alloc event.
		n, pc, err := parseVarint(b.readBuf[size:])
		if err != nil {
			return fmt.Errorf("parsing PC for alloc: %v", err)
		}
		size += n

		// Parse tick delta for alloc event.
		n, tickDelta, err := parseVarint(b.readBuf[size:])
		if err != nil {
			return fmt.Errorf("parsing tick delta for alloc: %v", err)
		}
		size += n

		b.next.Timestamp = b.syncTick + tickDelta
		b.next.Address = addr
		b.next.Size = allocSize
		b.next.PC = pc
	case evFree:
		b.next.Kind = EventFree

		// Parse object address for free event.
		n, addr, err := parseVarint(b.readBuf[size:])
		if err != nil {
			return fmt.Errorf("parsing address for free: %v", err)
		}
		size += n

		// Parse tick delta for free event.
		n, tickDelta, err := parseVarint(b.readBuf[size:])
		if err != nil {
			return fmt.Errorf("parsing tick delta for free: %v", err)
		}
		size += n

		b.next.Timestamp = b.syncTick + tickDelta
		b.next.Address = addr
	case evGCStart:
		b.next.Kind = EventGCStart

		n, tickDelta, err := parseVarint(b.readBuf[size:])
		if err != nil {
			return fmt.Errorf("parsing GC start event timestamp: %v", err)
		}
		size += n

		b.next.Timestamp = b.syncTick + tickDelta
	case evGCEnd:
		b.next.Kind = EventGCEnd

		n, tickDelta, err := parseVarint(b.readBuf[size:])
		if err != nil {
			return fmt.Errorf("parsing GC end event timestamp: %v", err)
		}
		size += n

		b.next.Timestamp = b.syncTick + tickDelta
	case evSync:
		n, ticks, err := parseVarint(b.readBuf[size:])
		if err != nil {
			return fmt.Errorf("parsing sync event timestamp: %v", err)
		}
		size += n
		b.syncTick = ticks

		b.readBuf = b.readBuf[size:]
		return b.nextEvent()
	case evBatchEnd:
		return streamEnd
	case evBatchStart:
		return fmt.Errorf("unexpected header found")
	default:
		return fmt.Errorf("unknown event type %d", evKind)
	}
	b.readBuf = b.readBuf[size:]
	return nil
}

func (p *Parser) peek(pid int) uint64 {
	return p.batches[pid].next.Timestamp
}

func (p *Parser) refill(pid int) error {
	// If we're out of batches, just mark
	// this P as done.
	if len(p.index[pid]) == 0 {
		p.batches[pid].next = doneEvent
		return nil
	}
	// Grab the next batch for this P.
	bo := p.index[pid][0]
	p.index[pid] = p.index[pid][1:]

	// Read in the batch.
	br := &p.batches[pid]
	n, err := p.src.ReadAt(br.batchBuf[:], bo.fileOffset)
	if n != len(br.batchBuf) {
		return err
	}

	// Skip the batch start event and its pid; the sync event that
	// follows is parsed as usual and establishes the batch's ticks.
	hdr := 1
	m, _, err := parseVarint(br.batchBuf[hdr:])
	if err != nil {
		return fmt.Errorf("refill: P %d: %v", pid, err)
	}
	br.readBuf = br.batchBuf[hdr+m:]

	// Read the next event.
	if err := br.nextEvent(); err != nil && err != streamEnd {
		return fmt.Errorf("refill: P %d: %v", pid, err)
	}
	return nil
}

func (p *Parser) next(pid int) (Event, error) {
	// Grab the current event first.
	ev := p.batches[pid].next
	ev.P = int32(pid) - 1

	// Get the next event.
	if err := p.batches[pid].nextEvent(); err != nil && err != streamEnd {
		return Event{}, fmt.Errorf("P %d: %v", pid, err)
	} else if err == streamEnd {
		// We've run out of things to parse for this P. Refill.
		if err := p.refill(pid); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}

// Progress returns a float64 value between 0 and 1 indicating the
// approximate progress of parsing through the file.
func (p *Parser) Progress() float64 {
	left := uint64(0)
	for _, perPBatches := range p.index {
		left += uint64(len(perPBatches))
	}
	return float64(p.totalBatches-left) / float64(p.totalBatches)
}

// Next returns the next event in the trace, or an error
// if the parser failed to parse the next event out of the trace.
//
// Returns io.EOF once the trace is exhausted.
func (p *Parser) Next() (Event, error) {
	// Compute which P has the next event.
	minPid := -1
	minTick := ^uint64(0)
	for pid := range p.batches {
		if t := p.peek(pid); t < minTick {
			minTick = t
			minPid = pid
		}
	}

	// If there's no such event, signal that we're done.
	if minPid < 0 {
		return Event{}, io.EOF
	}

	// Return the event, and compute the next.
	return p.next(minPid)
}
