// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package ringbuffer implements the fixed-capacity sample ring buffer
// (spec §4.C): single-producer (the monitored thread's tick/ctx-switch/
// overflow path), single-consumer (the monitor process reading its
// control-file entry), with blocking-read and reference-counted EOF
// semantics.
package ringbuffer

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// SampleKind discriminates the sample-record variants of spec §3.
type SampleKind int

const (
	Tick SampleKind = iota
	EBS
	Exit
	Migration
	Self
)

// Sample is the fixed-size record pushed into the buffer (spec §3
// "Sample record"). Counter values are copied by the producer, never
// aliased, so the buffer never outlives a slice it doesn't own.
type Sample struct {
	Kind SampleKind

	CoreType      int
	ExperimentIdx int
	UsedMask      uint32
	CounterCount  int
	VirtualMask   uint32
	VirtualCount  int
	ThreadID      int
	CounterValues [16]uint64
	VirtualValues [8]uint64
	ElapsedNanos  int64 // 0 when not applicable
}

// Buffer is the fixed-capacity circular array of Sample records,
// serialized by a spinlock-equivalent mutex with a semaphore used purely
// to wake a blocked reader (spec §3 "Ring buffer"). The zero value is
// not usable; build one with New.
type Buffer struct {
	mu       sync.Mutex
	data     []Sample
	head     int // next write position
	tail     int // next read position
	size     int
	capacity int

	refs    int  // producers attached plus the one reader holding this buffer
	waiting bool // true while a reader is parked in Pop
	closed  bool // true once the last releaser has freed the buffer

	wake *semaphore.Weighted // weight 1; purely a wakeup signal, not an item count
}

// New allocates a ring buffer of the given capacity with an initial
// reference count of one (the caller — normally the attaching monitor).
func New(capacity int) *Buffer {
	return &Buffer{
		data:     make([]Sample, capacity),
		capacity: capacity,
		refs:     1,
		wake:     semaphore.NewWeighted(1),
	}
}

// Retain increments the reference count. Every producer thread attached
// to this buffer, plus the monitor itself, holds one reference.
func (b *Buffer) Retain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs++
}

// Release decrements the reference count, freeing the buffer's backing
// storage when it reaches zero, and waking a blocked reader if the
// count has just dropped to one (the EOF condition). Release never
// blocks and never allocates, so it is safe to call from the sampling
// producer's context (spec §4.D: "shared ring buffers are never freed
// from an ISR" — here "freeing" is just dropping references, no syscall).
func (b *Buffer) Release() {
	b.mu.Lock()
	b.refs--
	closing := b.refs <= 0
	wake := b.waiting && b.refs <= 1
	if wake {
		b.waiting = false
	}
	if closing {
		b.closed = true
		b.data = nil
	}
	b.mu.Unlock()

	if wake {
		b.wake.Release(1)
	}
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refs
}

// Push appends a sample, evicting the oldest record if the buffer is
// full. It never blocks and never allocates, so it is safe to call from
// the monitoring engine's tick/context-switch/overflow path. It returns
// false if the buffer has already been freed.
func (b *Buffer) Push(s Sample) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}

	full := b.size == b.capacity
	b.data[b.head] = s
	b.head = (b.head + 1) % b.capacity
	if full {
		b.tail = (b.tail + 1) % b.capacity
	} else {
		b.size++
	}

	wake := b.waiting
	if wake {
		b.waiting = false
	}
	b.mu.Unlock()

	if wake {
		b.wake.Release(1)
	}
	return true
}

// Pop blocks until a sample is available, the buffer reaches EOF, or
// ctx is done. EOF (ok=false, err=nil) is reported once the reference
// count has dropped to one (only the reader remains) and the buffer is
// empty — spec's "all monitored threads exited" signal.
func (b *Buffer) Pop(ctx context.Context) (Sample, bool, error) {
	for {
		b.mu.Lock()
		if b.size > 0 {
			s := b.data[b.tail]
			b.tail = (b.tail + 1) % b.capacity
			b.size--
			b.mu.Unlock()
			return s, true, nil
		}
		if b.closed || b.refs <= 1 {
			b.mu.Unlock()
			return Sample{}, false, nil
		}
		b.waiting = true
		b.mu.Unlock()

		if err := b.wake.Acquire(ctx, 1); err != nil {
			return Sample{}, false, pmcerr.New(pmcerr.Interrupted, "ringbuffer.Pop", err)
		}
		// Woken by a push or a ref-count transition to EOF; loop back
		// and re-examine state under the lock.
	}
}

// Len reports the number of live records currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity reports the fixed capacity the buffer was created with.
func (b *Buffer) Capacity() int {
	return b.capacity
}
