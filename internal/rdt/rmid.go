// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package rdt implements the resource-QoS core (spec §4.I): the RMID
// pool for cache-occupancy/MBM monitoring and the CAT CLOS pool for
// cache-capacity-bitmask programming.
package rdt

import (
	"math/rand"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// AllocPolicy selects how the RMID free list is dequeued.
type AllocPolicy int

const (
	FIFO AllocPolicy = iota
	LIFO
	RANDOM
)

// rmidNode is one pool entry (spec §3 "RMID pool").
type rmidNode struct {
	id       int
	refcount int
	free     bool

	lastRaw    uint64
	scannedBW  uint64 // cumulative scaled bandwidth for this LLC
}

// RMIDPool manages RMID 1..count-1 (RMID 0 is reserved for the OS).
type RMIDPool struct {
	mu sync.Mutex

	nodes      []*rmidNode
	freeList   []int // indices into nodes, order depends on policy
	assigned   sets.Set[int]
	policy     AllocPolicy

	widthMask        uint64
	upscalingFactor  uint64
}

// NewRMIDPool builds a pool of count-1 usable RMIDs (1..count-1), seeded
// with a pseudo-random rotation of the free list (spec §4.I "seed the
// free list with a pseudo-random rotation").
func NewRMIDPool(count int, widthMask, upscalingFactor uint64, policy AllocPolicy, seed int64) (*RMIDPool, error) {
	if count < 2 {
		return nil, pmcerr.New(pmcerr.CapabilityUnsupported, "rdt.NewRMIDPool", errRMIDCountTooSmall(count))
	}

	p := &RMIDPool{
		policy:          policy,
		widthMask:       widthMask,
		upscalingFactor: upscalingFactor,
		assigned:        sets.New[int](),
	}
	p.nodes = make([]*rmidNode, count)
	p.nodes[0] = &rmidNode{id: 0, refcount: 1, free: false} // OS-reserved, never on the free list
	for id := 1; id < count; id++ {
		p.nodes[id] = &rmidNode{id: id, free: true}
		p.freeList = append(p.freeList, id)
	}

	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(p.freeList), func(i, j int) {
		p.freeList[i], p.freeList[j] = p.freeList[j], p.freeList[i]
	})

	return p, nil
}

// GetRMID dequeues a free node by policy, increments its refcount,
// records an initial bandwidth snapshot, and marks it assigned.
func (p *RMIDPool) GetRMID() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeList) == 0 {
		return 0, pmcerr.New(pmcerr.OutOfResource, "rdt.GetRMID", errNoFreeRMID())
	}

	var id int
	switch p.policy {
	case LIFO:
		id = p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
	case RANDOM:
		i := rand.Intn(len(p.freeList))
		id = p.freeList[i]
		p.freeList = append(p.freeList[:i], p.freeList[i+1:]...)
	default: // FIFO
		id = p.freeList[0]
		p.freeList = p.freeList[1:]
	}

	n := p.nodes[id]
	n.free = false
	n.refcount = 1
	n.lastRaw = 0
	n.scannedBW = 0
	p.assigned.Insert(id)
	return id, nil
}

// UseRMID is a non-allocating refcount increment for a thread sharing
// an already-assigned RMID (spec: "threads of the same application
// share an RMID").
func (p *RMIDPool) UseRMID(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.lookup(id)
	if err != nil {
		return err
	}
	if n.free {
		return pmcerr.New(pmcerr.StateConflict, "rdt.UseRMID", errRMIDNotAssigned(id))
	}
	n.refcount++
	return nil
}

// PutRMID decrements the refcount; at zero, the node is re-enqueued to
// the free list per the pool's policy ordering.
func (p *RMIDPool) PutRMID(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.lookup(id)
	if err != nil {
		return err
	}
	if n.free {
		return pmcerr.New(pmcerr.StateConflict, "rdt.PutRMID", errRMIDNotAssigned(id))
	}
	n.refcount--
	if n.refcount <= 0 {
		n.free = true
		p.assigned.Delete(id)
		p.freeList = append(p.freeList, id)
	}
	return nil
}

func (p *RMIDPool) lookup(id int) (*rmidNode, error) {
	if id <= 0 || id >= len(p.nodes) {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "rdt.lookup", errRMIDOutOfRange(id))
	}
	return p.nodes[id], nil
}

// Refcount returns the current refcount of id, for invariant tests (spec
// §8 property 3).
func (p *RMIDPool) Refcount(id int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.lookup(id)
	if err != nil {
		return 0, false
	}
	return n.refcount, !n.free
}

// IsFree reports whether id is currently on the free list.
func (p *RMIDPool) IsFree(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.lookup(id)
	if err != nil {
		return false
	}
	return n.free
}

// AssignedSnapshot returns a point-in-time copy of every assigned RMID,
// for system-wide MBM enumeration (spec §3 "assigned-list snapshot").
func (p *RMIDPool) AssignedSnapshot() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assigned.UnsortedList()
}

// Total reports how many usable (non-reserved) RMIDs the pool manages.
func (p *RMIDPool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes) - 1
}

// PollMBM computes the scaled bandwidth delta for one hardware read of
// id's counter (spec §4.I "MBM scaling"): raw wraps at widthMask, delta
// handles wraparound, and the result is scaled by upscalingFactor.
func (p *RMIDPool) PollMBM(id int, hwCounter uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.lookup(id)
	if err != nil {
		return 0, err
	}

	raw := hwCounter & p.widthMask
	var delta uint64
	if raw >= n.lastRaw {
		delta = raw - n.lastRaw
	} else {
		delta = p.widthMask - n.lastRaw + raw + 1
	}
	n.lastRaw = raw
	scaled := delta * p.upscalingFactor
	n.scannedBW += scaled
	return scaled, nil
}
