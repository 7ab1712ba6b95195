// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package partition

import (
	"math/rand"
	"sync"

	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// PartitionSet owns the pool of cache partitions and their fair-share
// rebalancing on insert/remove (spec §4.J "Partition-set operations"),
// grounded on the original `cache_part_set.c`'s
// do_insert_partition/deallocate_partition pair.
type PartitionSet struct {
	mu sync.Mutex

	totalWays int
	writer    CapacityWriter

	assigned []*Partition // ordered by PartID, position 0..n-1
	free     []int        // free CLOS ids, stack-ordered (head = most recently freed)

	defaultClos int // -1 until an unpartitioned default exists

	// deferred accumulates apps Move has relocated but whose CLOS/RMID
	// hardware state a caller has not yet reprogrammed (spec §4.J
	// "deferred CLOS assignment"). Drained by DrainDeferred.
	deferred []*App
}

// NewPartitionSet builds a pool of nrCLOS-1 usable partitions (CLOS 0 is
// reserved for the OS) over totalWays ways of cache capacity.
func NewPartitionSet(nrCLOS, totalWays int, writer CapacityWriter) (*PartitionSet, error) {
	if nrCLOS < 2 {
		return nil, pmcerr.New(pmcerr.CapabilityUnsupported, "partition.NewPartitionSet", errTooFewCLOS(nrCLOS))
	}
	ps := &PartitionSet{
		totalWays:   totalWays,
		writer:      writer,
		defaultClos: -1,
	}
	for clos := 1; clos < nrCLOS; clos++ {
		ps.free = append(ps.free, clos)
	}
	return ps, nil
}

// NrAssigned returns how many partitions are currently assigned.
func (ps *PartitionSet) NrAssigned() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.assigned)
}

// Partitions returns a snapshot of the assigned partitions in order
// (spec §5 "traversals copy out short snapshots rather than hold the lock").
func (ps *PartitionSet) Partitions() []Partition {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]Partition, len(ps.assigned))
	for i, p := range ps.assigned {
		out[i] = *p
	}
	return out
}

func (ps *PartitionSet) program(p *Partition) {
	if ps.writer == nil {
		return
	}
	// Capacity-bitmask registers are per-CLOS, not per-core; cpu 0 here
	// stands in for whatever broadcast/IPI-fanout mechanism the caller's
	// CapacityWriter implements.
	_ = ps.writer.Program(0, p.ClosID, p.Mask())
}

// Allocate adds a new partition (spec §4.J "allocate(nr_ways, hint)").
// It takes no way count or hint: with at least two existing partitions
// the insertion gap comes from suitablePlaceForInsertion (which is never
// called below two partitions), otherwise the new partition is inserted
// at position 0.
func (ps *PartitionSet) Allocate() (*Partition, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.allocateLocked()
}

// allocateLocked is Allocate's body, callable from methods that already
// hold ps.mu (e.g. AssignApp).
func (ps *PartitionSet) allocateLocked() (*Partition, error) {
	if len(ps.free) == 0 {
		return nil, pmcerr.New(pmcerr.OutOfResource, "partition.Allocate", errNoFreePartition())
	}

	nrOld := len(ps.assigned)
	gapID := 0
	if nrOld >= 2 {
		gapID = ps.suitablePlaceForInsertion(nrOld)
	}

	closID := ps.free[0]
	ps.free = ps.free[1:]
	p := &Partition{ClosID: closID}
	ps.doInsertPartition(p, nrOld, gapID)

	if ps.defaultClos == -1 {
		ps.defaultClos = p.ClosID
	}
	return p, nil
}

// suitablePlaceForInsertion picks an interior gap (1..nrOld-1) whose
// endpoints are most imbalanced relative to the fair share, tie-breaking
// with a pseudo-random pick when ways divide evenly (spec §4.J;
// `suitable_place_for_insertion` in the original).
func (ps *PartitionSet) suitablePlaceForInsertion(nrOld int) int {
	nrTarget := nrOld + 1
	fair := ps.totalWays / nrTarget
	remaining := ps.totalWays % nrTarget

	if remaining == 0 {
		return 1 + rand.Intn(nrOld-1)
	}

	best := 1
	bestBias := -1
	for i := 1; i < nrOld; i++ {
		bias := ps.assigned[i-1].NrWays + ps.assigned[i].NrWays - 2*fair
		if bias > bestBias {
			bestBias = bias
			best = i
		}
	}
	return best
}

// doInsertPartition sizes and positions newPart among the existing
// assigned list at gapID, redistributing ways fairly (spec §4.J
// "redistribute ways ..."). ascending resolves DESIGN.md Open Question
//2: the original's `gap_id<=(nr_old_partitions>1)` is a truthiness bug
// for an intended `/2`; this implementation uses the intended `/2`.
func (ps *PartitionSet) doInsertPartition(newPart *Partition, nrOld, gapID int) {
	nrTarget := nrOld + 1
	maxGapID := nrOld
	fair := ps.totalWays / nrTarget
	remaining := ps.totalWays % nrTarget

	if nrTarget == 1 {
		newPart.LowWay = 0
		newPart.HighWay = fair - 1
		newPart.NrWays = fair
		newPart.PartID = 0
		ps.assigned = append(ps.assigned, newPart)
		ps.program(newPart)
		return
	}

	ascending := gapID <= nrOld/2

	var extraNeighbor int
	if gapID == 0 || gapID == maxGapID {
		extraNeighbor = 0
	} else {
		giveAway := remaining
		if giveAway > 2 {
			giveAway = 2
		}
		extraNeighbor = giveAway
		remaining -= giveAway
	}

	ps.assigned = insertAt(ps.assigned, gapID, newPart)

	if ascending {
		nextWay := 0
		for i, cur := range ps.assigned {
			low := nextWay
			high := nextWay + fair - 1
			extra := false
			if extraNeighbor > 0 && (i == gapID+1 || i == gapID-1) {
				high++
				extra = true
				extraNeighbor--
			} else if remaining > 0 && i != gapID {
				high++
				extra = true
				remaining--
			}
			cur.LowWay, cur.HighWay, cur.NrWays = low, high, high-low+1
			cur.PartID, cur.HasExtraWay, cur.Bias = i, extra, 0
			ps.program(cur)
			nextWay = high + 1
		}
		return
	}

	nextWay := ps.totalWays - 1
	for i := len(ps.assigned) - 1; i >= 0; i-- {
		cur := ps.assigned[i]
		high := nextWay
		low := nextWay - fair + 1
		extra := false
		if extraNeighbor > 0 && (i == gapID+1 || i == gapID-1) {
			low--
			extra = true
			extraNeighbor--
		} else if remaining > 0 && i != gapID {
			low--
			extra = true
			remaining--
		}
		cur.LowWay, cur.HighWay, cur.NrWays = low, high, high-low+1
		cur.PartID, cur.HasExtraWay, cur.Bias = i, extra, 0
		ps.program(cur)
		nextWay = low - 1
	}
}

// Deallocate removes part, redistributing its ways to the rest of the
// set (spec §4.J "deallocate(part)"; `deallocate_partition` in the
// original).
func (ps *PartitionSet) Deallocate(part *Partition) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.deallocateLocked(part)
}

func (ps *PartitionSet) deallocateLocked(part *Partition) error {
	idx := -1
	for i, p := range ps.assigned {
		if p == part {
			idx = i
			break
		}
	}
	if idx == -1 {
		return pmcerr.New(pmcerr.ConfigRejected, "partition.Deallocate", errPartitionNotAssigned())
	}

	nrOld := len(ps.assigned)
	nrTarget := nrOld - 1

	if ps.defaultClos == part.ClosID {
		ps.defaultClos = -1
	}

	if nrTarget == 0 {
		ps.assigned = nil
		ps.free = append([]int{part.ClosID}, ps.free...)
		return nil
	}

	fair := ps.totalWays / nrTarget
	remaining := ps.totalWays % nrTarget
	center := ps.totalWays / 2
	val := part.NrWays/2 + part.LowWay
	ascending := val <= center

	var extraNeighbor int
	if idx == 0 || idx == nrOld-1 {
		extraNeighbor = 0
	} else {
		giveAway := remaining
		if giveAway > 2 {
			giveAway = 2
		}
		extraNeighbor = giveAway
		remaining -= giveAway
	}

	ps.assigned = removeAt(ps.assigned, idx)

	if ascending {
		nextWay := 0
		for i, cur := range ps.assigned {
			low := nextWay
			high := nextWay + fair - 1
			extra := false
			if extraNeighbor > 0 && (i == idx || i == idx-1) {
				high++
				extra = true
				extraNeighbor--
			} else if remaining > 0 {
				high++
				extra = true
				remaining--
			}
			cur.LowWay, cur.HighWay, cur.NrWays = low, high, high-low+1
			cur.PartID, cur.HasExtraWay, cur.Bias = i, extra, 0
			ps.program(cur)
			nextWay = high + 1
		}
	} else {
		nextWay := ps.totalWays - 1
		for i := len(ps.assigned) - 1; i >= 0; i-- {
			cur := ps.assigned[i]
			high := nextWay
			low := nextWay - fair + 1
			extra := false
			if extraNeighbor > 0 && (i == idx || i == idx-1) {
				low--
				extra = true
				extraNeighbor--
			} else if remaining > 0 {
				low--
				extra = true
				remaining--
			}
			cur.LowWay, cur.HighWay, cur.NrWays = low, high, high-low+1
			cur.PartID, cur.HasExtraWay, cur.Bias = i, extra, 0
			ps.program(cur)
			nextWay = low - 1
		}
	}

	ps.free = append([]int{part.ClosID}, ps.free...)
	return nil
}

// RemoveEmptyPartitions scans the assigned list for zero-app partitions
// and frees them, either with rebalancing (autoResize) or by silent
// removal (spec §4.J "remove_empty_partitions(auto_resize)").
func (ps *PartitionSet) RemoveEmptyPartitions(autoResize bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for {
		var empty *Partition
		for _, p := range ps.assigned {
			if p.AppCount == 0 {
				empty = p
				break
			}
		}
		if empty == nil {
			return
		}
		if autoResize {
			_ = ps.deallocateLocked(empty)
			continue
		}
		for i, p := range ps.assigned {
			if p == empty {
				ps.assigned = removeAt(ps.assigned, i)
				break
			}
		}
		ps.free = append([]int{empty.ClosID}, ps.free...)
	}
}

func insertAt(s []*Partition, idx int, p *Partition) []*Partition {
	s = append(s, nil)
	copy(s[idx+1:], s[idx:])
	s[idx] = p
	return s
}

func removeAt(s []*Partition, idx int) []*Partition {
	return append(s[:idx:idx], s[idx+1:]...)
}
