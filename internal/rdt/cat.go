// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package rdt

import (
	"sync"

	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// CLOSWriter programs one CLOS's capacity bitmask on one CPU. Real
// implementations issue an inter-processor call; CATPool.Program retries
// a failed write up to MaxIPIRetries times (spec §4.I "best-effort retry (cap 3)").
type CLOSWriter interface {
	WriteCLOS(cpu, clos int, mask uint64) error
}

// MaxIPIRetries bounds the CLOS-update retry loop (spec §4.I, §5).
const MaxIPIRetries = 3

// CATPool manages CLOS 1..count-1 (CLOS 0 is reserved for the OS and
// never written by the pool; every other CLOS starts at the all-ways
// mask so un-partitioned threads see full cache).
type CATPool struct {
	mu sync.Mutex

	cbmMask  uint64 // all ones of the CBM length
	writer   CLOSWriter
	free     []int
	assigned map[int]bool
}

// NewCATPool builds a pool of count-1 usable CLOSes and programs every
// non-reserved CLOS to the all-ways default on every cpu (spec §4.I
// "CAT").
func NewCATPool(count int, cbmLength int, writer CLOSWriter, cpus []int) (*CATPool, error) {
	if count < 2 {
		return nil, pmcerr.New(pmcerr.CapabilityUnsupported, "rdt.NewCATPool", errCLOSOutOfRange(count))
	}
	cbmMask := uint64(1)<<uint(cbmLength) - 1

	p := &CATPool{
		cbmMask:  cbmMask,
		writer:   writer,
		assigned: map[int]bool{},
	}
	for clos := 1; clos < count; clos++ {
		p.free = append(p.free, clos)
		for _, cpu := range cpus {
			if writer != nil {
				if err := writer.WriteCLOS(cpu, clos, cbmMask); err != nil {
					return nil, pmcerr.New(pmcerr.IoFailure, "rdt.NewCATPool", err)
				}
			}
		}
	}
	return p, nil
}

// Allocate dequeues a free CLOS.
func (p *CATPool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return 0, pmcerr.New(pmcerr.OutOfResource, "rdt.Allocate", errNoFreeCLOS())
	}
	clos := p.free[0]
	p.free = p.free[1:]
	p.assigned[clos] = true
	return clos, nil
}

// Release returns clos to the free list.
func (p *CATPool) Release(clos int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.assigned[clos] {
		return pmcerr.New(pmcerr.StateConflict, "rdt.Release", errCLOSNotAssigned(clos))
	}
	delete(p.assigned, clos)
	p.free = append(p.free, clos)
	return nil
}

// Program writes mask&cbmMask to clos's register on cpu, retrying up to
// MaxIPIRetries times (spec §4.I, §5). After exhausting retries the
// failure is returned as Transient; PartitionSet.program discards it
// without logging.
func (p *CATPool) Program(cpu, clos int, mask uint64) error {
	p.mu.Lock()
	w := p.writer
	effective := mask & p.cbmMask
	p.mu.Unlock()

	if w == nil {
		return nil
	}

	var err error
	for attempt := 0; attempt < MaxIPIRetries; attempt++ {
		if err = w.WriteCLOS(cpu, clos, effective); err == nil {
			return nil
		}
	}
	return pmcerr.New(pmcerr.Transient, "rdt.Program", err)
}

// CBMMask returns the all-ways capacity bitmask.
func (p *CATPool) CBMMask() uint64 {
	return p.cbmMask
}

// FreeCount reports how many CLOSes are currently unassigned.
func (p *CATPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Total reports how many usable (non-reserved) CLOSes the pool manages.
func (p *CATPool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free) + len(p.assigned)
}
