// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the reference IPC-sampling monitoring module
// (spec §4.H): it reserves the first two general-purpose counters for
// retired-instructions and cycles, and computes a single virtual
// counter (instructions per cycle, fixed-point scaled by 1000) from
// each sample's raw values — a per-thread delta-accounting style (keyed by thread id only)
// grounded on the teacher's PerCPUCounter bookkeeping.
package ipc

import (
	"sync"

	"github.com/pmctrack/pmctrackd/internal/modmgr"
	"github.com/pmctrack/pmctrackd/internal/ringbuffer"
)

const (
	instructionsLogicalCounter = 0
	cyclesLogicalCounter       = 1
	ipcScale                   = 1000
)

type counterKey struct {
	cpu int
	tid int
}

type delta struct {
	lastInstructions uint64
	lastCycles       uint64
}

// New returns the IPC module. It tracks per-thread last-seen
// instructions/cycles so a restarted experiment (after every tick)
// still reports a meaningful delta across reads.
func New() *modmgr.Module {
	mu := sync.Mutex{}
	last := map[counterKey]*delta{}

	onNewSample := func(s *ringbuffer.Sample) []uint64 {
		if s.CounterCount <= cyclesLogicalCounter {
			return nil
		}
		key := counterKey{tid: s.ThreadID}

		mu.Lock()
		d, ok := last[key]
		if !ok {
			d = &delta{}
			last[key] = d
		}
		instr := s.CounterValues[instructionsLogicalCounter]
		cycles := s.CounterValues[cyclesLogicalCounter]
		dInstr := saturatingDelta(instr, d.lastInstructions)
		dCycles := saturatingDelta(cycles, d.lastCycles)
		d.lastInstructions = instr
		d.lastCycles = cycles
		mu.Unlock()

		if dCycles == 0 {
			return []uint64{0}
		}
		return []uint64{dInstr * ipcScale / dCycles}
	}

	return &modmgr.Module{
		Name: "ipc",
		Usage: func() modmgr.CounterUsage {
			return modmgr.CounterUsage{
				PhysicalMask:   0x3,
				VirtualCount:   1,
				VirtualNames:   []string{"ipc_x1000"},
				NumExperiments: 1,
			}
		},
		Enable:      func() error { return nil },
		Disable:     func() error { return nil },
		OnNewSample: onNewSample,
		OnExit: func(tid int) {
			mu.Lock()
			delete(last, counterKey{tid: tid})
			mu.Unlock()
		},
	}
}

// saturatingDelta returns cur-prev, treating a non-monotonic reading
// (hardware counter restarted between samples) as a fresh delta of cur
// itself rather than underflowing.
func saturatingDelta(cur, prev uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}
