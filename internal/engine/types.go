// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine implements the monitoring engine (spec §4.D): the
// per-thread sampling state machine, context-switch hooks, tick hook,
// and overflow-interrupt entry point that drive the counter-set model
// against the sample ring buffer.
package engine

import (
	"github.com/pmctrack/pmctrackd/internal/eventset"
	"github.com/pmctrack/pmctrackd/internal/ringbuffer"
)

// Mode is a thread's sampling mode (spec §3 "Per-thread monitoring state").
type Mode int

const (
	ModeNone Mode = iota
	ModeTBSSched
	ModeTBSUser
	ModeEBS
)

func (m Mode) String() string {
	switch m {
	case ModeTBSSched:
		return "tbs-sched"
	case ModeTBSUser:
		return "tbs-user"
	case ModeEBS:
		return "ebs"
	default:
		return "none"
	}
}

// ThreadState is the per-thread monitoring record (spec §3). One exists
// per monitored thread; it is mutated from context-switch, tick, or
// overflow callbacks running in the context of the CPU that owns the
// thread at that instant. The Engine's lock guards only its thread map;
// no lock guards the fields of a ThreadState.
type ThreadState struct {
	ThreadID int

	Mode Mode

	// Sets holds one ExperimentSet per core type the thread may run on;
	// CurrentSet returns whichever set matches the thread's last-known
	// core type.
	Sets map[int]*eventset.ExperimentSet

	// Accumulated holds counts per logical counter since the last
	// sample was produced (tracks overflow-corrected deltas between
	// reads in TBS modes).
	Accumulated []uint64

	LastCPU      int
	LastCoreType int
	TicksSinceSample int
	NTicks           int // sampling period in scheduler ticks (TBS-sched)
	TimeoutNanos     int64 // sampling period in wall time (TBS-user)
	NextDeadlineNanos int64

	VirtualMask uint32

	Buffer *ringbuffer.Buffer

	// ModulePrivate is an opaque per-thread pointer owned by the active
	// monitoring module, tagged with the security token of whichever
	// module allocated it (spec §4.G).
	ModulePrivate   interface{}
	ModuleToken     int

	Exiting bool
}

// CurrentSet returns the experiment set matching the thread's last-known
// core type, or nil if none is configured for it.
func (t *ThreadState) CurrentSet() *eventset.ExperimentSet {
	return t.Sets[t.LastCoreType]
}
