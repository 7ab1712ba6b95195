// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventset implements the declarative counter-set model (spec
// §4.B): parsing raw PMC configuration strings into experiments, and
// grouping experiments into round-robin multiplexing sets.
package eventset

const (
	// MaxPhysicalCounters bounds the number of low-level events an
	// experiment may hold — the max physical counters of any supported
	// core type. Fixed at build time per spec §3 ("N = max physical
	// counters"); 16 covers every PMU this core targets (x86 GP+fixed,
	// ARM PMUv3).
	MaxPhysicalCounters = 16

	// MaxVirtualCounters bounds the number of module-computed values a
	// sample may carry alongside its raw PMC values.
	MaxVirtualCounters = 8

	// NoEBSEvent marks "no EBS-armed event" in an Experiment.
	NoEBSEvent = -1
)

// EventKind discriminates the two low-level event shapes of spec §3.
type EventKind int

const (
	GeneralPurpose EventKind = iota
	FixedFunction
)

// LowLevelEvent is a tagged variant: a general-purpose event (selector +
// counter index + reset value) or a fixed-function event (fixed-counter
// index + ctrl bitfield + reset value).
type LowLevelEvent struct {
	Kind EventKind

	// General-purpose fields.
	EventSelector uint64
	CounterIndex  int

	// Fixed-function fields.
	FixedIndex int
	CtrlBits   uint64

	// ResetValue is the two's-complement of the desired sample window
	// when EBS is armed for this event, zero otherwise.
	ResetValue uint64

	// UserMode / KernelMode restrict counting to ring levels; both true
	// is the default ("usrN=1,osN=1" or neither token supplied).
	UserMode   bool
	KernelMode bool
}

// Experiment is one concrete event-to-counter assignment (spec §3).
type Experiment struct {
	Events []LowLevelEvent // up to MaxPhysicalCounters

	UsedMask uint32 // bitmask of physical counters in use

	// LogToPhys[i] is the physical counter backing logical counter i;
	// PhysToLog is its inverse (indexed by physical counter number, -1
	// where unused).
	LogToPhys []int
	PhysToLog []int

	EBSIndex int // index into Events of the EBS-armed event, or NoEBSEvent

	Index int // this experiment's position within its ExperimentSet

	// OverflowCount[i] counts overflows of logical counter i since the
	// last restart (spec §4.D overflow accounting).
	OverflowCount []uint64

	CoreType int // -1 if unrestricted

	NeedsSetup bool // true until hardware has been programmed at least once
}

// NewExperiment returns an empty Experiment ready for do_setup semantics.
func NewExperiment(coreType int) *Experiment {
	return &Experiment{
		LogToPhys:  []int{},
		PhysToLog:  make([]int, MaxPhysicalCounters),
		EBSIndex:   NoEBSEvent,
		CoreType:   coreType,
		NeedsSetup: true,
	}
}

// IsEBS reports whether this experiment arms an event-based-sampling counter.
func (e *Experiment) IsEBS() bool { return e.EBSIndex != NoEBSEvent }

// Size returns the number of low-level events held by the experiment.
func (e *Experiment) Size() int { return len(e.Events) }

// ExperimentSet is a restartable cyclic sequence of experiments used for
// multiplexing (spec §3). At most one experiment per core type is
// "current" at any instant — callers key a map of core type to
// *ExperimentSet and advance the one matching the running CPU's core type.
type ExperimentSet struct {
	Experiments []*Experiment
	cursor      int
}

// NewExperimentSet builds a set from already-parsed experiments,
// assigning each its Index.
func NewExperimentSet(experiments []*Experiment) *ExperimentSet {
	for i, e := range experiments {
		e.Index = i
	}
	return &ExperimentSet{Experiments: experiments}
}

// Current returns the experiment the cursor currently points to, or nil
// for an empty set.
func (s *ExperimentSet) Current() *Experiment {
	if len(s.Experiments) == 0 {
		return nil
	}
	return s.Experiments[s.cursor]
}

// Len returns the number of experiments in the set.
func (s *ExperimentSet) Len() int { return len(s.Experiments) }

// Advance rotates the cursor to the next experiment (round-robin) and
// returns it.
func (s *ExperimentSet) Advance() *Experiment {
	if len(s.Experiments) == 0 {
		return nil
	}
	s.cursor = (s.cursor + 1) % len(s.Experiments)
	return s.Current()
}

// Rewind resets the cursor to the first experiment, e.g. after a
// migration to a new core type (spec §4.D).
func (s *ExperimentSet) Rewind() *Experiment {
	s.cursor = 0
	return s.Current()
}

// IsMultiplexed reports whether this set cycles more than one experiment.
func (s *ExperimentSet) IsMultiplexed() bool { return len(s.Experiments) > 1 }
