// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package eventset

// Programmer is the narrow interface the engine uses to push an
// experiment's events onto hardware. Vendor-specific register encoding
// is out of scope (spec §1); the core only depends on this contract.
// The only implementation in this package is SoftwareBank, a software
// counter bank, which cmd/pmctrackd uses for every core type.
type Programmer interface {
	// WriteSelector programs the event-selector (or ctrl, for a
	// fixed-function counter) for a low-level event without starting it.
	WriteSelector(ev LowLevelEvent) error
	// WriteCounter loads a counter register with a value (the reset
	// value when arming EBS, zero otherwise).
	WriteCounter(ev LowLevelEvent, value uint64) error
	// Unmask enables counting for a low-level event.
	Unmask(ev LowLevelEvent) error
	// Inhibit stops counting without clearing the register (x86 "mask
	// bit"; on ARM this disables the counter index instead).
	Inhibit(ev LowLevelEvent) error
	// Read returns the raw hardware value of a low-level event's counter.
	Read(ev LowLevelEvent) (uint64, error)
}

// Restart programs hardware for every event of exp: selector, then
// counter, then unmask (spec §4.B "Start/restart/stop"). It clears the
// per-event overflow counters as part of restarting.
func Restart(p Programmer, exp *Experiment) error {
	for i := range exp.Events {
		ev := &exp.Events[i]
		if err := p.WriteSelector(*ev); err != nil {
			return err
		}
		if err := p.WriteCounter(*ev, ev.ResetValue); err != nil {
			return err
		}
		if err := p.Unmask(*ev); err != nil {
			return err
		}
	}
	for i := range exp.OverflowCount {
		exp.OverflowCount[i] = 0
	}
	exp.NeedsSetup = false
	return nil
}

// Stop writes the inhibit bit for every event of exp without clearing
// registers, so counts read afterward still reflect the session so far.
func Stop(p Programmer, exp *Experiment) error {
	for _, ev := range exp.Events {
		if err := p.Inhibit(ev); err != nil {
			return err
		}
	}
	return nil
}

// Clear resets both selector and counter registers to zero for every
// event of exp.
func Clear(p Programmer, exp *Experiment) error {
	for _, ev := range exp.Events {
		if err := p.WriteSelector(LowLevelEvent{Kind: ev.Kind, CounterIndex: ev.CounterIndex, FixedIndex: ev.FixedIndex}); err != nil {
			return err
		}
		if err := p.WriteCounter(ev, 0); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll reads every event's raw hardware counter into a caller-owned
// slice indexed by logical counter number.
func ReadAll(p Programmer, exp *Experiment, out []uint64) error {
	for i, ev := range exp.Events {
		v, err := p.Read(ev)
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}
