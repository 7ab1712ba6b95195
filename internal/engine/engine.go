// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"
	"sync"

	"github.com/pmctrack/pmctrackd/internal/eventset"
	"github.com/pmctrack/pmctrackd/internal/pmcerr"
	"github.com/pmctrack/pmctrackd/internal/pmu"
	"github.com/pmctrack/pmctrackd/internal/ringbuffer"
)

// Engine owns every monitored thread's state and drives it against the
// counter-set model and the PMU probe (spec §4.D). It is the core the
// monitor-process bridge (§4.E), system-wide mode (§4.F), and the
// module manager (§4.G) all call into.
type Engine struct {
	opts  Opts
	probe *pmu.Probe

	// programmers is keyed by core type; each core type's hardware is
	// driven through its own Programmer instance (possibly a software
	// counter bank on unsupported architectures — spec §1 keeps vendor
	// register encoding out of scope).
	programmers map[int]eventset.Programmer

	mu      sync.RWMutex
	threads map[int]*ThreadState
}

// New builds an Engine bound to probe and a Programmer per core type.
func New(probe *pmu.Probe, programmers map[int]eventset.Programmer, optFns ...OptionFn) *Engine {
	opts := DefaultOpts()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		opts:        opts,
		probe:       probe,
		programmers: programmers,
		threads:     map[int]*ThreadState{},
	}
}

// Fork creates monitoring state for a new thread (spec §3 lifecycle:
// "created on fork ... or a reference to the parent's ring buffer is
// taken" for thread creation within an already-monitored process).
func (e *Engine) Fork(tid int, parentTid int, buf *ringbuffer.Buffer) *ThreadState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if parent, ok := e.threads[parentTid]; ok && buf == nil {
		buf = parent.Buffer
		if buf != nil {
			buf.Retain()
		}
	}

	ts := &ThreadState{
		ThreadID:     tid,
		Sets:         map[int]*eventset.ExperimentSet{},
		LastCoreType: -1,
		Buffer:       buf,
	}
	e.threads[tid] = ts
	return ts
}

// Thread returns a thread's monitoring state, or nil if it is not monitored.
func (e *Engine) Thread(tid int) *ThreadState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threads[tid]
}

// Probe returns the PMU probe this engine was built against.
func (e *Engine) Probe() *pmu.Probe {
	return e.probe
}

// Exit tears down a thread's monitoring state (spec §3 lifecycle:
// "destroyed on task teardown"), releasing its ring buffer reference and
// pushing a final exit sample if one is owed.
func (e *Engine) Exit(tid int) {
	e.mu.Lock()
	ts, ok := e.threads[tid]
	if ok {
		delete(e.threads, tid)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	ts.Exiting = true
	if ts.Mode != ModeNone {
		if buf := ts.Buffer; buf != nil {
			s := e.readSample(ts, ringbuffer.Exit)
			buf.Push(s)
		}
	}
	if ts.Buffer != nil {
		ts.Buffer.Release()
	}
}

// OnTick runs the scheduler/timer tick hook (spec §4.D "On tick"). For
// TBS-sched mode this is called once per scheduler tick and only
// samples every NTicks calls; for TBS-user it is called once per wall
// clock jiffy and samples when the deadline has elapsed. EBS threads
// ignore ticks entirely — their samples come from OnOverflow.
func (e *Engine) OnTick(cpu int, tid int) error {
	if e.opts.SyswideActive(cpu) {
		return nil
	}
	ts := e.Thread(tid)
	if ts == nil || ts.Mode == ModeNone || ts.Mode == ModeEBS {
		return nil
	}

	switch ts.Mode {
	case ModeTBSSched:
		ts.TicksSinceSample++
		if ts.TicksSinceSample < ts.NTicks {
			return nil
		}
		ts.TicksSinceSample = 0
	case ModeTBSUser:
		now := e.opts.Clock.Now().UnixNano()
		if now < ts.NextDeadlineNanos {
			return nil
		}
		ts.NextDeadlineNanos = now + ts.TimeoutNanos
	}

	return e.produceTickSample(ts)
}

// produceTickSample reads counters for the thread's current experiment,
// pushes a tick sample, and rotates the multiplexing cursor if the
// thread's current set cycles more than one experiment (spec §4.D
// "Multiplexing scaling").
func (e *Engine) produceTickSample(ts *ThreadState) error {
	set := ts.CurrentSet()
	if set == nil {
		return pmcerr.New(pmcerr.StateConflict, "engine.OnTick",
			fmt.Errorf("thread %d has no experiment set for core type %d", ts.ThreadID, ts.LastCoreType))
	}
	exp := set.Current()
	prog, ok := e.programmers[ts.LastCoreType]
	if !ok {
		return pmcerr.New(pmcerr.CapabilityUnsupported, "engine.OnTick",
			fmt.Errorf("no programmer registered for core type %d", ts.LastCoreType))
	}

	s := e.readSample(ts, ringbuffer.Tick)
	if ts.Buffer != nil {
		ts.Buffer.Push(s)
	}

	if err := eventset.Restart(prog, exp); err != nil {
		return pmcerr.New(pmcerr.IoFailure, "engine.OnTick", err)
	}

	if set.IsMultiplexed() {
		set.Advance()
	}
	return nil
}

// readSample reads the thread's current experiment's raw counters and
// assembles a ringbuffer.Sample. Values for non-EBS counters are
// corrected for overflow (spec §4.D: real = sampled +
// overflows*(width_mask+1)).
func (e *Engine) readSample(ts *ThreadState, kind ringbuffer.SampleKind) ringbuffer.Sample {
	s := ringbuffer.Sample{
		Kind:        kind,
		CoreType:    ts.LastCoreType,
		ThreadID:    ts.ThreadID,
		VirtualMask: ts.VirtualMask,
	}

	set := ts.CurrentSet()
	if set == nil {
		e.opts.OnNewSample(&s)
		return s
	}
	exp := set.Current()
	if exp == nil {
		e.opts.OnNewSample(&s)
		return s
	}

	desc, _ := e.probe.Descriptor(ts.LastCoreType)
	widthMask := uint64(0)
	if desc != nil {
		widthMask = desc.WidthMask
	}

	prog := e.programmers[ts.LastCoreType]
	s.ExperimentIdx = exp.Index
	s.UsedMask = exp.UsedMask
	s.CounterCount = len(exp.Events)
	for i, ev := range exp.Events {
		if i >= len(s.CounterValues) {
			break
		}
		var raw uint64
		if prog != nil {
			raw, _ = prog.Read(ev)
		}
		raw += exp.OverflowCount[i] * (widthMask + 1)
		if i < len(ts.Accumulated) {
			raw += ts.Accumulated[i]
		}
		s.CounterValues[i] = raw
	}
	// The accumulated carry-over from prior context switches is now
	// folded into s; the next switch-out starts accruing a fresh delta.
	for i := range ts.Accumulated {
		ts.Accumulated[i] = 0
	}

	e.opts.OnNewSample(&s)
	return s
}

// OnCtxSwitchOut runs the context-switch-out hook (spec §4.D). In
// TBS-sched mode counters are accumulated and stopped; TBS-user runs the
// tick path (emitting a sample if the window has closed) and then
// accumulates and stops; EBS accumulates and stops the same way as
// TBS-sched. defaultBuf is not used: the engine keeps no per-CPU buffer
// pointer to park.
func (e *Engine) OnCtxSwitchOut(cpu int, tid int, defaultBuf *ringbuffer.Buffer) error {
	if e.opts.SyswideActive(cpu) {
		return nil
	}
	ts := e.Thread(tid)
	if ts == nil || ts.Mode == ModeNone {
		return nil
	}

	prog, ok := e.programmers[ts.LastCoreType]
	set := ts.CurrentSet()

	switch ts.Mode {
	case ModeTBSSched:
		if ok && set != nil {
			e.accumulate(ts, set.Current())
			if err := eventset.Stop(prog, set.Current()); err != nil {
				return pmcerr.New(pmcerr.IoFailure, "engine.OnCtxSwitchOut", err)
			}
		}
	case ModeTBSUser:
		now := e.opts.Clock.Now().UnixNano()
		if now >= ts.NextDeadlineNanos {
			if err := e.produceTickSample(ts); err != nil {
				return err
			}
		}
		if ok && set != nil {
			e.accumulate(ts, set.Current())
			if err := eventset.Stop(prog, set.Current()); err != nil {
				return pmcerr.New(pmcerr.IoFailure, "engine.OnCtxSwitchOut", err)
			}
		}
	case ModeEBS:
		if ok && set != nil {
			e.accumulate(ts, set.Current())
			if err := eventset.Stop(prog, set.Current()); err != nil {
				return pmcerr.New(pmcerr.IoFailure, "engine.OnCtxSwitchOut", err)
			}
		}
	}
	return nil
}

// accumulate folds exp's current raw hardware counts (overflow-corrected)
// into ts.Accumulated, preserving them across the register-clearing
// eventset.Restart the next context-switch-in issues. Without this, a
// thread's counts would appear to reset to zero on every switch back in,
// violating the monotonic non-decreasing invariant for any non-pinned
// thread (spec §8).
func (e *Engine) accumulate(ts *ThreadState, exp *eventset.Experiment) {
	if exp == nil {
		return
	}
	prog := e.programmers[ts.LastCoreType]
	if prog == nil {
		return
	}
	desc, _ := e.probe.Descriptor(ts.LastCoreType)
	widthMask := uint64(0)
	if desc != nil {
		widthMask = desc.WidthMask
	}
	if len(ts.Accumulated) < len(exp.Events) {
		grown := make([]uint64, len(exp.Events))
		copy(grown, ts.Accumulated)
		ts.Accumulated = grown
	}
	for i, ev := range exp.Events {
		raw, _ := prog.Read(ev)
		raw += exp.OverflowCount[i] * (widthMask + 1)
		ts.Accumulated[i] += raw
	}
}

// OnCtxSwitchIn runs the context-switch-in hook (spec §4.D). A migration
// across core types forces a migration sample, rewinds the thread's
// cursor for the new core type, and reprograms hardware; on the same core
// type hardware is reprogrammed as well. In every mode, EBS included,
// eventset.Restart reloads each counter with its reset value, not with
// the value it held at switch-out: counts from before the switch-out
// survive only in ThreadState.Accumulated, and an EBS window starts over
// on each switch-in.
func (e *Engine) OnCtxSwitchIn(cpu int, tid int) error {
	if e.opts.SyswideActive(cpu) {
		return nil
	}
	ts := e.Thread(tid)
	if ts == nil || ts.Mode == ModeNone {
		return nil
	}

	coreType, ok := e.probe.CoreTypeOf(cpu)
	if !ok {
		return pmcerr.New(pmcerr.CapabilityUnsupported, "engine.OnCtxSwitchIn",
			fmt.Errorf("cpu %d has no known core type", cpu))
	}

	migrated := ts.LastCoreType != -1 && ts.LastCoreType != coreType
	if migrated {
		s := e.readSample(ts, ringbuffer.Migration)
		if ts.Buffer != nil {
			ts.Buffer.Push(s)
		}
		ts.LastCoreType = coreType
		ts.LastCPU = cpu
		if set := ts.CurrentSet(); set != nil {
			set.Rewind()
		}
	} else {
		ts.LastCoreType = coreType
		ts.LastCPU = cpu
	}

	set := ts.CurrentSet()
	prog, progOK := e.programmers[coreType]
	if set == nil || !progOK {
		return nil
	}
	if err := eventset.Restart(prog, set.Current()); err != nil {
		return pmcerr.New(pmcerr.IoFailure, "engine.OnCtxSwitchIn", err)
	}
	return nil
}

// OverflowEvent is the ISR-reported bitmask of physical counters that
// overflowed on a CPU, handed to OnOverflow.
type OverflowEvent struct {
	CPU            int
	OverflowedMask uint32
}

// OnOverflow runs the overflow-interrupt entry point (spec §4.D
// "Overflow handling"). It must not block or allocate: it only touches
// already-allocated ThreadState fields and pushes into an
// already-allocated ring buffer slot. Non-EBS counters that overflowed
// have their per-event overflow counter incremented (recovered on the
// next TBS read); if the EBS-armed counter itself overflowed, a sample
// is synthesized and pushed, and the experiment is restarted with the
// reset value re-armed.
func (e *Engine) OnOverflow(ev OverflowEvent, tid int) error {
	ts := e.Thread(tid)
	if ts == nil || ts.Mode != ModeEBS {
		return nil
	}
	set := ts.CurrentSet()
	if set == nil {
		return nil
	}
	exp := set.Current()
	prog, ok := e.programmers[ts.LastCoreType]
	if !ok {
		return pmcerr.New(pmcerr.CapabilityUnsupported, "engine.OnOverflow",
			fmt.Errorf("no programmer for core type %d", ts.LastCoreType))
	}

	ebsOverflowed := false
	for i, llEvent := range exp.Events {
		bit := uint32(1) << uint(llEvent.CounterIndex)
		if llEvent.Kind == eventset.FixedFunction {
			bit = uint32(1) << uint(16+llEvent.FixedIndex)
		}
		if ev.OverflowedMask&bit == 0 {
			continue
		}
		if i == exp.EBSIndex {
			ebsOverflowed = true
			continue
		}
		exp.OverflowCount[i]++
	}

	if !ebsOverflowed {
		return nil
	}

	s := e.readSample(ts, ringbuffer.EBS)
	// The hardware counter held the reset value at the instant of
	// overflow, not zero; add it back so the sample reflects the true
	// window count.
	if exp.EBSIndex >= 0 && exp.EBSIndex < len(s.CounterValues) {
		s.CounterValues[exp.EBSIndex] += exp.Events[exp.EBSIndex].ResetValue
	}
	if ts.Buffer != nil {
		ts.Buffer.Push(s)
	}

	if err := eventset.Restart(prog, exp); err != nil {
		return pmcerr.New(pmcerr.IoFailure, "engine.OnOverflow", err)
	}
	return nil
}
