// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package syswide implements system-wide mode (spec §4.F): at most one
// monitor process at a time owns every online CPU's counters
// independent of any thread, producing one sample per CPU per interval.
// Per-thread monitoring on a CPU is dormant while system-wide mode owns
// that CPU — engine.Opts.SyswideActive is how the monitoring engine
// checks this.
package syswide

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/pmctrack/pmctrackd/internal/eventset"
	"github.com/pmctrack/pmctrackd/internal/pmcerr"
	"github.com/pmctrack/pmctrackd/internal/pmu"
	"github.com/pmctrack/pmctrackd/internal/ringbuffer"
)

// state is the system-wide mode's own small state machine: off, running,
// or paused (configuration preserved, production stopped).
type state int

const (
	stateOff state = iota
	stateRunning
	statePaused
)

// Manager owns the single system-wide-mode owner and its per-CPU
// counter programming.
type Manager struct {
	probe       *pmu.Probe
	programmers map[int]eventset.Programmer
	clock       clock.Clock

	mu      sync.Mutex
	st      state
	ownerPID int
	interval time.Duration
	sets     map[int]*eventset.ExperimentSet // by cpu
	buf      *ringbuffer.Buffer

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Manager. Pass the same clock the monitoring engine uses
// so tests can drive both deterministically.
func New(probe *pmu.Probe, programmers map[int]eventset.Programmer, c clock.Clock) *Manager {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Manager{probe: probe, programmers: programmers, clock: c}
}

// Active reports whether system-wide mode currently owns cpu. The
// monitoring engine calls this via engine.Opts.SyswideActive.
func (m *Manager) Active(cpu int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st == stateRunning
}

// Enable installs configs (one raw config per core type, applied to
// every CPU of that type) on every online CPU and starts production at
// the given interval (spec §4.F "Enable installs counters on every
// online CPU, starts a per-CPU timer ..."). Only one owner may be
// active at a time.
func (m *Manager) Enable(ownerPID int, interval time.Duration, configs map[int]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st != stateOff {
		return pmcerr.New(pmcerr.StateConflict, "syswide.Enable",
			fmt.Errorf("system-wide mode already owned by pid %d", m.ownerPID))
	}

	sets := map[int]*eventset.ExperimentSet{}
	for _, cpu := range m.onlineCPUs() {
		ct, ok := m.probe.CoreTypeOf(cpu)
		if !ok {
			return pmcerr.New(pmcerr.CapabilityUnsupported, "syswide.Enable",
				fmt.Errorf("cpu %d has no known core type", cpu))
		}
		raw, ok := configs[ct]
		if !ok {
			continue
		}
		desc, _ := m.probe.Descriptor(ct)
		widthMask := uint64(0)
		if desc != nil {
			widthMask = desc.WidthMask
		}
		cfg, err := eventset.Parse(raw)
		if err != nil {
			return err
		}
		exp, err := eventset.Setup(cfg, widthMask)
		if err != nil {
			return err
		}
		set := eventset.NewExperimentSet([]*eventset.Experiment{exp})
		prog, progOK := m.programmers[ct]
		if progOK {
			if err := eventset.Restart(prog, exp); err != nil {
				return pmcerr.New(pmcerr.IoFailure, "syswide.Enable", err)
			}
		}
		sets[cpu] = set
	}

	m.ownerPID = ownerPID
	m.interval = interval
	m.sets = sets
	m.buf = ringbuffer.New(len(sets) * 64)
	m.st = stateRunning

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx)
	return nil
}

// Disable stops production, reprograms nothing else, and relinquishes
// ownership. Only the owner may disable.
func (m *Manager) Disable(callerPID int) error {
	m.mu.Lock()
	if m.st == stateOff {
		m.mu.Unlock()
		return nil
	}
	if m.ownerPID != callerPID {
		m.mu.Unlock()
		return pmcerr.New(pmcerr.StateConflict, "syswide.Disable", fmt.Errorf("pid %d does not own system-wide mode", callerPID))
	}
	cancel := m.cancel
	done := m.done
	m.st = stateOff
	m.ownerPID = 0
	m.sets = nil
	m.buf = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Pause stops production but preserves configuration (spec §4.F).
func (m *Manager) Pause(callerPID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ownerPID != callerPID || m.st != stateRunning {
		return pmcerr.New(pmcerr.StateConflict, "syswide.Pause", fmt.Errorf("pid %d cannot pause: not the running owner", callerPID))
	}
	m.st = statePaused
	return nil
}

// Resume continues production after Pause.
func (m *Manager) Resume(callerPID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ownerPID != callerPID || m.st != statePaused {
		return pmcerr.New(pmcerr.StateConflict, "syswide.Resume", fmt.Errorf("pid %d cannot resume: not the paused owner", callerPID))
	}
	m.st = stateRunning
	return nil
}

// Buffer returns the ring buffer system-wide samples are pushed into,
// or nil if system-wide mode is off.
func (m *Manager) Buffer() *ringbuffer.Buffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf
}

func (m *Manager) onlineCPUs() []int {
	return m.probe.CPUs()
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	m.mu.Lock()
	if m.st != stateRunning {
		m.mu.Unlock()
		return
	}
	sets := m.sets
	buf := m.buf
	m.mu.Unlock()

	for cpu, set := range sets {
		exp := set.Current()
		prog, ok := m.programmers[exp.CoreType]
		if !ok {
			continue
		}
		s := ringbuffer.Sample{Kind: ringbuffer.Tick, CoreType: exp.CoreType, ThreadID: -cpu - 1}
		s.ExperimentIdx = exp.Index
		s.UsedMask = exp.UsedMask
		s.CounterCount = len(exp.Events)
		for i, ev := range exp.Events {
			if i >= len(s.CounterValues) {
				break
			}
			v, _ := prog.Read(ev)
			s.CounterValues[i] = v
		}
		if buf != nil {
			buf.Push(s)
		}
	}
}
