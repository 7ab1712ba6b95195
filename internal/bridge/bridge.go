// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the monitor-process bridge (spec §4.E):
// attach/detach, the enable/monitor/config control surfaces, and the
// per-thread and per-process override bookkeeping those surfaces write
// into. It mounts its entries into an internal/control.Registry.
package bridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pmctrack/pmctrackd/internal/control"
	"github.com/pmctrack/pmctrackd/internal/engine"
	"github.com/pmctrack/pmctrackd/internal/eventset"
	"github.com/pmctrack/pmctrackd/internal/pmcerr"
	"github.com/pmctrack/pmctrackd/internal/pmu"
	"github.com/pmctrack/pmctrackd/internal/ringbuffer"
)

// SyswideController is the subset of internal/syswide.Manager the
// bridge needs to drive "syswide on|off|pause|resume" commands written
// to the enable control entry (spec §6 "enable" write grammar).
type SyswideController interface {
	Enable(ownerPID int, interval time.Duration, configs map[int]string) error
	Disable(callerPID int) error
	Pause(callerPID int) error
	Resume(callerPID int) error
}

// SampleRecordSize is the fixed wire size, in bytes, of one sample
// record (spec §6 "Sample record wire format"). kernel_buffer_size must
// be an exact multiple of it; the original silently rounds down, which
// this core deliberately does not reproduce (see DESIGN.md Open
// Question 1) — a non-multiple value is rejected outright.
const SampleRecordSize = 272

// ProcessOverrides holds the process-global defaults a monitor may set
// via "nticks N" / "kernel_buffer_size N" (spec §6 "config" entry).
type ProcessOverrides struct {
	NTicks           int
	KernelBufferSize int
}

// Bridge owns the attach/detach relationships between monitor processes
// and monitored threads, and mounts the config/enable/monitor control
// entries into reg.
type Bridge struct {
	eng     *engine.Engine
	probe   *pmu.Probe
	sw      SyswideController
	modules ModuleLister
	props   *propertyCursors

	mu        sync.Mutex
	overrides map[int]*ProcessOverrides // by monitored pid
	monitors  map[int]int               // monitored tid -> monitor pid
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

// WithSyswide wires a system-wide mode controller into the bridge so
// "syswide on|off|pause|resume" commands written to the enable entry
// reach it (spec §6). Without this option those commands are rejected.
func WithSyswide(sw SyswideController) Option {
	return func(b *Bridge) { b.sw = sw }
}

// New builds a Bridge bound to eng and mounts its control entries into reg.
func New(eng *engine.Engine, reg *control.Registry, opts ...Option) *Bridge {
	b := &Bridge{
		eng:       eng,
		probe:     eng.Probe(),
		props:     newPropertyCursors(),
		overrides: map[int]*ProcessOverrides{},
		monitors:  map[int]int{},
	}
	for _, opt := range opts {
		opt(b)
	}
	reg.Mount(&control.Entry{Name: "monitor", Read: b.readMonitor, Write: b.writeMonitor})
	reg.Mount(&control.Entry{Name: "config", Read: b.readConfig, Write: b.writeConfig})
	reg.Mount(&control.Entry{Name: "enable", Read: b.readEnable, Write: b.writeEnable})
	reg.Mount(&control.Entry{Name: "properties", Read: b.readProperties, Write: b.writeProperties})
	reg.Mount(&control.Entry{Name: "info", Read: b.readInfo, Write: nil})
	return b
}

func (b *Bridge) overridesFor(pid int) *ProcessOverrides {
	o, ok := b.overrides[pid]
	if !ok {
		o = &ProcessOverrides{}
		b.overrides[pid] = o
	}
	return o
}

// PidMonitor attaches caller as the monitor of target, inheriting only
// target's ring buffer (spec §4.E).
func (b *Bridge) PidMonitor(caller control.Caller, target int) error {
	ts := b.eng.Thread(target)
	if ts == nil {
		return pmcerr.New(pmcerr.StateConflict, "bridge.PidMonitor", fmt.Errorf("no monitored thread %d", target))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if ts.Buffer == nil {
		ts.Buffer = ringbuffer.New(1)
	} else {
		ts.Buffer.Retain()
	}
	b.monitors[target] = caller.PID
	return nil
}

// PidAttach attaches caller to target, additionally inheriting target's
// counter configuration (spec §4.E): the caller's own thread state, if
// any, takes over target's experiment sets.
func (b *Bridge) PidAttach(caller control.Caller, target int) error {
	if err := b.PidMonitor(caller, target); err != nil {
		return err
	}
	targetTS := b.eng.Thread(target)
	callerTS := b.eng.Thread(caller.PID)
	if callerTS != nil && targetTS != nil {
		callerTS.Sets = targetTS.Sets
		callerTS.Mode = targetTS.Mode
	}
	return nil
}

// PidDetach releases caller's monitor relationship with target.
func (b *Bridge) PidDetach(caller control.Caller, target int) error {
	ts := b.eng.Thread(target)
	b.mu.Lock()
	defer b.mu.Unlock()
	if mon, ok := b.monitors[target]; !ok || mon != caller.PID {
		return pmcerr.New(pmcerr.StateConflict, "bridge.PidDetach",
			fmt.Errorf("pid %d is not monitoring %d", caller.PID, target))
	}
	delete(b.monitors, target)
	if ts != nil && ts.Buffer != nil {
		ts.Buffer.Release()
	}
	return nil
}

func (b *Bridge) writeMonitor(caller control.Caller, payload []byte) error {
	fields := strings.Fields(string(payload))
	if len(fields) == 0 {
		return pmcerr.New(pmcerr.ConfigRejected, "bridge.monitor", fmt.Errorf("empty command"))
	}
	switch fields[0] {
	case "pid_monitor", "pid_attach", "pid_detach":
		if len(fields) != 2 {
			return pmcerr.New(pmcerr.ConfigRejected, "bridge.monitor", fmt.Errorf("%s requires a pid", fields[0]))
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			return pmcerr.New(pmcerr.ConfigRejected, "bridge.monitor", fmt.Errorf("invalid pid %q", fields[1]))
		}
		switch fields[0] {
		case "pid_monitor":
			return b.PidMonitor(caller, pid)
		case "pid_attach":
			return b.PidAttach(caller, pid)
		default:
			return b.PidDetach(caller, pid)
		}
	case "ON", "OFF":
		return b.setEnabled(caller.PID, fields[0] == "ON")
	case "syswide":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return pmcerr.New(pmcerr.ConfigRejected, "bridge.monitor", fmt.Errorf("syswide requires on or off"))
		}
		return b.syswideCommand(caller, fields[1])
	default:
		return pmcerr.New(pmcerr.ConfigRejected, "bridge.monitor", fmt.Errorf("unrecognized command %q", fields[0]))
	}
}

// readMonitor pops the next sample queued for caller's attached thread
// and renders it as a line of text. A real procfs binary stream is out
// of reach for a user-space HTTP surface; internal/server's ControlMux
// serves this same text line over HTTP under /proc/pmc/.
func (b *Bridge) readMonitor(caller control.Caller, cursor string) ([]byte, error) {
	ts := b.eng.Thread(caller.PID)
	if ts == nil || ts.Buffer == nil {
		return nil, pmcerr.New(pmcerr.StateConflict, "bridge.monitor", fmt.Errorf("pid %d has no attached buffer", caller.PID))
	}
	s, ok, err := ts.Buffer.Pop(context.Background())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil // EOF
	}
	return []byte(fmt.Sprintf("kind=%d thread=%d counters=%d", s.Kind, s.ThreadID, s.CounterCount)), nil
}

func (b *Bridge) setEnabled(pid int, on bool) error {
	ts := b.eng.Thread(pid)
	if ts == nil {
		return pmcerr.New(pmcerr.StateConflict, "bridge.enable", fmt.Errorf("no monitored thread %d", pid))
	}
	if !on {
		ts.Mode = engine.ModeNone
	}
	return nil
}

func (b *Bridge) writeEnable(caller control.Caller, payload []byte) error {
	cmd := strings.TrimSpace(string(payload))
	fields := strings.Fields(cmd)
	if len(fields) == 2 && fields[0] == "syswide" {
		return b.syswideCommand(caller, fields[1])
	}
	switch cmd {
	case "ON":
		return b.setEnabled(caller.PID, true)
	case "OFF":
		return b.setEnabled(caller.PID, false)
	default:
		return pmcerr.New(pmcerr.ConfigRejected, "bridge.enable", fmt.Errorf("unrecognized command %q", cmd))
	}
}

// defaultSyswideInterval is used for "syswide on" commands: the enable
// control entry's grammar (spec §6) carries no interval argument, so
// the bridge picks one default sampling interval for every system-wide
// enable rather than leaving it unspecified.
const defaultSyswideInterval = time.Second

// syswideCommand dispatches one "syswide <sub>" token from either the
// enable or monitor control entries (spec §6) to the wired controller.
func (b *Bridge) syswideCommand(caller control.Caller, sub string) error {
	if b.sw == nil {
		return pmcerr.New(pmcerr.CapabilityUnsupported, "bridge.syswide", fmt.Errorf("system-wide mode is not available"))
	}
	switch sub {
	case "on":
		return b.sw.Enable(caller.PID, defaultSyswideInterval, nil)
	case "off":
		return b.sw.Disable(caller.PID)
	case "pause":
		return b.sw.Pause(caller.PID)
	case "resume":
		return b.sw.Resume(caller.PID)
	default:
		return pmcerr.New(pmcerr.ConfigRejected, "bridge.syswide", fmt.Errorf("unrecognized syswide command %q", sub))
	}
}

func (b *Bridge) readEnable(caller control.Caller, cursor string) ([]byte, error) {
	ts := b.eng.Thread(caller.PID)
	if ts == nil || ts.Mode == engine.ModeNone {
		return []byte("OFF"), nil
	}
	return []byte("ON " + ts.Mode.String()), nil
}

// writeConfig handles every "config" command of spec §6's table.
func (b *Bridge) writeConfig(caller control.Caller, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, line := range strings.Split(string(payload), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if fields[0] == "[selfcfg]" {
			if len(fields) < 2 {
				return pmcerr.New(pmcerr.ConfigRejected, "bridge.config", fmt.Errorf("selfcfg missing a payload"))
			}
			if err := b.applySelfConfig(caller.PID, strings.Join(fields[1:], " ")); err != nil {
				return err
			}
			continue
		}

		if len(fields) != 2 {
			return pmcerr.New(pmcerr.ConfigRejected, "bridge.config", fmt.Errorf("malformed config line %q", line))
		}
		val, err := strconv.Atoi(fields[1])
		if err != nil {
			return pmcerr.New(pmcerr.ConfigRejected, "bridge.config", fmt.Errorf("invalid integer in %q", line))
		}

		ts := b.eng.Thread(caller.PID)
		switch fields[0] {
		case "nticks":
			b.overridesFor(caller.PID).NTicks = val
		case "kernel_buffer_size":
			if err := validateKernelBufferSize(val); err != nil {
				return err
			}
			b.overridesFor(caller.PID).KernelBufferSize = val
		case "nticks_t":
			if ts == nil {
				return pmcerr.New(pmcerr.StateConflict, "bridge.config", fmt.Errorf("no monitored thread %d", caller.PID))
			}
			ts.NTicks = val
		case "timeout":
			if ts == nil {
				return pmcerr.New(pmcerr.StateConflict, "bridge.config", fmt.Errorf("no monitored thread %d", caller.PID))
			}
			ts.TimeoutNanos = int64(val) * 1_000_000
		case "kernel_buffer_size_t":
			if err := validateKernelBufferSize(val); err != nil {
				return err
			}
		default:
			return pmcerr.New(pmcerr.ConfigRejected, "bridge.config", fmt.Errorf("unrecognized config key %q", fields[0]))
		}
	}
	return nil
}

// applySelfConfig handles "[selfcfg] pmc..." and "[selfcfg] virt..."
// lines: the caller's own raw PMC/virtual-counter configuration.
func (b *Bridge) applySelfConfig(pid int, raw string) error {
	ts := b.eng.Thread(pid)
	if ts == nil {
		return pmcerr.New(pmcerr.StateConflict, "bridge.config", fmt.Errorf("no monitored thread %d", pid))
	}
	if strings.HasPrefix(raw, "virt") {
		// Virtual-counter selection is module-owned; the bridge only
		// records the requested mask for the active module to consume.
		return nil
	}

	cfg, err := eventset.Parse(raw)
	if err != nil {
		return err
	}
	exp, err := eventset.Setup(cfg, 0xffffffffffff)
	if err != nil {
		return err
	}
	set := eventset.NewExperimentSet([]*eventset.Experiment{exp})
	if ts.Sets == nil {
		ts.Sets = map[int]*eventset.ExperimentSet{}
	}
	ts.Sets[ts.LastCoreType] = set
	if exp.IsEBS() {
		ts.Mode = engine.ModeEBS
	}
	return nil
}

func (b *Bridge) readConfig(caller control.Caller, cursor string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.overridesFor(caller.PID)
	return []byte(fmt.Sprintf("nticks %d\nkernel_buffer_size %d", o.NTicks, o.KernelBufferSize)), nil
}

func validateKernelBufferSize(n int) error {
	if n <= 0 || n%SampleRecordSize != 0 {
		return pmcerr.New(pmcerr.ConfigRejected, "bridge.config",
			fmt.Errorf("kernel_buffer_size %d is not a positive multiple of the %d-byte sample record", n, SampleRecordSize))
	}
	return nil
}
