// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pmctrack/pmctrackd/internal/control"
	"github.com/pmctrack/pmctrackd/internal/engine"
	"github.com/pmctrack/pmctrackd/internal/eventset"
	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// ModuleLister is the subset of internal/modmgr.Manager the bridge needs
// to render the active module into the info entry (spec §6).
type ModuleLister interface {
	ActiveModuleName() string
	ActiveModuleVirtualCounters() []string
}

// WithModuleLister wires the module manager into the info entry so it
// can report the active module and its virtual-counter catalog. Without
// this option info reports no active module.
func WithModuleLister(ml ModuleLister) Option {
	return func(b *Bridge) { b.modules = ml }
}

// propertyCursors remembers, per caller pid, the last key selected by a
// "get <key>" write to the properties entry (spec §6), for callers
// reading over a transport with no query-parameter cursor of their own.
type propertyCursors struct {
	mu   sync.Mutex
	last map[int]string
}

func newPropertyCursors() *propertyCursors {
	return &propertyCursors{last: map[int]string{}}
}

func (p *propertyCursors) set(pid int, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last[pid] = key
}

func (p *propertyCursors) get(pid int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[pid]
}

func validPropertyKey(key string) bool {
	switch key {
	case "cpumask", "pmcmask", "nr_pmcs", "nr_experiments":
		return true
	default:
		return false
	}
}

// writeProperties handles the properties entry's only write grammar:
// "get <key>" (spec §6), selecting which key the caller's next read sees.
func (b *Bridge) writeProperties(caller control.Caller, payload []byte) error {
	fields := strings.Fields(string(payload))
	if len(fields) != 2 || fields[0] != "get" {
		return pmcerr.New(pmcerr.ConfigRejected, "bridge.properties", fmt.Errorf("expected \"get <key>\""))
	}
	if !validPropertyKey(fields[1]) {
		return pmcerr.New(pmcerr.ConfigRejected, "bridge.properties", fmt.Errorf("unrecognized property %q", fields[1]))
	}
	b.props.set(caller.PID, fields[1])
	return nil
}

// readProperties renders the value of whichever key a prior "get <key>"
// write selected, or the cursor query parameter when the transport
// supplies one directly (spec §6).
func (b *Bridge) readProperties(caller control.Caller, cursor string) ([]byte, error) {
	key := cursor
	if key == "" {
		key = b.props.get(caller.PID)
	}
	if !validPropertyKey(key) {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "bridge.properties", fmt.Errorf("no property selected"))
	}

	ts := b.eng.Thread(caller.PID)

	switch key {
	case "cpumask":
		var mask uint64
		for _, cpu := range b.probe.CPUs() {
			if cpu >= 0 && cpu < 64 {
				mask |= 1 << uint(cpu)
			}
		}
		return []byte(fmt.Sprintf("0x%x", mask)), nil

	case "pmcmask":
		if exp := currentExperiment(ts); exp != nil {
			return []byte(fmt.Sprintf("0x%x", exp.UsedMask)), nil
		}
		return []byte("0x0"), nil

	case "nr_pmcs":
		if ts == nil {
			return []byte("0"), nil
		}
		desc, ok := b.probe.Descriptor(ts.LastCoreType)
		if !ok {
			return []byte("0"), nil
		}
		return []byte(fmt.Sprintf("%d", desc.FixedCounters+desc.GeneralCounters)), nil

	case "nr_experiments":
		if ts == nil {
			return []byte("0"), nil
		}
		if set := ts.CurrentSet(); set != nil {
			return []byte(fmt.Sprintf("%d", set.Len())), nil
		}
		return []byte("0"), nil

	default:
		return nil, pmcerr.New(pmcerr.ConfigRejected, "bridge.properties", fmt.Errorf("unrecognized property %q", key))
	}
}

func currentExperiment(ts *engine.ThreadState) *eventset.Experiment {
	if ts == nil {
		return nil
	}
	set := ts.CurrentSet()
	if set == nil {
		return nil
	}
	return set.Current()
}

// readInfo renders a human-readable catalog of every detected core
// type's PMU descriptor, the active monitoring module, and the virtual
// counters it declares (spec §6 "info", read-only).
func (b *Bridge) readInfo(caller control.Caller, cursor string) ([]byte, error) {
	var sb strings.Builder

	for _, ct := range b.probe.CoreTypes() {
		desc, ok := b.probe.Descriptor(ct)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "coretype %d arch=%s fixed=%d gp=%d width=%d flags=%s\n",
			desc.CoreType, desc.Architecture, desc.FixedCounters, desc.GeneralCounters,
			desc.CounterWidth, strings.Join(desc.RecognizedFlags, ","))
	}

	if b.modules == nil {
		sb.WriteString("active_module none\n")
		return []byte(sb.String()), nil
	}

	name := b.modules.ActiveModuleName()
	if name == "" {
		name = "none"
	}
	fmt.Fprintf(&sb, "active_module %s\n", name)

	virt := b.modules.ActiveModuleVirtualCounters()
	if len(virt) == 0 {
		sb.WriteString("virtual_counters none\n")
	} else {
		fmt.Fprintf(&sb, "virtual_counters %s\n", strings.Join(virt, ","))
	}

	return []byte(sb.String()), nil
}
