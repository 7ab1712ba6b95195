// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"fmt"
	"sync"

	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// CapabilityQuery is queried once per online CPU during probe (spec
// §4.A). Production builds back it with github.com/klauspost/cpuid/v2
// (vendor/model detection) and github.com/jaypipes/ghw (topology);
// vendor register encodings themselves stay out of scope per spec §1.
type CapabilityQuery interface {
	// OnlineCPUs returns the ids of every online CPU.
	OnlineCPUs() ([]int, error)
	// Capability returns the raw (fixed, general-purpose, width, vendor)
	// tuple for cpu.
	Capability(cpu int) (fixedPMCs, gpPMCs, width int, vendorID string, err error)
}

// InterruptInstaller installs (or removes) the platform overflow/NMI
// handler on one CPU. Production builds (HostInterruptInstaller) open a
// CPU-cycles perf event on each CPU;
// test builds use a no-op or fault-injecting fake.
type InterruptInstaller interface {
	Install(cpu int) error
	Remove(cpu int)
}

// Probe owns the result of probing the system once at load time:
// immutable descriptors per core type, and the cpu -> core-type mapping.
type Probe struct {
	mu          sync.RWMutex
	descriptors map[int]*Descriptor
	cpuCoreType map[int]int
}

// recognizedFlagsFor returns the declarative configuration tokens (spec
// §4.B) a core type accepts. Every core type recognizes the common
// cross-architecture set; x86-class vendors additionally accept the
// selector bitfield pass-throughs.
func recognizedFlagsFor(vendorID string) []string {
	common := []string{"pmcN", "usrN", "osN", "ebsN", "coretype"}
	switch vendorID {
	case "GenuineIntel", "AuthenticAMD":
		return append(common, "umaskN", "cmaskN", "edgeN", "invN", "anyN")
	default:
		return common
	}
}

// Init performs the probe (spec §4.A "Algorithm" and "Failure
// semantics"). It queries every online CPU, hashes capability tuples
// into core-type ids, and installs the overflow interrupt handler on
// each CPU. If any CPU reports no supported vendor or its capability
// query fails, or any per-CPU interrupt installation fails, Init rolls back and returns an error —
// callers must treat that as "refuse to load" per spec.
func Init(q CapabilityQuery, irq InterruptInstaller) (*Probe, error) {
	cpus, err := q.OnlineCPUs()
	if err != nil {
		return nil, pmcerr.New(pmcerr.CapabilityUnsupported, "pmu.Init", err)
	}
	if len(cpus) == 0 {
		return nil, pmcerr.New(pmcerr.CapabilityUnsupported, "pmu.Init", fmt.Errorf("no online CPUs reported"))
	}

	p := &Probe{
		descriptors: map[int]*Descriptor{},
		cpuCoreType: map[int]int{},
	}

	byKey := map[string]int{}
	installed := make([]int, 0, len(cpus))

	rollback := func() {
		for _, cpu := range installed {
			irq.Remove(cpu)
		}
	}

	for _, cpu := range cpus {
		fixed, gp, width, vendor, err := q.Capability(cpu)
		if err != nil {
			rollback()
			return nil, pmcerr.New(pmcerr.CapabilityUnsupported, "pmu.Init", err)
		}
		if vendor == "" {
			rollback()
			return nil, pmcerr.New(pmcerr.CapabilityUnsupported, "pmu.Init",
				fmt.Errorf("cpu %d: no supported PMU vendor detected", cpu))
		}

		tuple := capabilityTuple{fixedPMCs: fixed, gpPMCs: gp, width: width, vendorID: vendor}
		key := tuple.key()

		coreType, seen := byKey[key]
		if !seen {
			coreType = len(byKey)
			byKey[key] = coreType
			widthMask := uint64(1)<<uint(width) - 1
			p.descriptors[coreType] = &Descriptor{
				CoreType:        coreType,
				FixedCounters:   fixed,
				GeneralCounters: gp,
				CounterWidth:    width,
				WidthMask:       widthMask,
				Architecture:    vendor,
				RecognizedFlags: recognizedFlagsFor(vendor),
			}
		}
		p.cpuCoreType[cpu] = coreType

		if err := irq.Install(cpu); err != nil {
			rollback()
			return nil, pmcerr.New(pmcerr.CapabilityUnsupported, "pmu.Init",
				fmt.Errorf("installing overflow interrupt on cpu %d: %w", cpu, err))
		}
		installed = append(installed, cpu)
	}

	return p, nil
}

// Descriptor returns the immutable descriptor for a core type.
func (p *Probe) Descriptor(coreType int) (*Descriptor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.descriptors[coreType]
	return d, ok
}

// CoreTypeOf returns the core type of cpu.
func (p *Probe) CoreTypeOf(cpu int) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ct, ok := p.cpuCoreType[cpu]
	return ct, ok
}

// CPUs returns every CPU id the probe observed at load time.
func (p *Probe) CPUs() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]int, 0, len(p.cpuCoreType))
	for cpu := range p.cpuCoreType {
		out = append(out, cpu)
	}
	return out
}

// CoreTypes returns every detected core-type id.
func (p *Probe) CoreTypes() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]int, 0, len(p.descriptors))
	for ct := range p.descriptors {
		out = append(out, ct)
	}
	return out
}
