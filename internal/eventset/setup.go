// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package eventset

import (
	"fmt"

	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// Setup fills an Experiment from a parsed raw configuration (spec §4.B
// "Setup operation", do_setup_pmcs). widthMask is the counter-width mask
// of the target core type — the "modulo register" operator used to
// compute EBS reset values. Setup never touches hardware; it only builds
// the in-memory experiment description. It is idempotent: every call
// builds a fresh Experiment from cfg alone.
func Setup(cfg *ParsedConfig, widthMask uint64) (*Experiment, error) {
	if len(cfg.Counters) == 0 {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Setup",
			fmt.Errorf("configuration selects no counters"))
	}
	if len(cfg.Counters) > MaxPhysicalCounters {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Setup",
			fmt.Errorf("configuration selects %d counters, max is %d", len(cfg.Counters), MaxPhysicalCounters))
	}

	exp := NewExperiment(cfg.CoreType)
	exp.PhysToLog = make([]int, MaxPhysicalCounters)
	for i := range exp.PhysToLog {
		exp.PhysToLog[i] = -1
	}

	for logIdx, c := range cfg.Counters {
		ev := LowLevelEvent{
			UserMode:   true,
			KernelMode: true,
		}
		if c.usrSet {
			ev.UserMode = c.usr
		}
		if c.osSet {
			ev.KernelMode = c.os
		}

		if c.sawPMCTok && !c.hasValue {
			ev.Kind = FixedFunction
			ev.FixedIndex = c.index
			ev.CtrlBits = c.cmask<<8 | c.edge<<6 | c.inv<<5
		} else {
			ev.Kind = GeneralPurpose
			ev.CounterIndex = c.index
			sel := c.value
			sel |= c.umask << 8
			if c.edge != 0 {
				sel |= 1 << 18
			}
			if c.inv != 0 {
				sel |= 1 << 23
			}
			if c.any != 0 {
				sel |= 1 << 21
			}
			sel |= c.cmask << 24
			ev.EventSelector = sel
		}

		if c.ebsSet {
			if exp.EBSIndex != NoEBSEvent {
				return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Setup",
					fmt.Errorf("at most one ebsN event may be armed per experiment"))
			}
			exp.EBSIndex = logIdx
			ev.ResetValue = (^c.ebsCount + 1) & widthMask
		}

		exp.Events = append(exp.Events, ev)
		exp.LogToPhys = append(exp.LogToPhys, c.index)
		exp.PhysToLog[c.index] = logIdx
		exp.UsedMask |= 1 << uint(c.index)
	}

	exp.OverflowCount = make([]uint64, len(exp.Events))
	exp.NeedsSetup = true
	return exp, nil
}

// SetupMultiplexed builds an ExperimentSet from several raw configuration
// strings (spec §4.B: "Multiple experiments may be concatenated ...").
// An EBS-armed experiment must be the only experiment in its set; mixing
// EBS with multiplexing is rejected.
func SetupMultiplexed(raws []string, widthMask uint64) (*ExperimentSet, error) {
	if len(raws) == 0 {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.SetupMultiplexed",
			fmt.Errorf("at least one experiment configuration is required"))
	}

	experiments := make([]*Experiment, 0, len(raws))
	ebsCount := 0
	for _, raw := range raws {
		cfg, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		exp, err := Setup(cfg, widthMask)
		if err != nil {
			return nil, err
		}
		if exp.IsEBS() {
			ebsCount++
		}
		experiments = append(experiments, exp)
	}

	if ebsCount > 0 && len(experiments) > 1 {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.SetupMultiplexed",
			fmt.Errorf("EBS cannot be combined with multiplexing: got %d experiments with an armed EBS event", len(experiments)))
	}

	return NewExperimentSet(experiments), nil
}
