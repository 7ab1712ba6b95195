// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package pmu implements the PMU capability probe (spec §4.A): detecting
// the performance-monitoring hardware of every online CPU, grouping CPUs
// into core types, and exposing the immutable descriptor of each.
package pmu

import "fmt"

// Descriptor is the immutable, per-core-type PMU capability record (spec
// §3 "PMU descriptor"). One descriptor exists per detected core type;
// every online CPU maps to exactly one.
type Descriptor struct {
	CoreType int

	FixedCounters   int
	GeneralCounters int
	CounterWidth    int
	WidthMask       uint64 // (1<<CounterWidth)-1, the canonical "modulo register" operator

	Architecture string // vendor id, e.g. "GenuineIntel", "AuthenticAMD"

	// RecognizedFlags lists the declarative configuration-string tokens
	// this core type accepts (spec §4.B); unknown tokens fail the parse
	// at a higher layer.
	RecognizedFlags []string
}

// capabilityTuple is hashed into a core-type id: CPUs sharing one tuple
// share a core type (spec §4.A algorithm).
type capabilityTuple struct {
	fixedPMCs int
	gpPMCs    int
	width     int
	vendorID  string
}

func (t capabilityTuple) key() string {
	return fmt.Sprintf("%s/%d/%d/%d", t.vendorID, t.fixedPMCs, t.gpPMCs, t.width)
}
