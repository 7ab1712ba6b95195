// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package modmgr implements the monitoring-module manager (spec §4.G):
// a registry of pluggable modules, a single-active-module policy with
// transactional activation, and dispatch of the engine's callback
// surface to whichever module is active.
package modmgr

import "github.com/pmctrack/pmctrackd/internal/ringbuffer"

// CounterUsage declares which physical and virtual counters a module
// reserves (spec §3 "Monitoring module"): the module manager refuses to
// activate two modules that claim overlapping physical counters.
type CounterUsage struct {
	PhysicalMask   uint32
	VirtualCount   int
	VirtualNames   []string
	NumExperiments int
}

// Module is the callback surface a monitoring module implements (spec
// §4.G table). Every callback is optional, Probe included; a nil
// callback is simply skipped by the manager. Implementations must treat
// these as running in the engine's callback context — no blocking, no
// allocation in OnNewSample (spec §4.D's ISR-context precondition
// extends to this callback since it may run from the overflow path).
type Module struct {
	Name string

	// Probe runs once at registration and may veto load by returning an error.
	Probe func() error

	// Enable/Disable run on activation/deactivation; both must be
	// symmetric. Disable is also called, and its error ignored, when a
	// different module's activation succeeds and replaces this one; a
	// failed activation calls no Disable.
	Enable  func() error
	Disable func() error

	Usage func() CounterUsage

	OnReadConfig  func(key string) (string, error)
	OnWriteConfig func(key, value string) error

	OnFork     func(tid int)
	OnExec     func(tid int)
	OnExit     func(tid int)
	OnFreeTask func(tid int, modulePrivate interface{})

	// OnNewSample lets the module compute virtual counters from s,
	// returning the values to fill into the sample's virtual-counter
	// slots. Must not block or allocate.
	OnNewSample func(s *ringbuffer.Sample) []uint64

	OnTick      func(tid int)
	OnMigrate   func(tid int, fromCoreType, toCoreType int)
	OnSwitchIn  func(tid int)
	OnSwitchOut func(tid int)

	GetCurrentMetricValue func(tid int, metric string) (float64, error)

	OnSyswideStart  func() error
	OnSyswideStop   func() error
	OnSyswideRefresh func()
	OnSyswideDump   func(cpu int) []uint64
}
