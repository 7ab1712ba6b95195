// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"log/slog"

	"k8s.io/utils/clock"

	"github.com/pmctrack/pmctrackd/internal/ringbuffer"
)

// Opts configures an Engine. Build one with DefaultOpts and override
// fields with the WithX functions before calling New.
type Opts struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// SyswideActive is polled before every context-switch hook; while it
	// reports true for a CPU, per-thread monitoring on that CPU is
	// dormant (spec §4.F).
	SyswideActive func(cpu int) bool

	// OnNewSample is invoked for every sample the engine produces, before
	// it is pushed onto the thread's ring buffer, so the active
	// monitoring module can fill in virtual counters (spec §2 "D invokes
	// G on every sample; G dispatches to the active H"). Normally bound
	// to internal/modmgr.Manager.DispatchNewSample.
	OnNewSample func(s *ringbuffer.Sample)
}

// OptionFn mutates an Opts in place.
type OptionFn func(*Opts)

// DefaultOpts returns the engine's defaults: a real clock, the slog default
// logger, system-wide mode reported inactive everywhere, and no module
// dispatch.
func DefaultOpts() Opts {
	return Opts{
		Clock:         clock.RealClock{},
		Logger:        slog.Default(),
		SyswideActive: func(int) bool { return false },
		OnNewSample:   func(*ringbuffer.Sample) {},
	}
}

// WithClock overrides the clock, e.g. with clock/testing's FakeClock in tests.
func WithClock(c clock.Clock) OptionFn {
	return func(o *Opts) { o.Clock = c }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) OptionFn {
	return func(o *Opts) { o.Logger = l }
}

// WithSyswideActive overrides the system-wide-mode predicate.
func WithSyswideActive(f func(cpu int) bool) OptionFn {
	return func(o *Opts) { o.SyswideActive = f }
}

// WithOnNewSample wires the module manager's sample-dispatch hook.
func WithOnNewSample(f func(s *ringbuffer.Sample)) OptionFn {
	return func(o *Opts) { o.OnNewSample = f }
}
