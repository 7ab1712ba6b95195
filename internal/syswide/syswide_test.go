// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package syswide

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/pmctrack/pmctrackd/internal/eventset"
	"github.com/pmctrack/pmctrackd/internal/pmu"
)

type fakeQ struct{ cpus []int }

func (q fakeQ) OnlineCPUs() ([]int, error) { return q.cpus, nil }
func (q fakeQ) Capability(cpu int) (int, int, int, string, error) {
	return 3, 4, 48, "GenuineIntel", nil
}

type fakeIRQ struct{}

func (fakeIRQ) Install(int) error { return nil }
func (fakeIRQ) Remove(int)        {}

type fakeProg struct{ values map[int]uint64 }

func (f *fakeProg) WriteSelector(eventset.LowLevelEvent) error      { return nil }
func (f *fakeProg) WriteCounter(ev eventset.LowLevelEvent, v uint64) error {
	f.values[ev.CounterIndex] = v
	return nil
}
func (f *fakeProg) Unmask(eventset.LowLevelEvent) error  { return nil }
func (f *fakeProg) Inhibit(eventset.LowLevelEvent) error { return nil }
func (f *fakeProg) Read(ev eventset.LowLevelEvent) (uint64, error) {
	return f.values[ev.CounterIndex], nil
}

func TestEnableRejectsSecondOwner(t *testing.T) {
	probe, err := pmu.Init(fakeQ{cpus: []int{0, 1}}, fakeIRQ{})
	require.NoError(t, err)
	ct, _ := probe.CoreTypeOf(0)
	prog := &fakeProg{values: map[int]uint64{}}
	fc := clocktesting.NewFakeClock(time.Unix(0, 0))

	m := New(probe, map[int]eventset.Programmer{ct: prog}, fc)
	require.NoError(t, m.Enable(1, 10*time.Millisecond, map[int]string{ct: "pmc0=0x3c"}))
	defer m.Disable(1)

	err = m.Enable(2, 10*time.Millisecond, map[int]string{ct: "pmc0=0x3c"})
	require.Error(t, err)
}

func TestPauseResumeGatesProduction(t *testing.T) {
	probe, err := pmu.Init(fakeQ{cpus: []int{0}}, fakeIRQ{})
	require.NoError(t, err)
	ct, _ := probe.CoreTypeOf(0)
	prog := &fakeProg{values: map[int]uint64{}}
	fc := clocktesting.NewFakeClock(time.Unix(0, 0))

	m := New(probe, map[int]eventset.Programmer{ct: prog}, fc)
	require.NoError(t, m.Enable(1, 10*time.Millisecond, map[int]string{ct: "pmc0=0x3c"}))
	defer m.Disable(1)

	assert.True(t, m.Active(0))
	require.NoError(t, m.Pause(1))
	assert.False(t, m.Active(0))
	require.NoError(t, m.Resume(1))
	assert.True(t, m.Active(0))
}

func TestOnlyOwnerMayDisable(t *testing.T) {
	probe, err := pmu.Init(fakeQ{cpus: []int{0}}, fakeIRQ{})
	require.NoError(t, err)
	ct, _ := probe.CoreTypeOf(0)
	prog := &fakeProg{values: map[int]uint64{}}
	fc := clocktesting.NewFakeClock(time.Unix(0, 0))

	m := New(probe, map[int]eventset.Programmer{ct: prog}, fc)
	require.NoError(t, m.Enable(1, 10*time.Millisecond, map[int]string{ct: "pmc0=0x3c"}))
	defer m.Disable(1)

	err = m.Disable(2)
	require.Error(t, err)
}
