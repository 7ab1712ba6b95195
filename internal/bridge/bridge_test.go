// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmctrack/pmctrackd/internal/control"
	"github.com/pmctrack/pmctrackd/internal/engine"
	"github.com/pmctrack/pmctrackd/internal/eventset"
	"github.com/pmctrack/pmctrackd/internal/pmcerr"
	"github.com/pmctrack/pmctrackd/internal/pmu"
)

type nopQuery struct{}

func (nopQuery) OnlineCPUs() ([]int, error) { return []int{0}, nil }
func (nopQuery) Capability(cpu int) (int, int, int, string, error) {
	return 3, 4, 48, "GenuineIntel", nil
}

type nopIRQ struct{}

func (nopIRQ) Install(cpu int) error { return nil }
func (nopIRQ) Remove(cpu int)        {}

func newTestBridge(t *testing.T) (*Bridge, *engine.Engine, *control.Registry) {
	t.Helper()
	probe, err := pmu.Init(nopQuery{}, nopIRQ{})
	require.NoError(t, err)
	ct, _ := probe.CoreTypeOf(0)
	eng := engine.New(probe, map[int]eventset.Programmer{ct: nil})
	reg := control.NewRegistry()
	b := New(eng, reg)
	return b, eng, reg
}

func TestKernelBufferSizeRejectsNonMultiple(t *testing.T) {
	b, _, _ := newTestBridge(t)
	err := b.writeConfig(control.Caller{PID: 1}, []byte(fmt.Sprintf("kernel_buffer_size %d", SampleRecordSize+1)))
	require.Error(t, err)
	assert.Equal(t, pmcerr.ConfigRejected, pmcerr.KindOf(err))
}

func TestKernelBufferSizeAcceptsExactMultiple(t *testing.T) {
	b, _, _ := newTestBridge(t)
	err := b.writeConfig(control.Caller{PID: 1}, []byte(fmt.Sprintf("kernel_buffer_size %d", SampleRecordSize*4)))
	require.NoError(t, err)
}

func TestPidMonitorAttachesAndDetach(t *testing.T) {
	b, eng, _ := newTestBridge(t)
	eng.Fork(10, 0, nil)

	require.NoError(t, b.PidMonitor(control.Caller{PID: 20}, 10))
	ts := eng.Thread(10)
	require.NotNil(t, ts.Buffer)

	require.NoError(t, b.PidDetach(control.Caller{PID: 20}, 10))

	err := b.PidDetach(control.Caller{PID: 20}, 10)
	require.Error(t, err, "detaching twice must fail: no such relationship remains")
}

func TestEnableRoundTrip(t *testing.T) {
	b, eng, reg := newTestBridge(t)
	eng.Fork(30, 0, nil)

	require.NoError(t, reg.Write("enable", control.Caller{PID: 30}, []byte("OFF")))
	out, err := reg.Read("enable", control.Caller{PID: 30}, "")
	require.NoError(t, err)
	assert.Equal(t, "OFF", string(out))
}

type fakeSyswide struct {
	enabled bool
	paused  bool
	owner   int
}

func (f *fakeSyswide) Enable(ownerPID int, interval time.Duration, configs map[int]string) error {
	f.enabled = true
	f.owner = ownerPID
	return nil
}

func (f *fakeSyswide) Disable(callerPID int) error {
	f.enabled = false
	return nil
}

func (f *fakeSyswide) Pause(callerPID int) error {
	f.paused = true
	return nil
}

func (f *fakeSyswide) Resume(callerPID int) error {
	f.paused = false
	return nil
}

func TestSyswideCommandsWithoutControllerAreRejected(t *testing.T) {
	b, _, reg := newTestBridge(t)
	_ = b
	err := reg.Write("enable", control.Caller{PID: 1}, []byte("syswide on"))
	require.Error(t, err)
	assert.Equal(t, pmcerr.CapabilityUnsupported, pmcerr.KindOf(err))
}

func TestSyswideOnOffPauseResumeViaEnableEntry(t *testing.T) {
	probe, err := pmu.Init(nopQuery{}, nopIRQ{})
	require.NoError(t, err)
	ct, _ := probe.CoreTypeOf(0)
	eng := engine.New(probe, map[int]eventset.Programmer{ct: nil})
	reg := control.NewRegistry()
	sw := &fakeSyswide{}
	New(eng, reg, WithSyswide(sw))

	caller := control.Caller{PID: 42}
	require.NoError(t, reg.Write("enable", caller, []byte("syswide on")))
	assert.True(t, sw.enabled)
	assert.Equal(t, 42, sw.owner)

	require.NoError(t, reg.Write("enable", caller, []byte("syswide pause")))
	assert.True(t, sw.paused)

	require.NoError(t, reg.Write("enable", caller, []byte("syswide resume")))
	assert.False(t, sw.paused)

	require.NoError(t, reg.Write("enable", caller, []byte("syswide off")))
	assert.False(t, sw.enabled)
}

func TestSyswideOnOffViaMonitorEntry(t *testing.T) {
	probe, err := pmu.Init(nopQuery{}, nopIRQ{})
	require.NoError(t, err)
	ct, _ := probe.CoreTypeOf(0)
	eng := engine.New(probe, map[int]eventset.Programmer{ct: nil})
	reg := control.NewRegistry()
	sw := &fakeSyswide{}
	New(eng, reg, WithSyswide(sw))

	caller := control.Caller{PID: 7}
	require.NoError(t, reg.Write("monitor", caller, []byte("syswide on")))
	assert.True(t, sw.enabled)

	require.NoError(t, reg.Write("monitor", caller, []byte("syswide off")))
	assert.False(t, sw.enabled)

	err = reg.Write("monitor", caller, []byte("syswide pause"))
	require.Error(t, err, "monitor entry only accepts syswide on/off per spec")
}
