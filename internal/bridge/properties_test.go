// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmctrack/pmctrackd/internal/control"
	"github.com/pmctrack/pmctrackd/internal/engine"
	"github.com/pmctrack/pmctrackd/internal/eventset"
	"github.com/pmctrack/pmctrackd/internal/pmu"
)

type fakeModuleLister struct {
	name string
	virt []string
}

func (f *fakeModuleLister) ActiveModuleName() string             { return f.name }
func (f *fakeModuleLister) ActiveModuleVirtualCounters() []string { return f.virt }

func TestPropertiesRejectsUnselectedRead(t *testing.T) {
	b, _, reg := newTestBridge(t)
	_ = b
	_, err := reg.Read("properties", control.Caller{PID: 1}, "")
	require.Error(t, err)
}

func TestPropertiesGetThenReadCpumask(t *testing.T) {
	b, _, reg := newTestBridge(t)
	_ = b
	caller := control.Caller{PID: 1}
	require.NoError(t, reg.Write("properties", caller, []byte("get cpumask")))
	out, err := reg.Read("properties", caller, "")
	require.NoError(t, err)
	assert.Equal(t, "0x1", string(out))
}

func TestPropertiesReadHonorsExplicitCursor(t *testing.T) {
	b, _, reg := newTestBridge(t)
	_ = b
	caller := control.Caller{PID: 1}
	out, err := reg.Read("properties", caller, "cpumask")
	require.NoError(t, err)
	assert.Equal(t, "0x1", string(out))
}

func TestPropertiesRejectsUnknownKey(t *testing.T) {
	b, _, reg := newTestBridge(t)
	_ = b
	err := reg.Write("properties", control.Caller{PID: 1}, []byte("get bogus"))
	require.Error(t, err)
}

func TestInfoListsCoreTypesAndNoActiveModule(t *testing.T) {
	b, _, reg := newTestBridge(t)
	_ = b
	out, err := reg.Read("info", control.Caller{PID: 1}, "")
	require.NoError(t, err)
	assert.Contains(t, string(out), "coretype 0")
	assert.Contains(t, string(out), "active_module none")
}

func TestInfoReportsActiveModuleAndVirtualCounters(t *testing.T) {
	probe, err := pmu.Init(nopQuery{}, nopIRQ{})
	require.NoError(t, err)
	ct, _ := probe.CoreTypeOf(0)
	eng := engine.New(probe, map[int]eventset.Programmer{ct: nil})
	reg := control.NewRegistry()
	ml := &fakeModuleLister{name: "ipc", virt: []string{"ipc"}}
	New(eng, reg, WithModuleLister(ml))

	out, err := reg.Read("info", control.Caller{PID: 1}, "")
	require.NoError(t, err)
	assert.Contains(t, string(out), "active_module ipc")
	assert.Contains(t, string(out), "virtual_counters ipc")
}

func TestInfoIsReadOnly(t *testing.T) {
	b, _, reg := newTestBridge(t)
	_ = b
	err := reg.Write("info", control.Caller{PID: 1}, []byte("anything"))
	require.Error(t, err)
}
