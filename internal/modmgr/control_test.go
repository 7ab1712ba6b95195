// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package modmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmctrack/pmctrackd/internal/control"
)

func TestMountControlActivateDeactivateReinitialize(t *testing.T) {
	m := New()
	reg := control.NewRegistry()
	m.MountControl(reg)

	id, err := m.Register(&Module{Name: "dummy"})
	require.NoError(t, err)

	caller := control.Caller{PID: 1}
	require.NoError(t, reg.Write("mm_manager", caller, []byte("activate 0")))
	assert.Equal(t, id, m.ActiveID())

	out, err := reg.Read("mm_manager", caller, "")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), "* 0 dummy"))

	require.NoError(t, reg.Write("mm_manager", caller, []byte("reinitialize 0")))
	assert.Equal(t, id, m.ActiveID())

	require.NoError(t, reg.Write("mm_manager", caller, []byte("deactivate")))
	assert.Equal(t, -1, m.ActiveID())
}

func TestMountControlRejectsUnknownCommand(t *testing.T) {
	m := New()
	reg := control.NewRegistry()
	m.MountControl(reg)

	err := reg.Write("mm_manager", control.Caller{PID: 1}, []byte("frobnicate"))
	assert.Error(t, err)
}
