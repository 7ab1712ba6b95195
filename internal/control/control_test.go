// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	var last string
	r.Mount(&Entry{
		Name: "enable",
		Write: func(caller Caller, payload []byte) error {
			last = string(payload)
			return nil
		},
		Read: func(caller Caller, cursor string) ([]byte, error) {
			return []byte(last), nil
		},
	})

	require.NoError(t, r.Write("enable", Caller{PID: 1}, []byte("ON")))
	out, err := r.Read("enable", Caller{PID: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, "ON", string(out))
}

func TestRegistryRejectsUnknownEntry(t *testing.T) {
	r := NewRegistry()
	err := r.Write("nope", Caller{}, nil)
	require.Error(t, err)
}

func TestRegistryEnforcesReadWriteOnly(t *testing.T) {
	r := NewRegistry()
	r.Mount(&Entry{Name: "info", Read: func(Caller, string) ([]byte, error) { return []byte("ok"), nil }})

	_, err := r.Read("info", Caller{}, "")
	require.NoError(t, err)

	err = r.Write("info", Caller{}, []byte("x"))
	require.Error(t, err)
}
