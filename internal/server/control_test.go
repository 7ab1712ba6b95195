// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmctrack/pmctrackd/internal/control"
	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

func newTestRegistry(t *testing.T) (*control.Registry, *int) {
	t.Helper()
	reg := control.NewRegistry()
	var lastCallerPID int

	reg.Mount(&control.Entry{
		Name: "enable",
		Read: func(caller control.Caller, cursor string) ([]byte, error) {
			lastCallerPID = caller.PID
			return []byte("on"), nil
		},
		Write: func(caller control.Caller, payload []byte) error {
			lastCallerPID = caller.PID
			if string(payload) == "bad" {
				return pmcerr.New(pmcerr.ConfigRejected, "enable.Write", assertErr("bad payload"))
			}
			return nil
		},
	})

	return reg, &lastCallerPID
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestControlMux_GetDispatchesRead(t *testing.T) {
	reg, lastCallerPID := newTestRegistry(t)
	mockAPI := &mockAPIService{}
	mux := NewControlMux(mockAPI, reg)
	require.NoError(t, mux.Init())

	req := httptest.NewRequest(http.MethodGet, "/proc/pmc/enable", nil)
	req.Header.Set(callerPIDHeader, "123")
	rr := httptest.NewRecorder()
	mockAPI.mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "on", rr.Body.String())
	assert.Equal(t, 123, *lastCallerPID)
}

func TestControlMux_PostDispatchesWrite(t *testing.T) {
	reg, _ := newTestRegistry(t)
	mockAPI := &mockAPIService{}
	mux := NewControlMux(mockAPI, reg)
	require.NoError(t, mux.Init())

	req := httptest.NewRequest(http.MethodPost, "/proc/pmc/enable", strings.NewReader("on"))
	rr := httptest.NewRecorder()
	mockAPI.mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestControlMux_PostWriteErrorMapsToBadRequest(t *testing.T) {
	reg, _ := newTestRegistry(t)
	mockAPI := &mockAPIService{}
	mux := NewControlMux(mockAPI, reg)
	require.NoError(t, mux.Init())

	req := httptest.NewRequest(http.MethodPost, "/proc/pmc/enable", strings.NewReader("bad"))
	rr := httptest.NewRecorder()
	mockAPI.mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestControlMux_UnknownMethodRejected(t *testing.T) {
	reg, _ := newTestRegistry(t)
	mockAPI := &mockAPIService{}
	mux := NewControlMux(mockAPI, reg)
	require.NoError(t, mux.Init())

	req := httptest.NewRequest(http.MethodDelete, "/proc/pmc/enable", nil)
	rr := httptest.NewRecorder()
	mockAPI.mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestControlMux_MissingCallerPIDDefaultsToZero(t *testing.T) {
	reg, lastCallerPID := newTestRegistry(t)
	mockAPI := &mockAPIService{}
	mux := NewControlMux(mockAPI, reg)
	require.NoError(t, mux.Init())

	req := httptest.NewRequest(http.MethodGet, "/proc/pmc/enable", nil)
	rr := httptest.NewRecorder()
	mockAPI.mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, *lastCallerPID)
}
