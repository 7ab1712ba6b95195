// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/pmctrack/pmctrackd/internal/control"
	"github.com/pmctrack/pmctrackd/internal/pmcerr"
	"github.com/pmctrack/pmctrackd/internal/service"
)

// callerPIDHeader carries the issuing process's pid on every control
// request. There is no procfs credential to read it from over HTTP, so
// the caller supplies it explicitly; a missing or unparseable header
// is treated as pid 0 (the daemon itself).
const callerPIDHeader = "X-PMCTrack-Caller-Pid"

// ControlMux exposes an internal/control.Registry's named entries
// under /proc/pmc/<entry>, mirroring the kernel module's procfs
// surface (spec §6). GET dispatches to the entry's Read handler
// (optionally honoring a "cursor" query parameter), POST to its
// Write handler with the request body as the raw payload.
type ControlMux struct {
	api      APIService
	registry *control.Registry
}

var (
	_ service.Service     = (*ControlMux)(nil)
	_ service.Initializer = (*ControlMux)(nil)
)

// NewControlMux builds a ControlMux mounting every entry in reg.
func NewControlMux(api APIService, reg *control.Registry) *ControlMux {
	return &ControlMux{api: api, registry: reg}
}

func (c *ControlMux) Name() string {
	return "control-mux"
}

func (c *ControlMux) Init() error {
	for _, name := range c.registry.Names() {
		name := name
		if err := c.api.Register("/proc/pmc/"+name, name, "control file", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.serveEntry(name, w, r)
		})); err != nil {
			return err
		}
	}
	return nil
}

func (c *ControlMux) serveEntry(name string, w http.ResponseWriter, r *http.Request) {
	caller := control.Caller{PID: callerPID(r)}

	switch r.Method {
	case http.MethodGet:
		out, err := c.registry.Read(name, caller, r.URL.Query().Get("cursor"))
		if err != nil {
			writeControlError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(out)

	case http.MethodPost:
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if err := c.registry.Write(name, caller, payload); err != nil {
			writeControlError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func callerPID(r *http.Request) int {
	pid, err := strconv.Atoi(r.Header.Get(callerPIDHeader))
	if err != nil {
		return 0
	}
	return pid
}

// writeControlError maps a pmcerr.Kind to the HTTP status that best
// matches the errno class it stands in for.
func writeControlError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch pmcerr.KindOf(err) {
	case pmcerr.ConfigRejected:
		status = http.StatusBadRequest
	case pmcerr.OutOfResource:
		status = http.StatusServiceUnavailable
	case pmcerr.StateConflict:
		status = http.StatusConflict
	case pmcerr.CapabilityUnsupported:
		status = http.StatusNotImplemented
	case pmcerr.Transient:
		status = http.StatusServiceUnavailable
	case pmcerr.Interrupted:
		status = http.StatusRequestTimeout
	case pmcerr.IoFailure:
		status = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), status)
}
