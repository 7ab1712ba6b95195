// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package control implements the virtual control-file registry of spec
// §6: a set of named entries ("config", "enable", "monitor", ...), each
// with a Read and Write handler, modeling what the original kernel
// module exposes under /proc/pmc/. A user-space daemon has no procfs of
// its own to register into, so this registry is mounted over HTTP by
// internal/server instead — the contract (what each entry accepts and
// returns) is unchanged.
package control

import (
	"sync"

	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// WriteFunc handles a write to one control entry: the raw payload in,
// an error out (translated to a negative-errno-shaped response by the
// caller per spec §7 "Propagation").
type WriteFunc func(caller Caller, payload []byte) error

// ReadFunc handles a read from one control entry, optionally honoring a
// per-open cursor key set by a prior "get <key>" write (the `properties`
// entry, spec §6).
type ReadFunc func(caller Caller, cursor string) ([]byte, error)

// Caller identifies who is issuing a control-file operation: the pid of
// the issuing process/thread. The core never trusts any other caller
// identity.
type Caller struct {
	PID int
}

// Entry is one named control file.
type Entry struct {
	Name  string
	Read  ReadFunc
	Write WriteFunc
}

// Registry is the full set of mounted control entries (spec §6's table).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// Mount registers e, replacing any previous entry under the same name.
func (r *Registry) Mount(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Name] = e
}

// Lookup returns the entry mounted under name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Names returns every mounted entry name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for n := range r.entries {
		out = append(out, n)
	}
	return out
}

// Write dispatches a write to the named entry.
func (r *Registry) Write(name string, caller Caller, payload []byte) error {
	e, ok := r.Lookup(name)
	if !ok {
		return pmcerr.New(pmcerr.ConfigRejected, "control.Write", errEntryNotFound(name))
	}
	if e.Write == nil {
		return pmcerr.New(pmcerr.ConfigRejected, "control.Write", errEntryReadOnly(name))
	}
	return e.Write(caller, payload)
}

// Read dispatches a read from the named entry.
func (r *Registry) Read(name string, caller Caller, cursor string) ([]byte, error) {
	e, ok := r.Lookup(name)
	if !ok {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "control.Read", errEntryNotFound(name))
	}
	if e.Read == nil {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "control.Read", errEntryWriteOnly(name))
	}
	return e.Read(caller, cursor)
}
