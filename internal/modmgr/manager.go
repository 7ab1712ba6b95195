// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package modmgr

import (
	"fmt"
	"sync"

	"github.com/pmctrack/pmctrackd/internal/pmcerr"
	"github.com/pmctrack/pmctrackd/internal/ringbuffer"
)

// registered is one module plus the bookkeeping the manager assigns it
// at registration: a unique id and an independent security token used
// to tag module-private per-thread data (spec §3 "Monitoring module").
type registered struct {
	id    int
	token int
	mod   *Module
}

// Manager owns the module registry and the single active module.
type Manager struct {
	mu       sync.RWMutex
	byID     map[int]*registered
	byName   map[string]*registered
	nextID   int
	activeID int // -1 when no module is active
}

// New returns an empty manager with no active module.
func New() *Manager {
	return &Manager{
		byID:     map[int]*registered{},
		byName:   map[string]*registered{},
		activeID: -1,
	}
}

// Register runs mod's Probe hook and, if it succeeds, adds mod to the
// registry with a freshly assigned id and security token. It does not
// activate the module.
func (m *Manager) Register(mod *Module) (int, error) {
	if mod.Probe != nil {
		if err := mod.Probe(); err != nil {
			return 0, pmcerr.New(pmcerr.CapabilityUnsupported, "modmgr.Register", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[mod.Name]; exists {
		return 0, pmcerr.New(pmcerr.ConfigRejected, "modmgr.Register", fmt.Errorf("module %q already registered", mod.Name))
	}

	id := m.nextID
	m.nextID++
	r := &registered{id: id, token: id + 1, mod: mod}
	m.byID[id] = r
	m.byName[mod.Name] = r
	return id, nil
}

// ActiveID returns the currently active module's id, or -1 if none.
func (m *Manager) ActiveID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

// Active returns the currently active module, or nil if none.
func (m *Manager) Active() *Module {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[m.activeID]
	if !ok {
		return nil
	}
	return r.mod
}

// Activate makes the module with id the active one. It is idempotent:
// activating the already-active module is a no-op returning id (spec
// §8 invariant 6). Activation is transactional: if the counter-usage
// masks of the incoming module overlap another module's, or Enable
// fails, the previous module stays active and an error is returned —
// the old module's Disable is never called unless the new module's
// Enable actually succeeds.
func (m *Manager) Activate(id int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == m.activeID {
		return id, nil
	}

	next, ok := m.byID[id]
	if !ok {
		return m.activeID, pmcerr.New(pmcerr.ConfigRejected, "modmgr.Activate", fmt.Errorf("no module with id %d", id))
	}

	var prev *registered
	if m.activeID != -1 {
		prev = m.byID[m.activeID]
		if prev != nil && prev.mod.Usage != nil && next.mod.Usage != nil {
			if prev.mod.Usage().PhysicalMask&next.mod.Usage().PhysicalMask != 0 {
				return m.activeID, pmcerr.New(pmcerr.StateConflict, "modmgr.Activate",
					fmt.Errorf("module %q claims physical counters already held by %q", next.mod.Name, prev.mod.Name))
			}
		}
	}

	if next.mod.Enable != nil {
		if err := next.mod.Enable(); err != nil {
			return m.activeID, pmcerr.New(pmcerr.StateConflict, "modmgr.Activate", err)
		}
	}

	if prev != nil && prev.mod.Disable != nil {
		_ = prev.mod.Disable() // prior module is leaving; its own failure cannot block the switch
	}

	m.activeID = id
	return id, nil
}

// Deactivate disables the active module, if any, and leaves no module active.
func (m *Manager) Deactivate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == -1 {
		return nil
	}
	r := m.byID[m.activeID]
	m.activeID = -1
	if r != nil && r.mod.Disable != nil {
		return r.mod.Disable()
	}
	return nil
}

// Reinitialize deactivates the active module and reactivates the module
// with id; Probe is not run again (spec §6 "mm_manager" write
// "reinitialize N").
func (m *Manager) Reinitialize(id int) error {
	if err := m.Deactivate(); err != nil {
		return err
	}
	_, err := m.Activate(id)
	return err
}

// ActiveModuleName returns the active module's name, or "" if none is
// active (spec §6 "info" entry).
func (m *Manager) ActiveModuleName() string {
	mod := m.Active()
	if mod == nil {
		return ""
	}
	return mod.Name
}

// ActiveModuleVirtualCounters returns the active module's declared
// virtual-counter names, or nil if none is active or it declares none
// (spec §6 "info" entry's virtual-counter catalog).
func (m *Manager) ActiveModuleVirtualCounters() []string {
	mod := m.Active()
	if mod == nil || mod.Usage == nil {
		return nil
	}
	return mod.Usage().VirtualNames
}

// Token returns the security token assigned to module id at registration.
func (m *Manager) Token(id int) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return 0, false
	}
	return r.token, true
}

// List returns every registered module's (id, name, active) in
// registration order — the shape "mm_manager" reads render.
type Listing struct {
	ID     int
	Name   string
	Active bool
}

func (m *Manager) List() []Listing {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Listing, 0, len(m.byID))
	for id := 0; id < m.nextID; id++ {
		r, ok := m.byID[id]
		if !ok {
			continue
		}
		out = append(out, Listing{ID: id, Name: r.mod.Name, Active: id == m.activeID})
	}
	return out
}

// DispatchNewSample invokes the active module's OnNewSample hook, if
// any, filling s.VirtualValues from the returned slice. It is the
// engine's bridge from a produced sample to per-module virtual counters
// and must not block or allocate beyond what the module itself does
// within its own ISR-context contract.
func (m *Manager) DispatchNewSample(s *ringbuffer.Sample) {
	mod := m.Active()
	if mod == nil || mod.OnNewSample == nil {
		return
	}
	vals := mod.OnNewSample(s)
	s.VirtualCount = len(vals)
	for i, v := range vals {
		if i >= len(s.VirtualValues) {
			break
		}
		s.VirtualValues[i] = v
	}
}
