// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package dummy implements the reference no-op monitoring module (spec
// §4.H "dummy"): a module whose only hooks are a trivial Usage, Enable
// and Disable (every other hook is nil), useful as the manager's
// fallback active module and as a template for new ones.
package dummy

import "github.com/pmctrack/pmctrackd/internal/modmgr"

// New returns the dummy module: it claims no physical or virtual
// counters and every lifecycle hook is a no-op.
func New() *modmgr.Module {
	return &modmgr.Module{
		Name: "dummy",
		Usage: func() modmgr.CounterUsage {
			return modmgr.CounterUsage{NumExperiments: 1}
		},
		Enable:  func() error { return nil },
		Disable: func() error { return nil },
	}
}
