// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package modmgr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pmctrack/pmctrackd/internal/control"
	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// MountControl registers the mm_manager control entry (spec §6): write
// "activate N", "deactivate", or "reinitialize N"; read the module list
// with an active marker.
func (m *Manager) MountControl(reg *control.Registry) {
	reg.Mount(&control.Entry{Name: "mm_manager", Read: m.readManager, Write: m.writeManager})
}

func (m *Manager) writeManager(caller control.Caller, payload []byte) error {
	fields := strings.Fields(string(payload))
	if len(fields) == 0 {
		return pmcerr.New(pmcerr.ConfigRejected, "modmgr.mm_manager", fmt.Errorf("empty command"))
	}

	switch fields[0] {
	case "activate", "reinitialize":
		if len(fields) != 2 {
			return pmcerr.New(pmcerr.ConfigRejected, "modmgr.mm_manager", fmt.Errorf("%s requires a module id", fields[0]))
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return pmcerr.New(pmcerr.ConfigRejected, "modmgr.mm_manager", fmt.Errorf("invalid module id %q", fields[1]))
		}
		if fields[0] == "activate" {
			_, err := m.Activate(id)
			return err
		}
		return m.Reinitialize(id)

	case "deactivate":
		return m.Deactivate()

	default:
		return pmcerr.New(pmcerr.ConfigRejected, "modmgr.mm_manager", fmt.Errorf("unrecognized command %q", fields[0]))
	}
}

func (m *Manager) readManager(caller control.Caller, cursor string) ([]byte, error) {
	var sb strings.Builder
	for _, l := range m.List() {
		marker := " "
		if l.Active {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %d %s\n", marker, l.ID, l.Name)
	}
	return []byte(sb.String()), nil
}
