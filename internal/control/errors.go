// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package control

import "fmt"

func errEntryNotFound(name string) error  { return fmt.Errorf("no control entry named %q", name) }
func errEntryReadOnly(name string) error  { return fmt.Errorf("control entry %q is read-only", name) }
func errEntryWriteOnly(name string) error { return fmt.Errorf("control entry %q is write-only", name) }
