// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import "fmt"

func errUnknownCollector(name string) error {
	return fmt.Errorf("unknown collector: %s", name)
}
