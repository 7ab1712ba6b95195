// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package partition

import "fmt"

func errTooFewCLOS(count int) error {
	return fmt.Errorf("partition set needs at least 2 clos, got %d", count)
}
func errNoFreePartition() error { return fmt.Errorf("no free partition") }
func errPartitionNotAssigned() error {
	return fmt.Errorf("partition is not currently assigned to this set")
}
