// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/pmctrack/pmctrackd/internal/partition"
)

type fakePartitionStats struct {
	nrAssigned int
	partitions []partition.Partition
}

func (f *fakePartitionStats) NrAssigned() int                  { return f.nrAssigned }
func (f *fakePartitionStats) Partitions() []partition.Partition { return f.partitions }

func TestPartitionCollector_CollectsOnePerPartitionPlusTotal(t *testing.T) {
	c := NewPartitionCollector(&fakePartitionStats{
		nrAssigned: 2,
		partitions: []partition.Partition{
			{ClosID: 1, NrWays: 4, AppCount: 2},
			{ClosID: 2, NrWays: 8, AppCount: 1},
		},
	})

	// 1 nr_assigned gauge + 2 partitions * 2 metrics each
	assert.Equal(t, 5, testutil.CollectAndCount(c))
}

func TestPartitionCollector_NoPartitions(t *testing.T) {
	c := NewPartitionCollector(&fakePartitionStats{nrAssigned: 0})
	assert.Equal(t, 1, testutil.CollectAndCount(c))
}
