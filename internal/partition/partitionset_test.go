// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	programs int
}

func (w *recordingWriter) Program(cpu, clos int, mask uint64) error {
	w.programs++
	return nil
}

// assertInvariant checks spec §8's partition-set invariant: ways sum to
// the CBM length, partitions are ordered by low_way, and no two overlap.
func assertInvariant(t *testing.T, ps *PartitionSet, totalWays int) {
	t.Helper()
	parts := ps.Partitions()
	sum := 0
	for i, p := range parts {
		sum += p.NrWays
		assert.Equal(t, p.HighWay-p.LowWay+1, p.NrWays)
		if i > 0 {
			prev := parts[i-1]
			assert.LessOrEqual(t, prev.LowWay, p.LowWay, "partitions ordered by low_way")
			assert.Less(t, prev.HighWay, p.LowWay, "partitions must not overlap")
		}
	}
	if len(parts) > 0 {
		assert.Equal(t, totalWays, sum, "partition ways must sum to the cbm length")
	}
}

func TestAllocateSingleTakesAllWays(t *testing.T) {
	ps, err := NewPartitionSet(4, 16, nil)
	require.NoError(t, err)

	p, err := ps.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 16, p.NrWays)
	assertInvariant(t, ps, 16)
}

func TestAllocateRebalancesFairly(t *testing.T) {
	w := &recordingWriter{}
	ps, err := NewPartitionSet(4, 16, w)
	require.NoError(t, err)

	_, err = ps.Allocate()
	require.NoError(t, err)
	_, err = ps.Allocate()
	require.NoError(t, err)
	_, err = ps.Allocate()
	require.NoError(t, err)

	assertInvariant(t, ps, 16)
	assert.Equal(t, 3, ps.NrAssigned())
	assert.Greater(t, w.programs, 0)
}

func TestAllocateFailsWhenPoolExhausted(t *testing.T) {
	ps, err := NewPartitionSet(2, 16, nil)
	require.NoError(t, err)

	_, err = ps.Allocate()
	require.NoError(t, err)

	_, err = ps.Allocate()
	require.Error(t, err)
}

func TestDeallocateRedistributesWaysAndFreesClos(t *testing.T) {
	ps, err := NewPartitionSet(5, 20, nil)
	require.NoError(t, err)

	p1, err := ps.Allocate()
	require.NoError(t, err)
	p2, err := ps.Allocate()
	require.NoError(t, err)
	p3, err := ps.Allocate()
	require.NoError(t, err)
	assertInvariant(t, ps, 20)

	require.NoError(t, ps.Deallocate(p2))
	assertInvariant(t, ps, 20)
	assert.Equal(t, 2, ps.NrAssigned())

	p4, err := ps.Allocate()
	require.NoError(t, err)
	assert.Equal(t, p2.ClosID, p4.ClosID, "freed clos is reused")
	_ = p1
	_ = p3
}

func TestDeallocateLastPartitionEmptiesSet(t *testing.T) {
	ps, err := NewPartitionSet(3, 8, nil)
	require.NoError(t, err)

	p, err := ps.Allocate()
	require.NoError(t, err)

	require.NoError(t, ps.Deallocate(p))
	assert.Equal(t, 0, ps.NrAssigned())
}

func TestDeallocateRejectsUnassignedPartition(t *testing.T) {
	ps, err := NewPartitionSet(3, 8, nil)
	require.NoError(t, err)

	foreign := &Partition{ClosID: 99}
	err = ps.Deallocate(foreign)
	assert.Error(t, err)
}

func TestRemoveEmptyPartitionsWithAutoResize(t *testing.T) {
	ps, err := NewPartitionSet(5, 20, nil)
	require.NoError(t, err)

	p1, err := ps.Allocate()
	require.NoError(t, err)
	p2, err := ps.Allocate()
	require.NoError(t, err)
	p3, err := ps.Allocate()
	require.NoError(t, err)

	p1.AppCount = 1
	p2.AppCount = 0
	p3.AppCount = 1

	ps.RemoveEmptyPartitions(true)
	assertInvariant(t, ps, 20)
	assert.Equal(t, 2, ps.NrAssigned())
}

func TestRemoveEmptyPartitionsWithoutResizeLeavesGap(t *testing.T) {
	ps, err := NewPartitionSet(5, 20, nil)
	require.NoError(t, err)

	p1, err := ps.Allocate()
	require.NoError(t, err)
	p2, err := ps.Allocate()
	require.NoError(t, err)
	p3, err := ps.Allocate()
	require.NoError(t, err)

	p1.AppCount = 1
	p2.AppCount = 0
	p3.AppCount = 1

	ps.RemoveEmptyPartitions(false)
	assert.Equal(t, 2, ps.NrAssigned())
	sum := 0
	for _, p := range ps.Partitions() {
		sum += p.NrWays
	}
	assert.Less(t, sum, 20, "no-resize removal leaves the freed ways unassigned")
}

func TestMaskMatchesWayRange(t *testing.T) {
	p := &Partition{LowWay: 2, NrWays: 3}
	assert.Equal(t, uint64(0b11100), p.Mask())
}
