// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeRMIDPool struct {
	total    int
	assigned []int
}

func (f *fakeRMIDPool) Total() int            { return f.total }
func (f *fakeRMIDPool) AssignedSnapshot() []int { return f.assigned }

type fakeCATPool struct {
	total int
	free  int
}

func (f *fakeCATPool) Total() int     { return f.total }
func (f *fakeCATPool) FreeCount() int { return f.free }

func TestRDTCollector_CollectsBothPools(t *testing.T) {
	c := NewRDTCollector(
		&fakeRMIDPool{total: 8, assigned: []int{1, 2, 3}},
		&fakeCATPool{total: 4, free: 1},
	)

	assert.Equal(t, 4, testutil.CollectAndCount(c))
}

func TestRDTCollector_NilPoolsSkipped(t *testing.T) {
	c := NewRDTCollector(nil, nil)
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestRDTCollector_OnlyRMID(t *testing.T) {
	c := NewRDTCollector(&fakeRMIDPool{total: 8, assigned: nil}, nil)
	assert.Equal(t, 2, testutil.CollectAndCount(c))
}
