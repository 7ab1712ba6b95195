// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/pmctrack/pmctrackd/internal/partition"
)

// PartitionStats is the subset of internal/partition.PartitionSet that
// the collector reads at scrape time.
type PartitionStats interface {
	NrAssigned() int
	Partitions() []partition.Partition
}

// PartitionCollector exports the cache-partitioning engine's current
// layout (spec §4.J).
type PartitionCollector struct {
	parts PartitionStats

	nrAssignedDesc *prom.Desc
	waysDesc       *prom.Desc
	appCountDesc   *prom.Desc
}

// NewPartitionCollector creates a collector over a partition set.
func NewPartitionCollector(parts PartitionStats) *PartitionCollector {
	return &PartitionCollector{
		parts: parts,

		nrAssignedDesc: prom.NewDesc(
			prom.BuildFQName(namespace, partSubsystem, "assigned"),
			"Number of cache partitions currently assigned", nil, nil),
		waysDesc: prom.NewDesc(
			prom.BuildFQName(namespace, partSubsystem, "ways"),
			"Number of cache ways owned by a partition", []string{"clos"}, nil),
		appCountDesc: prom.NewDesc(
			prom.BuildFQName(namespace, partSubsystem, "app_count"),
			"Number of applications sharing a partition", []string{"clos"}, nil),
	}
}

func (c *PartitionCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.nrAssignedDesc
	ch <- c.waysDesc
	ch <- c.appCountDesc
}

func (c *PartitionCollector) Collect(ch chan<- prom.Metric) {
	ch <- prom.MustNewConstMetric(c.nrAssignedDesc, prom.GaugeValue, float64(c.parts.NrAssigned()))

	for _, p := range c.parts.Partitions() {
		clos := fmt.Sprintf("%d", p.ClosID)
		ch <- prom.MustNewConstMetric(c.waysDesc, prom.GaugeValue, float64(p.NrWays), clos)
		ch <- prom.MustNewConstMetric(c.appCountDesc, prom.GaugeValue, float64(p.AppCount), clos)
	}
}
