// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

// RDTPoolStats is the subset of internal/rdt.RMIDPool that the
// collector reads at scrape time.
type RDTPoolStats interface {
	Total() int
	AssignedSnapshot() []int
}

// CATPoolStats is the subset of internal/rdt.CATPool that the
// collector reads at scrape time.
type CATPoolStats interface {
	Total() int
	FreeCount() int
}

// RDTCollector exports RMID and CLOS pool occupancy (spec §4.I).
type RDTCollector struct {
	rmid RDTPoolStats
	cat  CATPoolStats

	rmidTotalDesc    *prom.Desc
	rmidAssignedDesc *prom.Desc
	closTotalDesc    *prom.Desc
	closFreeDesc     *prom.Desc
}

// NewRDTCollector creates a collector over an RMID pool and a CLOS
// pool. Either may be nil if that resource isn't active on this host.
func NewRDTCollector(rmid RDTPoolStats, cat CATPoolStats) *RDTCollector {
	return &RDTCollector{
		rmid: rmid,
		cat:  cat,

		rmidTotalDesc: prom.NewDesc(
			prom.BuildFQName(namespace, rdtSubsystem, "rmid_total"),
			"Number of usable RMIDs in the pool", nil, nil),
		rmidAssignedDesc: prom.NewDesc(
			prom.BuildFQName(namespace, rdtSubsystem, "rmid_assigned"),
			"Number of RMIDs currently assigned", nil, nil),
		closTotalDesc: prom.NewDesc(
			prom.BuildFQName(namespace, rdtSubsystem, "clos_total"),
			"Number of usable CAT CLOSes in the pool", nil, nil),
		closFreeDesc: prom.NewDesc(
			prom.BuildFQName(namespace, rdtSubsystem, "clos_free"),
			"Number of CAT CLOSes currently unassigned", nil, nil),
	}
}

func (c *RDTCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.rmidTotalDesc
	ch <- c.rmidAssignedDesc
	ch <- c.closTotalDesc
	ch <- c.closFreeDesc
}

func (c *RDTCollector) Collect(ch chan<- prom.Metric) {
	if c.rmid != nil {
		ch <- prom.MustNewConstMetric(c.rmidTotalDesc, prom.GaugeValue, float64(c.rmid.Total()))
		ch <- prom.MustNewConstMetric(c.rmidAssignedDesc, prom.GaugeValue, float64(len(c.rmid.AssignedSnapshot())))
	}
	if c.cat != nil {
		total := c.cat.Total()
		ch <- prom.MustNewConstMetric(c.closTotalDesc, prom.GaugeValue, float64(total))
		ch <- prom.MustNewConstMetric(c.closFreeDesc, prom.GaugeValue, float64(c.cat.FreeCount()))
	}
}
