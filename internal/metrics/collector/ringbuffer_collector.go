// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	prom "github.com/prometheus/client_golang/prometheus"
)

// RingBufferStats is the subset of internal/ringbuffer.Buffer the
// collector reads at scrape time.
type RingBufferStats interface {
	Len() int
	Capacity() int
}

// RingBufferCollector exports sample ring buffer occupancy (spec §4.C).
type RingBufferCollector struct {
	buf RingBufferStats

	lenDesc *prom.Desc
	capDesc *prom.Desc
}

// NewRingBufferCollector creates a collector over a sample ring buffer.
func NewRingBufferCollector(buf RingBufferStats) *RingBufferCollector {
	return &RingBufferCollector{
		buf: buf,

		lenDesc: prom.NewDesc(
			prom.BuildFQName(namespace, ringbufSubsystem, "samples"),
			"Number of samples currently queued in the ring buffer", nil, nil),
		capDesc: prom.NewDesc(
			prom.BuildFQName(namespace, ringbufSubsystem, "capacity"),
			"Ring buffer capacity in samples", nil, nil),
	}
}

func (c *RingBufferCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.lenDesc
	ch <- c.capDesc
}

func (c *RingBufferCollector) Collect(ch chan<- prom.Metric) {
	ch <- prom.MustNewConstMetric(c.lenDesc, prom.GaugeValue, float64(c.buf.Len()))
	ch <- prom.MustNewConstMetric(c.capDesc, prom.GaugeValue, float64(c.buf.Capacity()))
}
