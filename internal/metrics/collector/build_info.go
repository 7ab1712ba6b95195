// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector implements the individual prometheus.Collector
// implementations mounted by internal/metrics.
package collector

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/pmctrack/pmctrackd/internal/version"
)

const (
	namespace        = "pmctrack"
	buildSubsystem   = "build"
	rdtSubsystem     = "rdt"
	partSubsystem    = "partition"
	ringbufSubsystem = "ringbuffer"
)

// BuildInfoCollector exposes the running binary's version metadata.
type BuildInfoCollector struct {
	buildInfo *prom.GaugeVec
}

// NewBuildInfoCollector creates a new collector for build information.
func NewBuildInfoCollector() *BuildInfoCollector {
	buildInfo := prom.NewGaugeVec(
		prom.GaugeOpts{
			Namespace: namespace,
			Subsystem: buildSubsystem,
			Name:      "info",
			Help:      "A metric with a constant '1' value labeled with version information",
		},
		[]string{"arch", "branch", "revision", "version", "goversion"},
	)

	return &BuildInfoCollector{buildInfo: buildInfo}
}

func (c *BuildInfoCollector) Describe(ch chan<- *prom.Desc) {
	c.buildInfo.Describe(ch)
}

func (c *BuildInfoCollector) Collect(ch chan<- prom.Metric) {
	info := version.Get()

	c.buildInfo.WithLabelValues(
		info.GoArch,
		info.GitBranch,
		info.GitCommit,
		info.Version,
		info.GoVersion,
	).Set(1)

	c.buildInfo.Collect(ch)
}
