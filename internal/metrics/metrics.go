// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes the daemon's internal state as Prometheus
// metrics: the virtual-counter ring buffers, the RDT RMID/CLOS pools,
// and the cache-partitioning engine (spec §4.I/.J), mounted alongside
// the control-file surface on internal/server.
package metrics

import (
	"log/slog"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pmctrack/pmctrackd/internal/metrics/collector"
	"github.com/pmctrack/pmctrackd/internal/service"
)

// APIRegistry mounts a handler on the daemon's HTTP API server.
// internal/server.APIService satisfies this.
type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

// Opts holds Exporter construction options.
type Opts struct {
	logger          *slog.Logger
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

// OptionFn sets one or more options in Opts.
type OptionFn func(*Opts)

// DefaultOpts returns the default Opts: the Go runtime collector
// enabled, no domain collectors registered.
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		debugCollectors: map[string]bool{
			"go": true,
		},
		collectors: map[string]prom.Collector{},
	}
}

// WithLogger sets the logger for the Exporter.
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithDebugCollectors enables the named stdlib debug collectors ("go", "process").
func WithDebugCollectors(names []string) OptionFn {
	return func(o *Opts) {
		for _, name := range names {
			o.debugCollectors[name] = true
		}
	}
}

// WithCollectors sets the named domain collectors to register on Init.
func WithCollectors(c map[string]prom.Collector) OptionFn {
	return func(o *Opts) {
		o.collectors = c
	}
}

// Exporter mounts a Prometheus registry's "/metrics" handler on an
// APIRegistry (spec: ambient observability surface, no corresponding
// spec module on its own).
type Exporter struct {
	logger          *slog.Logger
	registry        *prom.Registry
	server          APIRegistry
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

var (
	_ service.Service     = (*Exporter)(nil)
	_ service.Initializer = (*Exporter)(nil)
)

// NewExporter creates an Exporter that registers "/metrics" on s.
func NewExporter(s APIRegistry, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		server:          s,
		logger:          opts.logger.With("service", "metrics"),
		debugCollectors: opts.debugCollectors,
		collectors:      opts.collectors,
		registry:        prom.NewRegistry(),
	}
}

func collectorForName(name string) (prom.Collector, error) {
	switch name {
	case "go":
		return collectors.NewGoCollector(), nil
	case "process":
		return collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), nil
	default:
		return nil, errUnknownCollector(name)
	}
}

// CreateCollectors builds the standard set of domain collectors: build
// info plus, for each stats source that is non-nil, its collector.
func CreateCollectors(rdt collector.RDTPoolStats, cat collector.CATPoolStats, parts collector.PartitionStats, buf collector.RingBufferStats) map[string]prom.Collector {
	cs := map[string]prom.Collector{
		"build_info": collector.NewBuildInfoCollector(),
	}
	if rdt != nil || cat != nil {
		cs["rdt"] = collector.NewRDTCollector(rdt, cat)
	}
	if parts != nil {
		cs["partition"] = collector.NewPartitionCollector(parts)
	}
	if buf != nil {
		cs["ringbuffer"] = collector.NewRingBufferCollector(buf)
	}
	return cs
}

// Name implements service.Service.
func (e *Exporter) Name() string {
	return "metrics"
}

// Init registers every enabled collector and mounts "/metrics".
func (e *Exporter) Init() error {
	e.logger.Info("Initializing metrics exporter")
	for name := range e.debugCollectors {
		c, err := collectorForName(name)
		if err != nil {
			e.logger.Error("Error creating collector", "collector", name, "error", err)
			return err
		}
		e.registry.MustRegister(c)
	}

	for name, c := range e.collectors {
		e.logger.Info("Enabling collector", "collector", name)
		e.registry.MustRegister(c)
	}

	return e.server.Register("/metrics", "Metrics", "Prometheus metrics",
		promhttp.HandlerFor(
			e.registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          e.registry,
			},
		))
}
