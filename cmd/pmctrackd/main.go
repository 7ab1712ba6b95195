/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/pmctrack/pmctrackd/internal/bridge"
	"github.com/pmctrack/pmctrackd/internal/config"
	"github.com/pmctrack/pmctrackd/internal/control"
	"github.com/pmctrack/pmctrackd/internal/engine"
	"github.com/pmctrack/pmctrackd/internal/eventset"
	"github.com/pmctrack/pmctrackd/internal/logger"
	"github.com/pmctrack/pmctrackd/internal/metrics"
	"github.com/pmctrack/pmctrackd/internal/modmgr"
	"github.com/pmctrack/pmctrackd/internal/modules/cat"
	"github.com/pmctrack/pmctrackd/internal/modules/dummy"
	"github.com/pmctrack/pmctrackd/internal/modules/ipc"
	"github.com/pmctrack/pmctrackd/internal/pmu"
	"github.com/pmctrack/pmctrackd/internal/rdt"
	"github.com/pmctrack/pmctrackd/internal/server"
	"github.com/pmctrack/pmctrackd/internal/service"
	"github.com/pmctrack/pmctrackd/internal/syswide"
	"github.com/pmctrack/pmctrackd/internal/version"
)

// sampleClock tracks the last time the monitoring core produced a
// sample, satisfying internal/server's SampleProvider for the
// liveness/readiness probes.
type sampleClock struct {
	mu   sync.RWMutex
	last time.Time
}

func (c *sampleClock) tick() {
	c.mu.Lock()
	c.last = time.Now()
	c.mu.Unlock()
}

func (c *sampleClock) LastSampleTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// noopWriter is the CLOS writer handed to the CAT module, which is only
// built when RDT is enabled: the module's CLOS/partition bookkeeping
// runs, but no CBM is ever actually programmed onto hardware.
type noopWriter struct{}

func (noopWriter) WriteCLOS(cpu, clos int, mask uint64) error { return nil }

func main() {
	app := kingpin.New("pmctrackd", "OS-assisted performance-monitoring daemon")
	app.Version(fmt.Sprintf("pmctrackd %s (%s)", version.Get().Version, version.Get().GitCommit))
	app.HelpFlag.Short('h')

	configFile := app.Flag("config.file", "Path to a YAML configuration file").String()
	updateConfig := config.RegisterFlags(app)

	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.FromFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pmctrackd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := updateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "pmctrackd: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	log.Info("starting pmctrackd", "version", version.Get().Version)
	log.Debug("loaded configuration", "config", cfg.String())

	probe, err := pmu.Init(pmu.HostCapabilityQuery{}, pmu.NewHostInterruptInstaller())
	if err != nil {
		log.Error("failed to probe PMU", "error", err)
		os.Exit(1)
	}

	programmers := map[int]eventset.Programmer{}
	for _, ct := range probe.CoreTypes() {
		programmers[ct] = eventset.NewSoftwareBank()
	}

	sw := syswide.New(probe, programmers, nil)
	reg := control.NewRegistry()

	mgr := modmgr.New()
	mgr.MountControl(reg)

	eng := engine.New(probe, programmers,
		engine.WithLogger(log),
		engine.WithSyswideActive(sw.Active),
		engine.WithOnNewSample(mgr.DispatchNewSample),
	)

	_ = bridge.New(eng, reg, bridge.WithSyswide(sw), bridge.WithModuleLister(mgr))

	samples := &sampleClock{}

	dummyID, err := mgr.Register(dummy.New())
	if err != nil {
		log.Error("failed to register dummy module", "error", err)
		os.Exit(1)
	}
	if _, err := mgr.Register(ipc.New()); err != nil {
		log.Error("failed to register ipc module", "error", err)
		os.Exit(1)
	}

	var catPools cat.Pools
	var catCtrl *cat.Control
	if cfg.RDT.Enabled {
		catCfg := cat.Config{
			RMIDCount:         cfg.RDT.RMIDCount,
			CLOSCount:         cfg.RDT.CLOSCount,
			CBMLength:         32,
			WidthMask:         0xffffffff,
			UpscalingFactor:   1,
			Policy:            rdt.FIFO,
			AllocationSeed:    time.Now().UnixNano(),
			UsePairClustering: true,
			ReclusterInterval: cfg.RDT.ReclusterInterval,
		}
		catModule, pools, ctrl, err := cat.New(catCfg, noopWriter{}, probe.CPUs())
		if err != nil {
			log.Error("failed to build cat module", "error", err)
			os.Exit(1)
		}
		if _, err := mgr.Register(catModule); err != nil {
			log.Error("failed to register cat module", "error", err)
			os.Exit(1)
		}
		catPools = pools
		catCtrl = ctrl
	}

	if _, err := mgr.Activate(dummyID); err != nil {
		log.Error("failed to activate default module", "error", err)
		os.Exit(1)
	}

	apiServer := server.NewAPIServer(
		server.WithLogger(log),
		server.WithListenAddress([]string{cfg.Server.ListenAddress}),
	)

	// System-wide mode allocates its ring buffer lazily on "syswide on", so
	// there is nothing live to expose through the ring-buffer collector at
	// startup; the RDT/CAT pools, by contrast, exist as soon as the module
	// is registered.
	exporterOpts := []metrics.OptionFn{metrics.WithLogger(log)}
	if cfg.RDT.Enabled {
		exporterOpts = append(exporterOpts, metrics.WithCollectors(
			metrics.CreateCollectors(catPools.RMID, catPools.CAT, catPools.Partition, nil)))
	} else {
		exporterOpts = append(exporterOpts, metrics.WithCollectors(metrics.CreateCollectors(nil, nil, nil, nil)))
	}
	exporter := metrics.NewExporter(apiServer, exporterOpts...)

	pprofSvc := server.NewPprof(apiServer)
	probeSvc := server.NewProbe(apiServer, samples)
	controlMux := server.NewControlMux(apiServer, reg)

	services := []service.Service{
		apiServer,
		pprofSvc,
		probeSvc,
		controlMux,
		exporter,
		service.NewSignalHandler(log, os.Interrupt, syscall.SIGTERM),
	}
	if catCtrl != nil {
		services = append(services, cat.NewReclusterLoop(catCtrl, cfg.RDT.ReclusterInterval, log))
	}
	services = append(services, server.NewHealthProbe(apiServer, services, log))

	if err := service.Init(log, services); err != nil {
		log.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	samples.tick()
	if err := service.Run(context.Background(), log, services); err != nil {
		log.Error("pmctrackd exited with error", "error", err)
		os.Exit(1)
	}

	log.Info("pmctrackd stopped")
}
