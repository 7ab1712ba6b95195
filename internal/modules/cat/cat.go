// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

// Package cat implements the reference cache-partitioning monitoring
// module (spec §4.H, §4.I, §4.J): it wires internal/rdt's RMID/CLOS
// pools and internal/partition's partition set into the module-manager
// callback surface, tracking per-thread RMID assignment and exporting
// memory-bandwidth as a virtual counter.
package cat

import (
	"fmt"
	"sync"
	"time"

	"github.com/pmctrack/pmctrackd/internal/modmgr"
	"github.com/pmctrack/pmctrackd/internal/partition"
	"github.com/pmctrack/pmctrackd/internal/pmcerr"
	"github.com/pmctrack/pmctrackd/internal/rdt"
	"github.com/pmctrack/pmctrackd/internal/ringbuffer"
)

// bandwidthLogicalCounter is the reserved raw counter slot carrying the
// MBM hardware counter (spec §4.I "MBM").
const bandwidthLogicalCounter = 0

// Defaults applied to the Config fields that drive periodic
// reclustering when the caller leaves them at the zero value.
const (
	defaultMaxStreamingApps             = 4
	defaultMaxWaysPerStreamingPartition = 2
	defaultBandwidthSaturation          = 1 << 30 // 1 GiB/s, a conservative single-core MBM ceiling
	defaultReclusterInterval            = 2 * time.Second
)

// Config sizes the RMID and CLOS pools this module owns and parameterizes
// the LFOC reclustering loop (spec §4.J "LFOC clustering").
type Config struct {
	RMIDCount       int
	CLOSCount       int
	CBMLength       int
	WidthMask       uint64
	UpscalingFactor uint64
	Policy          rdt.AllocPolicy
	AllocationSeed  int64

	// MaxStreamingApps bounds how many streaming apps the reserved
	// streaming region is sized for (RunLFOC's maxStreaming).
	MaxStreamingApps int
	// MaxWaysPerStreamingPartition caps a single streaming partition.
	MaxWaysPerStreamingPartition int
	// UsePairClustering selects LFOC's pair-clustering core over the
	// flatter UCP-lookahead fallback.
	UsePairClustering bool
	// CollideStreamingPartitions packs every streaming app into one
	// shared partition instead of splitting them across several.
	CollideStreamingPartitions bool
	// BandwidthSaturation normalizes a thread's most recent MBM sample
	// into the [0,1] intensity estimateCurves uses to stand in for the
	// per-way occupancy profile this module has no hardware to probe.
	BandwidthSaturation uint64
	// ReclusterInterval is how often NewReclusterLoop reclassifies the
	// live app set and re-runs LFOC over it.
	ReclusterInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxStreamingApps <= 0 {
		c.MaxStreamingApps = defaultMaxStreamingApps
	}
	if c.MaxWaysPerStreamingPartition <= 0 {
		c.MaxWaysPerStreamingPartition = defaultMaxWaysPerStreamingPartition
	}
	if c.BandwidthSaturation == 0 {
		c.BandwidthSaturation = defaultBandwidthSaturation
	}
	if c.ReclusterInterval <= 0 {
		c.ReclusterInterval = defaultReclusterInterval
	}
	return c
}

type threadState struct {
	rmid   int
	app    *partition.App
	lastBW uint64
}

// Pools exposes the module's underlying RMID/CLOS/partition state, for
// callers that need to read pool occupancy (e.g. internal/metrics)
// without threading a second, independently-tracked set of pools.
type Pools struct {
	RMID      *rdt.RMIDPool
	CAT       *rdt.CATPool
	Partition *partition.PartitionSet
}

// Reclusterer reclassifies the live app set and re-runs LFOC over it,
// moving apps to match the result (spec §4.J "LFOC clustering"). It is
// the hook NewReclusterLoop drives periodically, standing in for the
// scheduling-plugin infrastructure (`pmcsched.c`) this port does not
// carry forward.
type Reclusterer func() partition.Result

// Control exposes administrative operations over the module's live app
// set that have no room on the modmgr.Module callback surface (spec
// §4.J "Application placement").
type Control struct {
	recluster Reclusterer
	pin       func(tid int, to *partition.Partition) error
}

// Recluster reclassifies the live app set and re-runs LFOC over it.
func (c *Control) Recluster() partition.Result {
	return c.recluster()
}

// Pin explicitly moves tid's app to partition to and records to as its
// placement hint, which PartitionSet.AssignApp consults; reclustering
// does not consult the hint (spec §4.J "hint-based placement", "explicit move";
// `move_app_to_partition` in the original).
func (c *Control) Pin(tid int, to *partition.Partition) error {
	return c.pin(tid, to)
}

// New builds the module. cpus lists every CPU the CAT pool must program
// its all-ways default onto at init (spec §4.I "CAT").
func New(cfg Config, writer rdt.CLOSWriter, cpus []int) (*modmgr.Module, Pools, *Control, error) {
	cfg = cfg.withDefaults()

	rmidPool, err := rdt.NewRMIDPool(cfg.RMIDCount, cfg.WidthMask, cfg.UpscalingFactor, cfg.Policy, cfg.AllocationSeed)
	if err != nil {
		return nil, Pools{}, nil, err
	}
	catPool, err := rdt.NewCATPool(cfg.CLOSCount, cfg.CBMLength, writer, cpus)
	if err != nil {
		return nil, Pools{}, nil, err
	}
	partSet, err := partition.NewPartitionSet(cfg.CLOSCount, cfg.CBMLength, catPool)
	if err != nil {
		return nil, Pools{}, nil, err
	}
	pools := Pools{RMID: rmidPool, CAT: catPool, Partition: partSet}

	var mu sync.Mutex
	threads := map[int]*threadState{}

	onFork := func(tid int) {
		mu.Lock()
		defer mu.Unlock()

		rmid, err := rmidPool.GetRMID()
		if err != nil {
			return
		}
		app := &partition.App{ID: tid}
		if _, err := partSet.AssignApp(app, nil); err != nil {
			_ = rmidPool.PutRMID(rmid)
			return
		}
		threads[tid] = &threadState{rmid: rmid, app: app}
	}

	onExit := func(tid int) {
		mu.Lock()
		defer mu.Unlock()

		ts, ok := threads[tid]
		if !ok {
			return
		}
		delete(threads, tid)
		_ = rmidPool.PutRMID(ts.rmid)
		partSet.RemoveApp(ts.app)
	}

	onNewSample := func(s *ringbuffer.Sample) []uint64 {
		if s.CounterCount <= bandwidthLogicalCounter {
			return nil
		}
		mu.Lock()
		ts, ok := threads[s.ThreadID]
		mu.Unlock()
		if !ok {
			return []uint64{0}
		}
		scaled, err := rmidPool.PollMBM(ts.rmid, s.CounterValues[bandwidthLogicalCounter])
		if err != nil {
			return []uint64{0}
		}
		ts.lastBW = scaled
		return []uint64{scaled}
	}

	recluster := func() partition.Result {
		mu.Lock()
		apps := make([]*partition.App, 0, len(threads))
		for _, ts := range threads {
			ts.app.Class = partition.ClassUnknown
			ts.app.SlowdownCurve, ts.app.MissCurve = estimateCurves(ts.lastBW, cfg.BandwidthSaturation, cfg.CBMLength)
			apps = append(apps, ts.app)
		}
		mu.Unlock()

		return partSet.Recluster(apps, cfg.CBMLength, cfg.MaxStreamingApps,
			cfg.UsePairClustering, cfg.MaxWaysPerStreamingPartition, cfg.CollideStreamingPartitions)
	}

	pin := func(tid int, to *partition.Partition) error {
		mu.Lock()
		ts, ok := threads[tid]
		mu.Unlock()
		if !ok {
			return pmcerr.New(pmcerr.ConfigRejected, "cat.Pin", fmt.Errorf("no monitored thread %d", tid))
		}
		ts.app.Hint = to
		partSet.Move(ts.app, to)
		return nil
	}
	ctrl := &Control{recluster: recluster, pin: pin}

	return &modmgr.Module{
		Name: "cat",
		Usage: func() modmgr.CounterUsage {
			return modmgr.CounterUsage{
				PhysicalMask:   0x1 << bandwidthLogicalCounter,
				VirtualCount:   1,
				VirtualNames:   []string{"mem_bw_scaled"},
				NumExperiments: 1,
			}
		},
		Enable:      func() error { return nil },
		Disable:     func() error { return nil },
		OnFork:      onFork,
		OnExit:      onExit,
		OnNewSample: onNewSample,
		OnFreeTask: func(tid int, _ interface{}) {
			onExit(tid)
		},
	}, pools, ctrl, nil
}

// estimateCurves derives a monotone-decreasing slowdown/miss curve pair
// from a thread's most recently observed scaled memory-bandwidth value.
// LFOC clustering reasons over a per-way profile, but this module has
// no per-way occupancy-probing hardware wired (the original's UMON
// support in intel_rdt_core.c is not carried forward); curves are
// instead a heuristic function of bandwidth intensity, diminishing
// toward a floor as more ways are given.
func estimateCurves(bw, saturation uint64, maxWays int) (slowdown, miss []float64) {
	if maxWays < 0 {
		maxWays = 0
	}
	intensity := float64(bw) / float64(saturation)
	if intensity > 1 {
		intensity = 1
	}
	slowdown = make([]float64, maxWays+1)
	miss = make([]float64, maxWays+1)
	for w := 0; w <= maxWays; w++ {
		decay := intensity / float64(w+1)
		miss[w] = decay
		slowdown[w] = 1 + decay
	}
	if maxWays >= 1 {
		slowdown[0], miss[0] = slowdown[1], miss[1]
	}
	return slowdown, miss
}
