// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package partition

import "github.com/pmctrack/pmctrackd/internal/pmcerr"

// AssignApp places app into a partition (spec §4.J "Application
// placement"; `assign_partition_to_application` in the original). When
// forced is non-nil it is used outright. Otherwise app.Hint is honored
// if it still names a currently-assigned partition; failing that, the
// least-loaded assigned partition is used, allocating a new one if none
// exists yet. Once any partition is assigned, app joins the least-loaded
// one, so running out of free CLOSes never leaves app unpartitioned; an
// OutOfResource error is returned only when the set has neither a free
// CLOS nor an assigned partition.
func (ps *PartitionSet) AssignApp(app *App, forced *Partition) (*Partition, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if forced != nil {
		ps.addApp(forced, app)
		return forced, nil
	}

	if len(ps.free) == 0 && len(ps.assigned) == 0 {
		return nil, pmcerr.New(pmcerr.OutOfResource, "partition.AssignApp", errNoFreePartition())
	}

	part := ps.leastLoadedPartition(app.Hint)
	if part == nil {
		if len(ps.free) == 0 {
			app.Current = nil
			return nil, nil
		}
		var err error
		part, err = ps.allocateLocked()
		if err != nil {
			return nil, err
		}
	}
	ps.addApp(part, app)
	return part, nil
}

// leastLoadedPartition returns hint if it is still assigned, otherwise
// the assigned partition with the fewest members, or nil if none are
// assigned (`get_least_loaded_partition` in the original).
func (ps *PartitionSet) leastLoadedPartition(hint *Partition) *Partition {
	if len(ps.assigned) == 0 {
		return nil
	}
	if hint != nil {
		for _, p := range ps.assigned {
			if p == hint {
				return p
			}
		}
	}
	var best *Partition
	bestLoad := -1
	for _, p := range ps.assigned {
		load := len(p.Members)
		if bestLoad == -1 || load < bestLoad {
			bestLoad = load
			best = p
		}
	}
	return best
}

// Move explicitly reassigns app from its current partition (if any) to
// to, splicing app out of the old partition's membership list and into
// to's (spec §4.J "explicit move"; `move_app_to_partition` in the
// original). The CLOS/RMID hardware update this implies is deferred:
// Move only queues app on the deferred-assignment list, which a caller
// drains with DrainDeferred on its own schedule, matching the
// original's "THIS SHOULD BE DEFERRED WORK" comment.
func (ps *PartitionSet) Move(app *App, to *Partition) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if app.Current == to {
		return
	}
	ps.removeApp(app)
	ps.addApp(to, app)
	ps.deferred = append(ps.deferred, app)
}

// RemoveApp removes app from its current partition's membership list,
// if any (`remove_application_from_partition` in the original).
func (ps *PartitionSet) RemoveApp(app *App) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.removeApp(app)
}

// DrainDeferred returns and clears the deferred CLOS/RMID-assignment
// list accumulated by Move. Callers apply it by reprogramming each
// app's active threads' CLOS/RMID on their own cadence, rather than
// inline with the move itself.
func (ps *PartitionSet) DrainDeferred() []*App {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := ps.deferred
	ps.deferred = nil
	return out
}

// Recluster classifies apps and runs LFOC over the live set, then
// applies the resulting clustering to the partition set: it is the
// entry point a periodic reclustering loop calls in place of the
// dropped `pmcsched.c` scheduling-plugin infrastructure (spec §4.J
// "LFOC clustering"). It returns the Result so the caller can log or
// export it.
func (ps *PartitionSet) Recluster(apps []*App, nrWays, maxStreaming int, usePairClustering bool, maxWaysStreamingPart int, collideStreamingParts bool) Result {
	ClassifyApps(apps)
	result := RunLFOC(apps, nrWays, maxStreaming, usePairClustering, maxWaysStreamingPart, collideStreamingParts)
	ps.apply(result)
	return result
}

// apply maps a fresh clustering onto the live partition set: each
// cluster claims one partition (allocating if the set does not already
// have that many) and every app in it, sensitive or light, is moved
// there. Partitions no cluster claims anymore end up empty and are
// freed with fair-share rebalancing.
func (ps *PartitionSet) apply(result Result) {
	for i, cluster := range result.Clusters {
		part := ps.partitionAt(i)
		if part == nil {
			var err error
			part, err = ps.Allocate()
			if err != nil {
				continue
			}
		}
		for _, app := range cluster.Apps {
			ps.Move(app, part)
		}
		for _, app := range cluster.Light {
			ps.Move(app, part)
		}
	}
	ps.RemoveEmptyPartitions(true)
}

func (ps *PartitionSet) partitionAt(i int) *Partition {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if i < 0 || i >= len(ps.assigned) {
		return nil
	}
	return ps.assigned[i]
}

func (ps *PartitionSet) addApp(p *Partition, app *App) {
	if p == nil {
		return
	}
	p.Members = append(p.Members, app)
	p.AppCount = len(p.Members)
	app.Current = p
}

func (ps *PartitionSet) removeApp(app *App) {
	p := app.Current
	if p == nil {
		return
	}
	for i, a := range p.Members {
		if a == app {
			p.Members = append(p.Members[:i:i], p.Members[i+1:]...)
			break
		}
	}
	p.AppCount = len(p.Members)
	app.Current = nil
}
