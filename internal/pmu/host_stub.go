// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package pmu

import "fmt"

// HostCapabilityQuery is unsupported outside Linux: PMCTrack's PMU
// probe depends on perf_event_open and sysfs, both Linux-only.
type HostCapabilityQuery struct{}

func (HostCapabilityQuery) OnlineCPUs() ([]int, error) {
	return nil, fmt.Errorf("pmu: host capability query requires linux")
}

func (HostCapabilityQuery) Capability(int) (int, int, int, string, error) {
	return 0, 0, 0, "", fmt.Errorf("pmu: host capability query requires linux")
}

// HostInterruptInstaller is unsupported outside Linux.
type HostInterruptInstaller struct{}

// NewHostInterruptInstaller returns a no-op installer on non-Linux hosts.
func NewHostInterruptInstaller() *HostInterruptInstaller {
	return &HostInterruptInstaller{}
}

func (*HostInterruptInstaller) Install(cpu int) error {
	return fmt.Errorf("pmu: host interrupt installer requires linux")
}

func (*HostInterruptInstaller) Remove(int) {}
