// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package cat

import (
	"context"
	"log/slog"
	"time"
)

// ReclusterLoop periodically drives a Reclusterer, standing in for the
// scheduling-plugin infrastructure (`pmcsched.c`) that drove LFOC
// reclustering in the original (spec §4.J "LFOC clustering").
type ReclusterLoop struct {
	logger   *slog.Logger
	ctrl     *Control
	interval time.Duration
	ticker   *time.Ticker
}

// NewReclusterLoop builds a ReclusterLoop that calls ctrl.Recluster
// every interval once started.
func NewReclusterLoop(ctrl *Control, interval time.Duration, logger *slog.Logger) *ReclusterLoop {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultReclusterInterval
	}
	return &ReclusterLoop{logger: logger.With("service", "cat.recluster"), ctrl: ctrl, interval: interval}
}

func (l *ReclusterLoop) Init() error {
	l.ticker = time.NewTicker(l.interval)
	return nil
}

func (l *ReclusterLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-l.ticker.C:
			result := l.ctrl.Recluster()
			l.logger.Debug("reclustered applications", "clusters", len(result.Clusters))
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *ReclusterLoop) Shutdown() error {
	if l.ticker != nil {
		l.ticker.Stop()
	}
	return nil
}

// Name implements service.Service.
func (l *ReclusterLoop) Name() string {
	return "cat.recluster"
}
