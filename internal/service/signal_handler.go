// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
)

// SignalHandler is a service.Runner that stops the daemon's run group on
// receipt of any of the given OS signals, grounding pmctrackd's own
// Ctrl-C/SIGTERM shutdown path in the rest of the tree's structured-logging
// convention rather than writing directly to stdout.
type SignalHandler struct {
	signals []os.Signal
	logger  *slog.Logger
}

// NewSignalHandler builds a SignalHandler for the given signals. A nil
// logger falls back to slog.Default().
func NewSignalHandler(logger *slog.Logger, signals ...os.Signal) *SignalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalHandler{
		signals: signals,
		logger:  logger.With("service", "signal-handler"),
	}
}

func (sh *SignalHandler) Name() string {
	return "signal-handler"
}

func (sh *SignalHandler) Run(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, sh.signals...)
	sh.logger.Info("waiting for shutdown signal", "signals", sh.signals)

	select {
	case <-c:
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}
