// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "context"

// Service is the minimal contract every component in the daemon
// satisfies. The optional capability interfaces below let a service
// opt into initialization, a blocking run loop, and/or graceful
// shutdown independently of one another.
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services that need one-time setup
// before Run is called. Init is not required to be thread safe.
type Initializer interface {
	Init() error
}

// Runner is implemented by services with a blocking run loop. Run is
// expected to be thread safe and return when ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that need to release
// resources after Run returns.
type Shutdowner interface {
	Shutdown() error
}

// LiveChecker is implemented by services that can report whether they
// are still functioning, independent of whether they are ready to
// serve traffic.
type LiveChecker interface {
	IsLive() bool
}

// ReadyChecker is implemented by services that can report whether
// they are ready to serve traffic.
type ReadyChecker interface {
	IsReady() bool
}
