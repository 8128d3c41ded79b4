//go:build !deadlock

// Package syncutil provides the mutex types used by the client session.
// By default they are plain sync.Mutex and sync.RWMutex with zero overhead.
// Build with -tags=deadlock to check lock ordering and long holds via
// github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// DeadlockDetection reports whether the build checks for deadlocks.
const DeadlockDetection = false

// Mutex wraps sync.Mutex. Build with -tags=deadlock for deadlock detection.
//
//nolint:gocritic // Intentionally embedding sync.Mutex to expose its interface
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex. Build with -tags=deadlock for deadlock detection.
//
//nolint:gocritic // Intentionally embedding sync.RWMutex to expose its interface
type RWMutex struct {
	sync.RWMutex
}
