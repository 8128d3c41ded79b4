//go:build deadlock

// Package syncutil provides the mutex types used by the client session.
// This file is compiled when building with -tags=deadlock.
package syncutil

import (
	"os"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether the build checks for deadlocks.
const DeadlockDetection = true

// HoldTimeoutEnv overrides how long a lock may be held before it is
// reported, as a duration string.
const HoldTimeoutEnv = "INSNAV_DEADLOCK_TIMEOUT"

// An exchange holds the session lock for a whole request/response round
// trip, so the library default of 30s only fits short client timeouts.
func init() {
	if v := os.Getenv(HoldTimeoutEnv); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			deadlock.Opts.DeadlockTimeout = d
		}
	}
}

// Mutex wraps deadlock.Mutex for deadlock detection.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex for deadlock detection.
type RWMutex struct {
	deadlock.RWMutex
}
