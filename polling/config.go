// Copyright 2026 The go-insnav Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package polling

import (
	"fmt"
	"time"
)

// SleepRecoveryConfig configures automatic recovery after host sleep/wake
type SleepRecoveryConfig struct {
	// Enabled enables sleep detection and recovery attempts
	Enabled bool

	// TimeDiscontinuityThreshold is the minimum elapsed time beyond the expected
	// poll interval that indicates a sleep occurred. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of reconnect attempts before
	// treating as a fatal error. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns sensible defaults for sleep recovery
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep checks if the elapsed time since last poll indicates a system sleep.
// Returns true if elapsed time exceeds (pollInterval + TimeDiscontinuityThreshold).
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	expectedMax := pollInterval + cfg.TimeDiscontinuityThreshold
	return elapsed > expectedMax
}

// Config holds polling configuration options
type Config struct {
	// MessageIDs are requested in order on every cycle.
	MessageIDs []byte
	// Interval is the time between the start of two cycles.
	Interval time.Duration
	// Timeout bounds a single log request. Zero uses the client timeout.
	Timeout time.Duration
	// StaleAfter marks a message stale when no fresh copy arrived for this
	// long. Zero disables stale tracking.
	StaleAfter time.Duration
	// SleepRecovery configures reconnecting after host sleep/wake cycles
	SleepRecovery SleepRecoveryConfig
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() *Config {
	return &Config{
		Interval:      250 * time.Millisecond,
		StaleAfter:    2 * time.Second,
		SleepRecovery: DefaultSleepRecoveryConfig(),
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive, got %v", c.Interval)
	}
	if len(c.MessageIDs) == 0 {
		return fmt.Errorf("no message ids to poll")
	}
	if c.Timeout < 0 || c.StaleAfter < 0 {
		return fmt.Errorf("polling timeouts must not be negative")
	}
	return nil
}
