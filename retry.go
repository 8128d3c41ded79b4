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

package insnav

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Connection retry defaults control dialing and reconnecting.
const (
	// DefaultDialAttempts is the number of attempts to open a connection.
	DefaultDialAttempts = 3
	// DialInitialBackoff is the delay before the second dial attempt.
	DialInitialBackoff = 200 * time.Millisecond
	// DialMaxBackoff caps the delay between dial attempts.
	DialMaxBackoff = 2 * time.Second
	// DialBackoffMultiplier is the exponential backoff multiplier.
	DialBackoffMultiplier = 2.0
	// DialJitter is the random jitter factor (0.0-1.0) to prevent thundering herd.
	DialJitter = 0.1
	// DialRetryTimeout bounds all dial attempts together.
	DialRetryTimeout = 15 * time.Second
)

// Reader backoff after a non-timeout read error. The reader keeps polling a
// failing transport; these bound how hard it spins.
const (
	readErrorInitialBackoff = 10 * time.Millisecond
	readErrorMaxBackoff     = 500 * time.Millisecond
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (0 = single attempt, no retry)
	MaxAttempts int `yaml:"max_attempts" toml:"max_attempts"`
	// InitialBackoff is the delay after the first failure
	InitialBackoff time.Duration `yaml:"initial_backoff" toml:"initial_backoff"`
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration `yaml:"max_backoff" toml:"max_backoff"`
	// BackoffMultiplier is the factor by which the backoff increases
	BackoffMultiplier float64 `yaml:"backoff_multiplier" toml:"backoff_multiplier"`
	// Jitter adds randomness to backoff to avoid thundering herd
	Jitter float64 `yaml:"jitter" toml:"jitter"`
	// RetryTimeout is the overall timeout for all retry attempts
	RetryTimeout time.Duration `yaml:"retry_timeout" toml:"retry_timeout"`
}

// DefaultRetryConfig returns the retry configuration used for dialing
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultDialAttempts,
		InitialBackoff:    DialInitialBackoff,
		MaxBackoff:        DialMaxBackoff,
		BackoffMultiplier: DialBackoffMultiplier,
		Jitter:            DialJitter,
		RetryTimeout:      DialRetryTimeout,
	}
}

// RetryableFunc is one attempt of a retried operation
type RetryableFunc func(ctx context.Context) error

// RetryWithConfig runs fn until it succeeds, returns a non-retryable error,
// or the attempts or overall timeout run out. The last error is returned.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 0 {
		return fn(ctx)
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	bo := newBackoff(config.InitialBackoff, config.MaxBackoff, config.BackoffMultiplier, config.Jitter)
	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}
		delay := bo.next()
		Debugf("attempt %d/%d failed, retrying in %v: %v", attempt, config.MaxAttempts, delay, err)
		if !sleepCtx(ctx, delay) {
			return lastErr
		}
	}
	return lastErr
}

// backoff produces exponentially growing, jittered delays.
type backoff struct {
	cur        time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
}

func newBackoff(initial, maxDelay time.Duration, multiplier, jitter float64) *backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return &backoff{cur: initial, max: maxDelay, multiplier: multiplier, jitter: jitter}
}

// next returns the current delay plus jitter and advances the base.
func (b *backoff) next() time.Duration {
	d := jittered(b.cur, b.jitter)
	grown := time.Duration(float64(b.cur) * b.multiplier)
	if b.max > 0 && grown > b.max {
		grown = b.max
	}
	b.cur = grown
	return d
}

func (b *backoff) reset(initial time.Duration) {
	b.cur = initial
}

// jittered adds up to factor*base of random delay.
func jittered(base time.Duration, factor float64) time.Duration {
	if factor <= 0 || base <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*factor*float64(base)) //nolint:gosec // jitter, not crypto
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
