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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryConfig_DefaultRetryConfig(t *testing.T) {
	t.Parallel()

	config := DefaultRetryConfig()

	assert.NotNil(t, config)
	assert.Positive(t, config.MaxAttempts)
	assert.Greater(t, config.InitialBackoff, time.Duration(0))
	assert.Greater(t, config.MaxBackoff, config.InitialBackoff)
	assert.Greater(t, config.BackoffMultiplier, 1.0)
	assert.GreaterOrEqual(t, config.Jitter, 0.0)
	assert.LessOrEqual(t, config.Jitter, 1.0)
	assert.Greater(t, config.RetryTimeout, time.Duration(0))
}

// TestBackoff_Next tests exponential backoff growth without jitter
func TestBackoff_Next(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		initial    time.Duration
		maxDelay   time.Duration
		multiplier float64
		want       []time.Duration
	}{
		{
			name:       "Normal exponential growth",
			initial:    100 * time.Millisecond,
			maxDelay:   5 * time.Second,
			multiplier: 2.0,
			want:       []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
		},
		{
			name:       "Hits maximum backoff limit",
			initial:    3 * time.Second,
			maxDelay:   5 * time.Second,
			multiplier: 2.0,
			want:       []time.Duration{3 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name:       "Fractional multiplier",
			initial:    200 * time.Millisecond,
			maxDelay:   10 * time.Second,
			multiplier: 1.5,
			want:       []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 450 * time.Millisecond},
		},
		{
			name:       "Multiplier below one is flat",
			initial:    50 * time.Millisecond,
			maxDelay:   time.Second,
			multiplier: 0.5,
			want:       []time.Duration{50 * time.Millisecond, 50 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bo := newBackoff(tt.initial, tt.maxDelay, tt.multiplier, 0)
			for i, want := range tt.want {
				assert.Equal(t, want, bo.next(), "step %d", i)
			}
			bo.reset(tt.initial)
			assert.Equal(t, tt.initial, bo.next())
		})
	}
}

// TestJittered tests jitter application to backoff
func TestJittered(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		base   time.Duration
		factor float64
	}{
		{name: "No jitter", base: 100 * time.Millisecond, factor: 0},
		{name: "Ten percent", base: 100 * time.Millisecond, factor: 0.1},
		{name: "Full jitter", base: 10 * time.Millisecond, factor: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			upper := tt.base + time.Duration(tt.factor*float64(tt.base))
			for range 200 {
				got := jittered(tt.base, tt.factor)
				assert.GreaterOrEqual(t, got, tt.base)
				assert.LessOrEqual(t, got, upper)
			}
		})
	}

	assert.Zero(t, jittered(0, 0.5))
}

type callTracker struct {
	calls int
}

// TestRetryWithConfig tests the main retry logic
func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	fast := func(attempts int) *RetryConfig {
		return &RetryConfig{
			MaxAttempts:       attempts,
			InitialBackoff:    1 * time.Microsecond, // Minimal delay for fast tests
			MaxBackoff:        10 * time.Microsecond,
			BackoffMultiplier: 2.0,
			Jitter:            0.0,
			RetryTimeout:      100 * time.Millisecond,
		}
	}

	tests := []struct {
		name          string
		config        *RetryConfig
		failures      int
		failWith      error
		expectedError string
		expectedCalls int
	}{
		{
			name:          "Success on first attempt",
			config:        fast(3),
			expectedCalls: 1,
		},
		{
			name:          "Success after retries",
			config:        fast(3),
			failures:      2,
			failWith:      NewTimeoutError("dial", "10.0.0.5:3000"),
			expectedCalls: 3,
		},
		{
			name:          "Non-retryable error fails immediately",
			config:        fast(3),
			failures:      3,
			failWith:      &ResponseError{Code: 3, Text: "channel 31 in use"},
			expectedError: "channel 31 in use",
			expectedCalls: 1,
		},
		{
			name:          "Retryable error exhausts attempts",
			config:        fast(2),
			failures:      5,
			failWith:      NewTimeoutError("dial", "10.0.0.5:3000"),
			expectedError: "timeout",
			expectedCalls: 2,
		},
		{
			name:          "Zero attempts runs once",
			config:        fast(0),
			failures:      5,
			failWith:      NewTimeoutError("dial", "10.0.0.5:3000"),
			expectedError: "timeout",
			expectedCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tracker := &callTracker{}
			err := RetryWithConfig(context.Background(), tt.config, func(context.Context) error {
				tracker.calls++
				if tracker.calls <= tt.failures {
					return tt.failWith
				}
				return nil
			})

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expectedCalls, tracker.calls)
		})
	}
}

// TestRetryWithConfig_ContextCancellation tests context cancellation behavior
func TestRetryWithConfig_ContextCancellation(t *testing.T) {
	t.Parallel()

	config := &RetryConfig{
		MaxAttempts:       1000,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1.0,
		RetryTimeout:      time.Minute,
	}

	tracker := &callTracker{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := RetryWithConfig(ctx, config, func(context.Context) error {
		tracker.calls++
		return NewTimeoutError("dial", "port") // Always retryable
	})

	require.Error(t, err)
	require.ErrorIs(t, err, ErrTransportTimeout, "last attempt error is returned")
	assert.Less(t, tracker.calls, 1000)

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	err = RetryWithConfig(canceled, config, func(context.Context) error {
		t.Fatal("must not run with a finished context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTransportTimeout))
}
