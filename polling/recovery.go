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
	"context"
	"fmt"
	"time"

	insnav "github.com/insnav/go-insnav"
	"github.com/insnav/go-insnav/internal/syncutil"
)

// Reconnector replaces a session's connection.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Recoverer restores a session after a sleep/wake cycle or a lost link.
type Recoverer interface {
	// AttemptRecovery tries to bring the session back.
	// Returns nil if recovery was successful, error otherwise.
	AttemptRecovery(ctx context.Context) error
}

// ResumeFunc runs after a successful reconnect, typically to claim a
// channel again since reconnecting forgets it.
type ResumeFunc func(ctx context.Context) error

// DefaultRecoverer reconnects the session and then runs the optional
// resume function, retrying the pair with a doubling backoff.
type DefaultRecoverer struct {
	client      Reconnector
	resume      ResumeFunc
	backoff     time.Duration
	maxAttempts int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer. If resume is nil only the
// reconnect is attempted.
func NewDefaultRecoverer(
	client Reconnector,
	resume ResumeFunc,
	backoff time.Duration,
	maxAttempts int,
) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		client:      client,
		resume:      resume,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery reconnects and resumes, up to maxAttempts times. The
// delay between attempts doubles after each failure.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	delay := r.backoff
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}

		lastErr = r.recoverOnce(ctx)
		if lastErr == nil {
			return nil
		}
		insnav.Debugf("recovery attempt %d/%d failed: %v", attempt, r.maxAttempts, lastErr)
	}
	return lastErr
}

func (r *DefaultRecoverer) recoverOnce(ctx context.Context) error {
	if err := r.client.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	if r.resume == nil {
		return nil
	}
	if err := r.resume(ctx); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}
