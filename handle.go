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
	"time"

	"github.com/insnav/go-insnav/internal/syncutil"
)

// handle pairs a one-slot signal with the most recent matching message.
// A handle serves one waiter at a time; callers serialize their use of it
// and clear it before every new exchange so a stale signal from an earlier
// exchange is never consumed.
type handle struct {
	msg    *Message
	err    error
	signal chan struct{}
	name   string
	mu     syncutil.Mutex
	want   byte
	armed  bool
}

func newHandle(name string) *handle {
	return &handle{name: name, signal: make(chan struct{}, 1)}
}

// clear drops any stored message, error and pending signal.
func (h *handle) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msg, h.err = nil, nil
	select {
	case <-h.signal:
	default:
	}
}

// arm clears the handle and makes it accept only message id.
func (h *handle) arm(id byte) {
	h.clear()
	h.mu.Lock()
	h.want, h.armed = id, true
	h.mu.Unlock()
}

func (h *handle) disarm() {
	h.mu.Lock()
	h.armed = false
	h.mu.Unlock()
}

// accepts reports whether the handle is armed for id.
func (h *handle) accepts(id byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.armed && h.want == id
}

// deliver stores m and signals the waiter.
func (h *handle) deliver(m *Message) {
	h.mu.Lock()
	h.msg, h.err = m, nil
	h.mu.Unlock()
	h.notify()
}

// fail stores err and signals the waiter.
func (h *handle) fail(err error) {
	h.mu.Lock()
	h.msg, h.err = nil, err
	h.mu.Unlock()
	h.notify()
}

func (h *handle) notify() {
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

// take returns and resets the stored outcome.
func (h *handle) take() (*Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, err := h.msg, h.err
	h.msg, h.err = nil, nil
	return m, err
}

// wait blocks until a message accepted by match arrives, an error is
// delivered, the timeout expires or ctx ends. A nil match accepts anything.
func (h *handle) wait(ctx context.Context, timeout time.Duration, op string, match func(*Message) bool) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-h.signal:
			m, err := h.take()
			if err != nil {
				return nil, err
			}
			if m == nil || (match != nil && !match(m)) {
				continue
			}
			return m, nil
		case <-timer.C:
			return nil, &TimeoutError{Op: op, Timeout: timeout}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
