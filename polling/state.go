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

import "time"

// MessageState tracks one polled message id.
type MessageState struct {
	LastSeen  time.Time
	LastError error
	Received  uint64
	Failures  uint64
	Stale     bool
}

// recordSuccess stores a fresh copy and reports whether the message was
// stale before it.
func (ms *MessageState) recordSuccess(now time.Time) (recovered bool) {
	recovered = ms.Stale
	ms.LastSeen = now
	ms.LastError = nil
	ms.Received++
	ms.Stale = false
	return recovered
}

// recordFailure stores err and reports whether the message just turned
// stale. since is used as the reference when nothing was ever received.
func (ms *MessageState) recordFailure(err error, now, since time.Time, staleAfter time.Duration) (turnedStale bool) {
	ms.LastError = err
	ms.Failures++
	if staleAfter <= 0 || ms.Stale {
		return false
	}
	ref := ms.LastSeen
	if ref.IsZero() {
		ref = since
	}
	if now.Sub(ref) >= staleAfter {
		ms.Stale = true
		return true
	}
	return false
}
