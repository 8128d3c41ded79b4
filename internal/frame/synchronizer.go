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

package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// State is the position of the synchronizer within a frame.
type State int

const (
	// WaitingForSync scans for the sync byte.
	WaitingForSync State = iota
	// WaitingForLength collects the prefix holding the declared length.
	WaitingForLength
	// FetchingBytes copies the rest of the frame.
	FetchingBytes
)

func (s State) String() string {
	switch s {
	case WaitingForSync:
		return "WaitingForSync"
	case WaitingForLength:
		return "WaitingForLength"
	case FetchingBytes:
		return "FetchingBytes"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Callback receives one complete frame. The slice is shared between all
// callbacks of a publish and must not be modified.
type Callback func(frame []byte)

// Stats counts synchronizer outcomes.
type Stats struct {
	Published  uint64
	CRCErrors  uint64
	FalseSyncs uint64
}

// Synchronizer recovers complete frames from an arbitrary byte stream.
//
// Thread Safety: a Synchronizer is not safe for concurrent use. Each
// connection owns exactly one.
type Synchronizer struct {
	callbacks []Callback
	buf       []byte
	stats     Stats
	remaining int
	state     State
	checkCRC  bool
}

// NewSynchronizer returns a synchronizer with CRC checking enabled.
func NewSynchronizer() *Synchronizer {
	return &Synchronizer{
		buf:      GetFrameBuffer(),
		checkCRC: true,
	}
}

// AddCallback registers an observer. Observers run synchronously, in
// registration order, from the Feed call that completed the frame.
func (s *Synchronizer) AddCallback(cb Callback) {
	s.callbacks = append(s.callbacks, cb)
}

// SetCRCCheck enables or disables checksum validation.
func (s *Synchronizer) SetCRCCheck(enabled bool) {
	s.checkCRC = enabled
}

// State returns the current state.
func (s *Synchronizer) State() State {
	return s.state
}

// Stats returns a copy of the counters.
func (s *Synchronizer) Stats() Stats {
	return s.stats
}

// Release returns the accumulator to the buffer pool. The synchronizer must
// not be fed afterwards.
func (s *Synchronizer) Release() {
	PutFrameBuffer(s.buf)
	s.buf = nil
	s.state = WaitingForSync
}

// Reset drops any partial frame and returns to WaitingForSync.
func (s *Synchronizer) Reset() {
	s.buf = s.buf[:0]
	s.remaining = 0
	s.state = WaitingForSync
}

// Feed consumes one buffer of any size. Partial frames are carried over to
// the next call.
func (s *Synchronizer) Feed(p []byte) {
	for i := 0; i < len(p); {
		switch s.state {
		case WaitingForSync:
			idx := bytes.IndexByte(p[i:], SyncByte)
			if idx < 0 {
				return
			}
			i += idx + 1
			s.buf = append(s.buf[:0], SyncByte)
			s.remaining = PrefixSize - 1
			s.state = WaitingForLength

		case WaitingForLength:
			i += s.take(p[i:])
			if s.remaining > 0 {
				continue
			}
			remaining, ok := ValidateFrameLength(s.buf)
			if !ok {
				s.stats.FalseSyncs++
				s.rescan()
				continue
			}
			s.remaining = remaining
			s.state = FetchingBytes

		case FetchingBytes:
			i += s.take(p[i:])
			if s.remaining == 0 {
				s.complete()
			}
		}
	}
}

// take copies up to s.remaining bytes from p into the accumulator.
func (s *Synchronizer) take(p []byte) int {
	n := min(s.remaining, len(p))
	s.buf = append(s.buf, p[:n]...)
	s.remaining -= n
	return n
}

func (s *Synchronizer) complete() {
	if s.checkCRC && !ValidateFrameChecksum(s.buf, 0, len(s.buf)) {
		s.stats.CRCErrors++
		s.rescan()
		return
	}
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	s.Reset()
	s.publish(out)
}

// rescan abandons the candidate frame and feeds every byte after its sync
// byte back through the state machine, so a real frame that started inside
// the rejected candidate is still found.
func (s *Synchronizer) rescan() {
	pending := make([]byte, len(s.buf)-1)
	copy(pending, s.buf[1:])
	s.Reset()
	s.Feed(pending)
}

func (s *Synchronizer) publish(frame []byte) {
	s.stats.Published++
	for _, cb := range s.callbacks {
		cb(frame)
	}
}

// FeedTrusted splits a complete, known-good buffer (an offline capture) into
// frames by following the declared length of each one. It requires CRC
// checking to be disabled.
func (s *Synchronizer) FeedTrusted(buf []byte) error {
	if s.checkCRC {
		return ErrTrustedRequiresNoCRC
	}
	for off := 0; off < len(buf); {
		if len(buf)-off < PrefixSize {
			return fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTruncatedFrame, len(buf)-off, off)
		}
		length := int(binary.LittleEndian.Uint16(buf[off+offLength:]))
		if length < PrefixSize {
			return fmt.Errorf("%w: %d at offset %d", ErrInvalidLength, length, off)
		}
		if off+length > len(buf) {
			return fmt.Errorf("%w: need %d bytes at offset %d, have %d",
				ErrTruncatedFrame, length, off, len(buf)-off)
		}
		out := make([]byte, length)
		copy(out, buf[off:off+length])
		s.publish(out)
		off += length
	}
	return nil
}
