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

import "encoding/binary"

// ValidateFrameLength reads the declared total length from a frame prefix and
// returns the number of bytes still to be fetched after the prefix. ok is
// false when the prefix is too short or the length is outside the accepted
// window, which the synchronizer treats as a false sync.
func ValidateFrameLength(prefix []byte) (remaining int, ok bool) {
	if len(prefix) < PrefixSize {
		return 0, false
	}
	declared := int(binary.LittleEndian.Uint16(prefix[offLength:]))
	remaining = declared - PrefixSize
	if remaining <= 0 || remaining >= MaxRemaining {
		return 0, false
	}
	return remaining, true
}

// ValidateFrameChecksum reports whether buf[start:end] is a frame with a
// valid trailing checksum. Out-of-range bounds are reported as invalid.
func ValidateFrameChecksum(buf []byte, start, end int) bool {
	if start < 0 || end < 0 || start > end || end > len(buf) {
		return false
	}
	return VerifyChecksum(buf[start:end])
}
