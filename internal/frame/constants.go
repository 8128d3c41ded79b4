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

// Frame markers and layout
const (
	SyncByte = 0x7E // First byte of every frame

	HeaderSize = 16 // sync, id, counter, reserved, length, week, tow sec, tow usec
	FooterSize = 4  // global status, crc16
	Overhead   = HeaderSize + FooterSize

	// PrefixSize is the number of leading bytes needed to read the declared length.
	PrefixSize = 6
)

// Frame size limits. These are structural sanity bounds used to reject false
// sync bytes, not protocol maxima.
const (
	// MaxRemaining is the exclusive upper bound on bytes following the prefix.
	MaxRemaining = 600
	// MaxFrameLength is the largest total length the synchronizer accepts.
	MaxFrameLength = PrefixSize + MaxRemaining - 1
)

// Reserved top-level message ids
const (
	IDCommand   byte = 0xFD
	IDResponse  byte = 0xFE
	IDParameter byte = 0xFF
)

// Header field offsets
const (
	offID       = 1
	offCounter  = 2
	offReserved = 3
	offLength   = 4
	offWeek     = 6
	offTowSec   = 8
	offTowUsec  = 12
)
