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
	"encoding/binary"

	"github.com/sigurn/crc16"
)

var xmodemTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// CRC16 computes the XMODEM checksum (poly 0x1021, init 0, unreflected) used by
// the device for every frame.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, xmodemTable)
}

// VerifyChecksum reports whether the trailing two bytes of a complete frame
// match the checksum of everything before them. The stored value is little-endian.
func VerifyChecksum(raw []byte) bool {
	if len(raw) < 3 {
		return false
	}
	want := binary.LittleEndian.Uint16(raw[len(raw)-2:])
	return CRC16(raw[:len(raw)-2]) == want
}
