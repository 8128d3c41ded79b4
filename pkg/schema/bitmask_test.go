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

package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusBitmask(t *testing.T) *Bitmask {
	t.Helper()
	bm, err := NewBitmask("extendedStatus",
		[]Field{F("mode", Uint32, 1), F("systemStatus", Uint32, 1), F("solution", Uint8, 1)},
		Block{Bit: 0, Fields: []Field{F("imuStat", Uint32, 1)}},
		Block{Bit: 1, Fields: []Field{F("gnssStat", Uint16, 1)}},
		Block{Bit: 2, Fields: []Field{F("magStat", Uint16, 1)}},
		Block{Bit: 3, Fields: []Field{F("baroStat", Uint8, 1)}},
		Block{Bit: 4, Fields: []Field{F("ekfStat", Uint32, 2)}},
		Block{Bit: 5, Fields: []Field{F("odoStat", Uint16, 1), F("odoSpeed", Float32, 1)}},
	)
	require.NoError(t, err)
	return bm
}

func TestBitmask_DynamicSizing(t *testing.T) {
	t.Parallel()
	bm := statusBitmask(t)

	const mode = 1<<0 | 1<<4
	v, err := bm.Defaults(mode)
	require.NoError(t, err)
	v.Set("imuStat", uint32(0xDEADBEEF))
	v.Set("ekfStat", []uint32{7, 9})

	s, err := bm.ForMode(mode)
	require.NoError(t, err)
	payload, err := s.Encode(v)
	require.NoError(t, err)
	assert.Len(t, payload, bm.BaseSize()+4+2*4)

	resolved, err := bm.Resolve(payload)
	require.NoError(t, err)
	decoded, err := resolved.Decode(payload)
	require.NoError(t, err)

	gotMode, _ := decoded.Get("mode")
	assert.Equal(t, uint32(mode), gotMode)
	imu, _ := decoded.Get("imuStat")
	assert.Equal(t, uint32(0xDEADBEEF), imu)
	ekf, _ := decoded.Get("ekfStat")
	assert.Equal(t, []uint32{7, 9}, ekf)

	for _, absent := range []string{"gnssStat", "magStat", "baroStat", "odoStat", "odoSpeed"} {
		assert.False(t, decoded.Has(absent), "%s present for mode 0x%02X", absent, mode)
	}
}

func TestBitmask_Modes(t *testing.T) {
	t.Parallel()
	bm := statusBitmask(t)
	base := bm.BaseSize()

	tests := []struct {
		name string
		mode uint32
		want int
	}{
		{name: "no blocks", mode: 0, want: base},
		{name: "all blocks", mode: 0x3F, want: base + 4 + 2 + 2 + 1 + 8 + 6},
		{name: "unknown bits ignored", mode: 1<<1 | 1<<31, want: base + 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := bm.ForMode(tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Size())

			again, err := bm.ForMode(tt.mode)
			require.NoError(t, err)
			assert.Same(t, s, again)
		})
	}
}

func TestBitmask_ResolveShortPayload(t *testing.T) {
	t.Parallel()
	_, err := statusBitmask(t).Resolve([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestNewBitmask_Validation(t *testing.T) {
	t.Parallel()

	mode := []Field{F("mode", Uint32, 1)}
	tests := []struct {
		wantErr error
		name    string
		prefix  []Field
		blocks  []Block
	}{
		{name: "no prefix", wantErr: ErrInvalidBitmask},
		{name: "mode not uint32", prefix: []Field{F("mode", Uint16, 1)}, wantErr: ErrInvalidBitmask},
		{name: "bit too large", prefix: mode, blocks: []Block{{Bit: 32, Fields: []Field{F("x", Uint8, 1)}}}, wantErr: ErrInvalidBitmask},
		{
			name:    "bit reused",
			prefix:  mode,
			blocks:  []Block{{Bit: 1, Fields: []Field{F("x", Uint8, 1)}}, {Bit: 1, Fields: []Field{F("y", Uint8, 1)}}},
			wantErr: ErrInvalidBitmask,
		},
		{
			name:    "name clash across blocks",
			prefix:  mode,
			blocks:  []Block{{Bit: 0, Fields: []Field{F("x", Uint8, 1)}}, {Bit: 1, Fields: []Field{F("x", Uint8, 1)}}},
			wantErr: ErrDuplicateField,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewBitmask("bad", tt.prefix, tt.blocks...)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
