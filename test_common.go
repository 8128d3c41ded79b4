// go-insnav
// Copyright (c) 2025 The go-insnav Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-insnav.
//
// go-insnav is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-insnav is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-insnav; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

//go:build !prod

package insnav

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/pkg/schema"
	"github.com/stretchr/testify/require"
)

// Ids registered by testRegistry.
const (
	testAttitudeID    byte   = 0x10
	testStatusID      byte   = 0x11
	testOutputRateID  uint16 = 0x0020
	testAntennaOffset uint16 = 0x0021
)

// Response codes used by testDevice.
const (
	testCodeBusy           uint16 = 3
	testCodeUnknownMessage uint16 = 4
)

// testRegistry returns the core registry plus a small telemetry catalogue:
// a fixed attitude message, a bitmask status message and two parameters.
func testRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := CoreRegistry(func(b *schema.RegistryBuilder) {
		b.Message(testAttitudeID, schema.MustNew("attitude",
			schema.F("roll", schema.Float32, 1),
			schema.F("pitch", schema.Float32, 1),
			schema.F("yaw", schema.Float32, 1),
		))
		b.Message(testStatusID, schema.MustNewBitmask("status",
			[]schema.Field{schema.F("mode", schema.Uint32, 1), schema.F("system", schema.Uint16, 1)},
			schema.Block{Bit: 0, Fields: []schema.Field{schema.F("imu", schema.Uint32, 1)}},
			schema.Block{Bit: 1, Fields: []schema.Field{schema.F("gnss", schema.Uint16, 1)}},
		))
		rate, err := ParameterSchema("outputRate", schema.F("rate", schema.Uint16, 1))
		require.NoError(t, err)
		b.Parameter(testOutputRateID, rate)
		offset, err := ParameterSchema("antennaOffset", schema.F("offset", schema.Float32, 3))
		require.NoError(t, err)
		b.Parameter(testAntennaOffset, offset)
	})
	require.NoError(t, err)
	return reg
}

// createMockClient starts a client on a MockTransport with the test
// registry and short timeouts. opts are applied last.
func createMockClient(t *testing.T, opts ...Option) (*Client, *MockTransport) {
	t.Helper()
	mt := NewMockTransport()
	all := append([]Option{
		WithRegistry(testRegistry(t)),
		WithTimeout(200 * time.Millisecond),
		WithReadTimeout(5 * time.Millisecond),
	}, opts...)
	client, err := New(mt, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mt
}

// buildFrame builds a complete frame with a valid CRC.
func buildFrame(t testing.TB, id byte, payload []byte) []byte {
	t.Helper()
	raw, err := frame.Build(frame.Header{ID: id}, payload, 0)
	require.NoError(t, err)
	return raw
}

// responseFrame builds a response frame whose text fills the frame.
func responseFrame(t testing.TB, code uint16, text string) []byte {
	t.Helper()
	payload := binary.LittleEndian.AppendUint16(nil, code)
	payload = binary.LittleEndian.AppendUint16(payload, uint16(len(text))) //nolint:gosec // short test texts
	return buildFrame(t, IDResponse, append(payload, text...))
}

func attitudePayload(roll, pitch, yaw float32) []byte {
	p := binary.LittleEndian.AppendUint32(nil, math.Float32bits(roll))
	p = binary.LittleEndian.AppendUint32(p, math.Float32bits(pitch))
	return binary.LittleEndian.AppendUint32(p, math.Float32bits(yaw))
}

func parameterPayload(id, action uint16, body ...byte) []byte {
	p := binary.LittleEndian.AppendUint16(nil, id)
	p = binary.LittleEndian.AppendUint16(p, action)
	return append(p, body...)
}

// writtenFrame splits the i-th frame written to mt.
func writtenFrame(t testing.TB, mt *MockTransport, i int) (frame.Header, []byte) {
	t.Helper()
	written := mt.Written()
	require.Greater(t, len(written), i, "frame %d not written", i)
	h, payload, _, err := frame.Split(written[i])
	require.NoError(t, err)
	return h, payload
}

// testDevice answers frames written to a MockTransport the way an INS
// does: commands and parameter requests get a response, log requests
// and parameter reads are followed by the data frame.
type testDevice struct {
	t         testing.TB
	busy      map[int]bool
	telemetry map[byte][]byte
	params    map[uint16][]byte
	opens     []int
	mu        sync.Mutex
	silent    bool
}

func newTestDevice(t testing.TB) *testDevice {
	return &testDevice{
		t:         t,
		busy:      make(map[int]bool),
		telemetry: map[byte][]byte{testAttitudeID: attitudePayload(0, 0, 0)},
		params:    make(map[uint16][]byte),
	}
}

func (d *testDevice) setBusy(chs ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range chs {
		d.busy[ch] = true
	}
}

func (d *testDevice) setSilent(silent bool) {
	d.mu.Lock()
	d.silent = silent
	d.mu.Unlock()
}

func (d *testDevice) openAttempts() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.opens...)
}

// attach installs the device as mt's responder.
func (d *testDevice) attach(mt *MockTransport) *MockTransport {
	mt.SetResponder(d.respond)
	return mt
}

func (d *testDevice) respond(written []byte) [][]byte {
	h, payload, _, err := frame.Split(written)
	if err != nil || len(payload) < 2 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.silent {
		return nil
	}

	sub := binary.LittleEndian.Uint16(payload)
	switch {
	case h.ID == IDCommand && (sub == CmdOpenChannel || sub == CmdCloseChannel):
		ch := int(payload[2])
		if sub == CmdOpenChannel {
			d.opens = append(d.opens, ch)
			if d.busy[ch] {
				return [][]byte{responseFrame(d.t, testCodeBusy, fmt.Sprintf("channel %d in use", ch))}
			}
		}
		return [][]byte{responseFrame(d.t, ResponseOK, "")}

	case h.ID == IDCommand && sub == CmdLogRequest:
		id := payload[2]
		p, ok := d.telemetry[id]
		if !ok {
			return [][]byte{responseFrame(d.t, testCodeUnknownMessage, "unknown message")}
		}
		return [][]byte{responseFrame(d.t, ResponseOK, ""), buildFrame(d.t, id, p)}

	case h.ID == IDParameter:
		action := binary.LittleEndian.Uint16(payload[2:])
		if action == ParamActionSet {
			d.params[sub] = append([]byte(nil), payload...)
			return [][]byte{responseFrame(d.t, ResponseOK, "")}
		}
		p, ok := d.params[sub]
		if !ok {
			p = parameterPayload(sub, ParamActionSet, 0, 0)
		}
		return [][]byte{responseFrame(d.t, ResponseOK, ""), buildFrame(d.t, IDParameter, p)}
	}
	return [][]byte{responseFrame(d.t, 1, "unknown command")}
}
