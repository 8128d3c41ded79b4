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
	"testing"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCommand_Encode(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)

	m, err := NewCommand(reg, CmdOpenChannel)
	require.NoError(t, err)
	require.NoError(t, m.Set(FieldChannel, uint8(12)))

	raw, err := m.Encode(7)
	require.NoError(t, err)
	h, payload, _, err := frame.Split(raw)
	require.NoError(t, err)
	assert.Equal(t, IDCommand, h.ID)
	assert.Equal(t, byte(7), h.Counter)
	assert.Equal(t, []byte{0x01, 0x00, 12}, payload)

	decoded, err := NewDispatcher(reg, true).Decode(raw)
	require.NoError(t, err)
	sub, ok := decoded.SubID()
	require.True(t, ok)
	assert.Equal(t, CmdOpenChannel, sub)
	assert.True(t, m.Fields.Equal(decoded.Fields))
}

func TestNewParameter(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)

	m, err := NewParameter(reg, testAntennaOffset, ParamActionRequest)
	require.NoError(t, err)
	assert.Equal(t, IDParameter, m.ID())
	action, _ := m.Uint(FieldAction)
	assert.Equal(t, uint64(ParamActionRequest), action)

	payload, err := m.Payload()
	require.NoError(t, err)
	assert.Len(t, payload, 4+12)

	_, err = NewParameter(reg, 0x0999, ParamActionRequest)
	require.ErrorIs(t, err, ErrUnknownSchema)
}

func TestNewTelemetry_Bitmask(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)

	m, err := NewTelemetry(reg, testStatusID)
	require.NoError(t, err)
	payload, err := m.Payload()
	require.NoError(t, err)
	assert.Len(t, payload, 6, "mode 0 encodes the prefix only")

	_, err = NewTelemetry(reg, 0x42)
	require.ErrorIs(t, err, ErrUnknownSchema)
	_, err = NewCommand(reg, 0x4242)
	require.ErrorIs(t, err, ErrUnknownSchema)
}

func TestNewResponse(t *testing.T) {
	t.Parallel()

	m, err := NewResponse(2, "unknown parameter")
	require.NoError(t, err)
	raw, err := m.Encode(0)
	require.NoError(t, err)
	assert.Len(t, raw, responseOverhead+len("unknown parameter"))

	decoded, err := NewDispatcher(testRegistry(t), true).Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "unknown parameter", decoded.Text(FieldText))
	n, _ := decoded.Uint(FieldTextLength)
	assert.Equal(t, uint64(len("unknown parameter")), n)
}

func TestMessage_SetUnknownField(t *testing.T) {
	t.Parallel()

	m, err := NewCommand(testRegistry(t), CmdLogRequest)
	require.NoError(t, err)
	err = m.Set("bogus", 1)
	require.ErrorIs(t, err, schema.ErrUnexpectedField)
	assert.Panics(t, func() { m.MustSet("bogus", 1) })
	assert.Same(t, m, m.MustSet(FieldRate, uint8(1)))
}

func TestMessage_Accessors(t *testing.T) {
	t.Parallel()

	m, err := NewDispatcher(testRegistry(t), true).Decode(buildFrame(t, testAttitudeID, attitudePayload(0.5, 0, 0)))
	require.NoError(t, err)

	_, ok := m.Uint("roll")
	assert.False(t, ok, "floats are not unsigned")
	_, ok = m.Int("roll")
	assert.False(t, ok)
	_, ok = m.Float("missing")
	assert.False(t, ok)
	_, ok = m.Bytes("roll")
	assert.False(t, ok)

	s := m.String()
	assert.Contains(t, s, "attitude id=0x10")
	assert.Contains(t, s, "roll=0.5")
}
