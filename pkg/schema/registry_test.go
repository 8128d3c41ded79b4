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

func TestRegistry_IndependentSpaces(t *testing.T) {
	t.Parallel()

	msg := MustNew("msg", F("a", Uint8, 1))
	param := MustNew("param", F("parameterId", Uint16, 1), F("action", Uint16, 1))
	cmd := MustNew("cmd", F("commandId", Uint16, 1))

	reg, err := NewRegistryBuilder().
		Message(0x10, msg).
		Parameter(0x10, param).
		Command(0x10, cmd).
		Build()
	require.NoError(t, err)

	r, ok := reg.Messages.Lookup(0x10)
	require.True(t, ok)
	assert.Same(t, msg, r)
	r, ok = reg.Parameters.Lookup(0x10)
	require.True(t, ok)
	assert.Same(t, param, r)
	r, ok = reg.Commands.Lookup(0x10)
	require.True(t, ok)
	assert.Same(t, cmd, r)

	_, ok = reg.Messages.Lookup(0x11)
	assert.False(t, ok)
	assert.Equal(t, []uint16{0x10}, reg.Commands.IDs())
}

func TestRegistryBuilder_Errors(t *testing.T) {
	t.Parallel()

	s := MustNew("s", F("a", Uint8, 1))

	_, err := NewRegistryBuilder().Message(1, s).Message(1, s).Build()
	require.ErrorIs(t, err, ErrDuplicateID)

	for _, id := range []uint8{0xFD, 0xFE, 0xFF} {
		_, err = NewRegistryBuilder().Message(id, s).Build()
		require.ErrorIs(t, err, ErrReservedID)
	}

	_, err = NewRegistryBuilder().Command(1, nil).Build()
	require.ErrorIs(t, err, ErrInvalidField)
}

func TestRegistryBuilder_Merge(t *testing.T) {
	t.Parallel()

	s := MustNew("s", F("a", Uint8, 1))
	core, err := NewRegistryBuilder().Command(1, s).Build()
	require.NoError(t, err)

	merged, err := NewRegistryBuilder().Merge(core).Command(2, s).Build()
	require.NoError(t, err)
	assert.Equal(t, 2, merged.Commands.Len())

	_, err = NewRegistryBuilder().Merge(core).Command(1, s).Build()
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestRegistry_SharedSchemaValue(t *testing.T) {
	t.Parallel()

	// One schema value referenced by several ids.
	shared := MustNew("position", F("lat", Float64, 1), F("lon", Float64, 1))
	reg, err := NewRegistryBuilder().Message(0x20, shared).Message(0x21, shared).Build()
	require.NoError(t, err)

	a, _ := reg.Messages.Lookup(0x20)
	b, _ := reg.Messages.Lookup(0x21)
	assert.Same(t, a, b)
}
