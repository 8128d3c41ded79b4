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
	"fmt"
	"maps"
	"slices"
)

// Resolver picks the layout for a payload. *Schema ignores the payload;
// *Bitmask reads its mode word first.
type Resolver interface {
	Resolve(payload []byte) (*Schema, error)
}

// Table maps ids of one id space to resolvers.
type Table struct {
	entries map[uint16]Resolver
}

// Lookup returns the resolver registered for id.
func (t Table) Lookup(id uint16) (Resolver, bool) {
	r, ok := t.entries[id]
	return r, ok
}

// Len returns the number of registered ids.
func (t Table) Len() int { return len(t.entries) }

// IDs returns the registered ids in ascending order.
func (t Table) IDs() []uint16 {
	return slices.Sorted(maps.Keys(t.entries))
}

// Registry holds the three independent id spaces of the protocol. It is
// immutable once built and safe for concurrent lookups.
type Registry struct {
	Messages   Table // telemetry messages, keyed by top-level id
	Parameters Table // keyed by parameter sub-id
	Commands   Table // keyed by command sub-id
}

// Reserved top-level ids that never address a telemetry schema.
const (
	reservedCommand   = 0xFD
	reservedResponse  = 0xFE
	reservedParameter = 0xFF
)

// RegistryBuilder collects registrations. The first error sticks and is
// returned by Build.
type RegistryBuilder struct {
	err      error
	messages map[uint16]Resolver
	params   map[uint16]Resolver
	commands map[uint16]Resolver
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		messages: make(map[uint16]Resolver),
		params:   make(map[uint16]Resolver),
		commands: make(map[uint16]Resolver),
	}
}

// Message registers a telemetry schema under a top-level id.
func (b *RegistryBuilder) Message(id uint8, r Resolver) *RegistryBuilder {
	if id == reservedCommand || id == reservedResponse || id == reservedParameter {
		b.fail(fmt.Errorf("%w: message 0x%02X", ErrReservedID, id))
		return b
	}
	b.add(b.messages, "message", uint16(id), r)
	return b
}

// Parameter registers a parameter schema under its sub-id.
func (b *RegistryBuilder) Parameter(id uint16, r Resolver) *RegistryBuilder {
	b.add(b.params, "parameter", id, r)
	return b
}

// Command registers a command schema under its sub-id.
func (b *RegistryBuilder) Command(id uint16, r Resolver) *RegistryBuilder {
	b.add(b.commands, "command", id, r)
	return b
}

// Merge copies every entry of reg into the builder.
func (b *RegistryBuilder) Merge(reg *Registry) *RegistryBuilder {
	for id, r := range reg.Messages.entries {
		b.add(b.messages, "message", id, r)
	}
	for id, r := range reg.Parameters.entries {
		b.add(b.params, "parameter", id, r)
	}
	for id, r := range reg.Commands.entries {
		b.add(b.commands, "command", id, r)
	}
	return b
}

func (b *RegistryBuilder) add(m map[uint16]Resolver, space string, id uint16, r Resolver) {
	if r == nil {
		b.fail(fmt.Errorf("%w: nil resolver for %s 0x%04X", ErrInvalidField, space, id))
		return
	}
	if _, dup := m[id]; dup {
		b.fail(fmt.Errorf("%w: %s 0x%04X", ErrDuplicateID, space, id))
		return
	}
	m[id] = r
}

func (b *RegistryBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build returns the immutable registry.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Registry{
		Messages:   Table{entries: maps.Clone(b.messages)},
		Parameters: Table{entries: maps.Clone(b.params)},
		Commands:   Table{entries: maps.Clone(b.commands)},
	}, nil
}
