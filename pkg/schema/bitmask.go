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
	"encoding/binary"
	"fmt"
	"sync"
)

// Block is a group of fields present only when bit Bit of the mode word is set.
type Block struct {
	Fields []Field
	Bit    uint
}

// Bitmask is a schema whose shape depends on a 32-bit mode word stored in the
// first four payload bytes. The assembled layout is the prefix followed by
// every block whose bit is set, in block order.
type Bitmask struct {
	cache  sync.Map // uint32 -> *Schema
	name   string
	prefix []Field
	blocks []Block
}

// NewBitmask validates the layout. The first prefix field must be a scalar
// Uint32 holding the mode word. Bits must be unique and below 32, and field
// names unique across the prefix and all blocks.
func NewBitmask(name string, prefix []Field, blocks ...Block) (*Bitmask, error) {
	if len(prefix) == 0 || prefix[0].Type != Uint32 || prefix[0].Count != 1 {
		return nil, fmt.Errorf("%w: %s: first field must be a uint32 mode word", ErrInvalidBitmask, name)
	}
	var seen uint32
	for _, b := range blocks {
		if b.Bit >= 32 {
			return nil, fmt.Errorf("%w: %s: bit %d out of range", ErrInvalidBitmask, name, b.Bit)
		}
		if seen&(1<<b.Bit) != 0 {
			return nil, fmt.Errorf("%w: %s: bit %d used twice", ErrInvalidBitmask, name, b.Bit)
		}
		seen |= 1 << b.Bit
	}

	bm := &Bitmask{
		name:   name,
		prefix: Concat(prefix),
		blocks: make([]Block, len(blocks)),
	}
	for i, b := range blocks {
		bm.blocks[i] = Block{Bit: b.Bit, Fields: Concat(b.Fields)}
	}
	// Assembling the full layout checks name uniqueness across blocks.
	if _, err := bm.ForMode(seen); err != nil {
		return nil, err
	}
	return bm, nil
}

// MustNewBitmask is like NewBitmask but panics on error.
func MustNewBitmask(name string, prefix []Field, blocks ...Block) *Bitmask {
	bm, err := NewBitmask(name, prefix, blocks...)
	if err != nil {
		panic(err)
	}
	return bm
}

// Name returns the schema name.
func (b *Bitmask) Name() string { return b.name }

// ModeField returns the name of the mode word field.
func (b *Bitmask) ModeField() string { return b.prefix[0].Name }

// BaseSize returns the size of the prefix alone.
func (b *Bitmask) BaseSize() int {
	n := 0
	for _, f := range b.prefix {
		n += f.Size()
	}
	return n
}

// ForMode returns the layout for a mode word. Bits without a block are
// ignored. Results are cached per mode.
func (b *Bitmask) ForMode(mode uint32) (*Schema, error) {
	if s, ok := b.cache.Load(mode); ok {
		return s.(*Schema), nil //nolint:forcetypeassert // cache only holds *Schema
	}

	fields := Concat(b.prefix)
	for _, blk := range b.blocks {
		if mode&(1<<blk.Bit) != 0 {
			fields = append(fields, blk.Fields...)
		}
	}
	s, err := New(fmt.Sprintf("%s[0x%08X]", b.name, mode), fields...)
	if err != nil {
		return nil, err
	}
	actual, _ := b.cache.LoadOrStore(mode, s)
	return actual.(*Schema), nil //nolint:forcetypeassert // cache only holds *Schema
}

// Defaults returns a zeroed value map for mode with the mode word filled in.
func (b *Bitmask) Defaults(mode uint32) (*Values, error) {
	s, err := b.ForMode(mode)
	if err != nil {
		return nil, err
	}
	v := s.Defaults()
	v.Set(b.ModeField(), mode)
	return v, nil
}

// Resolve reads the mode word from the start of payload and returns the
// matching layout.
func (b *Bitmask) Resolve(payload []byte) (*Schema, error) {
	if len(payload) < 4 {
		return nil, &SchemaMismatchError{Schema: b.name, Want: b.BaseSize(), Got: len(payload)}
	}
	return b.ForMode(binary.LittleEndian.Uint32(payload))
}
