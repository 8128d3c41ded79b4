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

// Package schema describes fixed binary payload layouts as ordered lists of
// typed fields and converts between those layouts and ordered value maps.
//
// The wire carries positions only. A field's identity is its index in the
// schema, so a schema bound to a registry id must never be reordered.
package schema

import "fmt"

// Field describes one named entry of a schema.
type Field struct {
	Name        string
	Unit        string
	Description string
	Count       int // number of elements; for String, the byte length
	Type        Type
}

// Scalar reports whether the field decodes to a single value.
func (f Field) Scalar() bool {
	return f.Count == 1 && f.Type != String
}

// Size returns the encoded size of the field in bytes.
func (f Field) Size() int {
	return f.Count * f.Type.Width()
}

// F is shorthand for a field with no unit or description.
func F(name string, typ Type, count int) Field {
	return Field{Name: name, Type: typ, Count: count}
}

// Schema is an immutable ordered field list.
type Schema struct {
	index  map[string]int
	name   string
	fields []Field
	size   int
}

// New validates fields and returns a schema. Names must be unique and
// non-empty, types known and counts positive.
func New(name string, fields ...Field) (*Schema, error) {
	s := &Schema{
		name:   name,
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)

	for i, f := range s.fields {
		if f.Name == "" || !f.Type.Valid() || f.Count <= 0 {
			return nil, fmt.Errorf("%w: %s[%d] %q %s x%d", ErrInvalidField, name, i, f.Name, f.Type, f.Count)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateField, name, f.Name)
		}
		s.index[f.Name] = i
		s.size += f.Size()
	}
	return s, nil
}

// MustNew is like New but panics on error. It is meant for package-level
// schema tables.
func MustNew(name string, fields ...Field) *Schema {
	s, err := New(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Extend returns a new schema made of s's fields followed by extra.
func (s *Schema) Extend(name string, extra ...Field) (*Schema, error) {
	return New(name, Concat(s.fields, extra)...)
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Size returns the exact encoded size in bytes.
func (s *Schema) Size() int { return s.size }

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns a copy of the field list in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Offset returns the byte offset of the named field within an encoded payload.
func (s *Schema) Offset(name string) (int, bool) {
	i, ok := s.index[name]
	if !ok {
		return 0, false
	}
	off := 0
	for _, f := range s.fields[:i] {
		off += f.Size()
	}
	return off, true
}

// Resolve returns s. A plain schema does not depend on payload content.
func (s *Schema) Resolve([]byte) (*Schema, error) {
	return s, nil
}

func (s *Schema) String() string {
	return fmt.Sprintf("%s(%d fields, %d bytes)", s.name, len(s.fields), s.size)
}

// Concat flattens several field lists into one new list.
func Concat(parts ...[]Field) []Field {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]Field, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Repeat returns n copies of block with names prefixed by prefix and the
// block index, e.g. Repeat("sat", 2, F("snr", Uint8, 1)) yields
// sat0_snr, sat1_snr.
func Repeat(prefix string, n int, block ...Field) []Field {
	out := make([]Field, 0, n*len(block))
	for i := range n {
		for _, f := range block {
			f.Name = fmt.Sprintf("%s%d_%s", prefix, i, f.Name)
			out = append(out, f)
		}
	}
	return out
}
