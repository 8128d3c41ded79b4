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
	"bytes"
	"fmt"
	"strings"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/pkg/schema"
)

// Header is the 16-byte frame header.
type Header = frame.Header

// Footer is the 4-byte frame footer.
type Footer = frame.Footer

// Message is one decoded frame: header, payload fields in schema order, and
// footer. Outbound messages are built the same way and encoded with Encode.
type Message struct {
	Schema *schema.Schema
	Fields *schema.Values
	Header Header
	Footer Footer
}

// ID returns the top-level message id.
func (m *Message) ID() byte {
	return m.Header.ID
}

// SubID returns the command or parameter sub-id. ok is false for other
// messages.
func (m *Message) SubID() (uint16, bool) {
	var name string
	switch m.Header.ID {
	case IDCommand:
		name = FieldCommandID
	case IDParameter:
		name = FieldParameterID
	default:
		return 0, false
	}
	v, ok := m.Uint(name)
	return uint16(v), ok //nolint:gosec // field is declared uint16
}

// Get returns the raw value of a field.
func (m *Message) Get(name string) (any, bool) {
	return m.Fields.Get(name)
}

// Set assigns a field declared by the message schema.
func (m *Message) Set(name string, v any) error {
	if _, ok := m.Schema.Field(name); !ok {
		return fmt.Errorf("%w: %s.%s", schema.ErrUnexpectedField, m.Schema.Name(), name)
	}
	m.Fields.Set(name, v)
	return nil
}

// MustSet is like Set but panics on an undeclared field.
func (m *Message) MustSet(name string, v any) *Message {
	if err := m.Set(name, v); err != nil {
		panic(err)
	}
	return m
}

// Uint returns an integer scalar field as uint64. Negative values report false.
func (m *Message) Uint(name string) (uint64, bool) {
	v, ok := m.Fields.Get(name)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	}
	i, ok := m.Int(name)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

// Int returns a signed integer scalar field as int64.
func (m *Message) Int(name string) (int64, bool) {
	v, ok := m.Fields.Get(name)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	default:
		return 0, false
	}
}

// Float returns a float scalar field as float64.
func (m *Message) Float(name string) (float64, bool) {
	v, ok := m.Fields.Get(name)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// Bytes returns a string field's raw buffer.
func (m *Message) Bytes(name string) ([]byte, bool) {
	v, ok := m.Fields.Get(name)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Text returns a string field with trailing NUL padding removed.
func (m *Message) Text(name string) string {
	b, _ := m.Bytes(name)
	return string(bytes.TrimRight(b, "\x00"))
}

// Payload encodes the fields with the message schema.
func (m *Message) Payload() ([]byte, error) {
	return m.Schema.Encode(m.Fields)
}

// Encode builds the wire frame with the given frame counter. Sync and length
// are computed; the footer status is written as is.
func (m *Message) Encode(counter byte) ([]byte, error) {
	payload, err := m.Payload()
	if err != nil {
		return nil, err
	}
	h := m.Header
	h.Counter = counter
	return frame.Build(h, payload, m.Footer.Status)
}

func (m *Message) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s id=0x%02X cnt=%d week=%d tow=%d.%06d {",
		m.Schema.Name(), m.Header.ID, m.Header.Counter, m.Header.Week, m.Header.TowSec, m.Header.TowUsec)
	m.Fields.Range(func(name string, v any) bool {
		_, _ = fmt.Fprintf(&sb, " %s=%v", name, v)
		return true
	})
	_, _ = sb.WriteString(" }")
	return sb.String()
}

// newMessage returns a message with default fields for s.
func newMessage(id byte, s *schema.Schema) *Message {
	return &Message{
		Header: Header{ID: id},
		Schema: s,
		Fields: s.Defaults(),
	}
}

// defaultLayout picks the layout for an outbound message when there is no
// payload to resolve against yet. Bitmask schemas start with no blocks.
func defaultLayout(r schema.Resolver) (*schema.Schema, error) {
	switch x := r.(type) {
	case *schema.Schema:
		return x, nil
	case *schema.Bitmask:
		return x.ForMode(0)
	default:
		return r.Resolve(nil)
	}
}

// NewCommand returns a command message with default fields and the
// commandId filled in.
func NewCommand(reg *schema.Registry, cmdID uint16) (*Message, error) {
	r, ok := reg.Commands.Lookup(cmdID)
	if !ok {
		return nil, fmt.Errorf("%w: command 0x%04X", ErrUnknownSchema, cmdID)
	}
	s, err := defaultLayout(r)
	if err != nil {
		return nil, err
	}
	m := newMessage(IDCommand, s)
	if err := m.Set(FieldCommandID, cmdID); err != nil {
		return nil, err
	}
	return m, nil
}

// NewParameter returns a parameter message with default fields, the
// parameterId and the action filled in.
func NewParameter(reg *schema.Registry, paramID, action uint16) (*Message, error) {
	r, ok := reg.Parameters.Lookup(paramID)
	if !ok {
		return nil, fmt.Errorf("%w: parameter 0x%04X", ErrUnknownSchema, paramID)
	}
	s, err := defaultLayout(r)
	if err != nil {
		return nil, err
	}
	m := newMessage(IDParameter, s)
	if err := m.Set(FieldParameterID, paramID); err != nil {
		return nil, err
	}
	if err := m.Set(FieldAction, action); err != nil {
		return nil, err
	}
	return m, nil
}

// NewTelemetry returns a telemetry message with default fields.
func NewTelemetry(reg *schema.Registry, id byte) (*Message, error) {
	r, ok := reg.Messages.Lookup(uint16(id))
	if !ok {
		return nil, fmt.Errorf("%w: message 0x%02X", ErrUnknownSchema, id)
	}
	s, err := defaultLayout(r)
	if err != nil {
		return nil, err
	}
	return newMessage(id, s), nil
}

// NewResponse returns a response message carrying code and text.
func NewResponse(code uint16, text string) (*Message, error) {
	s, err := ResponseSchema(uint16(responseOverhead + len(text))) //nolint:gosec // bounded by frame size check in Encode
	if err != nil {
		return nil, err
	}
	m := newMessage(IDResponse, s)
	m.Fields.Set(FieldCode, code)
	m.Fields.Set(FieldTextLength, uint16(len(text))) //nolint:gosec // see above
	if len(text) > 0 {
		m.Fields.Set(FieldText, []byte(text))
	}
	return m, nil
}
