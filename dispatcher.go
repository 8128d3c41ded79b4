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
	"encoding/binary"
	"errors"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/pkg/schema"
)

// Dispatcher turns verified raw frames into messages using a registry.
// It is safe for concurrent use.
type Dispatcher struct {
	registry *schema.Registry
	strict   bool
}

// NewDispatcher returns a dispatcher. In strict mode HandleFrame returns
// parse failures to its caller; in lenient mode it logs and skips them.
func NewDispatcher(reg *schema.Registry, strict bool) *Dispatcher {
	return &Dispatcher{registry: reg, strict: strict}
}

// Strict reports whether parse failures are returned by HandleFrame.
func (d *Dispatcher) Strict() bool {
	return d.strict
}

// Registry returns the schema registry.
func (d *Dispatcher) Registry() *schema.Registry {
	return d.registry
}

// Decode parses one complete frame. It returns (nil, nil) for frames whose
// id or sub-id has no registered schema, so newer firmware does not break
// older clients. Frames too short to hold a header and footer are dropped
// the same way. Payloads that do not fit their schema yield a *ParseError.
func (d *Dispatcher) Decode(raw []byte) (*Message, error) {
	h, payload, footer, err := frame.Split(raw)
	if errors.Is(err, frame.ErrShortFrame) {
		// A declared length too small for header and footer is a false
		// sync that slipped past the checksum, not a schema problem.
		Debugf("dropping %d-byte frame: shorter than header and footer", len(raw))
		return nil, nil
	}
	if err != nil {
		pe := &ParseError{Err: err}
		if len(raw) > 1 {
			pe.ID = raw[1]
		}
		return nil, pe
	}

	var (
		r      schema.Resolver
		sub    uint16
		hasSub bool
	)
	switch h.ID {
	case IDResponse:
		s, err := ResponseSchema(h.Length)
		if err != nil {
			return nil, &ParseError{ID: h.ID, Err: err}
		}
		r = s

	case IDParameter, IDCommand:
		if len(payload) < 2 {
			return nil, &ParseError{ID: h.ID, Err: &schema.SchemaMismatchError{
				Schema: "sub-id", Want: 2, Got: len(payload),
			}}
		}
		sub, hasSub = binary.LittleEndian.Uint16(payload), true
		table := d.registry.Commands
		if h.ID == IDParameter {
			table = d.registry.Parameters
		}
		var ok bool
		if r, ok = table.Lookup(sub); !ok {
			Debugf("dropping frame 0x%02X/0x%04X: no schema", h.ID, sub)
			return nil, nil
		}

	default:
		var ok bool
		if r, ok = d.registry.Messages.Lookup(uint16(h.ID)); !ok {
			Debugf("dropping frame 0x%02X: no schema", h.ID)
			return nil, nil
		}
	}

	s, err := r.Resolve(payload)
	if err != nil {
		return nil, &ParseError{ID: h.ID, SubID: sub, HasSub: hasSub, Err: err}
	}
	fields, err := s.Decode(payload)
	if err != nil {
		return nil, &ParseError{ID: h.ID, SubID: sub, HasSub: hasSub, Err: err}
	}

	return &Message{
		Header: h,
		Schema: s,
		Fields: fields,
		Footer: footer,
	}, nil
}

// HandleFrame decodes raw and passes the message to deliver. Dropped frames
// are ignored. Parse failures are returned in strict mode and logged and
// swallowed in lenient mode.
func (d *Dispatcher) HandleFrame(raw []byte, deliver func(*Message)) error {
	msg, err := d.Decode(raw)
	if err != nil {
		if d.strict {
			return err
		}
		Debugf("skipping frame: %v", err)
		return nil
	}
	if msg != nil {
		deliver(msg)
	}
	return nil
}

// IsParseError reports whether err is a frame parse failure.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
