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
	"errors"
	"fmt"
	"io"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/pkg/schema"
)

// DecodeOption configures offline decoding.
type DecodeOption func(*decodeConfig)

type decodeConfig struct {
	trusted  bool
	strict   bool
	checkCRC bool
}

// DecodeTrusted splits the input by declared frame lengths without scanning
// for sync bytes. It is meant for captures known to be clean and turns CRC
// checking off.
func DecodeTrusted() DecodeOption {
	return func(c *decodeConfig) {
		c.trusted = true
		c.checkCRC = false
	}
}

// DecodeStrict stops at the first frame that does not fit its schema.
func DecodeStrict() DecodeOption {
	return func(c *decodeConfig) {
		c.strict = true
	}
}

// DecodeWithoutCRC accepts frames regardless of their checksum.
func DecodeWithoutCRC() DecodeOption {
	return func(c *decodeConfig) {
		c.checkCRC = false
	}
}

// ScanStream decodes every frame read from r and passes each message to fn
// in stream order. A non-nil error from fn stops the scan and is returned.
// In strict mode the first parse failure stops the scan with a *ParseError.
func ScanStream(r io.Reader, reg *schema.Registry, fn func(*Message) error, opts ...DecodeOption) error {
	cfg := decodeConfig{checkCRC: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := frame.NewSynchronizer()
	defer s.Release()
	s.SetCRCCheck(cfg.checkCRC)

	d := NewDispatcher(reg, cfg.strict)
	var parseErr, fnErr error
	stopped := func() bool { return parseErr != nil || fnErr != nil }
	s.AddCallback(func(raw []byte) {
		if stopped() {
			return
		}
		parseErr = d.HandleFrame(raw, func(m *Message) {
			fnErr = fn(m)
		})
	})
	result := func() error {
		if fnErr != nil {
			return fnErr
		}
		return parseErr
	}

	if cfg.trusted {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		if err := s.FeedTrusted(data); err != nil && !stopped() {
			return err
		}
		return result()
	}

	buf := frame.GetReadBuffer()
	defer frame.PutReadBuffer(buf)
	for !stopped() {
		n, err := r.Read(buf)
		if n > 0 {
			s.Feed(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
	}
	return result()
}

// DecodeStream decodes every frame read from r. On a strict-mode parse
// failure it returns the messages decoded before it along with the error.
func DecodeStream(r io.Reader, reg *schema.Registry, opts ...DecodeOption) ([]*Message, error) {
	var out []*Message
	err := ScanStream(r, reg, func(m *Message) error {
		out = append(out, m)
		return nil
	}, opts...)
	return out, err
}

// DecodeBuffer is DecodeStream over an in-memory capture.
func DecodeBuffer(buf []byte, reg *schema.Registry, opts ...DecodeOption) ([]*Message, error) {
	return DecodeStream(bytes.NewReader(buf), reg, opts...)
}
