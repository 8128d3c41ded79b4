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

// Package testing provides a virtual INS device that speaks the binary wire
// protocol, plus connection wrappers that distort timing and framing. It
// depends only on the framing and schema packages so any package's tests
// can use it.
package testing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/pkg/schema"
)

// Response codes sent by the virtual device.
const (
	CodeOK               uint16 = 0
	CodeUnknownCommand   uint16 = 1
	CodeUnknownParameter uint16 = 2
	CodeChannelBusy      uint16 = 3
	CodeUnknownMessage   uint16 = 4
	CodeBadRequest       uint16 = 5
)

// Parameter actions as they appear on the wire.
const (
	actionSet     uint16 = 0
	actionRequest uint16 = 1
)

// Commands holds the command sub-ids the device understands. Payloads are
// read by position: open and close carry the channel byte after the
// command id, log requests carry the message id and rate bytes.
type Commands struct {
	OpenChannel  uint16
	CloseChannel uint16
	LogRequest   uint16
}

// Request is one frame received by the device.
type Request struct {
	Payload []byte
	Header  frame.Header
	SubID   uint16
}

// DeviceState is a snapshot of the device for assertions.
type DeviceState struct {
	Requests     []Request
	OpenAttempts []int
	Channel      int
	Connections  int
}

// VirtualDevice answers commands, parameter requests and log requests like
// an INS would. It can serve several connections in turn; state is shared
// between them, as it is on a real unit.
type VirtualDevice struct {
	registry      *schema.Registry
	params        map[uint16][]byte
	telemetry     map[byte][]byte
	busy          map[int]bool
	writers       map[io.Writer]*sync.Mutex
	requests      []Request
	openAttempts  []int
	commands      Commands
	responseDelay time.Duration
	dropResponses int
	connections   int
	channel       int
	mu            sync.Mutex
	counter       byte
	checkCRC      bool
}

// NewVirtualDevice returns a device using reg for parameter and telemetry
// layouts.
func NewVirtualDevice(reg *schema.Registry, cmds Commands) *VirtualDevice {
	return &VirtualDevice{
		registry:  reg,
		commands:  cmds,
		params:    make(map[uint16][]byte),
		telemetry: make(map[byte][]byte),
		busy:      make(map[int]bool),
		writers:   make(map[io.Writer]*sync.Mutex),
		channel:   -1,
		checkCRC:  true,
	}
}

// SetBusyChannels makes open-channel requests for chs fail with
// CodeChannelBusy.
func (v *VirtualDevice) SetBusyChannels(chs ...int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.busy)
	for _, ch := range chs {
		v.busy[ch] = true
	}
}

// SetTelemetry sets the payload answered to log requests for id.
func (v *VirtualDevice) SetTelemetry(id byte, payload []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.telemetry[id] = slices.Clone(payload)
}

// SetParameter sets the stored payload of parameter id.
func (v *VirtualDevice) SetParameter(id uint16, payload []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.params[id] = slices.Clone(payload)
}

// Parameter returns the stored payload of parameter id.
func (v *VirtualDevice) Parameter(id uint16) ([]byte, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.params[id]
	return slices.Clone(p), ok
}

// SetResponseDelay delays every reply.
func (v *VirtualDevice) SetResponseDelay(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.responseDelay = d
}

// DropResponses makes the device ignore the next n requests.
func (v *VirtualDevice) DropResponses(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropResponses = n
}

// State returns a snapshot of the device.
func (v *VirtualDevice) State() DeviceState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return DeviceState{
		Requests:     slices.Clone(v.requests),
		OpenAttempts: slices.Clone(v.openAttempts),
		Channel:      v.channel,
		Connections:  v.connections,
	}
}

// Serve answers requests read from conn until it fails or reaches EOF.
// A closed connection is not an error.
func (v *VirtualDevice) Serve(conn io.ReadWriter) error {
	v.mu.Lock()
	v.connections++
	v.writers[conn] = &sync.Mutex{}
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		delete(v.writers, conn)
		v.mu.Unlock()
	}()

	s := frame.NewSynchronizer()
	defer s.Release()
	s.SetCRCCheck(v.checkCRC)

	var writeErr error
	s.AddCallback(func(raw []byte) {
		if writeErr == nil {
			writeErr = v.handle(conn, raw)
		}
	})

	buf := make([]byte, frame.ReadBufferSize)
	for writeErr == nil {
		n, err := conn.Read(buf)
		if n > 0 {
			s.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("virtual device read: %w", err)
		}
	}
	return writeErr
}

// Emit writes an unsolicited telemetry frame to w.
func (v *VirtualDevice) Emit(w io.Writer, id byte, payload []byte) error {
	return v.send(w, id, payload)
}

func (v *VirtualDevice) handle(w io.Writer, raw []byte) error {
	h, payload, _, err := frame.Split(raw)
	if err != nil {
		return nil //nolint:nilerr // malformed frames are ignored like on the device
	}
	req := Request{Header: h, Payload: slices.Clone(payload)}
	if len(payload) >= 2 {
		req.SubID = binary.LittleEndian.Uint16(payload)
	}

	v.mu.Lock()
	v.requests = append(v.requests, req)
	drop := v.dropResponses > 0
	if drop {
		v.dropResponses--
	}
	delay := v.responseDelay
	v.mu.Unlock()

	if drop {
		return nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	switch h.ID {
	case frame.IDCommand:
		return v.handleCommand(w, req)
	case frame.IDParameter:
		return v.handleParameter(w, req)
	default:
		return v.respond(w, CodeBadRequest, "unexpected message")
	}
}

func (v *VirtualDevice) handleCommand(w io.Writer, req Request) error {
	p := req.Payload
	switch {
	case req.SubID == v.commands.OpenChannel && len(p) >= 3:
		ch := int(p[2])
		v.mu.Lock()
		v.openAttempts = append(v.openAttempts, ch)
		busy := v.busy[ch]
		if !busy {
			v.channel = ch
		}
		v.mu.Unlock()
		if busy {
			return v.respond(w, CodeChannelBusy, fmt.Sprintf("channel %d in use", ch))
		}
		return v.respond(w, CodeOK, "")

	case req.SubID == v.commands.CloseChannel && len(p) >= 3:
		v.mu.Lock()
		v.channel = -1
		v.mu.Unlock()
		return v.respond(w, CodeOK, "")

	case req.SubID == v.commands.LogRequest && len(p) >= 4:
		id := p[2]
		payload, ok := v.telemetryPayload(id)
		if !ok {
			return v.respond(w, CodeUnknownMessage, fmt.Sprintf("unknown message 0x%02X", id))
		}
		if err := v.respond(w, CodeOK, ""); err != nil {
			return err
		}
		return v.send(w, id, payload)

	default:
		return v.respond(w, CodeUnknownCommand, fmt.Sprintf("unknown command 0x%04X", req.SubID))
	}
}

func (v *VirtualDevice) handleParameter(w io.Writer, req Request) error {
	if len(req.Payload) < 4 {
		return v.respond(w, CodeBadRequest, "short parameter")
	}
	r, ok := v.registry.Parameters.Lookup(req.SubID)
	if !ok {
		return v.respond(w, CodeUnknownParameter, fmt.Sprintf("unknown parameter 0x%04X", req.SubID))
	}

	switch binary.LittleEndian.Uint16(req.Payload[2:]) {
	case actionSet:
		s, err := r.Resolve(req.Payload)
		if err != nil || s.Size() != len(req.Payload) {
			return v.respond(w, CodeBadRequest, "parameter size")
		}
		v.SetParameter(req.SubID, req.Payload)
		return v.respond(w, CodeOK, "")

	case actionRequest:
		payload, ok := v.Parameter(req.SubID)
		if !ok {
			var err error
			if payload, err = defaultPayload(r); err != nil {
				return err
			}
			binary.LittleEndian.PutUint16(payload, req.SubID)
		}
		if err := v.respond(w, CodeOK, ""); err != nil {
			return err
		}
		return v.send(w, frame.IDParameter, payload)

	default:
		return v.respond(w, CodeBadRequest, "unknown action")
	}
}

func (v *VirtualDevice) telemetryPayload(id byte) ([]byte, bool) {
	v.mu.Lock()
	p, ok := v.telemetry[id]
	v.mu.Unlock()
	if ok {
		return slices.Clone(p), true
	}
	r, ok := v.registry.Messages.Lookup(uint16(id))
	if !ok {
		return nil, false
	}
	p, err := defaultPayload(r)
	return p, err == nil
}

// defaultPayload encodes zero values; bitmask layouts use mode 0.
func defaultPayload(r schema.Resolver) ([]byte, error) {
	s, err := r.Resolve(make([]byte, 4))
	if err != nil {
		return nil, err
	}
	return s.Encode(s.Defaults())
}

// respond sends a response frame. The text field fills the frame up to its
// declared length, so its size is implied by the header.
func (v *VirtualDevice) respond(w io.Writer, code uint16, text string) error {
	payload := binary.LittleEndian.AppendUint16(nil, code)
	payload = binary.LittleEndian.AppendUint16(payload, uint16(len(text))) //nolint:gosec // short texts
	payload = append(payload, text...)
	return v.send(w, frame.IDResponse, payload)
}

func (v *VirtualDevice) send(w io.Writer, id byte, payload []byte) error {
	v.mu.Lock()
	counter := v.counter
	v.counter++
	wmu := v.writers[w]
	v.mu.Unlock()

	raw, err := frame.Build(frame.Header{ID: id, Counter: counter, Week: 2345, TowSec: 302400}, payload, 0)
	if err != nil {
		return err
	}
	if wmu != nil {
		wmu.Lock()
		defer wmu.Unlock()
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("virtual device write: %w", err)
	}
	return nil
}
