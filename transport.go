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

package insnav

import (
	"context"
	"time"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/internal/syncutil"
)

// Transport is a bidirectional byte stream to the device. It can be backed
// by a TCP socket or a serial line.
//
// Read blocks for at most the configured timeout. When the timeout expires
// with no data it returns (0, nil) or an error matching ErrTransportTimeout;
// the reader treats both as an idle line. Close must unblock a pending Read.
type Transport interface {
	// Read reads raw bytes from the device
	Read(p []byte) (int, error)

	// Write writes one complete frame
	Write(p []byte) (int, error)

	// Close closes the transport connection
	Close() error

	// SetTimeout sets the read timeout for the transport
	SetTimeout(timeout time.Duration) error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportTCP represents a TCP socket, the device's native link.
	TransportTCP TransportType = "tcp"
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// TransportFactory opens a new transport to endpoint. It is used for the
// initial connection and for every reconnect.
type TransportFactory func(ctx context.Context, endpoint string) (Transport, error)

// Responder produces the bytes a MockTransport should emit after a frame is
// written to it. Returning nil emits nothing.
type Responder func(written []byte) [][]byte

// MockTransport is an in-memory Transport for tests. Bytes queued with
// Inject, or produced by the responder, are returned by Read in order.
type MockTransport struct {
	writeErr  error
	readErr   error
	responder Responder
	rx        chan []byte
	closed    chan struct{}
	callCount map[byte]int
	pending   []byte
	written   [][]byte
	timeout   time.Duration
	mu        syncutil.Mutex
	connected bool
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		timeout:   20 * time.Millisecond,
		rx:        make(chan []byte, 1024),
		closed:    make(chan struct{}),
		callCount: make(map[byte]int),
	}
}

// Read implements Transport interface
func (m *MockTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.readErr != nil {
		err := m.readErr
		m.mu.Unlock()
		return 0, err
	}
	if len(m.pending) > 0 {
		n := copy(p, m.pending)
		m.pending = m.pending[n:]
		m.mu.Unlock()
		return n, nil
	}
	timeout := m.timeout
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-m.closed:
		return 0, ErrTransportClosed
	case <-timer.C:
		return 0, nil
	case chunk := <-m.rx:
		n := copy(p, chunk)
		if n < len(chunk) {
			m.mu.Lock()
			m.pending = append(m.pending, chunk[n:]...)
			m.mu.Unlock()
		}
		return n, nil
	}
}

// Write implements Transport interface. The frame is recorded and passed to
// the responder, whose output is queued for Read.
func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return 0, ErrTransportClosed
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return 0, err
	}
	data := append([]byte(nil), p...)
	m.written = append(m.written, data)
	if len(data) > 1 {
		m.callCount[data[1]]++
	}
	responder := m.responder
	m.mu.Unlock()

	if responder != nil {
		for _, out := range responder(data) {
			m.Inject(out)
		}
	}
	return len(p), nil
}

// Close implements Transport interface
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		m.connected = false
		close(m.closed)
	}
	return nil
}

// SetTimeout implements Transport interface
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
	return nil
}

// IsConnected implements Transport interface
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Type implements Transport interface
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// Inject queues raw bytes for Read. The slice is copied.
func (m *MockTransport) Inject(data []byte) {
	if len(data) == 0 {
		return
	}
	m.rx <- append([]byte(nil), data...)
}

// InjectFrame builds a frame with the given header id and payload and
// queues it for Read.
func (m *MockTransport) InjectFrame(id byte, payload []byte) error {
	raw, err := frame.Build(frame.Header{ID: id}, payload, 0)
	if err != nil {
		return err
	}
	m.Inject(raw)
	return nil
}

// SetResponder installs the function that answers written frames.
func (m *MockTransport) SetResponder(r Responder) {
	m.mu.Lock()
	m.responder = r
	m.mu.Unlock()
}

// SetWriteError makes every Write fail with err until cleared with nil.
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// SetReadError makes every Read fail with err until cleared with nil.
func (m *MockTransport) SetReadError(err error) {
	m.mu.Lock()
	m.readErr = err
	m.mu.Unlock()
}

// Written returns a copy of every frame written so far.
func (m *MockTransport) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	for i, w := range m.written {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// GetCallCount returns how many frames with header id were written
func (m *MockTransport) GetCallCount(id byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[id]
}
