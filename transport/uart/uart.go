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

// Package uart provides a serial-line Transport for INS units wired over
// RS-232 or a USB serial adapter.
package uart

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/insnav/go-insnav"
	"go.bug.st/serial"
)

// DefaultBaudRate is the factory setting of the device's serial port.
const DefaultBaudRate = 115200

// Transport implements the insnav.Transport interface for a serial port.
type Transport struct {
	port     serial.Port
	portName string
	mu       sync.Mutex
	closed   atomic.Bool
}

// isWindows returns true if running on Windows
func isWindows() bool {
	return runtime.GOOS == "windows"
}

// defaultReadTimeout returns the initial per-read timeout. Windows USB
// serial drivers need a longer one.
func defaultReadTimeout() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

// New opens portName at baud, 8N1.
func New(portName string, baud int) (*Transport, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, insnav.NewTransportError("open", portName,
			fmt.Errorf("failed to open UART port: %w", err), classifyOpenError(err))
	}
	return newTransport(port, portName)
}

func newTransport(port serial.Port, portName string) (*Transport, error) {
	if err := port.SetReadTimeout(defaultReadTimeout()); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		Debugf("UART %s: reset input buffer: %v", portName, err)
	}
	return &Transport{port: port, portName: portName}, nil
}

// classifyOpenError treats a missing or busy port as worth retrying; the
// adapter may still be enumerating.
func classifyOpenError(err error) insnav.ErrorType {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() { //nolint:exhaustive // only the retryable codes matter
		case serial.PortNotFound, serial.PortBusy:
			return insnav.ErrorTypeTransient
		}
	}
	return insnav.ErrorTypePermanent
}

// Factory returns a TransportFactory opening the endpoint as a serial port
// path at baud.
func Factory(baud int) insnav.TransportFactory {
	return func(ctx context.Context, endpoint string) (insnav.Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return New(endpoint, baud)
	}
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Read reads whatever bytes are available. It returns (0, nil) when the
// read timeout expires with no data.
func (t *Transport) Read(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, insnav.ErrTransportClosed
	}
	n, err := t.port.Read(p)
	if err != nil {
		if t.closed.Load() {
			return n, insnav.ErrTransportClosed
		}
		if isInterruptedSystemCall(err) {
			return n, nil
		}
		return n, fmt.Errorf("UART read failed: %w", err)
	}
	return n, nil
}

// Write writes one complete frame and waits for it to leave the port.
func (t *Transport) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, insnav.ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for total < len(p) {
		n, err := t.port.Write(p[total:])
		total += n
		if err != nil {
			return total, fmt.Errorf("UART write failed: %w", err)
		}
		if n == 0 {
			return total, insnav.NewTransportWriteError("write", t.portName)
		}
	}
	return total, t.drainWithRetry("write")
}

// SetTimeout sets the read timeout for the transport
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if err := t.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("UART set timeout failed: %w", err)
	}
	return nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	return !t.closed.Load()
}

// Type returns the transport type
func (*Transport) Type() insnav.TransportType {
	return insnav.TransportUART
}

// PortName returns the serial device path.
func (t *Transport) PortName() string {
	return t.portName
}

// isInterruptedSystemCall checks if an error is caused by an interrupted system call
func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "interrupted system call") ||
		strings.Contains(errStr, "eintr")
}

// drainWithRetry performs port drain with retry logic for interrupted system calls
func (t *Transport) drainWithRetry(operation string) error {
	const maxRetries = 3
	baseDelay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}
		if isInterruptedSystemCall(err) && attempt < maxRetries-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt)) // 2ms, 4ms
			continue
		}
		return fmt.Errorf("UART %s drain failed: %w", operation, err)
	}
	return fmt.Errorf("UART %s drain failed after %d retries", operation, maxRetries)
}

// Debugf logs through the library's debug logger.
func Debugf(format string, args ...any) {
	insnav.Debugf("uart: "+format, args...)
}

var _ insnav.Transport = (*Transport)(nil)
