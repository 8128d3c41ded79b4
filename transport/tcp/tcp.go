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

// Package tcp provides a Transport over a TCP socket, the device's native
// link.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/insnav/go-insnav"
)

// DefaultDialTimeout bounds the TCP connect when no timeout is given.
const DefaultDialTimeout = 5 * time.Second

const defaultReadTimeout = 100 * time.Millisecond

// Transport implements the insnav.Transport interface for a TCP connection.
type Transport struct {
	conn    net.Conn
	addr    string
	timeout atomic.Int64
	mu      sync.Mutex
	closed  atomic.Bool
}

// New wraps an established connection.
func New(conn net.Conn) *Transport {
	t := &Transport{conn: conn, addr: conn.RemoteAddr().String()}
	t.timeout.Store(int64(defaultReadTimeout))
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return t
}

// Dial connects to addr (host:port). A dialTimeout <= 0 uses
// DefaultDialTimeout.
func Dial(ctx context.Context, addr string, dialTimeout time.Duration) (*Transport, error) {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, insnav.NewTransportError("dial", addr, err, classifyDialError(err))
	}
	Debugf("connected to %s", addr)
	return New(conn), nil
}

// classifyDialError treats refusals and timeouts as retryable; the device
// may still be booting. Address errors are permanent.
func classifyDialError(err error) insnav.ErrorType {
	var addrErr *net.AddrError
	if errors.As(err, &addrErr) {
		return insnav.ErrorTypePermanent
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return insnav.ErrorTypePermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return insnav.ErrorTypeTimeout
	}
	return insnav.ErrorTypeTransient
}

// Factory returns a TransportFactory dialing the endpoint as host:port.
func Factory(dialTimeout time.Duration) insnav.TransportFactory {
	return func(ctx context.Context, endpoint string) (insnav.Transport, error) {
		return Dial(ctx, endpoint, dialTimeout)
	}
}

// Connect is insnav.Connect over TCP using cfg.DialTimeout.
func Connect(ctx context.Context, cfg *insnav.Config, opts ...insnav.Option) (*insnav.Client, error) {
	if cfg == nil {
		cfg = insnav.DefaultConfig()
	}
	return insnav.Connect(ctx, cfg, Factory(cfg.DialTimeout), opts...)
}

// Read reads whatever bytes are available. It returns (0, nil) when the
// read timeout expires with no data.
func (t *Transport) Read(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, insnav.ErrTransportClosed
	}
	timeout := time.Duration(t.timeout.Load())
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, t.readError(err)
	}
	n, err := t.conn.Read(p)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}
		return n, t.readError(err)
	}
	return n, nil
}

func (t *Transport) readError(err error) error {
	if t.closed.Load() || errors.Is(err, net.ErrClosed) {
		return insnav.ErrTransportClosed
	}
	return fmt.Errorf("TCP read failed: %w", err)
}

// Write writes one complete frame.
func (t *Transport) Write(p []byte) (int, error) {
	if t.closed.Load() {
		return 0, insnav.ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.conn.Write(p)
	if err != nil {
		if t.closed.Load() || errors.Is(err, net.ErrClosed) {
			return n, insnav.ErrTransportClosed
		}
		return n, fmt.Errorf("TCP write failed: %w", err)
	}
	return n, nil
}

// SetTimeout sets the read timeout for the transport
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: read timeout must be > 0", insnav.ErrInvalidConfig)
	}
	t.timeout.Store(int64(timeout))
	return nil
}

// Close closes the transport connection
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("TCP close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	return !t.closed.Load()
}

// Type returns the transport type
func (*Transport) Type() insnav.TransportType {
	return insnav.TransportTCP
}

// RemoteAddr returns the device address.
func (t *Transport) RemoteAddr() string {
	return t.addr
}

// Debugf logs through the library's debug logger.
func Debugf(format string, args ...any) {
	insnav.Debugf("tcp: "+format, args...)
}

var _ insnav.Transport = (*Transport)(nil)
