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
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/internal/syncutil"
	"github.com/insnav/go-insnav/pkg/schema"
)

// Session defaults.
const (
	// DefaultTimeout bounds every wait for a response, parameter or message.
	DefaultTimeout = 2 * time.Second
	// DefaultReadTimeout is how long one transport read may block. It also
	// bounds how quickly the reader notices a teardown on transports whose
	// Close does not interrupt Read.
	DefaultReadTimeout = 100 * time.Millisecond
	// DefaultTraceSize is the number of recent frames kept for error traces.
	DefaultTraceSize = 16
)

// Option configures a Client.
type Option func(*Client) error

// WithTimeout sets the response, parameter and message wait timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidConfig, timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithReadTimeout sets the per-read transport timeout.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: read timeout must be positive, got %v", ErrInvalidConfig, timeout)
		}
		c.readTimeout = timeout
		return nil
	}
}

// WithStrict makes a parse failure abort the connection's stream instead of
// skipping the frame.
func WithStrict() Option {
	return func(c *Client) error {
		c.strict = true
		return nil
	}
}

// WithCRCCheck enables or disables inbound checksum validation.
func WithCRCCheck(enabled bool) Option {
	return func(c *Client) error {
		c.checkCRC = enabled
		return nil
	}
}

// WithRegistry sets the schema registry. The default holds only the core
// command schemas.
func WithRegistry(reg *schema.Registry) Option {
	return func(c *Client) error {
		if reg == nil {
			return fmt.Errorf("%w: nil registry", ErrInvalidConfig)
		}
		c.registry = reg
		return nil
	}
}

// WithTransportFactory sets how Reconnect opens a new transport to endpoint.
func WithTransportFactory(factory TransportFactory, endpoint string) Option {
	return func(c *Client) error {
		c.factory = factory
		c.endpoint = endpoint
		return nil
	}
}

// WithRetryConfig sets the retry policy for reconnect dials.
func WithRetryConfig(config *RetryConfig) Option {
	return func(c *Client) error {
		c.retry = config
		return nil
	}
}

// WithErrorHandler receives stream errors: read failures and parse failures.
// It runs on the reader goroutine and must neither block nor call Close or
// Reconnect.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Client) error {
		c.onError = fn
		return nil
	}
}

// WithMetrics records session activity into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) error {
		c.metrics = m
		return nil
	}
}

// WithTraceSize sets how many recent frames are attached to exchange errors.
func WithTraceSize(n int) Option {
	return func(c *Client) error {
		c.traceSize = n
		return nil
	}
}

// connection is one transport plus the reader goroutine draining it. It is
// replaced wholesale on reconnect.
type connection struct {
	transport Transport
	sync      *frame.Synchronizer
	stop      chan struct{}
	done      chan struct{}
	abortErr  error
	mu        syncutil.Mutex
}

func (cn *connection) abort(err error) {
	cn.mu.Lock()
	if cn.abortErr == nil {
		cn.abortErr = err
	}
	cn.mu.Unlock()
}

func (cn *connection) aborted() error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	return cn.abortErr
}

func (cn *connection) stopped() bool {
	select {
	case <-cn.stop:
		return true
	default:
		return false
	}
}

// shutdown stops the reader, closes the transport and waits for the reader
// to exit. It must not be called from the reader goroutine.
func (cn *connection) shutdown() error {
	close(cn.stop)
	err := cn.transport.Close()
	<-cn.done
	cn.sync.Release()
	return err
}

// Client is a session with one INS device.
//
// Thread Safety: Client is safe for concurrent use. Request methods are
// serialized so that at most one request is in flight on the connection.
type Client struct {
	conn        *connection
	factory     TransportFactory
	registry    *schema.Registry
	dispatcher  *Dispatcher
	metrics     *Metrics
	onError     func(error)
	retry       *RetryConfig
	trace       *TraceBuffer
	queue       *deliveryQueue
	response    *handle
	parameter   *handle
	message     *handle
	endpoint    string
	subs        []subscription
	timeout     time.Duration
	readTimeout time.Duration
	traceSize   int
	nextSub     uint64
	exchangeMu  syncutil.Mutex
	messageMu   syncutil.Mutex
	subsMu      syncutil.RWMutex
	connMu      syncutil.RWMutex
	traceMu     syncutil.Mutex
	counter     atomic.Uint32
	channel     atomic.Int32
	closed      atomic.Bool
	closeOnce   sync.Once
	strict      bool
	checkCRC    bool
}

// New starts a session on an open transport. The reader and delivery
// goroutines run until Close.
func New(transport Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	c := &Client{
		timeout:     DefaultTimeout,
		readTimeout: DefaultReadTimeout,
		traceSize:   DefaultTraceSize,
		checkCRC:    true,
		response:    newHandle("response"),
		parameter:   newHandle("parameter"),
		message:     newHandle("message"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.registry == nil {
		reg, err := CoreRegistry()
		if err != nil {
			return nil, err
		}
		c.registry = reg
	}
	if err := transport.SetTimeout(c.readTimeout); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	c.dispatcher = NewDispatcher(c.registry, c.strict)
	c.trace = NewTraceBuffer(string(transport.Type()), c.endpoint, c.traceSize)
	c.channel.Store(-1)
	c.queue = newDeliveryQueue()
	go c.queue.run(c.dispatch)
	c.startConnection(transport)

	Debugf("session started on %s %s (strict=%t crc=%t)", transport.Type(), c.endpoint, c.strict, c.checkCRC)
	return c, nil
}

// Registry returns the session's schema registry.
func (c *Client) Registry() *schema.Registry {
	return c.registry
}

// Transport returns the current transport, or nil during a reconnect.
func (c *Client) Transport() Transport {
	conn := c.current()
	if conn == nil {
		return nil
	}
	return conn.transport
}

// Channel returns the open channel number. ok is false when none is open.
func (c *Client) Channel() (channel int, ok bool) {
	ch := c.channel.Load()
	return int(ch), ch >= 0
}

// Pending returns the number of messages waiting for subscriber delivery.
func (c *Client) Pending() int {
	return c.queue.len()
}

func (c *Client) current() *connection {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

// startConnection installs t and starts its reader. It reports false, and
// leaves t alone, once the client is closed.
func (c *Client) startConnection(t Transport) bool {
	s := frame.NewSynchronizer()
	s.SetCRCCheck(c.checkCRC)
	conn := &connection{
		transport: t,
		sync:      s,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.AddCallback(func(raw []byte) {
		c.handleFrame(conn, raw)
	})

	c.connMu.Lock()
	if c.closed.Load() {
		c.connMu.Unlock()
		s.Release()
		return false
	}
	c.conn = conn
	c.connMu.Unlock()

	go c.pump(conn)
	return true
}

// detach removes the current connection and shuts it down.
func (c *Client) detach() error {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.shutdown()
}

// pump is the reader goroutine of one connection.
func (c *Client) pump(conn *connection) {
	defer close(conn.done)

	buf := frame.GetReadBuffer()
	defer frame.PutReadBuffer(buf)
	bo := newBackoff(readErrorInitialBackoff, readErrorMaxBackoff, DialBackoffMultiplier, DialJitter)

	for !conn.stopped() {
		n, err := conn.transport.Read(buf)
		if n > 0 {
			before := conn.sync.Stats()
			conn.sync.Feed(buf[:n])
			c.metrics.frameStats(before, conn.sync.Stats())
			if conn.aborted() != nil {
				Debugf("reader stopped: stream aborted")
				return
			}
		}
		if err == nil || isReadTimeout(err) {
			bo.reset(readErrorInitialBackoff)
			continue
		}
		if conn.stopped() {
			return
		}

		c.metrics.readError()
		terr := NewTransportError("read", c.endpoint, err, classify(err))
		Debugf("read error: %v", terr)
		c.failWaiters(terr)
		c.reportError(terr)

		timer := time.NewTimer(bo.next())
		select {
		case <-conn.stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func isReadTimeout(err error) bool {
	return errors.Is(err, ErrTransportTimeout) || errors.Is(err, os.ErrDeadlineExceeded)
}

// classify maps an I/O error to a retry category.
func classify(err error) ErrorType {
	if isDeviceGoneError(err) || errors.Is(err, ErrTransportClosed) {
		return ErrorTypePermanent
	}
	if isReadTimeout(err) {
		return ErrorTypeTimeout
	}
	return ErrorTypeTransient
}

// handleFrame runs on the reader goroutine for every verified frame.
func (c *Client) handleFrame(conn *connection, raw []byte) {
	if conn.aborted() != nil {
		return
	}
	c.recordTrace(TraceRX, raw, "")

	msg, err := c.dispatcher.Decode(raw)
	if err != nil {
		c.metrics.parseError()
		c.reportError(err)
		if !c.dispatcher.Strict() {
			Debugf("skipping frame: %v", err)
			return
		}
		Debugf("aborting stream: %v", err)
		conn.abort(err)
		c.failWaiters(err)
		return
	}
	if msg == nil {
		return
	}
	c.metrics.message(msg.ID())
	c.route(msg)
}

// route signals the correlation handle waiting for m, if any, and queues m
// for subscribers.
func (c *Client) route(m *Message) {
	switch m.ID() {
	case IDResponse:
		c.response.deliver(m)
	case IDParameter:
		c.parameter.deliver(m)
	default:
		if c.message.accepts(m.ID()) {
			c.message.deliver(m)
		}
	}
	c.queue.push(m)
}

func (c *Client) failWaiters(err error) {
	c.response.fail(err)
	c.parameter.fail(err)
	c.message.fail(err)
}

func (c *Client) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Client) recordTrace(dir TraceDirection, data []byte, note string) {
	c.traceMu.Lock()
	defer c.traceMu.Unlock()
	c.trace.record(dir, data, note)
}

// withTrace attaches the recent wire trace to timeout and rejection errors.
func (c *Client) withTrace(err error) error {
	var re *ResponseError
	if err == nil || (!errors.Is(err, ErrResponseTimeout) && !errors.As(err, &re)) {
		return err
	}
	c.traceMu.Lock()
	defer c.traceMu.Unlock()
	return c.trace.WrapError(err)
}

// dispatch runs on the delivery worker.
func (c *Client) dispatch(m *Message) {
	c.subsMu.RLock()
	subs := c.subs
	c.subsMu.RUnlock()

	for _, s := range subs {
		if s.anyID || s.id == m.ID() {
			c.deliverTo(s.fn, m)
		}
	}
}

func (*Client) deliverTo(fn Subscriber, m *Message) {
	defer func() {
		if r := recover(); r != nil {
			Debugf("subscriber panic on 0x%02X: %v", m.ID(), r)
		}
	}()
	fn(m)
}

// Subscribe registers fn for every decoded message, in arrival order. The
// returned function removes the subscription.
func (c *Client) Subscribe(fn Subscriber) (cancel func()) {
	return c.subscribe(subscription{fn: fn, anyID: true})
}

// SubscribeID registers fn for messages with top-level id.
func (c *Client) SubscribeID(id byte, fn Subscriber) (cancel func()) {
	return c.subscribe(subscription{fn: fn, id: id})
}

func (c *Client) subscribe(s subscription) func() {
	c.subsMu.Lock()
	c.nextSub++
	s.key = c.nextSub
	c.subs = append(slices.Clip(c.subs), s)
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			c.subs = slices.DeleteFunc(slices.Clone(c.subs), func(x subscription) bool {
				return x.key == s.key
			})
			c.subsMu.Unlock()
		})
	}
}

// Close stops the reader and delivery goroutines and closes the transport.
// Waiters fail with ErrClientClosed and undelivered messages are dropped.
// Close is idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.detach()
		c.failWaiters(ErrClientClosed)
		c.queue.close()
		Debugf("session closed")
	})
	if err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	return nil
}
