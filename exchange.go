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
	"context"
	"errors"
	"fmt"
	"time"
)

// Metric operation labels.
const (
	opSendAndWait  = "send_and_wait"
	opSend         = "send"
	opGetParameter = "get_parameter"
	opSetParameter = "set_parameter"
	opPollLog      = "poll_log"
	opWaitMessage  = "wait_message"
	opOpenChannel  = "open_channel"
	opCloseChannel = "close_channel"
)

// write encodes m with the next frame counter and writes it. Callers hold
// exchangeMu.
func (c *Client) write(ctx context.Context, m *Message) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := c.current()
	if conn == nil {
		return NewTransportNotReadyError("write", c.endpoint)
	}
	if err := conn.aborted(); err != nil {
		return fmt.Errorf("%w: %w", ErrStreamAborted, err)
	}

	raw, err := m.Encode(byte(c.counter.Add(1) - 1)) //nolint:gosec // frame counter wraps at 8 bits
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", m.Schema.Name(), err)
	}
	c.recordTrace(TraceTX, raw, m.Schema.Name())
	Debugf("TX %s (%d bytes)", m.Schema.Name(), len(raw))

	n, err := conn.transport.Write(raw)
	if err != nil {
		return NewTransportError("write", c.endpoint, err, classify(err))
	}
	if n != len(raw) {
		return NewTransportError("write", c.endpoint,
			fmt.Errorf("%w: short write %d of %d bytes", ErrTransportWrite, n, len(raw)), ErrorTypeTransient)
	}
	return nil
}

// exchangeLocked sends m and waits for the device's response. Callers hold
// exchangeMu.
func (c *Client) exchangeLocked(ctx context.Context, m *Message, op string) (*Message, error) {
	c.response.clear()
	if err := c.write(ctx, m); err != nil {
		return nil, err
	}

	resp, err := c.response.wait(ctx, c.timeout, op, nil)
	if err != nil {
		if errors.Is(err, ErrResponseTimeout) {
			c.recordTrace(TraceRX, nil, "TIMEOUT: "+op)
		}
		return nil, err
	}

	code, _ := resp.Uint(FieldCode)
	if uint16(code) != ResponseOK { //nolint:gosec // field is declared uint16
		return nil, &ResponseError{Code: uint16(code), Text: resp.Text(FieldText)} //nolint:gosec // see above
	}
	return resp, nil
}

// observe records metrics for one request and attaches the wire trace to
// its error.
func (c *Client) observe(op string, start time.Time, err error) error {
	c.metrics.exchange(op, start, err)
	if err != nil {
		Debugf("%s failed: %v", op, err)
	}
	return c.withTrace(err)
}

// SendAndWait sends m and waits for the device's response. Only one request
// is in flight at a time; concurrent callers queue on the session lock.
//
// A response with a non-zero code fails with *ResponseError. No response
// within the timeout fails with *TimeoutError.
func (c *Client) SendAndWait(ctx context.Context, m *Message) (*Message, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	start := time.Now()
	resp, err := c.exchangeLocked(ctx, m, opSendAndWait)
	return resp, c.observe(opSendAndWait, start, err)
}

// Send writes m without waiting for a response.
func (c *Client) Send(ctx context.Context, m *Message) error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	start := time.Now()
	return c.observe(opSend, start, c.write(ctx, m))
}

// GetParameter requests parameter paramID and returns the device's reply
// once the request has been acknowledged.
func (c *Client) GetParameter(ctx context.Context, paramID uint16) (*Message, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	start := time.Now()
	msg, err := c.getParameterLocked(ctx, paramID)
	return msg, c.observe(opGetParameter, start, err)
}

func (c *Client) getParameterLocked(ctx context.Context, paramID uint16) (*Message, error) {
	req, err := NewParameter(c.registry, paramID, ParamActionRequest)
	if err != nil {
		return nil, err
	}

	c.parameter.clear()
	if _, err := c.exchangeLocked(ctx, req, opGetParameter); err != nil {
		return nil, err
	}
	return c.parameter.wait(ctx, c.timeout, fmt.Sprintf("parameter 0x%04X", paramID), func(m *Message) bool {
		id, ok := m.SubID()
		return ok && id == paramID
	})
}

// SetParameter writes a parameter message with the set action and waits
// for the device to accept it.
func (c *Client) SetParameter(ctx context.Context, m *Message) error {
	if m == nil || m.ID() != IDParameter {
		return fmt.Errorf("%w: not a parameter message", ErrInvalidParameter)
	}
	if err := m.Set(FieldAction, ParamActionSet); err != nil {
		return err
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	start := time.Now()
	_, err := c.exchangeLocked(ctx, m, opSetParameter)
	return c.observe(opSetParameter, start, err)
}

// PollLog asks the device for one message with id msgID and waits for it.
func (c *Client) PollLog(ctx context.Context, msgID byte) (*Message, error) {
	if err := c.checkLogID(msgID); err != nil {
		return nil, err
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	c.messageMu.Lock()
	defer c.messageMu.Unlock()

	start := time.Now()
	msg, err := c.pollLogLocked(ctx, msgID)
	return msg, c.observe(opPollLog, start, err)
}

func (c *Client) pollLogLocked(ctx context.Context, msgID byte) (*Message, error) {
	req, err := NewCommand(c.registry, CmdLogRequest)
	if err != nil {
		return nil, err
	}
	if err := req.Set(FieldMessageID, msgID); err != nil {
		return nil, err
	}
	if err := req.Set(FieldRate, uint8(0)); err != nil {
		return nil, err
	}

	c.message.arm(msgID)
	defer c.message.disarm()

	if _, err := c.exchangeLocked(ctx, req, opPollLog); err != nil {
		return nil, err
	}
	return c.message.wait(ctx, c.timeout, fmt.Sprintf("log 0x%02X", msgID), nil)
}

// WaitForMessage waits for the next message with id msgID without sending
// anything. It does not take the request lock, so it can run while another
// goroutine issues requests.
func (c *Client) WaitForMessage(ctx context.Context, msgID byte) (*Message, error) {
	if err := c.checkLogID(msgID); err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	c.messageMu.Lock()
	defer c.messageMu.Unlock()

	c.message.arm(msgID)
	defer c.message.disarm()

	start := time.Now()
	msg, err := c.message.wait(ctx, c.timeout, fmt.Sprintf("message 0x%02X", msgID), nil)
	return msg, c.observe(opWaitMessage, start, err)
}

// checkLogID rejects reserved and unregistered telemetry ids.
func (c *Client) checkLogID(msgID byte) error {
	if msgID >= IDCommand {
		return fmt.Errorf("%w: 0x%02X is a reserved id", ErrInvalidParameter, msgID)
	}
	if _, ok := c.registry.Messages.Lookup(uint16(msgID)); !ok {
		return fmt.Errorf("%w: message 0x%02X", ErrUnknownSchema, msgID)
	}
	return nil
}
