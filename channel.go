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

// Channel allocation policies.
const (
	PolicyDescending = "descending"
	PolicyAscending  = "ascending"
	PolicyFixed      = "fixed"
	PolicyNone       = "none"
)

func validChannel(ch int) error {
	if ch < MinChannel || ch > MaxChannel {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	return nil
}

// OpenChannel asks the device to open channel ch for this session.
func (c *Client) OpenChannel(ctx context.Context, ch int) error {
	if err := validChannel(ch); err != nil {
		return err
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	start := time.Now()
	return c.observe(opOpenChannel, start, c.openChannelLocked(ctx, ch))
}

func (c *Client) openChannelLocked(ctx context.Context, ch int) error {
	req, err := NewCommand(c.registry, CmdOpenChannel)
	if err != nil {
		return err
	}
	if err := req.Set(FieldChannel, uint8(ch)); err != nil { //nolint:gosec // validated 0..31
		return err
	}
	if _, err := c.exchangeLocked(ctx, req, opOpenChannel); err != nil {
		return err
	}
	c.channel.Store(int32(ch)) //nolint:gosec // validated 0..31
	Debugf("opened channel %d", ch)
	return nil
}

// CloseChannel releases the open channel. It is a no-op when none is open.
func (c *Client) CloseChannel(ctx context.Context) error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	ch, ok := c.Channel()
	if !ok {
		return nil
	}

	start := time.Now()
	req, err := NewCommand(c.registry, CmdCloseChannel)
	if err == nil {
		err = req.Set(FieldChannel, uint8(ch)) //nolint:gosec // stored channels are 0..31
	}
	if err == nil {
		_, err = c.exchangeLocked(ctx, req, opCloseChannel)
	}
	if err == nil {
		c.channel.Store(-1)
	}
	return c.observe(opCloseChannel, start, err)
}

// AllocateChannelDescending tries channels 31 down to 0 and returns the
// first one the device accepts. The transport is reconnected before every
// attempt after the first, so it needs a transport factory. A candidate
// counts as taken when the device rejects it, the exchange times out or
// the reconnect fails.
//
// Exhausting every channel fails with a *ChannelError, which IsFatal
// reports as fatal.
func (c *Client) AllocateChannelDescending(ctx context.Context) (int, error) {
	if c.factory == nil {
		return -1, fmt.Errorf("%w: descending channel allocation needs a transport factory", ErrInvalidConfig)
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	return c.allocate(ctx, PolicyDescending, MaxChannel, -1, true)
}

// AllocateChannelAscending tries channels 0 up to 31 on the current
// connection and returns the first one the device accepts.
func (c *Client) AllocateChannelAscending(ctx context.Context) (int, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	return c.allocate(ctx, PolicyAscending, MinChannel, 1, false)
}

func (c *Client) allocate(ctx context.Context, policy string, first, step int, reconnect bool) (int, error) {
	attempts := make([]int, 0, MaxChannel-MinChannel+1)
	var last error

	for ch := first; ch >= MinChannel && ch <= MaxChannel; ch += step {
		attempts = append(attempts, ch)

		if reconnect && len(attempts) > 1 {
			if err := c.reconnectLocked(ctx); err != nil {
				if stop := c.allocationStopped(ctx, err); stop != nil {
					return -1, stop
				}
				Debugf("channel %d: reconnect failed: %v", ch, err)
				last = err
				continue
			}
		}

		start := time.Now()
		err := c.openChannelLocked(ctx, ch)
		c.metrics.exchange(opOpenChannel, start, err)
		if err == nil {
			return ch, nil
		}
		if stop := c.allocationStopped(ctx, err); stop != nil {
			return -1, stop
		}
		Debugf("channel %d unavailable: %v", ch, err)
		last = err
	}

	return -1, &ChannelError{
		Err:      ErrChannelsExhausted,
		Policy:   policy,
		Attempts: attempts,
		Last:     last,
	}
}

// allocationStopped returns the error that ends an allocation early: a
// closed client or a finished context.
func (*Client) allocationStopped(ctx context.Context, err error) error {
	if errors.Is(err, ErrClientClosed) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

// Reconnect replaces the transport with a new one from the transport
// factory. Pending waits fail, correlation state is cleared and the open
// channel is forgotten.
func (c *Client) Reconnect(ctx context.Context) error {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	return c.reconnectLocked(ctx)
}

func (c *Client) reconnectLocked(ctx context.Context) error {
	if c.factory == nil {
		return fmt.Errorf("%w: no transport factory", ErrInvalidConfig)
	}
	if c.closed.Load() {
		return ErrClientClosed
	}

	if err := c.detach(); err != nil {
		Debugf("closing old transport: %v", err)
	}
	c.channel.Store(-1)

	var t Transport
	err := RetryWithConfig(ctx, c.retry, func(ctx context.Context) error {
		var err error
		t, err = c.factory(ctx, c.endpoint)
		return err
	})
	if err != nil {
		return fmt.Errorf("reconnect %s: %w", c.endpoint, err)
	}
	if err := t.SetTimeout(c.readTimeout); err != nil {
		_ = t.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	c.response.clear()
	c.parameter.clear()
	c.message.clear()

	if !c.startConnection(t) {
		_ = t.Close()
		return ErrClientClosed
	}
	c.metrics.reconnect()
	Debugf("reconnected to %s", c.endpoint)
	return nil
}
