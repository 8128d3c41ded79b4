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

// Package polling runs a periodic log-request loop over a client session.
// Every cycle requests each configured message once; results reach the
// OnMessage callback in request order. Host sleep is detected from gaps
// between cycles and triggers a reconnect.
package polling

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	insnav "github.com/insnav/go-insnav"
	"github.com/insnav/go-insnav/internal/syncutil"
)

// Polling errors.
var (
	ErrAlreadyRunning = errors.New("poller already running")
	ErrRecoveryFailed = errors.New("recovery after sleep failed")
)

// Client is the part of a session the poller drives. *insnav.Client
// satisfies it.
type Client interface {
	PollLog(ctx context.Context, msgID byte) (*insnav.Message, error)
	Reconnect(ctx context.Context) error
}

var _ Client = (*insnav.Client)(nil)

// Metrics is a snapshot of poller activity.
type Metrics struct {
	Cycles          int64         // Completed or attempted polling cycles
	PollErrors      int64         // Failed log requests
	Messages        int64         // Messages handed to OnMessage
	CallbackErrors  int64         // OnMessage failures and panics
	Recoveries      int64         // Successful sleep recoveries
	LastPollLatency time.Duration // Duration of the last log request
}

// Poller requests a fixed set of messages on an interval.
type Poller struct {
	client      Client
	recoverer   Recoverer
	config      *Config
	now         func() time.Time
	onMessage   func(*insnav.Message) error
	onError     func(id byte, err error)
	onStale     func(id byte)
	onFresh     func(id byte)
	states      map[byte]*MessageState
	pauseChan   chan struct{}
	resumeChan  chan struct{}
	ackChan     chan struct{}
	startedAt   time.Time
	cycles      atomic.Int64
	pollErrors  atomic.Int64
	messages    atomic.Int64
	cbErrors    atomic.Int64
	recoveries  atomic.Int64
	lastLatency atomic.Int64
	stateMutex  syncutil.RWMutex
	running     atomic.Bool
	isPaused    atomic.Bool
}

// NewPoller creates a poller for client. A nil config uses DefaultConfig,
// which still needs MessageIDs.
func NewPoller(client Client, config *Config) (*Poller, error) {
	if client == nil {
		return nil, errors.New("polling: nil client")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("polling: %w", err)
	}

	p := &Poller{
		client:     client,
		config:     config,
		now:        time.Now,
		states:     make(map[byte]*MessageState, len(config.MessageIDs)),
		pauseChan:  make(chan struct{}, 1),
		resumeChan: make(chan struct{}, 1),
		ackChan:    make(chan struct{}, 1),
	}
	for _, id := range config.MessageIDs {
		p.states[id] = &MessageState{}
	}
	p.recoverer = NewDefaultRecoverer(
		client, nil,
		config.SleepRecovery.RecoveryBackoff,
		config.SleepRecovery.MaxRecoveryAttempts,
	)
	return p, nil
}

// SetRecoverer replaces the recovery strategy used after a detected sleep.
func (p *Poller) SetRecoverer(r Recoverer) {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.recoverer = r
}

// SetOnMessage sets the callback for every polled message. An error or a
// panic from it stops the poller.
func (p *Poller) SetOnMessage(callback func(*insnav.Message) error) {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.onMessage = callback
}

// SetOnError sets the callback for failed log requests.
func (p *Poller) SetOnError(callback func(id byte, err error)) {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.onError = callback
}

// SetOnStale sets the callback for a message that went without a fresh
// copy for Config.StaleAfter. It fires once per stale period.
func (p *Poller) SetOnStale(callback func(id byte)) {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.onStale = callback
}

// SetOnFresh sets the callback for a stale message that arrived again.
func (p *Poller) SetOnFresh(callback func(id byte)) {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()
	p.onFresh = callback
}

// State returns the tracking state of id.
func (p *Poller) State(id byte) (MessageState, bool) {
	p.stateMutex.RLock()
	defer p.stateMutex.RUnlock()
	ms, ok := p.states[id]
	if !ok {
		return MessageState{}, false
	}
	return *ms, true
}

// States returns the tracking state of every polled id.
func (p *Poller) States() map[byte]MessageState {
	p.stateMutex.RLock()
	defer p.stateMutex.RUnlock()
	out := make(map[byte]MessageState, len(p.states))
	for id, ms := range p.states {
		out[id] = *ms
	}
	return out
}

// Metrics returns current operational metrics
func (p *Poller) Metrics() Metrics {
	return Metrics{
		Cycles:          p.cycles.Load(),
		PollErrors:      p.pollErrors.Load(),
		Messages:        p.messages.Load(),
		CallbackErrors:  p.cbErrors.Load(),
		Recoveries:      p.recoveries.Load(),
		LastPollLatency: time.Duration(p.lastLatency.Load()),
	}
}

// Start polls until ctx ends, a fatal error occurs, OnMessage fails or
// sleep recovery fails. It blocks; run it in a goroutine to poll in the
// background.
func (p *Poller) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	p.startedAt = p.now()
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		if err := p.handleContextAndPause(ctx); err != nil {
			return err
		}
		if err := p.cycle(ctx); err != nil {
			return err
		}

		last := p.now()
		resumed, err := p.waitForNextPollOrPause(ctx, ticker)
		if err != nil {
			return err
		}
		if resumed {
			continue
		}
		if err := p.checkSleep(ctx, p.now().Sub(last)); err != nil {
			return err
		}
	}
}

// Pause stops polling after the current cycle and waits until the loop
// acknowledges it, or a short grace period passes when no loop runs.
func (p *Poller) Pause(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.isPaused.CompareAndSwap(false, true) {
		return nil
	}

	select {
	case p.pauseChan <- struct{}{}:
	default:
		return nil
	}

	ackTimeout := time.NewTimer(100 * time.Millisecond)
	defer ackTimeout.Stop()
	select {
	case <-p.ackChan:
		return nil
	case <-ackTimeout.C:
		return nil
	case <-ctx.Done():
		p.isPaused.Store(false)
		return ctx.Err()
	}
}

// Resume restarts polling after Pause.
func (p *Poller) Resume() {
	if p.isPaused.CompareAndSwap(true, false) {
		select {
		case p.resumeChan <- struct{}{}:
		default:
		}
	}
}

// cycle requests every configured message once.
func (p *Poller) cycle(ctx context.Context) error {
	p.cycles.Add(1)
	for _, id := range p.config.MessageIDs {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.poll(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			p.handlePollError(id, err)
			if insnav.IsFatal(err) {
				return fmt.Errorf("poll 0x%02X: %w", id, err)
			}
			continue
		}

		if err := p.handleMessage(id, msg); err != nil {
			return fmt.Errorf("callback error during polling: %w", err)
		}
	}
	return nil
}

func (p *Poller) poll(ctx context.Context, id byte) (*insnav.Message, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}
	start := time.Now()
	msg, err := p.client.PollLog(ctx, id)
	p.lastLatency.Store(int64(time.Since(start)))
	return msg, err
}

func (p *Poller) handlePollError(id byte, err error) {
	p.pollErrors.Add(1)
	insnav.Debugf("poll 0x%02X failed: %v", id, err)

	p.stateMutex.Lock()
	turnedStale := p.states[id].recordFailure(err, p.now(), p.startedAt, p.config.StaleAfter)
	onError, onStale := p.onError, p.onStale
	p.stateMutex.Unlock()

	if onError != nil {
		onError(id, err)
	}
	if turnedStale && onStale != nil {
		onStale(id)
	}
}

func (p *Poller) handleMessage(id byte, msg *insnav.Message) error {
	p.stateMutex.Lock()
	recovered := p.states[id].recordSuccess(p.now())
	onMessage, onFresh := p.onMessage, p.onFresh
	p.stateMutex.Unlock()

	if recovered && onFresh != nil {
		onFresh(id)
	}
	p.messages.Add(1)
	if onMessage == nil {
		return nil
	}
	if err := safeCall(onMessage, msg); err != nil {
		p.cbErrors.Add(1)
		return err
	}
	return nil
}

// safeCall executes a callback with panic recovery
func safeCall(callback func(*insnav.Message) error, msg *insnav.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("OnMessage callback panicked: %v", r)
		}
	}()
	if cbErr := callback(msg); cbErr != nil {
		return fmt.Errorf("OnMessage callback failed: %w", cbErr)
	}
	return nil
}

// checkSleep reconnects when the gap since the last cycle shows the host
// was suspended.
func (p *Poller) checkSleep(ctx context.Context, elapsed time.Duration) error {
	if !p.config.SleepRecovery.DetectSleep(elapsed, p.config.Interval) {
		return nil
	}
	insnav.Debugf("polling: %v gap, assuming host sleep", elapsed)

	p.stateMutex.RLock()
	r := p.recoverer
	p.stateMutex.RUnlock()

	if err := r.AttemptRecovery(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRecoveryFailed, err)
	}
	p.recoveries.Add(1)
	return nil
}

// waitForNextPollOrPause waits for the next poll interval or handles pause
// signals. resumed is true when the wait ended with Resume.
func (p *Poller) waitForNextPollOrPause(ctx context.Context, ticker *time.Ticker) (resumed bool, err error) {
	select {
	case <-ticker.C:
		return false, nil
	case <-p.pauseChan:
		return true, p.handlePauseSignal(ctx)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// handlePauseSignal sends acknowledgment and waits for resume
func (p *Poller) handlePauseSignal(ctx context.Context) error {
	select {
	case p.ackChan <- struct{}{}:
	default:
	}
	return p.waitForResume(ctx)
}

func (p *Poller) handleContextAndPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.pauseChan:
		return p.handlePauseSignal(ctx)
	default:
		return nil
	}
}

func (p *Poller) waitForResume(ctx context.Context) error {
	select {
	case <-p.resumeChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
