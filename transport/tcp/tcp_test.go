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

package tcp

import (
	"context"
	"encoding/binary"
	"math"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/insnav/go-insnav"
	virt "github.com/insnav/go-insnav/internal/testing"
	"github.com/insnav/go-insnav/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	attitudeID   = 0x10
	outputRateID = 0x0020
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := insnav.CoreRegistry(func(b *schema.RegistryBuilder) {
		b.Message(attitudeID, schema.MustNew("attitude",
			schema.F("roll", schema.Float32, 1),
			schema.F("pitch", schema.Float32, 1),
			schema.F("yaw", schema.Float32, 1),
		))
		p, err := insnav.ParameterSchema("outputRate", schema.F("rate", schema.Uint16, 1))
		require.NoError(t, err)
		b.Parameter(outputRateID, p)
	})
	require.NoError(t, err)
	return reg
}

// deviceServer accepts connections on loopback and serves each one with the
// same virtual device, one at a time like a real unit.
type deviceServer struct {
	ln  net.Listener
	dev *virt.VirtualDevice
	wg  sync.WaitGroup
}

func startServer(t *testing.T) *deviceServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &deviceServer{
		ln: ln,
		dev: virt.NewVirtualDevice(testRegistry(t), virt.Commands{
			OpenChannel:  insnav.CmdOpenChannel,
			CloseChannel: insnav.CmdCloseChannel,
			LogRequest:   insnav.CmdLogRequest,
		}),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { _ = conn.Close() }()
				_ = s.dev.Serve(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
	})
	return s
}

func (s *deviceServer) config(t *testing.T) *insnav.Config {
	t.Helper()
	host, port, err := net.SplitHostPort(s.ln.Addr().String())
	require.NoError(t, err)
	cfg := insnav.DefaultConfig()
	cfg.Address = host
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Timeout = time.Second
	cfg.ReadTimeout = 10 * time.Millisecond
	cfg.Retry.MaxAttempts = 1
	return cfg
}

func connect(t *testing.T, s *deviceServer, mutate func(*insnav.Config)) (*insnav.Client, error) {
	t.Helper()
	cfg := s.config(t)
	if mutate != nil {
		mutate(cfg)
	}
	client, err := Connect(context.Background(), cfg, insnav.WithRegistry(testRegistry(t)))
	if client != nil {
		t.Cleanup(func() { _ = client.Close() })
	}
	return client, err
}

func TestTransport_ReadTimeoutIsIdle(t *testing.T) {
	t.Parallel()
	s := startServer(t)

	tr, err := Dial(context.Background(), s.ln.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.Equal(t, insnav.TransportTCP, tr.Type())
	assert.Equal(t, s.ln.Addr().String(), tr.RemoteAddr())
	require.NoError(t, tr.SetTimeout(5*time.Millisecond))
	require.ErrorIs(t, tr.SetTimeout(0), insnav.ErrInvalidConfig)

	n, err := tr.Read(make([]byte, 64))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())
	_, err = tr.Read(make([]byte, 64))
	require.ErrorIs(t, err, insnav.ErrTransportClosed)
	_, err = tr.Write([]byte{0x7E})
	require.ErrorIs(t, err, insnav.ErrTransportClosed)
}

func TestDial_Errors(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr, 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, insnav.IsRetryable(err), "refused connection should be retryable: %v", err)

	_, err = Dial(context.Background(), "127.0.0.1", 200*time.Millisecond)
	require.Error(t, err)
	assert.False(t, insnav.IsRetryable(err), "missing port is permanent: %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Dial(ctx, addr, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConnect_DescendingAllocation(t *testing.T) {
	t.Parallel()
	s := startServer(t)
	busy := make([]int, 0, 27)
	for ch := 5; ch <= insnav.MaxChannel; ch++ {
		busy = append(busy, ch)
	}
	s.dev.SetBusyChannels(busy...)

	client, err := connect(t, s, func(cfg *insnav.Config) {
		cfg.Channel.Policy = insnav.PolicyDescending
	})
	require.NoError(t, err)

	ch, ok := client.Channel()
	require.True(t, ok)
	assert.Equal(t, 4, ch)

	want := make([]int, 0, 28)
	for ch := insnav.MaxChannel; ch >= 4; ch-- {
		want = append(want, ch)
	}
	state := s.dev.State()
	assert.Equal(t, want, state.OpenAttempts)
	assert.Equal(t, 4, state.Channel)
	assert.Equal(t, len(want), state.Connections, "one connection per candidate")
}

func TestConnect_DescendingExhausted(t *testing.T) {
	t.Parallel()
	s := startServer(t)
	all := make([]int, 0, 32)
	for ch := insnav.MinChannel; ch <= insnav.MaxChannel; ch++ {
		all = append(all, ch)
	}
	s.dev.SetBusyChannels(all...)

	_, err := connect(t, s, func(cfg *insnav.Config) {
		cfg.Channel.Policy = insnav.PolicyDescending
	})
	require.Error(t, err)

	var ce *insnav.ChannelError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Attempts, 32)
	assert.Equal(t, insnav.MaxChannel, ce.Attempts[0])
	assert.Equal(t, insnav.MinChannel, ce.Attempts[31])
	require.ErrorIs(t, err, insnav.ErrChannelsExhausted)
	assert.NotErrorIs(t, err, insnav.ErrResponseTimeout)
	assert.True(t, insnav.IsFatal(err))
	assert.False(t, insnav.IsRetryable(err))

	var re *insnav.ResponseError
	require.ErrorAs(t, ce.Last, &re)
}

func TestConnect_FixedChannelAndPolling(t *testing.T) {
	t.Parallel()
	s := startServer(t)
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload, math.Float32bits(-0.25))
	s.dev.SetTelemetry(attitudeID, payload)

	client, err := connect(t, s, func(cfg *insnav.Config) {
		cfg.Channel = insnav.ChannelConfig{Policy: insnav.PolicyFixed, Number: 7}
	})
	require.NoError(t, err)
	ch, ok := client.Channel()
	require.True(t, ok)
	assert.Equal(t, 7, ch)

	ctx := context.Background()
	m, err := client.PollLog(ctx, attitudeID)
	require.NoError(t, err)
	roll, ok := m.Float("roll")
	require.True(t, ok)
	assert.InDelta(t, -0.25, roll, 1e-6)

	set, err := insnav.NewParameter(client.Registry(), outputRateID, insnav.ParamActionSet)
	require.NoError(t, err)
	require.NoError(t, set.Set("rate", uint16(50)))
	require.NoError(t, client.SetParameter(ctx, set))

	got, err := client.GetParameter(ctx, outputRateID)
	require.NoError(t, err)
	rate, ok := got.Uint("rate")
	require.True(t, ok)
	assert.Equal(t, uint64(50), rate)
}

func TestClient_JitteryLink(t *testing.T) {
	t.Parallel()
	s := startServer(t)

	conn, err := net.Dial("tcp", s.ln.Addr().String())
	require.NoError(t, err)
	jc := virt.NewJitteryConn(conn, virt.JitterConfig{
		MaxLatency:       2 * time.Millisecond,
		FragmentReads:    true,
		FragmentMinBytes: 1,
		Seed:             1234,
	})

	client, err := insnav.New(New(jc),
		insnav.WithRegistry(testRegistry(t)),
		insnav.WithTimeout(2*time.Second),
		insnav.WithReadTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	for range 10 {
		m, err := client.PollLog(ctx, attitudeID)
		require.NoError(t, err)
		assert.Equal(t, byte(attitudeID), m.ID())
	}
	assert.Greater(t, jc.Reads(), 10)
}

func TestClient_LinkLossFailsWaiters(t *testing.T) {
	t.Parallel()
	s := startServer(t)
	s.dev.DropResponses(1)

	client, err := connect(t, s, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := client.PollLog(context.Background(), attitudeID)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.Transport().Close())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.NotErrorIs(t, err, insnav.ErrResponseTimeout)
		assert.True(t, insnav.IsFatal(err), "closed link should be fatal: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("waiter not released after transport loss")
	}
}
