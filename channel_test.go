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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFactory hands out MockTransports answered by one shared device.
type mockFactory struct {
	dev        *testDevice
	err        error
	transports []*MockTransport
	mu         sync.Mutex
}

func (f *mockFactory) open(ctx context.Context, _ string) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	mt := f.dev.attach(NewMockTransport())
	f.transports = append(f.transports, mt)
	return mt, nil
}

func (f *mockFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func createFactoryClient(t *testing.T, dev *testDevice, opts ...Option) (*Client, *mockFactory) {
	t.Helper()
	f := &mockFactory{dev: dev}
	first, err := f.open(context.Background(), "")
	require.NoError(t, err)

	all := append([]Option{
		WithRegistry(testRegistry(t)),
		WithTimeout(100 * time.Millisecond),
		WithReadTimeout(5 * time.Millisecond),
		WithTransportFactory(f.open, "mock:3000"),
		WithRetryConfig(&RetryConfig{MaxAttempts: 0}),
	}, opts...)
	client, err := New(first, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, f
}

func channelRange(from, to int) []int {
	out := []int{}
	step := 1
	if from > to {
		step = -1
	}
	for ch := from; ; ch += step {
		out = append(out, ch)
		if ch == to {
			return out
		}
	}
}

func TestClient_OpenCloseChannel(t *testing.T) {
	t.Parallel()
	client, mt := createMockClient(t)
	newTestDevice(t).attach(mt)
	ctx := context.Background()

	require.NoError(t, client.CloseChannel(ctx), "closing with nothing open is a no-op")
	assert.Empty(t, mt.Written())

	require.ErrorIs(t, client.OpenChannel(ctx, -1), ErrInvalidChannel)
	require.ErrorIs(t, client.OpenChannel(ctx, 32), ErrInvalidChannel)

	require.NoError(t, client.OpenChannel(ctx, MaxChannel))
	ch, ok := client.Channel()
	require.True(t, ok)
	assert.Equal(t, MaxChannel, ch)

	require.NoError(t, client.CloseChannel(ctx))
	_, ok = client.Channel()
	assert.False(t, ok)

	_, payload := writtenFrame(t, mt, 1)
	assert.Equal(t, []byte{0x02, 0x00, MaxChannel}, payload)
}

func TestClient_AllocateAscending(t *testing.T) {
	t.Parallel()
	client, mt := createMockClient(t)
	dev := newTestDevice(t)
	dev.setBusy(0, 1, 2)
	dev.attach(mt)

	ch, err := client.AllocateChannelAscending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ch)
	assert.Equal(t, []int{0, 1, 2, 3}, dev.openAttempts())
	got, _ := client.Channel()
	assert.Equal(t, 3, got)
}

func TestClient_AllocateAscendingExhausted(t *testing.T) {
	t.Parallel()
	client, mt := createMockClient(t)
	dev := newTestDevice(t)
	dev.setBusy(channelRange(MinChannel, MaxChannel)...)
	dev.attach(mt)

	_, err := client.AllocateChannelAscending(context.Background())
	var ce *ChannelError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, PolicyAscending, ce.Policy)
	assert.Equal(t, channelRange(MinChannel, MaxChannel), ce.Attempts)
	assert.True(t, IsFatal(err))
}

func TestClient_AllocateDescending(t *testing.T) {
	t.Parallel()
	dev := newTestDevice(t)
	dev.setBusy(channelRange(5, MaxChannel)...)
	client, f := createFactoryClient(t, dev)

	ch, err := client.AllocateChannelDescending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, ch)

	want := channelRange(MaxChannel, 4)
	assert.Equal(t, want, dev.openAttempts())
	assert.Equal(t, len(want), f.count(), "one transport per candidate")

	// Every replaced transport was closed; only the last is live.
	for i, mt := range f.transports {
		assert.Equal(t, i == len(f.transports)-1, mt.IsConnected(), "transport %d", i)
	}
	assert.Same(t, f.transports[len(f.transports)-1], client.Transport())
}

func TestClient_AllocateDescendingExhaustedByTimeouts(t *testing.T) {
	t.Parallel()
	dev := newTestDevice(t)
	dev.setSilent(true)
	client, _ := createFactoryClient(t, dev, WithTimeout(10*time.Millisecond))

	_, err := client.AllocateChannelDescending(context.Background())
	var ce *ChannelError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, PolicyDescending, ce.Policy)
	assert.Len(t, ce.Attempts, MaxChannel-MinChannel+1)
	require.ErrorIs(t, err, ErrChannelsExhausted)
	assert.NotErrorIs(t, err, ErrResponseTimeout, "exhaustion must not look like a timeout")
	require.ErrorIs(t, ce.Last, ErrResponseTimeout)
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
}

func TestClient_AllocateDescendingReconnectFailures(t *testing.T) {
	t.Parallel()
	dev := newTestDevice(t)
	dev.setBusy(MaxChannel)
	client, f := createFactoryClient(t, dev)

	f.mu.Lock()
	f.err = NewTransportError("dial", "mock:3000", errors.New("refused"), ErrorTypeTransient)
	f.mu.Unlock()

	_, err := client.AllocateChannelDescending(context.Background())
	var ce *ChannelError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Attempts, 32, "failed reconnects count as taken candidates")
	assert.Equal(t, []int{MaxChannel}, dev.openAttempts())
	assert.Contains(t, ce.Error(), "refused")
}

func TestClient_AllocateDescendingNeedsFactory(t *testing.T) {
	t.Parallel()
	client, _ := createMockClient(t)

	_, err := client.AllocateChannelDescending(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.ErrorIs(t, client.Reconnect(context.Background()), ErrInvalidConfig)
}

func TestClient_AllocateStopsOnContext(t *testing.T) {
	t.Parallel()
	dev := newTestDevice(t)
	dev.setSilent(true)
	client, _ := createFactoryClient(t, dev, WithTimeout(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.AllocateChannelDescending(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	var ce *ChannelError
	assert.False(t, errors.As(err, &ce))
}

func TestClient_Reconnect(t *testing.T) {
	t.Parallel()
	dev := newTestDevice(t)
	m := NewMetrics("reconnect_test")
	client, f := createFactoryClient(t, dev, WithMetrics(m))
	ctx := context.Background()

	require.NoError(t, client.OpenChannel(ctx, 6))
	old := client.Transport()

	require.NoError(t, client.Reconnect(ctx))
	assert.False(t, old.IsConnected())
	assert.NotSame(t, old, client.Transport())
	_, open := client.Channel()
	assert.False(t, open, "reconnect forgets the channel")
	assert.Equal(t, 2, f.count())

	_, err := client.PollLog(ctx, testAttitudeID)
	require.NoError(t, err, "session works on the new transport")

	require.NoError(t, client.Close())
	require.ErrorIs(t, client.Reconnect(ctx), ErrClientClosed)
}
