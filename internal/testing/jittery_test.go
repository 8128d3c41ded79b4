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

package testing

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jitterPair returns a jittery reader end and the plain writer end of a pipe.
func jitterPair(t *testing.T, cfg JitterConfig) (*JitteryConn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return NewJitteryConn(a, cfg), b
}

func TestJitteryConn_PreservesBytes(t *testing.T) {
	t.Parallel()
	j, w := jitterPair(t, JitterConfig{FragmentReads: true, FragmentMinBytes: 1, Seed: 42})

	want := bytes.Repeat([]byte{0x7E, 0x01, 0x02, 0x03, 0x04}, 200)
	go func() {
		_, _ = w.Write(want)
		_ = w.Close()
	}()

	got, err := io.ReadAll(j)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Greater(t, j.Reads(), 1, "expected fragmented reads")
}

func TestJitteryConn_SegmentBoundaries(t *testing.T) {
	t.Parallel()
	j, w := jitterPair(t, JitterConfig{SegmentSize: 64, Seed: 7})

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	go func() {
		_, _ = w.Write(data)
		_ = w.Close()
	}()

	total := 0
	buf := make([]byte, 512)
	for {
		n, err := j.Read(buf)
		if n > 0 {
			assert.LessOrEqual(t, total%64+n, 64, "read crossed a segment boundary at %d", total)
			total += n
		}
		if err != nil {
			break
		}
	}
	assert.Equal(t, len(data), total)
}

func TestJitteryConn_NoiseDoesNotHideFrames(t *testing.T) {
	t.Parallel()
	j, w := jitterPair(t, JitterConfig{
		FragmentReads:    true,
		FragmentMinBytes: 1,
		NoiseEvery:       3,
		NoiseMaxBytes:    8,
		MaxLatency:       time.Millisecond,
		Seed:             99,
	})

	var frames [][]byte
	for i := range 20 {
		raw, err := frame.Build(frame.Header{ID: byte(i + 1)}, []byte{byte(i), 0xAA, 0x55}, 0)
		require.NoError(t, err)
		frames = append(frames, raw)
	}
	go func() {
		for _, f := range frames {
			_, _ = w.Write(f)
		}
		// Flush so a false sync started by trailing noise completes.
		_, _ = w.Write(make([]byte, frame.MaxFrameLength))
		_ = w.Close()
	}()

	s := frame.NewSynchronizer()
	defer s.Release()
	var got [][]byte
	s.AddCallback(func(raw []byte) { got = append(got, raw) })

	buf := make([]byte, 128)
	for {
		n, err := j.Read(buf)
		s.Feed(buf[:n])
		if err != nil {
			break
		}
	}

	// Noise can only corrupt frames by landing inside them; every frame that
	// came through intact must be one that was sent.
	require.NotEmpty(t, got)
	for _, g := range got {
		assert.Contains(t, frames, g)
	}
}
