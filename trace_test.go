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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceBuffer_RecordsFrames(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("tcp", "10.0.0.5:3000", 10)
	tx := buildFrame(t, IDCommand, []byte{0x01, 0x00, 0x1F})
	tx[2] = 7
	tb.RecordTX(tx, "open_channel")
	tb.RecordRX(responseFrame(t, 3, "channel 31 in use"), "")

	te := GetTrace(tb.WrapError(errors.New("rejected")))
	require.NotNil(t, te)
	assert.Equal(t, "tcp", te.Transport)
	assert.Equal(t, "10.0.0.5:3000", te.Port)
	require.Len(t, te.Trace, 2)

	assert.Equal(t, TraceTX, te.Trace[0].Direction)
	assert.True(t, te.Trace[0].HasHeader)
	assert.Equal(t, IDCommand, te.Trace[0].ID)
	assert.Equal(t, byte(7), te.Trace[0].Counter)
	assert.Contains(t, te.Trace[0].String(), "TX 0xFD #7: 7E FD 07")
	assert.Contains(t, te.Trace[0].String(), "(open_channel)")

	assert.Equal(t, TraceRX, te.Trace[1].Direction)
	assert.Equal(t, IDResponse, te.Trace[1].ID)
}

func TestTraceableError_Unwrap(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("uart", "/dev/ttyUSB0", 10)
	tb.RecordTX([]byte{0x01, 0x02}, "test")
	wrapped := tb.WrapError(&TimeoutError{Op: "poll_log", Timeout: time.Second})

	require.ErrorIs(t, wrapped, ErrResponseTimeout)
	assert.True(t, HasTrace(wrapped))
	assert.Contains(t, wrapped.Error(), "poll_log")

	plain := errors.New("plain")
	assert.False(t, HasTrace(plain))
	assert.Nil(t, GetTrace(plain))
}

func TestTraceableError_FormatTrace(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("tcp", "ins:3000", 10)
	tb.RecordTX([]byte{0x7E, 0xFD}, "log_request")
	tb.RecordRX(buildFrame(t, testAttitudeID, attitudePayload(0, 0, 0)), "")
	tb.RecordTimeout("no telemetry")

	te := GetTrace(tb.WrapError(errors.New("timeout")))
	require.NotNil(t, te)
	formatted := te.FormatTrace()

	for _, want := range []string{
		"[tcp:ins:3000] Wire trace (3 entries)",
		"> 7E FD (log_request)",
		"< 7E 10",
		"[0x10 #0]",
		"< (empty) (TIMEOUT: no telemetry)",
	} {
		assert.Contains(t, formatted, want)
	}
	assert.Equal(t, 3, strings.Count(formatted, "\n")-1)

	empty := &TraceableError{Err: errors.New("x"), Transport: "tcp", Port: "p"}
	assert.Contains(t, empty.FormatTrace(), "no trace data")
}

func TestTraceBuffer_Ring(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("tcp", "test", 3)
	for _, note := range []string{"first", "second", "third", "fourth", "fifth"} {
		tb.RecordTX([]byte{0x01}, note)
	}
	assert.Equal(t, 3, tb.Len())

	notes := []string{}
	for _, e := range tb.Entries() {
		notes = append(notes, e.Note)
	}
	assert.Equal(t, []string{"third", "fourth", "fifth"}, notes)
}

func TestTraceBuffer_WrapNilAndClear(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("tcp", "test", 0)
	tb.RecordTX([]byte{0x01}, "first")
	require.NoError(t, tb.WrapError(nil))

	tb.Clear()
	assert.Zero(t, tb.Len())
	te := GetTrace(tb.WrapError(errors.New("test")))
	require.NotNil(t, te)
	assert.Empty(t, te.Trace)

	for range DefaultTraceSize + 1 {
		tb.RecordRX(nil, "")
	}
	assert.Equal(t, DefaultTraceSize, tb.Len())
}

func TestTraceBuffer_CopiesData(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer("tcp", "test", 4)
	data := []byte{0x7E, 0x10}
	tb.RecordRX(data, "")
	data[1] = 0xFF

	te := GetTrace(tb.WrapError(errors.New("x")))
	require.NotNil(t, te)
	assert.Equal(t, byte(0x10), te.Trace[0].Data[1], "recorded data must not alias the caller's buffer")
	assert.False(t, te.Trace[0].HasHeader, "too short for a header")
	assert.Contains(t, te.Trace[0].String(), "RX: 7E 10")
}

func TestFormatHexBytes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "(empty)", formatHexBytes(nil))
	assert.Equal(t, "7E 0A FF", formatHexBytes([]byte{0x7E, 0x0A, 0xFF}))
	got := formatHexBytes(make([]byte, 40))
	assert.True(t, strings.HasSuffix(got, "... (40 bytes total)"), got)
	assert.Equal(t, 32, strings.Count(got, "00"))
}
