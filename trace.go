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
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/insnav/go-insnav/internal/frame"
)

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates a frame sent to the device
	TraceTX TraceDirection = "TX"
	// TraceRX indicates a frame received from the device
	TraceRX TraceDirection = "RX"
)

// maxTraceHex caps the bytes rendered per entry.
const maxTraceHex = 32

// TraceEntry is one frame seen on the wire, or a note such as a timeout.
// ID and Counter come from the frame header when Data holds one.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
	ID        byte
	Counter   byte
	HasHeader bool
}

func newTraceEntry(dir TraceDirection, data []byte, note string) TraceEntry {
	e := TraceEntry{
		Timestamp: time.Now(),
		Direction: dir,
		Note:      note,
		Data:      append([]byte(nil), data...),
	}
	if len(data) >= frame.HeaderSize && data[0] == frame.SyncByte {
		e.ID, e.Counter, e.HasHeader = data[1], data[2], true
	}
	return e
}

// label is the direction plus the frame id and counter, when known.
func (e TraceEntry) label() string {
	if !e.HasHeader {
		return string(e.Direction)
	}
	return fmt.Sprintf("%s 0x%02X #%d", e.Direction, e.ID, e.Counter)
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	s := fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format("15:04:05.000"), e.label(), formatHexBytes(e.Data))
	if e.Note != "" {
		s += " (" + e.Note + ")"
	}
	return s
}

// TraceableError wraps an error with the frames exchanged before it.
// Consumer applications can use errors.As() to extract trace information:
//
//	var te *insnav.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("Wire trace:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport string
	Port      string
	Trace     []TraceEntry
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the trace one entry per line, oldest first. Sent
// frames are marked ">" and received ones "<".
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Transport, e.Port)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] Wire trace (%d entries):\n", e.Transport, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		mark := ">"
		if entry.Direction == TraceRX {
			mark = "<"
		}
		_, _ = fmt.Fprintf(&sb, "  %s %s", mark, formatHexBytes(entry.Data))
		if entry.HasHeader {
			_, _ = fmt.Fprintf(&sb, " [0x%02X #%d]", entry.ID, entry.Counter)
		}
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, " (%s)", entry.Note)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// formatHexBytes renders data as spaced upper-case hex, truncated to
// maxTraceHex bytes.
func formatHexBytes(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	n := min(len(data), maxTraceHex)
	out := strings.ToUpper(strings.TrimSpace(hexDump(data[:n])))
	if len(data) > n {
		out += fmt.Sprintf(" ... (%d bytes total)", len(data))
	}
	return out
}

func hexDump(b []byte) string {
	buf := make([]byte, 0, len(b)*3)
	for i := range b {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = hex.AppendEncode(buf, b[i:i+1])
	}
	return string(buf)
}

// TraceBuffer is a ring of the most recent frames of one connection.
//
// Thread Safety: not safe for concurrent use; the client guards it with its
// own mutex.
type TraceBuffer struct {
	transport string
	port      string
	ring      []TraceEntry
	next      int
	full      bool
}

// NewTraceBuffer returns a buffer holding up to size entries; size <= 0
// selects DefaultTraceSize.
func NewTraceBuffer(transport, port string, size int) *TraceBuffer {
	if size <= 0 {
		size = DefaultTraceSize
	}
	return &TraceBuffer{
		transport: transport,
		port:      port,
		ring:      make([]TraceEntry, size),
	}
}

// RecordTX records a frame sent to the device
func (tb *TraceBuffer) RecordTX(data []byte, note string) {
	tb.record(TraceTX, data, note)
}

// RecordRX records a frame received from the device
func (tb *TraceBuffer) RecordRX(data []byte, note string) {
	tb.record(TraceRX, data, note)
}

// RecordTimeout records a wait that expired
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, note string) {
	tb.ring[tb.next] = newTraceEntry(dir, data, note)
	tb.next = (tb.next + 1) % len(tb.ring)
	if tb.next == 0 {
		tb.full = true
	}
}

// Len returns the number of entries held.
func (tb *TraceBuffer) Len() int {
	if tb.full {
		return len(tb.ring)
	}
	return tb.next
}

// Entries returns the held entries, oldest first.
func (tb *TraceBuffer) Entries() []TraceEntry {
	if !tb.full {
		return append([]TraceEntry(nil), tb.ring[:tb.next]...)
	}
	out := make([]TraceEntry, 0, len(tb.ring))
	out = append(out, tb.ring[tb.next:]...)
	return append(out, tb.ring[:tb.next]...)
}

// WrapError attaches the current entries to err. It returns nil for a nil
// err.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{
		Err:       err,
		Trace:     tb.Entries(),
		Transport: tb.transport,
		Port:      tb.port,
	}
}

// Clear drops every entry.
func (tb *TraceBuffer) Clear() {
	clear(tb.ring)
	tb.next, tb.full = 0, false
}

// HasTrace reports whether err carries a wire trace.
func HasTrace(err error) bool {
	var te *TraceableError
	return errors.As(err, &te)
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
