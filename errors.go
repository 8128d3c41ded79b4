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
	"fmt"
	"io"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/insnav/go-insnav/internal/frame"
	"github.com/insnav/go-insnav/pkg/schema"
)

// Error categories for better error handling and retry logic
var (
	// Transport errors - potentially retryable
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTransportRead     = errors.New("transport read failed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrTransportNotReady = errors.New("transport not ready")

	// Exchange errors
	ErrResponseTimeout = errors.New("no response within timeout")
	ErrDeviceRejected  = errors.New("device rejected request")
	ErrClientClosed    = errors.New("client is closed")
	ErrStreamAborted   = errors.New("stream aborted by parse failure")

	// Channel errors - fatal
	ErrChannelsExhausted = errors.New("no free channel in 0..31")
	ErrInvalidChannel    = errors.New("channel out of range 0..31")

	// Frame errors, re-exported from the framing layer
	ErrShortFrame     = frame.ErrShortFrame
	ErrFrameTooLarge  = frame.ErrFrameTooLarge
	ErrTruncatedFrame = frame.ErrTruncatedFrame

	// ErrSchemaMismatch is returned (wrapped) when a payload does not match
	// the size of its resolved schema.
	ErrSchemaMismatch = schema.ErrSchemaMismatch

	// Data errors - not retryable
	ErrUnknownSchema    = errors.New("no schema registered for id")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Port      string    // Address or device path
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ResponseError is a response frame with a non-zero code. Text is the
// device-supplied reason with trailing NULs removed.
type ResponseError struct {
	Text string
	Code uint16
}

func (e *ResponseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("device response code %d", e.Code)
	}
	return fmt.Sprintf("device response code %d: %s", e.Code, e.Text)
}

func (*ResponseError) Unwrap() error {
	return ErrDeviceRejected
}

// TimeoutError reports a wait that expired without a matching frame.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no reply within %v", e.Op, e.Timeout)
}

func (*TimeoutError) Unwrap() error {
	return ErrResponseTimeout
}

// ChannelError reports a failed channel allocation. It is a configuration
// problem and never retryable.
//
// Last is the failure of the final candidate; it is reported but not
// unwrapped, so an exhausted allocation never matches ErrResponseTimeout.
type ChannelError struct {
	Err      error
	Last     error
	Policy   string
	Attempts []int
}

func (e *ChannelError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("channel allocation (%s, %d attempts): %v (last: %v)",
			e.Policy, len(e.Attempts), e.Err, e.Last)
	}
	return fmt.Sprintf("channel allocation (%s, %d attempts): %v", e.Policy, len(e.Attempts), e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// ParseError reports a frame whose payload could not be decoded with the
// schema resolved for it. SubID is set for command and parameter frames.
type ParseError struct {
	Err    error
	ID     byte
	SubID  uint16
	HasSub bool
}

func (e *ParseError) Error() string {
	if e.HasSub {
		return fmt.Sprintf("parse frame 0x%02X/0x%04X: %v", e.ID, e.SubID, e.Err)
	}
	return fmt.Sprintf("parse frame 0x%02X: %v", e.ID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// retryableErrors are sentinels whose operation may succeed when repeated.
var retryableErrors = []error{
	ErrTransportTimeout,
	ErrTransportRead,
	ErrTransportWrite,
	ErrResponseTimeout,
}

// fatalErrors are sentinels after which the session cannot make progress.
var fatalErrors = []error{
	ErrTransportClosed,
	ErrClientClosed,
	ErrChannelsExhausted,
	io.EOF,
	io.ErrClosedPipe,
}

func matchesAny(err error, targets []error) bool {
	return slices.ContainsFunc(targets, func(target error) bool {
		return errors.Is(err, target)
	})
}

// IsRetryable reports whether repeating the failed operation may succeed.
// A TransportError decides for itself; channel allocation failures never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	var ce *ChannelError
	if errors.As(err, &ce) {
		return false
	}
	return matchesAny(err, retryableErrors)
}

// IsFatal returns true if the error indicates the connection is gone or the
// session cannot make progress, and polling should stop entirely. This is
// distinct from IsRetryable which indicates whether a single operation can be
// retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ChannelError
	if errors.As(err, &ce) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}
	return isDeviceGoneError(err) || matchesAny(err, fatalErrors)
}

// Errnos meaning the link is gone: an unplugged USB serial adapter or a
// reset TCP connection. The Windows codes are ERROR_ACCESS_DENIED,
// ERROR_GEN_FAILURE and ERROR_NO_SUCH_DEVICE, which syscall only names there.
var (
	deviceGoneErrnos        = []syscall.Errno{syscall.EIO, syscall.ENXIO, syscall.ENODEV, syscall.ECONNRESET, syscall.EPIPE}
	windowsDeviceGoneErrnos = []syscall.Errno{5, 31, 433}
)

func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	if slices.Contains(deviceGoneErrnos, errno) {
		return true
	}
	return runtime.GOOS == "windows" && slices.Contains(windowsDeviceGoneErrnos, errno)
}

// NewTransportError creates a standard transport error with consistent formatting
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for transport operations
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewTransportWriteError creates a write error (transient)
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// NewTransportNotReadyError creates a transport not ready error (timeout)
func NewTransportNotReadyError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportNotReady, ErrorTypeTimeout)
}
