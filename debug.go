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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/insnav/go-insnav/internal/syncutil"
	"github.com/rs/zerolog"
)

const logTimeFormat = "15:04:05.000"

// Logging state. debugEnabled gates console output; the session log, when
// open, receives every debug line regardless.
var (
	logMu            syncutil.RWMutex
	debugEnabled     = false
	consoleLogger    = newConsoleLogger(os.Stdout)
	sessionLogger    = zerolog.Nop()
	sessionLogWriter io.Writer
)

func init() {
	// Enable debug logging if DEBUG environment variable is set
	if os.Getenv("INSNAV_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
}

func newConsoleLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: logTimeFormat}).
		With().Timestamp().Str("lib", "insnav").Logger()
}

func newSessionLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: logTimeFormat, NoColor: true}).
		With().Timestamp().Logger()
}

// Debugf prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only prints to console when debug mode is enabled.
func Debugf(format string, args ...any) {
	logDebug(fmt.Sprintf(format, args...))
}

// Debugln prints debug information.
// Always writes to session log file (if initialized) with timestamp.
// Only prints to console when debug mode is enabled.
func Debugln(args ...any) {
	logDebug(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func logDebug(msg string) {
	logMu.RLock()
	defer logMu.RUnlock()

	if sessionLogWriter != nil {
		sessionLogger.Debug().Msg(msg)
	}
	if debugEnabled {
		consoleLogger.Debug().Msg(msg)
	}
}

// SetDebugEnabled allows programmatic control of debug logging
// Useful for testing or application-controlled debug modes
func SetDebugEnabled(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	debugEnabled = enabled
}

// SetLogOutput redirects console debug output, e.g. to os.Stderr or to an
// application log file.
func SetLogOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	consoleLogger = newConsoleLogger(w)
}
