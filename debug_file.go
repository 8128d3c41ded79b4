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
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/insnav/go-insnav/internal/syncutil"
	"github.com/rs/zerolog"
)

// Session log state
var (
	sessionLogFile *os.File
	sessionLogPath string
)

// InitSessionLog creates a new session log file in the current directory.
// Returns the log file path for display to the user.
func InitSessionLog() (string, error) {
	return InitSessionLogIn("")
}

// InitSessionLogIn creates a session log file named
// insnav_YYYYMMDD_HHMMSS.log in dir and routes every debug line to it. An
// already open session log is closed first.
func InitSessionLogIn(dir string) (string, error) {
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("insnav_%s.log", timestamp))

	logFile, err := os.Create(path) //nolint:gosec // path is constructed internally, not user input
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	writeSessionHeader(logFile)

	if err := CloseSessionLog(); err != nil {
		Debugf("closing previous session log: %v", err)
	}

	logMu.Lock()
	sessionLogFile = logFile
	sessionLogPath = path
	setSessionWriter(logFile)
	logMu.Unlock()

	return path, nil
}

// CloseSessionLog closes the current session log file.
func CloseSessionLog() error {
	logMu.Lock()
	defer logMu.Unlock()

	if sessionLogFile == nil {
		return nil
	}
	_, _ = fmt.Fprintf(sessionLogWriter, "\n%s === Session ended ===\n", time.Now().Format(logTimeFormat))

	err := sessionLogFile.Close()
	sessionLogFile = nil
	sessionLogPath = ""
	setSessionWriter(nil)
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// setSessionWriter points the session logger at w, or disables it when w is
// nil. Callers hold logMu.
func setSessionWriter(w io.Writer) {
	sessionLogWriter = w
	if w == nil {
		sessionLogger = zerolog.Nop()
		return
	}
	sessionLogger = newSessionLogger(w)
}

// GetSessionLogPath returns the current session log file path.
func GetSessionLogPath() string {
	logMu.RLock()
	defer logMu.RUnlock()
	return sessionLogPath
}

// writeSessionHeader writes metadata about the session to the log file.
func writeSessionHeader(writer io.Writer) {
	_, _ = fmt.Fprint(writer, "=== go-insnav Debug Session Log ===\n")
	_, _ = fmt.Fprintf(writer, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(writer, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(writer, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(writer, "Go Version: %s\n", runtime.Version())
	_, _ = fmt.Fprintf(writer, "Deadlock Detection: %t\n", syncutil.DeadlockDetection)
	if exe, err := os.Executable(); err == nil {
		_, _ = fmt.Fprintf(writer, "Executable: %s\n", exe)
	}
	_, _ = fmt.Fprintf(writer, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(writer, "===================================\n\n")
}
