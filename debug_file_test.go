//nolint:paralleltest // Tests modify package-level session log state, cannot run in parallel
package insnav

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openSessionLog starts a session log in a temp dir and closes it when the
// test ends.
func openSessionLog(t *testing.T) string {
	t.Helper()
	path, err := InitSessionLogIn(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseSessionLog() })
	return path
}

func readSessionLog(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, CloseSessionLog())
	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLogIn
	require.NoError(t, err)
	return string(content)
}

func TestInitSessionLogIn_CreatesFile(t *testing.T) {
	path := openSessionLog(t)

	_, err := os.Stat(path)
	require.NoError(t, err, "log file should exist")
	assert.Regexp(t, regexp.MustCompile(`^insnav_\d{8}_\d{6}\.log$`), filepath.Base(path))
	assert.Equal(t, path, GetSessionLogPath())
}

func TestSessionLog_HeaderAndFooter(t *testing.T) {
	path := openSessionLog(t)
	content := readSessionLog(t, path)

	for _, want := range []string{
		"=== go-insnav Debug Session Log ===",
		"Started:",
		"PID:",
		"OS:",
		"Go Version:",
		"Deadlock Detection:",
		"Executable:",
		"Command Line:",
		"=== Session ended ===",
	} {
		assert.Contains(t, content, want)
	}
	assert.Empty(t, GetSessionLogPath(), "closing clears the path")
}

func TestSessionLog_ReceivesDebugWithoutConsole(t *testing.T) {
	SetDebugEnabled(false)
	path := openSessionLog(t)

	Debugf("channel %d busy", 31)
	Debugln("reconnecting", "ins.local:3000")

	content := readSessionLog(t, path)
	assert.Contains(t, content, "channel 31 busy")
	assert.Contains(t, content, "reconnecting ins.local:3000")
}

func TestSessionLog_RecordsClientActivity(t *testing.T) {
	path := openSessionLog(t)

	client, mt := createMockClient(t)
	newTestDevice(t).attach(mt)
	require.NoError(t, client.OpenChannel(context.Background(), 5))
	require.NoError(t, client.Close())

	assert.Contains(t, readSessionLog(t, path), "opened channel 5")
}

func TestCloseSessionLog_NothingOpen(t *testing.T) {
	require.NoError(t, CloseSessionLog())
	require.NoError(t, CloseSessionLog(), "closing twice is a no-op")
	assert.Empty(t, GetSessionLogPath())
}

func TestInitSessionLogIn_ReplacesOpenLog(t *testing.T) {
	first := openSessionLog(t)
	Debugf("to first")

	dir := t.TempDir()
	second, err := InitSessionLogIn(dir)
	require.NoError(t, err)
	Debugf("to second")
	secondContent := readSessionLog(t, second)

	firstContent, err := os.ReadFile(first) //nolint:gosec // path is from InitSessionLogIn
	require.NoError(t, err)
	assert.Contains(t, string(firstContent), "to first")
	assert.Contains(t, string(firstContent), "=== Session ended ===")
	assert.NotContains(t, string(firstContent), "to second")
	assert.Contains(t, secondContent, "to second")
}

func TestInitSessionLogIn_InvalidDirectory(t *testing.T) {
	_, err := InitSessionLogIn(filepath.Join(t.TempDir(), "missing", "dir"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create session log")
	assert.Empty(t, GetSessionLogPath())
}

func TestInitSessionLog_CurrentDirectory(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	path, err := InitSessionLog()
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseSessionLog() })
	assert.False(t, strings.Contains(path, string(filepath.Separator)), "relative to the working directory")
}

func TestWriteSessionHeader_ContentFormat(t *testing.T) {
	var buf strings.Builder
	writeSessionHeader(&buf)

	content := buf.String()
	assert.True(t, strings.HasPrefix(content, "=== go-insnav Debug Session Log ==="))
	assert.True(t, strings.HasSuffix(content, "===================================\n\n"))
}
