package hooklog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenWritesJSONEntries(t *testing.T) {
	dir := t.TempDir()
	l := Open("skill-matcher", WithDir(dir))

	l.Info("scored skills", map[string]any{"count": 3})
	l.Error("boom", os.ErrNotExist)

	data, err := os.ReadFile(filepath.Join(dir, "skill-matcher.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"hook":"skill-matcher"`)
	require.Contains(t, string(data), "scored skills")
	require.Contains(t, string(data), "boom")
}

func TestOpenWithoutDirNeverPanics(t *testing.T) {
	l := Open("no-dir-hook")
	require.NotPanics(t, func() {
		l.Debug("discarded", nil)
		l.Warning("also discarded", map[string]any{"x": 1})
	})
}

func TestLoggingNeverPanicsCaller(t *testing.T) {
	dir := t.TempDir()
	l := Open("hook", WithDir(dir))
	require.NotPanics(t, func() {
		l.LogInput(map[string]any{"prompt": "hi"})
		l.LogOutput(map[string]any{"continue": true})
	})
}
