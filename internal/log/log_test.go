package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("", "TRACE", false)
	require.Error(t, err)
}

func TestFileBackendFiltersByLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "desk.log")

	b, err := New(path, "NOTICE", false)
	require.NoError(t, err)

	l := b.GetLogger("desk-test")
	l.Debugf("debug line")
	l.Noticef("control taken by %s", "alice")
	l.Errorf("request failed")
	require.NoError(t, b.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	require.NotContains(t, out, "debug line")
	require.Contains(t, out, "NOTI desk-test: control taken by alice")
	require.Contains(t, out, "ERRO desk-test: request failed")
	require.Equal(t, 2, strings.Count(out, "\n"))
}

func TestDisabledBackend(t *testing.T) {
	b, err := New("", "DEBUG", true)
	require.NoError(t, err)
	b.GetLogger("quiet").Info("dropped")
	require.NoError(t, b.Close())
}

func TestFallbackOnlyWarnings(t *testing.T) {
	var buf bytes.Buffer
	l := newFallback(&buf, "fallback-test")

	l.Debugf("debug line")
	l.Infof("info line")
	l.Warningf("brakes still locked")

	out := buf.String()
	require.NotContains(t, out, "debug line")
	require.NotContains(t, out, "info line")
	require.Contains(t, out, "WARN fallback-test: brakes still locked")
}
