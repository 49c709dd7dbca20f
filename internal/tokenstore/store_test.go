package tokenstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_DefaultDir(t *testing.T) {
	s := New("")
	if s.dir == "" {
		t.Fatal("expected non-empty default dir")
	}
	if filepath.Base(s.dir) != appDirName {
		t.Errorf("expected dir to end with %q, got %q", appDirName, s.dir)
	}
}

func TestNew_XDGStateHome(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_STATE_HOME", base)

	s := New("")
	require.Equal(t, filepath.Join(base, appDirName), s.dir)
}

func TestStore_Path(t *testing.T) {
	s := New("/tmp/test-dir")
	want := "/tmp/test-dir/token.conf"
	if got := s.Path(); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	s := New(t.TempDir())

	tok, err := s.Load("10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, Token{}, tok)
}

func TestStore_SaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s := New(dir)

	a := Token{ID: "645396955", OwnedBy: "admin", Token: "secret-a"}
	b := Token{ID: "17", OwnedBy: "operator", Token: "secret-b"}
	require.NoError(t, s.Save("10.103.1.111", a))
	require.NoError(t, s.Save("robot.local", b))

	got, err := s.Load("10.103.1.111")
	require.NoError(t, err)
	require.Equal(t, a, got)

	// A second store over the same directory sees both hosts.
	got, err = New(dir).Load("robot.local")
	require.NoError(t, err)
	require.Equal(t, b, got)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestStore_SaveOverwritesHost(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.Save("desk", Token{ID: "1", OwnedBy: "a", Token: "x"}))
	require.NoError(t, s.Save("desk", Token{ID: "2", OwnedBy: "b", Token: "y"}))

	got, err := s.Load("desk")
	require.NoError(t, err)
	require.Equal(t, "2", got.ID)
	require.Equal(t, "y", got.Token)
}

func TestStore_Delete(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Save("desk", Token{ID: "1", Token: "x"}))
	require.NoError(t, s.Save("other", Token{ID: "2", Token: "y"}))

	require.NoError(t, s.Delete("desk"))
	require.NoError(t, s.Delete("never-saved"))

	got, err := s.Load("desk")
	require.NoError(t, err)
	require.Equal(t, Token{}, got)

	got, err = s.Load("other")
	require.NoError(t, err)
	require.Equal(t, "2", got.ID)
}

func TestStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, os.WriteFile(s.Path(), []byte("[[[not toml"), 0o600))

	_, err := s.Load("desk")
	require.Error(t, err)
	require.Error(t, s.Save("desk", Token{ID: "1"}))
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	require.NoError(t, s.Save("desk", Token{ID: "1", Token: "x"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, tokenFileName, entries[0].Name())
}
