// Package tokenstore persists desk control tokens between runs so a client
// can retake control of a desk it previously claimed.
package tokenstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

const (
	tokenFileName = "token.conf"
	appDirName    = "panda-desk"
)

// Token is a control token owned by a desk user.
type Token struct {
	ID      string `toml:"id"`
	OwnedBy string `toml:"owned_by"`
	Token   string `toml:"token"`
}

// Store reads and writes a single TOML file with one table per desk host.
type Store struct {
	mu  sync.Mutex
	dir string // directory containing token.conf
}

// New creates a Store in dir. The directory is created on the first Save.
// Pass an empty string to use the default XDG state path.
func New(dir string) *Store {
	if dir == "" {
		dir = defaultDir()
	}
	return &Store{dir: dir}
}

// Path returns the full path to the token file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, tokenFileName)
}

// Load returns the token saved for host. A missing file or host yields a
// zero Token and no error.
func (s *Store) Load(host string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return Token{}, err
	}
	return all[host], nil
}

// Save records tok for host, keeping entries for other hosts.
func (s *Store) Save(host string, tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return err
	}
	all[host] = tok
	return s.writeLocked(all)
}

// Delete removes the entry for host. Deleting an unknown host is a no-op.
func (s *Store) Delete(host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readLocked()
	if err != nil {
		return err
	}
	if _, ok := all[host]; !ok {
		return nil
	}
	delete(all, host)
	return s.writeLocked(all)
}

func (s *Store) readLocked() (map[string]Token, error) {
	all := make(map[string]Token)
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return all, nil
		}
		return nil, fmt.Errorf("reading tokens: %w", err)
	}
	if _, err := toml.Decode(string(data), &all); err != nil {
		return nil, fmt.Errorf("parsing tokens: %w", err)
	}
	return all, nil
}

// writeLocked replaces the token file using a temp-file-then-rename so a
// crash never leaves a truncated file behind.
func (s *Store) writeLocked(all map[string]Token) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating token dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(all); err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming token file: %w", err)
	}
	committed = true

	return nil
}

// defaultDir returns ~/.local/state/panda-desk, respecting XDG_STATE_HOME
// if set.
func defaultDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
