package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultDirPerm  = 0o700
	defaultFilePerm = 0o600

	nameMaxLen    = 120
	lockRetryWait = 25 * time.Millisecond
)

var (
	ErrInvalidName     = errors.New("sessionstore: invalid session name")
	ErrNotFound        = errors.New("sessionstore: session not found")
	ErrLockUnavailable = errors.New("sessionstore: lock unavailable")
	ErrLockTimeout     = errors.New("sessionstore: lock timeout")
)

// Store keeps per-account gateway session files under one directory. Access
// goes through an advisory file lock so two processes cannot drive the same
// account session at once.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("session dir is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("ensure session dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Load reads the named session file.
func (s *Store) Load(name string) ([]byte, error) {
	path, err := s.sessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}

// Save writes the named session file atomically.
func (s *Store) Save(name string, data []byte) error {
	path, err := s.sessionPath(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		if writeErr != nil {
			return writeErr
		}
		return closeErr
	}
	if err := os.Chmod(tmpPath, defaultFilePerm); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Exists reports whether the named session file is present.
func (s *Store) Exists(name string) bool {
	path, err := s.sessionPath(name)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

// WithLock runs fn while holding the advisory lock for the named session.
// The lock blocks (polling) until acquired or ctx ends.
func (s *Store) WithLock(ctx context.Context, name string, fn func() error) error {
	if fn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	path, err := s.sessionPath(name)
	if err != nil {
		return err
	}
	return withLockFile(ctx, path+".lck", fn)
}

func (s *Store) sessionPath(name string) (string, error) {
	name, err := validateName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+".session"), nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if len(name) > nameMaxLen {
		return "", fmt.Errorf("%w: name too long", ErrInvalidName)
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '+' {
			continue
		}
		return "", fmt.Errorf("%w: invalid character %q", ErrInvalidName, r)
	}
	return name, nil
}

func waitForLockRetry(ctx context.Context, lockPath string) error {
	timer := time.NewTimer(lockRetryWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrLockTimeout, lockPath, ctx.Err())
	case <-timer.C:
		return nil
	}
}
