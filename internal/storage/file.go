package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

const (
	// StatusFileName holds the latest check result.
	StatusFileName = "status.json"
	// HistoryFileName holds the JSON array of history entries.
	HistoryFileName = "price_history.json"

	lockFileName = ".farewatch.lock"
)

// FileStore persists results as JSON documents in a directory.
type FileStore struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore prepares dir and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// LoadStatus reads status.json; a missing file means no check has run yet.
func (s *FileStore) LoadStatus(_ context.Context) (*CheckResult, error) {
	var result CheckResult
	found, err := readJSON(filepath.Join(s.dir, StatusFileName), &result)
	if err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &result, nil
}

// SaveStatus replaces status.json.
func (s *FileStore) SaveStatus(_ context.Context, result CheckResult) error {
	return s.withLock(func() error {
		if err := writeJSONAtomic(filepath.Join(s.dir, StatusFileName), result); err != nil {
			return fmt.Errorf("save status: %w", err)
		}
		return nil
	})
}

// LoadHistory reads the full history, oldest first.
func (s *FileStore) LoadHistory(_ context.Context) ([]HistoryEntry, error) {
	history := make([]HistoryEntry, 0)
	if _, err := readJSON(filepath.Join(s.dir, HistoryFileName), &history); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return history, nil
}

// AppendHistory adds one entry to the end of the history file.
func (s *FileStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	return s.withLock(func() error {
		history, err := s.LoadHistory(ctx)
		if err != nil {
			return err
		}
		history = append(history, entry)
		if err := writeJSONAtomic(filepath.Join(s.dir, HistoryFileName), history); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return nil
	})
}

// Close releases the lock file handle.
func (s *FileStore) Close() error {
	return s.lock.Close()
}

func (s *FileStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock data directory: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn()
}

func readJSON(path string, v any) (bool, error) {
	// #nosec G304 -- path is built from the configured data directory
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// writeJSONAtomic writes to a temp file and renames it over path.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tempPath), err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

var _ ResultStore = (*FileStore)(nil)
