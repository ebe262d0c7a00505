package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prizepool-labs/ledger-service/pkg/logger"
)

// FileStore persists each record as one JSON file under a data
// directory. This is the durable single-node mode: state survives
// process restarts the way the original ledger survives page reloads.
type FileStore struct {
	mu  sync.RWMutex
	dir string
	log *logger.Logger
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string, log *logger.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store requires a data directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if log == nil {
		log = logger.NewDefault("filestore")
	}
	return &FileStore{dir: dir, log: log}, nil
}

// path maps a record key onto a filename. Keys contain characters that
// are not filesystem-safe, so they are hex-encoded.
func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(key))+".json")
}

// Save serializes and writes the record, replacing any prior value.
// The write goes through a temp file and rename so a crash mid-write
// never leaves a half-written record behind.
func (s *FileStore) Save(ctx context.Context, key string, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// Load reads and deserializes the record at key. A missing file or a
// corrupt one both report absent; corruption is logged.
func (s *FileStore) Load(ctx context.Context, key string, into interface{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read record: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		s.log.WithField("key", key).WithError(err).Warn("corrupt persisted record, treating as absent")
		return false, nil
	}
	return true, nil
}

// Remove deletes the record at key; removing an absent key is a no-op.
func (s *FileStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// Close releases the store. File handles are not held open between
// operations, so there is nothing to tear down.
func (s *FileStore) Close() error {
	return nil
}
