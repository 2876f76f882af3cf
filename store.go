package registrar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists the single current registration record.
type Store interface {
	// Load returns the persisted record, or ErrNoRecord.
	Load(ctx context.Context) (Record, error)
	// Save replaces the persisted record.
	Save(ctx context.Context, rec Record) error
}

// RecordFileName is the file FileStore writes inside its directory.
const RecordFileName = "registration.json"

// FileStore keeps the record as a JSON file in a session directory.
// Writes go to a temp file that is synced and renamed over the old one,
// so a crash mid-write leaves the previous record intact.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the record file path.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, RecordFileName)
}

// Load reads the record from disk.
func (s *FileStore) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNoRecord
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading registration record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parsing registration record: %w", err)
	}
	return rec, nil
}

// Save writes the record atomically.
func (s *FileStore) Save(_ context.Context, rec Record) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing registration record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, RecordFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp record file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing registration record: %w", err)
	}
	if err = tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("chmod registration record: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing registration record: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing registration record: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.Path()); err != nil {
		return fmt.Errorf("replacing registration record: %w", err)
	}
	return nil
}

// MemoryStore keeps the record in memory. It does not survive a restart.
type MemoryStore struct {
	mu  sync.Mutex
	rec *Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return Record{}, ErrNoRecord
	}
	return *s.rec, nil
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = &rec
	return nil
}
