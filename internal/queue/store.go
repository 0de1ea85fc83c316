package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/taptrack/internal/record"
)

// RecordStore persists the full ordered queue contents. Implementations must
// write the whole sequence atomically; the queue calls Save on every mutation.
type RecordStore interface {
	Load() ([]record.AttendanceRecord, error)
	Save(records []record.AttendanceRecord) error
}

// FileStore is the production RecordStore: a single JSON document holding the
// ordered record array, replaced atomically via a temp file and rename.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed record store at path, creating the parent
// directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load reconstructs the persisted sequence in order. A missing file yields an
// empty queue, not an error.
func (fs *FileStore) Load() ([]record.AttendanceRecord, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue file: %w", err)
	}

	var records []record.AttendanceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse queue file: %w", err)
	}
	return records, nil
}

// Save writes the full sequence atomically.
func (fs *FileStore) Save(records []record.AttendanceRecord) error {
	if records == nil {
		records = []record.AttendanceRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}

	tempPath := fs.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write temporary queue file: %w", err)
	}
	if err := os.Rename(tempPath, fs.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
