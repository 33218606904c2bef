package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sweeney/coldwatch/internal/logic"
)

// FileStore keeps a small JSON object of key/value pairs on disk:
//
//	{"sensorThresholds": {"temperature": {...}, ...}}
//
// Writes go to a temporary file that is renamed into place.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore at path, creating its directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load reads the thresholds entry.
func (f *FileStore) Load(ctx context.Context) (logic.Thresholds, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kv, err := f.read()
	if err != nil {
		return logic.Thresholds{}, false, err
	}
	raw, ok := kv[Key]
	if !ok {
		return logic.Thresholds{}, false, nil
	}
	t, err := decode(raw)
	if err != nil {
		return logic.Thresholds{}, false, err
	}
	return t, true, nil
}

// Save writes the thresholds entry, keeping any other keys in the file.
func (f *FileStore) Save(ctx context.Context, t logic.Thresholds) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kv, err := f.read()
	if err != nil {
		// unreadable file: start over rather than refuse to save
		kv = map[string]json.RawMessage{}
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode thresholds: %w", err)
	}
	kv[Key] = raw

	data, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func (f *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	kv := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &kv); err != nil {
		return nil, fmt.Errorf("parse store: %w", err)
	}
	return kv, nil
}
