package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps namespaced records as one JSON object file per
// namespace. Writes are last-writer-wins and serialized by a mutex;
// there is no transaction across namespaces.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Get unmarshals the record at namespace/key into out. The second
// return is false when the record is absent.
func (s *FileStore) Get(namespace, key string, out interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadUnlocked(namespace)
	if err != nil {
		return false, err
	}
	raw, ok := records[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode record %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

func (s *FileStore) Set(namespace, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadUnlocked(namespace)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode record %s/%s: %w", namespace, key, err)
	}
	records[key] = raw
	return s.saveUnlocked(namespace, records)
}

func (s *FileStore) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.loadUnlocked(namespace)
	if err != nil {
		return err
	}
	if _, ok := records[key]; !ok {
		return nil
	}
	delete(records, key)
	return s.saveUnlocked(namespace, records)
}

func (s *FileStore) loadUnlocked(namespace string) (map[string]json.RawMessage, error) {
	f, err := os.Open(s.path(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("open namespace %s: %w", namespace, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	records := map[string]json.RawMessage{}
	dec := json.NewDecoder(f)
	if err := dec.Decode(&records); err != nil {
		if err == io.EOF {
			// An empty file is a fresh namespace.
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("decode namespace %s: %w", namespace, err)
	}
	return records, nil
}

func (s *FileStore) saveUnlocked(namespace string, records map[string]json.RawMessage) error {
	f, err := os.OpenFile(s.path(namespace), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open namespace %s for write: %w", namespace, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func (s *FileStore) path(namespace string) string {
	return filepath.Join(s.dir, namespace+".json")
}
