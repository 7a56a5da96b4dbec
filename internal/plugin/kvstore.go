package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/keepmind9/neb/pkg/constants"
)

// ErrKeyNotFound is returned by Get for a missing key
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStore is a JSON document on disk holding a plugin's settings. The
// file is rewritten on every Set; there is no batching.
type KeyValueStore struct {
	mu   sync.RWMutex
	path string
	data map[string]json.RawMessage
}

// OpenKeyValueStore loads path, creating it with defaults plus a version key
// when it does not exist
func OpenKeyValueStore(path string, defaults map[string]any) (*KeyValueStore, error) {
	s := &KeyValueStore{path: path, data: make(map[string]json.RawMessage)}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if s.data == nil {
			s.data = make(map[string]json.RawMessage)
		}
		return s, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	initial := map[string]any{"version": constants.KeyValueStoreVersion}
	for k, v := range defaults {
		initial[k] = v
	}
	for k, v := range initial {
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode default %s: %w", k, err)
		}
		s.data[k] = encoded
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file
func (s *KeyValueStore) Path() string {
	return s.path
}

// Has reports whether key is set
func (s *KeyValueStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Get decodes the value of key into v
func (s *KeyValueStore) Get(key string, v any) error {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// GetString returns a string value, or def when missing or not a string
func (s *KeyValueStore) GetString(key, def string) string {
	var v string
	if err := s.Get(key, &v); err != nil {
		return def
	}
	return v
}

// Set stores v under key and rewrites the file
func (s *KeyValueStore) Set(key string, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	s.data[key] = encoded
	if err := s.saveLocked(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Delete removes key and rewrites the file
func (s *KeyValueStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	if !had {
		return nil
	}
	delete(s.data, key)
	if err := s.saveLocked(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

// saveLocked writes through a temp file in the same directory so readers
// never see a half-written document
func (s *KeyValueStore) saveLocked() (err error) {
	out, err := json.MarshalIndent(s.data, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err = f.Write(out); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err = os.Rename(f.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}
