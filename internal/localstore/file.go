package localstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type fileStoreState struct {
	Items map[string]string `json:"items"`
}

// FileStore keeps every key in a single JSON document. Processes pointing at
// the same path share the store; each call takes an advisory lock on a
// sidecar file and re-reads the document, so no state is cached between calls.
type FileStore struct {
	path     string
	lockPath string
	quota    int
	mu       sync.Mutex
}

func NewFileStore(path string, quota int) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if quota <= 0 {
		quota = DefaultQuota
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	return &FileStore{path: abs, lockPath: abs + ".lock", quota: quota}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.withLock(false, func() error {
		items, err := s.load()
		if err != nil {
			return err
		}
		value, found = items[key]
		return nil
	})
	return value, found, err
}

func (s *FileStore) Set(key, value string) error {
	if key == "" {
		return ErrInvalidInput
	}
	return s.withLock(true, func() error {
		items, err := s.load()
		if err != nil {
			return err
		}
		if usageWith(items, key, value) > s.quota {
			return ErrQuotaExceeded
		}
		items[key] = value
		return s.save(items)
	})
}

func (s *FileStore) Remove(key string) error {
	return s.withLock(true, func() error {
		items, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := items[key]; !ok {
			return nil
		}
		delete(items, key)
		return s.save(items)
	})
}

func (s *FileStore) Keys() ([]string, error) {
	var keys []string
	err := s.withLock(false, func() error {
		items, err := s.load()
		if err != nil {
			return err
		}
		keys = sortedKeys(items)
		return nil
	})
	return keys, err
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) withLock(exclusive bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer lock.Close()
	if err := lockFile(lock, exclusive); err != nil {
		return err
	}
	defer func() {
		_ = unlockFile(lock)
	}()
	return fn()
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var state fileStoreState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Items == nil {
		state.Items = map[string]string{}
	}
	return state.Items, nil
}

func (s *FileStore) save(items map[string]string) error {
	data, err := json.Marshal(fileStoreState{Items: items})
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, data, 0o644)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
