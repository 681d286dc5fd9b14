package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps the document in a single file written atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Get(ctx context.Context) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Put(ctx context.Context, content []byte, baseVersion string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if baseVersion != "" {
		current, err := s.read()
		if err != nil {
			return Document{}, err
		}
		if current.Version != baseVersion {
			return Document{}, &ConflictError{Expected: baseVersion, Current: current.Version}
		}
	}
	if err := writeFileAtomic(s.path, content, 0o644); err != nil {
		return Document{}, err
	}
	return s.read()
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() (Document, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, nil
	}
	if err != nil {
		return Document{}, err
	}
	content, err := os.ReadFile(s.path)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Content:   content,
		Version:   contentVersion(content),
		Exists:    true,
		UpdatedAt: info.ModTime().UTC(),
	}, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
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
