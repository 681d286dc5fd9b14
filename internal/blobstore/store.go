// Package blobstore keeps the single versioned JSON document behind the
// remote catalog endpoint.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrVersionConflict = errors.New("document version conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotImplemented  = errors.New("not implemented")
)

type ConflictError struct {
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document version conflict: expected %q, current %q", e.Expected, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrVersionConflict
}

// Document is the stored content and its version. Exists is false when
// nothing has been written yet.
type Document struct {
	Content   []byte
	Version   string
	Exists    bool
	UpdatedAt time.Time
}

type Store interface {
	Get(ctx context.Context) (Document, error)
	// Put replaces the document. A non-empty baseVersion makes the write
	// conditional on the stored version still matching it.
	Put(ctx context.Context, content []byte, baseVersion string) (Document, error)
	Close() error
}

func contentVersion(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

type MemoryStore struct {
	mu  sync.Mutex
	doc Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneDocument(s.doc), nil
}

func (s *MemoryStore) Put(ctx context.Context, content []byte, baseVersion string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if baseVersion != "" && baseVersion != s.doc.Version {
		return Document{}, &ConflictError{Expected: baseVersion, Current: s.doc.Version}
	}
	s.doc = Document{
		Content:   append([]byte(nil), content...),
		Version:   contentVersion(content),
		Exists:    true,
		UpdatedAt: time.Now().UTC(),
	}
	return cloneDocument(s.doc), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneDocument(doc Document) Document {
	doc.Content = append([]byte(nil), doc.Content...)
	return doc
}
