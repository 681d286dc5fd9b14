package localstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("localstore")

const boltOpenTimeout = 2 * time.Second

// BoltStore keeps keys in a bbolt file. bbolt holds an exclusive flock for as
// long as the database is open, so the file is opened per call and other
// processes take turns on it.
type BoltStore struct {
	path  string
	quota int
	mu    sync.Mutex
}

func NewBoltStore(path string, quota int) (*BoltStore, error) {
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
	s := &BoltStore{path: abs, quota: quota}
	if err := s.update(func(*bolt.Bucket) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) Path() string {
	return s.path
}

func (s *BoltStore) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := s.view(func(b *bolt.Bucket) error {
		if raw := b.Get([]byte(key)); raw != nil {
			value, found = string(raw), true
		}
		return nil
	})
	return value, found, err
}

func (s *BoltStore) Set(key, value string) error {
	if key == "" {
		return ErrInvalidInput
	}
	return s.update(func(b *bolt.Bucket) error {
		total := len(key) + len(value)
		err := b.ForEach(func(k, v []byte) error {
			if string(k) != key {
				total += len(k) + len(v)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if total > s.quota {
			return ErrQuotaExceeded
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) Remove(key string) error {
	return s.update(func(b *bolt.Bucket) error {
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) Keys() ([]string, error) {
	var keys []string
	err := s.view(func(b *bolt.Bucket) error {
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) Close() error {
	return nil
}

func (s *BoltStore) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0o644, &bolt.Options{Timeout: boltOpenTimeout, ReadOnly: readOnly})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt store %s", s.path)
	}
	return db, nil
}

func (s *BoltStore) view(fn func(*bolt.Bucket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return errors.Errorf("bolt store %s has no %s bucket", s.path, boltBucket)
		}
		return fn(b)
	})
}

func (s *BoltStore) update(fn func(*bolt.Bucket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return fn(b)
	})
}
