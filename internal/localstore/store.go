// Package localstore is the durable key-value tier of the sync agent. Values
// are JSON strings under namespaced keys; every store enforces a byte quota.
package localstore

import (
	"errors"
	"sort"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var (
	ErrQuotaExceeded  = errors.New("local storage quota exceeded")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

const DefaultQuota = 5 << 20

const (
	KeyProducts      = "alburaq_global_products"
	KeyChangeHistory = "alburaq_global_change_history"
	KeyLastSync      = "alburaq_global_last_sync"
	SyncKeyPrefix    = "global_sync_"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
	Keys() ([]string, error)
	Close() error
}

// Watchable is implemented by stores backed by a file other processes can
// share; Path is the file to watch for their writes.
type Watchable interface {
	Path() string
}

func GetJSON(s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.UnmarshalFromString(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

func SetJSON(s Store, key string, v any) error {
	raw, err := json.MarshalToString(v)
	if err != nil {
		return err
	}
	return s.Set(key, raw)
}

type MemoryStore struct {
	mu    sync.Mutex
	quota int
	items map[string]string
}

func NewMemoryStore(quota int) *MemoryStore {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &MemoryStore{quota: quota, items: map[string]string{}}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	if key == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if usageWith(s.items, key, value) > s.quota {
		return ErrQuotaExceeded
	}
	s.items[key] = value
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.items), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// usageWith is the byte count of items after setting key to value.
func usageWith(items map[string]string, key, value string) int {
	total := len(key) + len(value)
	for k, v := range items {
		if k == key {
			continue
		}
		total += len(k) + len(v)
	}
	return total
}

func sortedKeys(items map[string]string) []string {
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
