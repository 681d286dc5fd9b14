package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	if _, ok, err := s.Get(KeyProducts); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := s.Set(KeyProducts, `[{"id":"1"}]`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Set(KeyLastSync, "1700000000000"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, ok, err := s.Get(KeyProducts)
	if err != nil || !ok || got != `[{"id":"1"}]` {
		t.Fatalf("expected stored products, got %q ok=%v err=%v", got, ok, err)
	}
	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	if err := s.Remove(KeyLastSync); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := s.Remove("never-set"); err != nil {
		t.Fatalf("remove of missing key failed: %v", err)
	}
	if _, ok, _ := s.Get(KeyLastSync); ok {
		t.Fatalf("expected removed key to be gone")
	}
	if err := s.Set("", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty key, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(0))
}

func TestFileStoreSharesStateAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")
	first, err := NewFileStore(path, 0)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseStore(t, first)

	second, err := NewFileStore(path, 0)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	got, ok, err := second.Get(KeyProducts)
	if err != nil || !ok || got != `[{"id":"1"}]` {
		t.Fatalf("expected second instance to see products, got %q ok=%v err=%v", got, ok, err)
	}
	if err := second.Set(KeyChangeHistory, "[]"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, ok, _ := first.Get(KeyChangeHistory); !ok {
		t.Fatalf("expected first instance to see the second's write")
	}
}

func TestBoltStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := NewBoltStore(path, 0)
	if err != nil {
		t.Fatalf("new bolt store: %v", err)
	}
	exerciseStore(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewBoltStore(path, 0)
	if err != nil {
		t.Fatalf("reopen bolt store: %v", err)
	}
	if _, ok, _ := reopened.Get(KeyProducts); !ok {
		t.Fatalf("expected products to survive reopen")
	}
}

func TestStoresEnforceQuota(t *testing.T) {
	dir := t.TempDir()
	fileStore, err := NewFileStore(filepath.Join(dir, "q.json"), 64)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	boltStore, err := NewBoltStore(filepath.Join(dir, "q.db"), 64)
	if err != nil {
		t.Fatalf("new bolt store: %v", err)
	}
	for name, s := range map[string]Store{
		"memory": NewMemoryStore(64),
		"file":   fileStore,
		"bolt":   boltStore,
	} {
		if err := s.Set("a", strings.Repeat("x", 40)); err != nil {
			t.Fatalf("%s: first set failed: %v", name, err)
		}
		if err := s.Set("b", strings.Repeat("y", 40)); !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("%s: expected ErrQuotaExceeded, got %v", name, err)
		}
		// overwriting an existing key only counts the new value
		if err := s.Set("a", strings.Repeat("z", 60)); err != nil {
			t.Fatalf("%s: overwrite within quota failed: %v", name, err)
		}
		if got, _, _ := s.Get("a"); got != strings.Repeat("z", 60) {
			t.Fatalf("%s: expected overwrite to apply", name)
		}
	}
}

func TestJSONHelpers(t *testing.T) {
	s := NewMemoryStore(0)
	type payload struct {
		IDs []string `json:"ids"`
	}
	if err := SetJSON(s, "k", payload{IDs: []string{"1", "2"}}); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var got payload
	ok, err := GetJSON(s, "k", &got)
	if err != nil || !ok {
		t.Fatalf("get json: ok=%v err=%v", ok, err)
	}
	if len(got.IDs) != 2 || got.IDs[1] != "2" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if ok, err := GetJSON(s, "missing", &got); ok || err != nil {
		t.Fatalf("expected missing key to report ok=false, got ok=%v err=%v", ok, err)
	}
	_ = s.Set("bad", "{")
	if _, err := GetJSON(s, "bad", &got); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestBuildFromDSN(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		dsn  string
		want string
	}{
		{"", "*localstore.MemoryStore"},
		{"memory://", "*localstore.MemoryStore"},
		{"file://" + filepath.Join(dir, "a.json"), "*localstore.FileStore"},
		{filepath.Join(dir, "b.json"), "*localstore.FileStore"},
		{"bolt://" + filepath.Join(dir, "c.db"), "*localstore.BoltStore"},
	}
	for _, tc := range cases {
		s, err := BuildFromDSN(tc.dsn, 0)
		if err != nil {
			t.Fatalf("%q: build failed: %v", tc.dsn, err)
		}
		if got := typeName(s); got != tc.want {
			t.Fatalf("%q: expected %s, got %s", tc.dsn, tc.want, got)
		}
	}
	if _, err := BuildFromDSN("sqlite://x", 0); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
	if _, err := BuildFromDSN("ftp://x", 0); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestRegisterFactoryOverridesScheme(t *testing.T) {
	custom := NewMemoryStore(0)
	RegisterFactory("custom-test", func(dsn string, quota int) (Store, error) {
		return custom, nil
	})
	s, err := BuildFromDSN("CUSTOM-TEST://anything", 0)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if s != Store(custom) {
		t.Fatalf("expected registered factory to be used")
	}
}

func TestWatchSeesWritesFromAnotherInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	writer, err := NewFileStore(path, 0)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 16)
	if err := Watch(ctx, path, nil, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	if err := writer.Set(KeyProducts, "[]"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected change notification")
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *MemoryStore:
		return "*localstore.MemoryStore"
	case *FileStore:
		return "*localstore.FileStore"
	case *BoltStore:
		return "*localstore.BoltStore"
	default:
		return "unknown"
	}
}
