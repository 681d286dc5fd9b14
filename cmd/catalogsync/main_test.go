package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alburaq/catalogsync/internal/blobstore"
	"github.com/alburaq/catalogsync/internal/catalog"
	"github.com/alburaq/catalogsync/internal/catalogapi"
	"github.com/alburaq/catalogsync/internal/history"
)

func startEndpoint(t *testing.T) blobstore.Store {
	t.Helper()
	validator, err := catalog.NewValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	store := blobstore.NewMemoryStore()
	server := catalogapi.NewServer(store, validator, catalogapi.Config{})
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = server.Close() })

	dir := t.TempDir()
	t.Setenv("CATALOG_REMOTE_BASE_URL", ts.URL)
	t.Setenv("CATALOG_REMOTE_TIMEOUT", "5s")
	t.Setenv("CATALOG_SYNC_LOCAL_DSN", "file://"+filepath.Join(dir, "local.json"))
	t.Setenv("CATALOG_SYNC_WATCH_LOCAL", "false")
	t.Setenv("CATALOG_LOG_LEVEL", "error")
	return store
}

func TestUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := runCLI(context.Background(), nil, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2 without a command, got %d", code)
	}
	stderr.Reset()
	if code := runCLI(context.Background(), []string{"frobnicate"}, &stdout, &stderr); code != 2 {
		t.Fatalf("expected exit 2 for unknown command, got %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown command") {
		t.Fatalf("expected unknown command message, got %q", stderr.String())
	}
}

func TestImportExportHistoryUndo(t *testing.T) {
	store := startEndpoint(t)
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "in.csv")
	csv := "id,name,category,description,image,features,images\n" +
		"1,Gillette Blue II,Razors,Twin blade,/r.png,sharp|light,\n" +
		"2,Grace Bleach,Cosmetics & Personal Care,,/g.png,,\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := runCLI(context.Background(), []string{"import", "-i", csvPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("import exited %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Products saved globally successfully") {
		t.Fatalf("unexpected import output %q", stdout.String())
	}
	doc, err := store.Get(context.Background())
	if err != nil || !doc.Exists || !strings.Contains(string(doc.Content), "Grace Bleach") {
		t.Fatalf("expected endpoint to hold imported catalog, got %s (%v)", doc.Content, err)
	}

	outPath := filepath.Join(dir, "out.csv")
	stdout.Reset()
	if code := runCLI(context.Background(), []string{"export", "-o", outPath}, &stdout, &stderr); code != 0 {
		t.Fatalf("export exited %d: %s", code, stderr.String())
	}
	exported, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(exported), "Gillette Blue II") || !strings.Contains(string(exported), "sharp|light") {
		t.Fatalf("unexpected export %s", exported)
	}

	stdout.Reset()
	if code := runCLI(context.Background(), []string{"history"}, &stdout, &stderr); code != 0 {
		t.Fatalf("history exited %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != history.MessageNothingToUndo {
		t.Fatalf("expected empty history, got %q", stdout.String())
	}

	stdout.Reset()
	if code := runCLI(context.Background(), []string{"undo"}, &stdout, &stderr); code != 0 {
		t.Fatalf("undo exited %d: %s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != history.MessageNothingToUndo {
		t.Fatalf("expected nothing to undo, got %q", stdout.String())
	}

	stdout.Reset()
	if code := runCLI(context.Background(), []string{"sync"}, &stdout, &stderr); code != 0 {
		t.Fatalf("sync exited %d: %s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "2 products") {
		t.Fatalf("unexpected sync output %q", stdout.String())
	}
}

func TestImportRequiresInput(t *testing.T) {
	startEndpoint(t)
	var stdout, stderr bytes.Buffer
	if code := runCLI(context.Background(), []string{"import"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected exit 1 without -i, got %d", code)
	}
}

func TestRunSeedsEmptyCatalogAndStops(t *testing.T) {
	store := startEndpoint(t)
	t.Setenv("CATALOG_SYNC_INTERVAL", "1s")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stdout, stderr bytes.Buffer
	done := make(chan int, 1)
	go func() { done <- runCLI(ctx, []string{"run"}, &stdout, &stderr) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		doc, err := store.Get(context.Background())
		if err == nil && doc.Exists {
			if !strings.Contains(string(doc.Content), catalog.Seed()[0].Name) {
				t.Fatalf("expected seed catalog pushed, got %s", doc.Content)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("seed never reached the endpoint")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("run exited %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
