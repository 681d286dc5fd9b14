package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultsWithoutSources(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(LoadOptions{
		EnvFiles:  []string{filepath.Join(dir, ".env")},
		LookupEnv: mapLookup(nil),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sync.Interval != 10*time.Second || cfg.Sync.HistoryCapacity != 50 {
		t.Fatalf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if cfg.Remote.Timeout != 15*time.Second || cfg.Remote.Path != "/products" {
		t.Fatalf("unexpected remote defaults: %+v", cfg.Remote)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected server addr %q", cfg.Server.Addr)
	}
}

func TestLoadTOMLFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "catalog.toml", `
[sync]
interval = "30s"
history_capacity = 20
watch_local = false

[remote]
base_url = "https://catalog.example"
timeout = "5s"
`)
	cfg, err := Load(LoadOptions{
		File:      file,
		EnvFiles:  []string{filepath.Join(dir, ".env")},
		LookupEnv: mapLookup(map[string]string{"CATALOG_SYNC_INTERVAL": "45s"}),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sync.Interval != 45*time.Second {
		t.Fatalf("expected env to override file interval, got %s", cfg.Sync.Interval)
	}
	if cfg.Sync.HistoryCapacity != 20 || cfg.Sync.WatchLocal {
		t.Fatalf("expected file values applied, got %+v", cfg.Sync)
	}
	if cfg.Remote.BaseURL != "https://catalog.example" || cfg.Remote.Timeout != 5*time.Second {
		t.Fatalf("unexpected remote config: %+v", cfg.Remote)
	}
}

func TestLoadYAMLFileNamedByEnv(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "catalog.yaml", `
server:
  addr: ":9090"
  store_dsn: "memory://"
  max_body_bytes: 1024
log:
  mode: Development
`)
	cfg, err := Load(LoadOptions{
		EnvFiles:  []string{filepath.Join(dir, ".env")},
		LookupEnv: mapLookup(map[string]string{FileEnv: file}),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.StoreDSN != "memory://" || cfg.Server.MaxBodyBytes != 1024 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Log.Mode != "development" {
		t.Fatalf("expected mode normalized to development, got %q", cfg.Log.Mode)
	}
}

func TestDotEnvSitsBelowProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "CATALOG_REMOTE_TOKEN=from-dotenv\nCATALOG_SERVER_JWT_SECRET=dotenv-secret\n")
	cfg, err := Load(LoadOptions{
		EnvFiles:  []string{envFile},
		LookupEnv: mapLookup(map[string]string{"CATALOG_REMOTE_TOKEN": "from-env"}),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Remote.Token != "from-env" {
		t.Fatalf("expected process env to win, got %q", cfg.Remote.Token)
	}
	if cfg.Server.JWTSecret != "dotenv-secret" {
		t.Fatalf("expected dotenv value, got %q", cfg.Server.JWTSecret)
	}
}

func TestInvalidValuesFallBackAndLog(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dir := t.TempDir()
	cfg, err := Load(LoadOptions{
		EnvFiles: []string{filepath.Join(dir, ".env")},
		LookupEnv: mapLookup(map[string]string{
			"CATALOG_SYNC_INTERVAL":         "soon",
			"CATALOG_SYNC_HISTORY_CAPACITY": "-3",
			"CATALOG_LOG_MODE":              "verbose",
		}),
		Logger: zap.New(core),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sync.Interval != 10*time.Second || cfg.Sync.HistoryCapacity != 50 || cfg.Log.Mode != "production" {
		t.Fatalf("expected defaults kept, got %+v %+v", cfg.Sync, cfg.Log)
	}
	if got := logs.FilterMessage("invalid config value, using default").Len(); got != 3 {
		t.Fatalf("expected 3 warnings, got %d", got)
	}
}

func TestLoadRejectsUnknownFileType(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "catalog.ini", "x=1")
	if _, err := Load(LoadOptions{File: file, EnvFiles: []string{filepath.Join(dir, ".env")}, LookupEnv: mapLookup(nil)}); err == nil {
		t.Fatalf("expected unsupported file type error")
	}
	if _, err := Load(LoadOptions{File: filepath.Join(dir, "missing.toml"), EnvFiles: []string{filepath.Join(dir, ".env")}, LookupEnv: mapLookup(nil)}); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("server.max_body_bytes"); got != "CATALOG_SERVER_MAX_BODY_BYTES" {
		t.Fatalf("unexpected env name %q", got)
	}
	if len(Keys()) != len(settings) {
		t.Fatalf("expected every setting listed")
	}
}
