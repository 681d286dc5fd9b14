// Package config resolves settings for the sync agent and the catalog server.
//
// Sources, lowest precedence first: built-in defaults, an optional TOML or
// YAML file, .env files, then CATALOG_* environment variables. A setting
// named "sync.interval" in a file is CATALOG_SYNC_INTERVAL in the
// environment. Values that fail to parse are logged and the default is kept.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix   = "CATALOG_"
	EnvFileName = ".env"
	// FileEnv names the config file when LoadOptions.File is empty.
	FileEnv = EnvPrefix + "CONFIG_FILE"
)

type LogConfig struct {
	Mode  string
	Level string
	File  string
}

type SyncConfig struct {
	Interval        time.Duration
	HistoryCapacity int
	StaleAfter      time.Duration
	LocalDSN        string
	LocalQuota      int
	WatchLocal      bool
	NodeID          int64
	Seed            bool
}

type RemoteConfig struct {
	BaseURL string
	Path    string
	Token   string
	Timeout time.Duration
	Watch   bool
}

type ServerConfig struct {
	Addr              string
	StoreDSN          string
	GitHubToken       string
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string
	TokenTTL          time.Duration
	MaxBodyBytes      int64
	ShutdownTimeout   time.Duration
}

type Config struct {
	Log    LogConfig
	Sync   SyncConfig
	Remote RemoteConfig
	Server ServerConfig
}

func Default() Config {
	return Config{
		Log: LogConfig{Mode: "production", Level: "info"},
		Sync: SyncConfig{
			Interval:        10 * time.Second,
			HistoryCapacity: 50,
			StaleAfter:      time.Hour,
			LocalDSN:        "file://.catalogsync/local.json",
			LocalQuota:      5 << 20,
			WatchLocal:      true,
			NodeID:          1,
			Seed:            true,
		},
		Remote: RemoteConfig{
			BaseURL: "http://127.0.0.1:8080",
			Path:    "/products",
			Timeout: 15 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			StoreDSN:        "file://data/products.json",
			AdminUser:       "admin",
			TokenTTL:        12 * time.Hour,
			MaxBodyBytes:    4 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

type LoadOptions struct {
	// File is a .toml, .yaml or .yml file. Empty falls back to
	// CATALOG_CONFIG_FILE; no file at all is fine.
	File string
	// EnvFiles default to .env in the working directory; missing files are
	// skipped.
	EnvFiles  []string
	LookupEnv func(string) (string, bool)
	Logger    *zap.Logger
}

func Load(opts LoadOptions) (Config, error) {
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dotenv, err := readEnvFiles(opts.EnvFiles)
	if err != nil {
		return Config{}, err
	}
	lookup := func(name string) (string, bool) {
		if v, ok := opts.LookupEnv(name); ok {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok
	}

	file := strings.TrimSpace(opts.File)
	if file == "" {
		file, _ = lookup(FileEnv)
		file = strings.TrimSpace(file)
	}
	values := map[string]any{}
	if file != "" {
		values, err = readFile(file)
		if err != nil {
			return Config{}, err
		}
	}

	cfg := Default()
	for _, s := range settings {
		raw, source, ok := resolve(s.key, values, lookup)
		if !ok {
			continue
		}
		if err := s.apply(&cfg, raw); err != nil {
			opts.Logger.Warn("invalid config value, using default",
				zap.String("key", s.key),
				zap.String("source", source),
				zap.Any("value", raw),
				zap.Error(err),
			)
		}
	}
	return cfg, nil
}

// EnvName is the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Keys lists every recognised setting.
func Keys() []string {
	out := make([]string, 0, len(settings))
	for _, s := range settings {
		out = append(out, s.key)
	}
	sort.Strings(out)
	return out
}

func resolve(key string, file map[string]any, lookup func(string) (string, bool)) (any, string, bool) {
	if v, ok := lookup(EnvName(key)); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), "env", true
	}
	if v, ok := file[key]; ok {
		return v, "file", true
	}
	return nil, "", false
}

func readEnvFiles(files []string) (map[string]string, error) {
	if len(files) == 0 {
		files = []string{EnvFileName}
	}
	out := map[string]string{}
	for _, name := range files {
		values, err := godotenv.Read(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, errors.Wrapf(err, "read env file %s", name)
		}
		for k, v := range values {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out, nil
}

func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	tree := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &tree)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &tree)
	default:
		return nil, errors.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}
	flat := map[string]any{}
	flatten("", tree, flat)
	return flat, nil
}

func flatten(prefix string, tree map[string]any, out map[string]any) {
	for k, v := range tree {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

type setting struct {
	key   string
	apply func(*Config, any) error
}

var settings = []setting{
	{"log.mode", stringSetting(func(c *Config) *string { return &c.Log.Mode }, "development", "production")},
	{"log.level", stringSetting(func(c *Config) *string { return &c.Log.Level })},
	{"log.file", stringSetting(func(c *Config) *string { return &c.Log.File })},

	{"sync.interval", durationSetting(func(c *Config) *time.Duration { return &c.Sync.Interval })},
	{"sync.history_capacity", intSetting(func(c *Config) *int { return &c.Sync.HistoryCapacity })},
	{"sync.stale_after", durationSetting(func(c *Config) *time.Duration { return &c.Sync.StaleAfter })},
	{"sync.local_dsn", stringSetting(func(c *Config) *string { return &c.Sync.LocalDSN })},
	{"sync.local_quota", intSetting(func(c *Config) *int { return &c.Sync.LocalQuota })},
	{"sync.watch_local", boolSetting(func(c *Config) *bool { return &c.Sync.WatchLocal })},
	{"sync.node_id", int64Setting(func(c *Config) *int64 { return &c.Sync.NodeID })},
	{"sync.seed", boolSetting(func(c *Config) *bool { return &c.Sync.Seed })},

	{"remote.base_url", stringSetting(func(c *Config) *string { return &c.Remote.BaseURL })},
	{"remote.path", stringSetting(func(c *Config) *string { return &c.Remote.Path })},
	{"remote.token", stringSetting(func(c *Config) *string { return &c.Remote.Token })},
	{"remote.timeout", durationSetting(func(c *Config) *time.Duration { return &c.Remote.Timeout })},
	{"remote.watch", boolSetting(func(c *Config) *bool { return &c.Remote.Watch })},

	{"server.addr", stringSetting(func(c *Config) *string { return &c.Server.Addr })},
	{"server.store_dsn", stringSetting(func(c *Config) *string { return &c.Server.StoreDSN })},
	{"server.github_token", stringSetting(func(c *Config) *string { return &c.Server.GitHubToken })},
	{"server.jwt_secret", stringSetting(func(c *Config) *string { return &c.Server.JWTSecret })},
	{"server.admin_user", stringSetting(func(c *Config) *string { return &c.Server.AdminUser })},
	{"server.admin_password_hash", stringSetting(func(c *Config) *string { return &c.Server.AdminPasswordHash })},
	{"server.token_ttl", durationSetting(func(c *Config) *time.Duration { return &c.Server.TokenTTL })},
	{"server.max_body_bytes", int64Setting(func(c *Config) *int64 { return &c.Server.MaxBodyBytes })},
	{"server.shutdown_timeout", durationSetting(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},
}

// stringSetting restricts the value to allowed when any are given.
func stringSetting(field func(*Config) *string, allowed ...string) func(*Config, any) error {
	return func(c *Config, raw any) error {
		v, err := cast.ToStringE(raw)
		if err != nil {
			return err
		}
		v = strings.TrimSpace(v)
		if len(allowed) > 0 {
			ok := false
			for _, a := range allowed {
				if strings.EqualFold(v, a) {
					v, ok = a, true
					break
				}
			}
			if !ok {
				return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
			}
		}
		*field(c) = v
		return nil
	}
}

func durationSetting(field func(*Config) *time.Duration) func(*Config, any) error {
	return func(c *Config, raw any) error {
		v, err := cast.ToDurationE(raw)
		if err != nil {
			return err
		}
		if v <= 0 {
			return errors.New("must be positive")
		}
		*field(c) = v
		return nil
	}
}

func intSetting(field func(*Config) *int) func(*Config, any) error {
	return func(c *Config, raw any) error {
		v, err := cast.ToIntE(raw)
		if err != nil {
			return err
		}
		if v <= 0 {
			return errors.New("must be positive")
		}
		*field(c) = v
		return nil
	}
}

func int64Setting(field func(*Config) *int64) func(*Config, any) error {
	return func(c *Config, raw any) error {
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return err
		}
		if v < 0 {
			return errors.New("must not be negative")
		}
		*field(c) = v
		return nil
	}
}

func boolSetting(field func(*Config) *bool) func(*Config, any) error {
	return func(c *Config, raw any) error {
		v, err := cast.ToBoolE(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}
