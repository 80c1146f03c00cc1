package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("missing file must not fail: %v", err)
	}
	if cfg.Practice.Username != nil {
		t.Fatalf("expected empty config")
	}
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLoadConfigSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[practice]
username = "sam"
duration = "45s"
throttle = "250ms"
flush-on-stop = true
seed = 42

[model]
path = "https://example.com/model/model.json"
timeout = "1m"
min-confidence = 0.3

[capture]
source = "dir"
dir = "/tmp/frames"
fps = 5

[predictor]
backend = "remote"
remote-url = "http://localhost:8090/predict"

[sink]
backend = "redis"
redis-addr = "localhost:6379"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cfg.Practice.Username != "sam" || cfg.Practice.Duration.Duration != 45*time.Second {
		t.Fatalf("unexpected practice config %+v", cfg.Practice)
	}
	if cfg.Practice.Throttle.Duration != 250*time.Millisecond || !*cfg.Practice.FlushOnStop || *cfg.Practice.Seed != 42 {
		t.Fatalf("unexpected practice config %+v", cfg.Practice)
	}
	if cfg.Practice.Poll != nil {
		t.Fatalf("unset key must stay nil")
	}
	if cfg.Model.Timeout.Duration != time.Minute || *cfg.Model.MinConfidence != 0.3 {
		t.Fatalf("unexpected model config %+v", cfg.Model)
	}
	if *cfg.Capture.Source != "dir" || *cfg.Capture.FPS != 5 {
		t.Fatalf("unexpected capture config %+v", cfg.Capture)
	}
	if *cfg.Predictor.Backend != "remote" || *cfg.Sink.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected backend config %+v %+v", cfg.Predictor, cfg.Sink)
	}
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"duration": "[practice]\nduration = \"soon\"\n",
		"unknown":  "[practice]\nlang = \"en\"\n",
	}
	for name, content := range cases {
		path := filepath.Join(t.TempDir(), name+".toml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDefaultPathsUseXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	t.Setenv("XDG_CONFIG_HOME", "/conf")
	if got := DefaultDBPath(); got != filepath.Join("/data", "signdrill", "signdrill.db") {
		t.Fatalf("unexpected db path %q", got)
	}
	if got := DefaultModelCacheDir(); got != filepath.Join("/data", "signdrill", "model") {
		t.Fatalf("unexpected cache dir %q", got)
	}
	if got := DefaultConfigPath(); got != filepath.Join("/conf", "signdrill", "config.toml") {
		t.Fatalf("unexpected config path %q", got)
	}
	if !strings.HasSuffix(DefaultLogPath(), "signdrill.log") {
		t.Fatalf("unexpected log path %q", DefaultLogPath())
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(EnvRedisAddr+"=cache:6379\n"+EnvRemoteURL+"=http://file\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvRedisAddr, "")
	t.Setenv(EnvRemoteURL, "http://env")
	t.Setenv(EnvPostgresDSN, "")
	if err := os.Unsetenv(EnvRedisAddr); err != nil {
		t.Fatalf("unsetenv: %v", err)
	}
	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := Env(EnvRedisAddr, ""); got != "cache:6379" {
		t.Fatalf("expected value from .env, got %q", got)
	}
	if got := Env(EnvRemoteURL, ""); got != "http://env" {
		t.Fatalf("existing env must win, got %q", got)
	}
	if got := Env(EnvPostgresDSN, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
