package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/signdrill/internal/config"
	"github.com/verte-zerg/signdrill/internal/model"
)

func validConfig() model.Config {
	return model.Config{
		Username:   "ana",
		Duration:   30 * time.Second,
		Throttle:   500 * time.Millisecond,
		Poll:       100 * time.Millisecond,
		WeakTop:    5,
		WeakFactor: 2,
		WeakWindow: 20,
	}
}

func TestValidateConfig(t *testing.T) {
	captureFPS, captureWidth, captureHeight = defaultFPS, defaultWidth, defaultHeight
	if err := validateConfig(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := map[string]func(*model.Config){
		"--user":     func(c *model.Config) { c.Username = " " },
		"--duration": func(c *model.Config) { c.Duration = 0 },
		"--throttle": func(c *model.Config) { c.Throttle = -time.Second },
		"--poll":     func(c *model.Config) { c.Poll = 0 },
		"--weak-top": func(c *model.Config) { c.WeakTop = -1 },
	}
	for flag, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		err := validateConfig(cfg)
		if err == nil || !strings.HasPrefix(err.Error(), flag+" ") {
			t.Fatalf("%s: expected flag-named error, got %v", flag, err)
		}
	}
}

func TestDefaultConfigTemplateDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("template should decode: %v", err)
	}
	if cfg.Practice.Username != nil || cfg.Sink.Backend != nil {
		t.Fatalf("template values should be commented out: %+v", cfg)
	}
}

func TestApplyConfigKeepsChangedFlags(t *testing.T) {
	var user string
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().StringVar(&user, "user", "guest", "")
	fileUser := "ana"

	applyStringConfig(cmd, "user", &user, &fileUser)
	if user != "ana" {
		t.Fatalf("expected file value, got %q", user)
	}
	if err := cmd.Flags().Set("user", "bo"); err != nil {
		t.Fatalf("set: %v", err)
	}
	applyStringConfig(cmd, "user", &user, &fileUser)
	if user != "bo" {
		t.Fatalf("expected flag value to win, got %q", user)
	}

	var timeout time.Duration
	applyDurationConfig(cmd, "missing", &timeout, &config.Duration{Duration: time.Second})
	if timeout != 0 {
		t.Fatalf("unknown flags must be skipped, got %v", timeout)
	}
}

func TestStatsConfigValidation(t *testing.T) {
	statsCurveWindow = defaultCurveWindow
	statsSign, statsSince, statsLast = "b", "2024-05-01", 3
	cfg, err := statsConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sign != "B" || cfg.Since == nil || cfg.Last != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	statsSign = "AB"
	if _, err := statsConfig(); err == nil {
		t.Fatalf("expected error for multi-letter sign")
	}
	statsSign, statsSince = "", "May 1"
	if _, err := statsConfig(); err == nil {
		t.Fatalf("expected error for bad date")
	}
	statsSince = ""
}
