// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Practice  PracticeConfig  `toml:"practice"`
	Model     ModelConfig     `toml:"model"`
	Capture   CaptureConfig   `toml:"capture"`
	Predictor PredictorConfig `toml:"predictor"`
	Sink      SinkConfig      `toml:"sink"`
}

// PracticeConfig maps practice-related settings.
type PracticeConfig struct {
	Username    *string   `toml:"username"`
	Duration    *Duration `toml:"duration"`
	Throttle    *Duration `toml:"throttle"`
	Poll        *Duration `toml:"poll"`
	FlushOnStop *bool     `toml:"flush-on-stop"`
	FocusWeak   *bool     `toml:"focus-weak"`
	WeakTop     *int      `toml:"weak-top"`
	WeakFactor  *float64  `toml:"weak-factor"`
	WeakWindow  *int      `toml:"weak-window"`
	Seed        *int64    `toml:"seed"`
}

// ModelConfig maps model asset settings.
type ModelConfig struct {
	Path          *string   `toml:"path"`
	Timeout       *Duration `toml:"timeout"`
	MinConfidence *float64  `toml:"min-confidence"`
	CacheDir      *string   `toml:"cache-dir"`
}

// CaptureConfig maps frame source settings.
type CaptureConfig struct {
	Source      *string `toml:"source"`
	Device      *string `toml:"device"`
	InputFormat *string `toml:"input-format"`
	Width       *int    `toml:"width"`
	Height      *int    `toml:"height"`
	FPS         *int    `toml:"fps"`
	Dir         *string `toml:"dir"`
}

// PredictorConfig maps inference backend settings.
type PredictorConfig struct {
	Backend       *string   `toml:"backend"`
	RemoteURL     *string   `toml:"remote-url"`
	RemoteTimeout *Duration `toml:"remote-timeout"`
}

// SinkConfig maps result storage settings.
type SinkConfig struct {
	Backend   *string `toml:"backend"`
	DSN       *string `toml:"dsn"`
	RedisAddr *string `toml:"redis-addr"`
	RedisKey  *string `toml:"redis-key"`
}

// Duration decodes TOML strings such as "500ms" or "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}
