package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/lpernett/godotenv"
)

// Environment variables consulted when neither a flag nor the config file sets a value.
const (
	EnvPostgresDSN = "SIGNDRILL_POSTGRES_DSN"
	EnvRedisAddr   = "SIGNDRILL_REDIS_ADDR"
	EnvRemoteURL   = "SIGNDRILL_REMOTE_URL"
)

// LoadDotEnv loads variables from the given .env files without overriding the
// environment. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Env returns the value of key, or fallback when unset or empty.
func Env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
