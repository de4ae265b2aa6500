package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const envPrefix = "TOOMANYPAGES_"

// LoadEnvFile reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides deployment specific fields from the environment.
func applyEnv(config *Config) {
	if v, ok := os.LookupEnv(envPrefix + "CONTENT_DIR"); ok {
		config.ContentDir = v
	}
	if v, ok := os.LookupEnv(envPrefix + "BASE_URL"); ok {
		config.BaseURL = v
	}
	if v, ok := os.LookupEnv(envPrefix + "REDIS_ADDR"); ok {
		config.Redis.Addr = v
	}
	if v, ok := os.LookupEnv(envPrefix + "REDIS_PASSWORD"); ok {
		config.Redis.Password = v
	}
	if v, ok := os.LookupEnv(envPrefix + "REDIS_DB"); ok {
		if db, err := strconv.Atoi(v); err == nil {
			config.Redis.DB = db
		}
	}
}
