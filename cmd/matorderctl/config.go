package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const localConfigFile = "matorderctl.yaml"

type Config struct {
	BaseURL  string      `yaml:"base_url" env:"MATORDER_BASE_URL" env-default:"http://localhost:5000"`
	LogLevel string      `yaml:"log_level" env:"LOG_LEVEL" env-default:"warn"`
	Session  SessionConf `yaml:"session"`
	Store    StoreConf   `yaml:"store"`
}

// SessionConf tunes the SDK session lifecycle.
type SessionConf struct {
	LogoutTimeout  time.Duration `yaml:"logout_timeout" env:"MATORDER_LOGOUT_TIMEOUT" env-default:"3s"`
	RefreshSkew    time.Duration `yaml:"refresh_skew" env:"MATORDER_REFRESH_SKEW" env-default:"30s"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"MATORDER_REFRESH_TIMEOUT" env-default:"10s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"MATORDER_REQUEST_TIMEOUT" env-default:"30s"`
}

// StoreConf selects where credentials live between invocations.
type StoreConf struct {
	Kind          string        `yaml:"kind" env:"MATORDER_STORE" env-default:"bolt"`
	Path          string        `yaml:"path" env:"MATORDER_STORE_PATH"`
	EncryptionKey string        `yaml:"encryption_key" env:"MATORDER_ENCRYPTION_KEY"`
	RedisAddr     string        `yaml:"redis_addr" env:"MATORDER_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string        `yaml:"redis_password" env:"MATORDER_REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"MATORDER_REDIS_DB" env-default:"0"`
	RedisPrefix   string        `yaml:"redis_prefix" env:"MATORDER_REDIS_PREFIX" env-default:"matorder:session"`
	RedisTTL      time.Duration `yaml:"redis_ttl" env:"MATORDER_REDIS_TTL" env-default:"0s"`
}

// StorePath returns the bolt file location, defaulting to the user config directory.
func (s StoreConf) StorePath() string {
	if s.Path != "" {
		return s.Path
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "matorder", "session.db")
}

// LoadConfig reads the configuration from, highest priority first:
//  1. the -config flag;
//  2. CONFIG_PATH;
//  3. ./matorderctl.yaml;
//  4. environment only.
//
// Environment variables always overlay file values.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	read := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return &cfg, nil
	}

	switch {
	case path != "":
		return read(path)
	case os.Getenv("CONFIG_PATH") != "":
		return read(os.Getenv("CONFIG_PATH"))
	}
	if _, err := os.Stat(localConfigFile); err == nil {
		return read(localConfigFile)
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide -config, CONFIG_PATH, %s or env vars: %w", localConfigFile, err)
	}
	return &cfg, nil
}
