package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir        string
	DBPath         string
	UserSpecDir    string
	ProjectSpecDir string
	LogPath        string

	RefreshInterval time.Duration
	ListLimit       int
	LogLevel        string
	LogFormat       string
}

// fileConfig mirrors the optional config.yaml in the data directory.
type fileConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ListLimit       int           `yaml:"list_limit"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

func New() (*Config, error) {
	// A .env in the working directory seeds the environment; variables
	// already set win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("EXECWATCH_DATA_DIR", filepath.Join(homeDir, ".execwatch"))

	c := &Config{
		DataDir:         dataDir,
		DBPath:          filepath.Join(dataDir, "execwatch.db"),
		UserSpecDir:     filepath.Join(dataDir, "replicas"),
		ProjectSpecDir:  ".execwatch/replicas",
		LogPath:         filepath.Join(dataDir, "execwatch.log"),
		RefreshInterval: 2 * time.Second,
		ListLimit:       50,
		LogLevel:        "info",
		LogFormat:       "text",
	}

	if err := c.loadFile(filepath.Join(dataDir, "config.yaml")); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("EXECWATCH_REFRESH"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid EXECWATCH_REFRESH: %w", err)
		}
		c.RefreshInterval = d
	}
	c.LogLevel = getEnv("EXECWATCH_LOG_LEVEL", c.LogLevel)

	if c.RefreshInterval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", c.RefreshInterval)
	}

	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if fc.RefreshInterval != 0 {
		c.RefreshInterval = fc.RefreshInterval
	}
	if fc.ListLimit > 0 {
		c.ListLimit = fc.ListLimit
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.LogFormat != "" {
		c.LogFormat = fc.LogFormat
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.UserSpecDir, 0755); err != nil {
		return err
	}
	return nil
}

func (c *Config) SpecDirs() []string {
	return []string{c.ProjectSpecDir, c.UserSpecDir}
}

func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.DataDir, "executions")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
