// Package config holds the settings of the synk CLI: built-in defaults,
// overlaid by an optional JSON or YAML file. Command-line flags are applied
// on top by the cli package.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/synk/internal/timex"
	"github.com/goccy/go-yaml"
)

// Config holds runtime settings for the synk CLI.
//
// Fields:
//   - ServerURL: base URL of the sync API.
//   - Username: account used for digest authentication.
//   - DBPath: location of the local SQLite store.
//   - Timeout: per-request HTTP timeout.
type Config struct {
	ServerURL string
	Username  string
	DBPath    string
	Timeout   time.Duration
}

// FileConfig is a DTO used exclusively for file unmarshalling.
type FileConfig struct {
	ServerURL string         `json:"server_url" yaml:"server_url"`
	Username  string         `json:"username" yaml:"username"`
	DBPath    string         `json:"db_path" yaml:"db_path"`
	Timeout   timex.Duration `json:"timeout" yaml:"timeout"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.Username = ""
	c.DBPath = filepath.Join(".synk", "synk.db")
	c.Timeout = 10 * time.Second
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server url %q must be an absolute http(s) url", c.ServerURL)
	}
	if c.DBPath == "" {
		return fmt.Errorf("db path must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Load returns the defaults overlaid with the file at path, if path is set.
// Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	// nothing to load
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	fc := FileConfig{
		ServerURL: cfg.ServerURL,
		Username:  cfg.Username,
		DBPath:    cfg.DBPath,
		Timeout:   timex.Duration{Duration: cfg.Timeout},
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ServerURL = fc.ServerURL
	cfg.Username = fc.Username
	cfg.DBPath = fc.DBPath
	cfg.Timeout = fc.Timeout.Duration
	return cfg, nil
}
