// Package config handles configuration for the server component,
// including defaults, a JSON or YAML file overlay, and command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/synk/internal/server/engine"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Config holds runtime settings for the synk server.
//
// Fields:
//   - HTTPAddr / GRPCAddr: bind addresses of the sync API and the health service.
//   - Backend: shard and user storage, one of memory, postgres or s3.
//     The s3 backend keeps users in memory unless DatabaseDSN is set.
//   - NonceSecret: HMAC key signing digest nonces (HS256). Do not use the default in prod.
//   - NonceValidity: lifetime of a nonce; NonceCacheSize bounds the replay cache.
//   - PrefixLen / MaxItems / MaxBytes: shard routing and capacity.
//   - CacheOwners / CacheTTL: how many owners keep shards cached, and for how long idle.
type Config struct {
	HTTPAddr       string
	GRPCAddr       string
	Backend        string
	DatabaseDSN    string
	NonceSecret    string
	NonceValidity  time.Duration
	NonceCacheSize int
	Realm          string
	PrefixLen      int
	MaxItems       int
	MaxBytes       int
	CacheOwners    int
	CacheTTL       time.Duration
	S3User         string
	S3Password     string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	HealthInterval time.Duration
	LogLevel       string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":8080"
	c.GRPCAddr = ":50051"
	c.Backend = BackendMemory
	c.DatabaseDSN = ""
	c.NonceSecret = "secretKey"
	c.NonceValidity = 5 * time.Minute
	c.NonceCacheSize = 10000
	c.Realm = "Synk"
	c.PrefixLen = 1
	c.MaxItems = 11000
	c.MaxBytes = 900000
	c.CacheOwners = engine.DefaultCacheOwners
	c.CacheTTL = engine.DefaultCacheTTL
	c.S3User = "admin"
	c.S3Password = "secretpassword"
	c.S3Bucket = "synk"
	c.S3Region = "us-east-1"
	c.S3Endpoint = "http://127.0.0.1:9000/"
	c.HealthInterval = 10 * time.Second
	c.LogLevel = "info"
}

// Engine returns the shard settings.
func (c *Config) Engine() engine.Settings {
	return engine.Settings{
		PrefixLen:   c.PrefixLen,
		MaxItems:    c.MaxItems,
		MaxBytes:    c.MaxBytes,
		CacheOwners: c.CacheOwners,
		CacheTTL:    c.CacheTTL,
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendPostgres, BackendS3:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend == BackendPostgres && c.DatabaseDSN == "" {
		return fmt.Errorf("backend %s needs a database DSN", c.Backend)
	}
	if c.NonceValidity <= 0 {
		return fmt.Errorf("nonce validity must be positive, got %s", c.NonceValidity)
	}
	if c.NonceCacheSize <= 0 {
		return fmt.Errorf("nonce cache size must be positive, got %d", c.NonceCacheSize)
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health interval must be positive, got %s", c.HealthInterval)
	}
	return c.Engine().Validate()
}

// Load builds a Config by applying defaults, then overlaying values from an
// optional config file (-c/-config) and finally from command-line flags.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over os.Args; it panics on a bad configuration.
func LoadConfig() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		panic(err)
	}
	return cfg
}
