package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/synk/internal/flagx"
	"github.com/dmitrijs2005/synk/internal/timex"
	"github.com/goccy/go-yaml"
)

// FileConfig is the on-disk form of Config. Durations accept strings such as
// "30s" or integer nanoseconds. Keys missing from the file keep the value
// they had before the file was read.
type FileConfig struct {
	HTTPAddr       string         `json:"http_addr" yaml:"http_addr"`
	GRPCAddr       string         `json:"grpc_addr" yaml:"grpc_addr"`
	Backend        string         `json:"backend" yaml:"backend"`
	DatabaseDSN    string         `json:"database_dsn" yaml:"database_dsn"`
	NonceSecret    string         `json:"nonce_secret" yaml:"nonce_secret"`
	NonceValidity  timex.Duration `json:"nonce_validity" yaml:"nonce_validity"`
	NonceCacheSize int            `json:"nonce_cache_size" yaml:"nonce_cache_size"`
	Realm          string         `json:"realm" yaml:"realm"`
	PrefixLen      int            `json:"prefix_len" yaml:"prefix_len"`
	MaxItems       int            `json:"max_items" yaml:"max_items"`
	MaxBytes       int            `json:"max_bytes" yaml:"max_bytes"`
	CacheOwners    int            `json:"cache_owners" yaml:"cache_owners"`
	CacheTTL       timex.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	S3User         string         `json:"s3_user" yaml:"s3_user"`
	S3Password     string         `json:"s3_password" yaml:"s3_password"`
	S3Bucket       string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region       string         `json:"s3_region" yaml:"s3_region"`
	S3Endpoint     string         `json:"s3_endpoint" yaml:"s3_endpoint"`
	HealthInterval timex.Duration `json:"health_interval" yaml:"health_interval"`
	LogLevel       string         `json:"log_level" yaml:"log_level"`
}

func toFile(c *Config) *FileConfig {
	return &FileConfig{
		HTTPAddr:       c.HTTPAddr,
		GRPCAddr:       c.GRPCAddr,
		Backend:        c.Backend,
		DatabaseDSN:    c.DatabaseDSN,
		NonceSecret:    c.NonceSecret,
		NonceValidity:  timex.Duration{Duration: c.NonceValidity},
		NonceCacheSize: c.NonceCacheSize,
		Realm:          c.Realm,
		PrefixLen:      c.PrefixLen,
		MaxItems:       c.MaxItems,
		MaxBytes:       c.MaxBytes,
		CacheOwners:    c.CacheOwners,
		CacheTTL:       timex.Duration{Duration: c.CacheTTL},
		S3User:         c.S3User,
		S3Password:     c.S3Password,
		S3Bucket:       c.S3Bucket,
		S3Region:       c.S3Region,
		S3Endpoint:     c.S3Endpoint,
		HealthInterval: timex.Duration{Duration: c.HealthInterval},
		LogLevel:       c.LogLevel,
	}
}

func (f *FileConfig) apply(c *Config) {
	c.HTTPAddr = f.HTTPAddr
	c.GRPCAddr = f.GRPCAddr
	c.Backend = f.Backend
	c.DatabaseDSN = f.DatabaseDSN
	c.NonceSecret = f.NonceSecret
	c.NonceValidity = f.NonceValidity.Duration
	c.NonceCacheSize = f.NonceCacheSize
	c.Realm = f.Realm
	c.PrefixLen = f.PrefixLen
	c.MaxItems = f.MaxItems
	c.MaxBytes = f.MaxBytes
	c.CacheOwners = f.CacheOwners
	c.CacheTTL = f.CacheTTL.Duration
	c.S3User = f.S3User
	c.S3Password = f.S3Password
	c.S3Bucket = f.S3Bucket
	c.S3Region = f.S3Region
	c.S3Endpoint = f.S3Endpoint
	c.HealthInterval = f.HealthInterval.Duration
	c.LogLevel = f.LogLevel
}

// parseFile overlays the file named by -c or -config, if any. Files ending
// in .yaml or .yml are read as YAML, everything else as JSON.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)

	// nothing to load
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fc := toFile(config)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}
