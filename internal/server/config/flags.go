package config

import (
	"flag"

	"github.com/dmitrijs2005/synk/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-g string     gRPC health bind address
//	-b string     storage backend: memory, postgres or s3
//	-d string     PostgreSQL DSN
//	-s string     nonce signing key
//	-n duration   nonce validity (e.g., "5m")
//	-r string     digest realm
//	-x int        id prefix length
//	-i int        max items per shard
//	-m int        max serialized bytes per shard
//	-o int        owners with cached shards
//	-w duration   idle time before an owner's shards leave the cache
//	-u string     S3 user
//	-p string     S3 password
//	-k string     S3 bucket
//	-z string     S3 region
//	-e string     S3 endpoint
//	-t duration   health check interval
//	-l string     log level
//
// Arguments not listed above are ignored, so -c/-config and flags of other
// components can share the command line.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{
		"-a", "-g", "-b", "-d", "-s", "-n", "-r", "-x", "-i", "-m", "-o", "-w", "-u", "-p", "-k", "-z", "-e", "-t", "-l",
	})

	fs := flag.NewFlagSet("synk", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC health address and port")
	fs.StringVar(&config.Backend, "b", config.Backend, "storage backend (memory, postgres, s3)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.NonceSecret, "s", config.NonceSecret, "nonce signing key")
	fs.DurationVar(&config.NonceValidity, "n", config.NonceValidity, "nonce validity")
	fs.StringVar(&config.Realm, "r", config.Realm, "digest realm")
	fs.IntVar(&config.PrefixLen, "x", config.PrefixLen, "id prefix length")
	fs.IntVar(&config.MaxItems, "i", config.MaxItems, "max items per shard")
	fs.IntVar(&config.MaxBytes, "m", config.MaxBytes, "max bytes per shard")
	fs.IntVar(&config.CacheOwners, "o", config.CacheOwners, "owners with cached shards")
	fs.DurationVar(&config.CacheTTL, "w", config.CacheTTL, "idle time before cached shards are dropped")

	fs.StringVar(&config.S3User, "u", config.S3User, "S3 user")
	fs.StringVar(&config.S3Password, "p", config.S3Password, "S3 password")
	fs.StringVar(&config.S3Bucket, "k", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "z", config.S3Region, "S3 region")
	fs.StringVar(&config.S3Endpoint, "e", config.S3Endpoint, "S3 endpoint")

	fs.DurationVar(&config.HealthInterval, "t", config.HealthInterval, "health check interval")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	return fs.Parse(args)
}
