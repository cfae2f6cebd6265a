package config

import (
	"flag"
	"os"
	"time"

	"github.com/askarin/cryptboard/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   bind address (e.g., ":8080")
//	-d string   database DSN (SQLite path or postgres:// URL)
//	-f string   data directory for chunk files
//	-o string   blob backend ("fs" or "s3")
//	-s string   reconnect-token HMAC secret key
//	-k int      chunk size in bytes
//	-t int      session idle TTL, minutes
//	-n int      pending-content GC TTL, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-f", "-o", "-s", "-k", "-t", "-n", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.DataDir, "f", config.DataDir, "data directory for chunk files")
	fs.StringVar(&config.BlobBackend, "o", config.BlobBackend, "blob backend (fs or s3)")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.IntVar(&config.ChunkSize, "k", config.ChunkSize, "chunk size in bytes")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session idle TTL (in minutes)")
	pendingTTL := fs.Int("n", int(config.PendingTTL.Minutes()), "pending content TTL (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
	config.PendingTTL = time.Duration(*pendingTTL) * time.Minute
}
