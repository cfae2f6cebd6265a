// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"time"

	"github.com/askarin/cryptboard/internal/common"
)

// Config holds runtime settings for the cryptboard server.
//
// Fields:
//   - EndpointAddr: bind address for the websocket/health HTTP endpoint.
//   - DatabaseDSN: SQLite path (default) or a postgres:// DSN (pgx).
//   - DataDir: root directory for chunk files (filesystem blob backend).
//   - BlobBackend: "fs" or "s3".
//   - SecretKey: HMAC secret for signing reconnect tokens (HS256).
//   - ChunkSize: chunk size in bytes shared by all session participants.
//   - ResumeTokenValidityDuration: reconnect token lifetime.
//   - SessionTTL: idle time after which a session is expired and cleared.
//   - PendingTTL: age after which un-finalized content is garbage-collected.
//   - GCInterval: how often the sweep/expiry pass runs.
//   - S3RootUser / S3RootPassword / S3Bucket / S3Region / S3BaseEndpoint:
//     S3-compatible backend settings, used when BlobBackend is "s3".
type Config struct {
	EndpointAddr                string
	DatabaseDSN                 string
	DataDir                     string
	BlobBackend                 string
	SecretKey                   string
	ChunkSize                   int
	ResumeTokenValidityDuration time.Duration
	SessionTTL                  time.Duration
	PendingTTL                  time.Duration
	GCInterval                  time.Duration
	S3RootUser                  string
	S3RootPassword              string
	S3Bucket                    string
	S3Region                    string
	S3BaseEndpoint              string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8080"
	c.DatabaseDSN = "cryptboard.db"
	c.DataDir = "data"
	c.BlobBackend = "fs"
	c.SecretKey = "secretKey"
	c.ChunkSize = common.DefaultChunkSize
	c.ResumeTokenValidityDuration = 24 * time.Hour
	c.SessionTTL = 24 * time.Hour
	c.PendingTTL = 1 * time.Hour
	c.GCInterval = 10 * time.Minute
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "cryptboard"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
