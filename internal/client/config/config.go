package config

import (
	"time"

	"github.com/askarin/cryptboard/internal/common"
)

// Config holds runtime settings for the cryptboard CLI.
//
// Fields:
//   - ServerEndpointAddr: websocket URL of the backend channel endpoint.
//   - CacheDir: directory for the on-disk chunk cache.
//   - CacheMaxBytes: chunk cache size bound; <= 0 disables eviction.
//   - ChunkSize: negotiated chunk size in bytes; must match the server's.
//   - MaxRetries: per-chunk acknowledgement retry limit for uploads.
//   - RetryBase/RetryMax: retry backoff range.
type Config struct {
	ServerEndpointAddr string
	CacheDir           string
	CacheMaxBytes      int64
	ChunkSize          int
	MaxRetries         int
	RetryBase          time.Duration
	RetryMax           time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "ws://127.0.0.1:8080/ws"
	c.CacheDir = ".cryptboard-cache"
	c.CacheMaxBytes = 256 * 1024 * 1024
	c.ChunkSize = common.DefaultChunkSize
	c.MaxRetries = 5
	c.RetryBase = 500 * time.Millisecond
	c.RetryMax = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
