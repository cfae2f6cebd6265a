package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/askarin/cryptboard/internal/flagx"
	"github.com/askarin/cryptboard/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "10s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	CacheDir           string         `json:"cache_dir"`
	CacheMaxBytes      int64          `json:"cache_max_bytes"`
	ChunkSize          int            `json:"chunk_size"`
	MaxRetries         int            `json:"max_retries"`
	RetryBase          timex.Duration `json:"retry_base"`
	RetryMax           timex.Duration `json:"retry_max"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Zero-valued JSON fields leave the corresponding Config field untouched.
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.CacheDir != "" {
		cfg.CacheDir = jc.CacheDir
	}
	if jc.CacheMaxBytes != 0 {
		cfg.CacheMaxBytes = jc.CacheMaxBytes
	}
	if jc.ChunkSize != 0 {
		cfg.ChunkSize = jc.ChunkSize
	}
	if jc.MaxRetries != 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.RetryBase.Duration != 0 {
		cfg.RetryBase = time.Duration(jc.RetryBase.Duration)
	}
	if jc.RetryMax.Duration != 0 {
		cfg.RetryMax = time.Duration(jc.RetryMax.Duration)
	}
}
