package config

import (
	"flag"
	"os"

	"github.com/askarin/cryptboard/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   websocket URL of the backend server (default from Config)
//	-d string   chunk cache directory (default from Config)
//	-m int      chunk cache bound in bytes (default from Config)
//	-o int      chunk size in bytes (default from Config)
//	-r int      per-chunk retry limit (default from Config)
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-m", "-o", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "websocket URL of the backend server")
	fs.StringVar(&cfg.CacheDir, "d", cfg.CacheDir, "chunk cache directory")
	fs.Int64Var(&cfg.CacheMaxBytes, "m", cfg.CacheMaxBytes, "chunk cache bound in bytes")
	fs.IntVar(&cfg.ChunkSize, "o", cfg.ChunkSize, "chunk size in bytes")
	fs.IntVar(&cfg.MaxRetries, "r", cfg.MaxRetries, "per-chunk retry limit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
