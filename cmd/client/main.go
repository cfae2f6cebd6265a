package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/askarin/cryptboard/internal/client/cli"
	"github.com/askarin/cryptboard/internal/client/config"
	"github.com/askarin/cryptboard/internal/logging"
)

func main() {
	cfg := config.LoadConfig()

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	app := cli.NewApp(cfg, logger)
	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}
}
