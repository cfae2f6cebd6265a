package main

import (
	"context"
	"log"

	"github.com/askarin/cryptboard/internal/server"
	"github.com/askarin/cryptboard/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatalf("server init: %v", err)
	}

	app.Run(context.Background())
}
