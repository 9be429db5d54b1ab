package main

import (
	"context"
	"log"

	"github.com/strukta/bastion/internal/app"
	"github.com/strukta/bastion/internal/config"
)

var version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx := context.Background()

	application, err := app.NewBuilder(cfg, version).Build(ctx)
	if err != nil {
		log.Fatalf("failed to build application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
