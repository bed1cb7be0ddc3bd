package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/groupchat/internal/client/cli"
	"github.com/dmitrijs2005/groupchat/internal/client/config"
	"github.com/dmitrijs2005/groupchat/internal/logging"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogJSON)

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
