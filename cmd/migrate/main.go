// Command migrate applies the chat schema (messages, attachments and the
// insert notification trigger) to the configured Postgres database.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	"github.com/dmitrijs2005/groupchat/internal/backend/migrations"
	"github.com/dmitrijs2005/groupchat/internal/client/config"
	"github.com/dmitrijs2005/groupchat/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogLevel, cfg.LogJSON)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	err = migrations.RunMigrations(ctx, db)
	db.Close()
	if err != nil {
		logger.Error(ctx, "migrations failed", "err", err)
		os.Exit(1)
	}

	logger.Info(ctx, "migrations applied")

}
