// cmd/historian/main.go is an asynchronous historian service that pops bot
// journal records from a Redis queue and persists them to PostgreSQL.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/jason-s-yu/lobbybot/internal/config"
	"github.com/jason-s-yu/lobbybot/internal/history"
	"github.com/jason-s-yu/lobbybot/internal/journal"
)

func main() {
	migrate := pflag.Bool("migrate", true, "create the bot_events table on startup")
	pflag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadHistorian()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Connect(ctx, cfg.History.DatabaseURL)
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer store.Close()

	if *migrate {
		if err := store.Migrate(ctx); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
	}

	rdb, err := journal.Connect(ctx, cfg.Journal.RedisAddr, cfg.Journal.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	h := history.NewHistorian(logger, rdb, cfg.Journal.Queue, store, cfg.History.BatchSize, cfg.History.FlushInterval)
	if err := h.Run(ctx); err != nil {
		logger.Errorf("historian exited: %v", err)
	}
}
