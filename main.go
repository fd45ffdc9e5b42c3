package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"factorbench/config"
	"factorbench/db"
	"factorbench/factor"
	"factorbench/feed"
	qhttp "factorbench/http"
	"factorbench/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()
	logger.Info("database ready", zap.String("path", cfg.Database.Path))

	ctx := context.Background()
	scores, err := feed.NewScoreFeed(ctx, store.DB(), cfg.Schema.Score)
	if err != nil {
		logger.Fatal("score feed mapping invalid", zap.Error(err))
	}
	prices, err := feed.NewPriceFeed(ctx, store.DB(), cfg.Schema.Price)
	if err != nil {
		logger.Fatal("price feed mapping invalid", zap.Error(err))
	}
	universe, err := feed.NewUniverseFeed(ctx, store.DB(), cfg.Schema.Universe)
	if err != nil {
		logger.Fatal("universe feed mapping invalid", zap.Error(err))
	}

	runner := factor.NewRunner(store, scores, prices, universe, logger)
	hub := qhttp.NewRunHub(logger)
	handlers := qhttp.NewHandlers(store, runner, hub, cfg.Backtest, logger)

	stopWatch, err := config.Watch(*configPath, logger, func(updated *config.Config) {
		handlers.SetDefaults(updated.Backtest)
	})
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else {
		defer stopWatch()
	}

	server := qhttp.NewServer(qhttp.DefaultServerConfig(cfg.Http.Port), handlers, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
}
