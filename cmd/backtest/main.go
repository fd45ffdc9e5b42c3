// Command backtest runs the factor evaluation batch: per-day IC and
// Rank-IC, layer attribution and the Top-N NAV simulation for the
// requested factors. Results land in the result tables; the process is
// silent on success and exits non-zero with a message on any validation
// or data-availability error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"factorbench/config"
	"factorbench/db"
	"factorbench/factor"
	"factorbench/feed"
	"factorbench/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default config.yaml, ../config.yaml when run from cmd/)")
	factorSpec := flag.String("factor", "total_score_ind", "factor column name, comma-separated list, or ALL")
	start := flag.String("start", "", "start date YYYY-MM-DD (default: earliest score date)")
	end := flag.String("end", "", "end date YYYY-MM-DD (default: latest score date)")
	icHorizon := flag.Int("ic_horizon", 0, "forward-return horizon in trading days for IC and layers")
	layers := flag.Int("layers", 0, "quantile layer count")
	minN := flag.Int("min_n", 0, "minimum per-day sample to emit an IC row")
	navHorizon := flag.Int("nav_horizon", 0, "forward-return horizon in trading days for the portfolio")
	topn := flag.Int("topn", 0, "portfolio size")
	importBasics := flag.String("import_basics", "", "import a securities reference CSV before running")
	importGBK := flag.Bool("import_gbk", true, "treat the reference CSV as GBK encoded")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
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

	if *importBasics != "" {
		file, err := os.Open(*importBasics)
		if err != nil {
			logger.Fatal("failed to open reference csv", zap.Error(err))
		}
		count, err := universe.ImportSecuritiesCSV(ctx, file, *importGBK)
		file.Close()
		if err != nil {
			logger.Fatal("reference import failed", zap.Error(err))
		}
		logger.Info("securities reference imported", zap.Int("rows", count))
	}

	params := factor.ParamsFromDefaults(cfg.Backtest)
	params.Factor = *factorSpec
	params.Start = *start
	params.End = *end
	if *icHorizon > 0 {
		params.ICHorizon = *icHorizon
	}
	if *layers > 0 {
		params.Layers = *layers
	}
	if *minN > 0 {
		params.MinN = *minN
	}
	if *navHorizon > 0 {
		params.NavHorizon = *navHorizon
	}
	if *topn > 0 {
		params.TopN = *topn
	}

	runner := factor.NewRunner(store, scores, prices, universe, logger)
	if err := runner.Run(ctx, params); err != nil {
		fmt.Fprintf(os.Stderr, "backtest failed: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig looks for the config next to the binary's working directory,
// falling back to the repository root when run from cmd/.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	candidate := "config.yaml"
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		candidate = filepath.Join("..", "config.yaml")
	}
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(candidate)
}
