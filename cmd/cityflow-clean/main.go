// Package main implements the one-shot cleaning tool: re-clean a stored
// raw batch and aggregate the resulting days. Used to replay a batch
// after a bug fix or a missed trigger.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/cityflow/cityflow/internal/app"
	"github.com/cityflow/cityflow/internal/config"
)

func main() {
	var (
		configFile string
		dataDir    string
		rawKey     string
		skipAgg    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&rawKey, "key", "", "Raw batch object key to clean (required)")
	flag.BoolVar(&skipAgg, "skip-aggregate", false, "Only rewrite silver, do not re-aggregate")
	flag.Parse()

	if rawKey == "" {
		fmt.Fprintln(os.Stderr, "Usage: cityflow-clean --key raw/2025/09/01/080000.csv [--skip-aggregate]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Mode = config.ModeAPI // no poller, no server started here

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log.Default())
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	result, err := a.Cleaner().Clean(ctx, rawKey)
	if err != nil {
		log.Fatalf("Clean failed: %v", err)
	}
	fmt.Printf("cleaned %s: %d read, %d kept, %d dropped\n",
		result.RawKey, result.RowsRead, result.RowsKept, result.RowsDropped)

	if skipAgg {
		return
	}
	for _, day := range result.Days {
		aggResult, err := a.Aggregator().AggregateDay(ctx, day)
		if err != nil {
			log.Fatalf("Aggregate %s failed: %v", day, err)
		}
		fmt.Printf("aggregated %s: %d entities, %d upserted\n", day, aggResult.Entities, aggResult.Upserted)
	}
}
