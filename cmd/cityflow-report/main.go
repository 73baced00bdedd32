// Package main implements the one-shot reporting tool: build the daily
// report artifacts for a given day (yesterday by default).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/cityflow/cityflow/internal/app"
	"github.com/cityflow/cityflow/internal/config"
	"github.com/cityflow/cityflow/internal/reporter"
)

func main() {
	var (
		configFile string
		dataDir    string
		day        string
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&day, "day", "", "Day to report on, YYYY-MM-DD (default: yesterday UTC)")
	flag.Parse()

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
	cfg.Mode = config.ModeAPI

	if day == "" {
		day = reporter.Yesterday(time.Now())
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		log.Fatalf("Invalid day %q: must be YYYY-MM-DD", day)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log.Default())
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer a.Close()

	result, err := a.Reporter().Run(ctx, day)
	if err != nil {
		log.Fatalf("Report failed: %v", err)
	}
	if result.Empty {
		fmt.Printf("no gold partition for %s, nothing to report\n", day)
		return
	}
	fmt.Printf("reported %s: %d entities\n", day, result.Entities)
	for _, key := range result.ReportKeys {
		fmt.Printf("  %s\n", key)
	}
}
