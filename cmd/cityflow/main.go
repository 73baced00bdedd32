// Package main implements the unified cityflow binary. It runs the
// whole pipeline (feed poller, cleaner, aggregator, report schedule,
// query API) or a subset selected by --mode.
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

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		mode        string
		httpAddr    string
		feedURL     string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&mode, "mode", "", "Service mode: all, ingest, api")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP address for the query API")
	flag.StringVar(&feedURL, "feed-url", "", "Open-data feed endpoint to poll")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "CityFlow - open-data traffic pipeline\n\n")
		fmt.Fprintf(os.Stderr, "Usage: cityflow [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cityflow --data-dir /data/cityflow --feed-url https://data.example.org/api/records\n")
		fmt.Fprintf(os.Stderr, "  cityflow --mode api --http-addr :8080\n")
		fmt.Fprintf(os.Stderr, "  cityflow --config /etc/cityflow/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables (see also .env):\n")
		fmt.Fprintf(os.Stderr, "  CITYFLOW_MODE              Service mode (all, ingest, api)\n")
		fmt.Fprintf(os.Stderr, "  CITYFLOW_DATA_DIR          Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  CITYFLOW_HTTP_ADDR         Query API address\n")
		fmt.Fprintf(os.Stderr, "  CITYFLOW_INGEST_FEED_URL   Feed endpoint to poll\n")
		fmt.Fprintf(os.Stderr, "  CITYFLOW_STORAGE_TYPE      Storage type (local, s3)\n")
		fmt.Fprintf(os.Stderr, "  CITYFLOW_S3_BUCKET         Bucket for raw/silver/gold/report artifacts\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("cityflow version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Local development convenience; absence is not an error
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	config.LoadFromEnv(cfg)

	// Flags take precedence over file and environment
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if mode != "" {
		cfg.Mode = config.Mode(mode)
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if feedURL != "" {
		cfg.Ingest.FeedURL = feedURL
	}

	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}

func loadConfig(configFile string) (*config.Config, error) {
	if configFile == "" {
		return config.DefaultConfig(), nil
	}
	return config.LoadFromFile(configFile)
}
