// Package main implements the store inspection tool: scan the summary
// store with the same equality filters as the query API and print the
// matches as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/cityflow/cityflow/internal/config"
	"github.com/cityflow/cityflow/internal/store"
	"github.com/cityflow/cityflow/pkg/types"
)

func main() {
	var (
		configFile string
		dataDir    string
		storePath  string
		date       string
		location   string
		dept       string
		street     string
		niveau     string
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&storePath, "store", "", "Summary store path (overrides config)")
	flag.StringVar(&date, "date", "", "Filter: day, YYYY-MM-DD")
	flag.StringVar(&location, "location", "", "Filter: entity id")
	flag.StringVar(&dept, "departement", "", "Filter: departement")
	flag.StringVar(&street, "street", "", "Filter: street name")
	flag.StringVar(&niveau, "niveau", "", "Filter: congestion level (fluide, dense, sature)")
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
	cfg.Resolve()
	if storePath == "" {
		storePath = cfg.Store.Path
	}

	summaries, err := store.NewSQLiteStore(storePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer summaries.Close()

	rows, err := summaries.ScanAll(context.Background())
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	filters := []struct {
		want string
		get  func(*types.DailySummary) string
	}{
		{date, func(s *types.DailySummary) string { return s.Day }},
		{location, func(s *types.DailySummary) string { return s.EntityID }},
		{dept, func(s *types.DailySummary) string { return s.Departement }},
		{street, func(s *types.DailySummary) string { return s.StreetName }},
		{niveau, func(s *types.DailySummary) string { return s.CongestionLevel }},
	}

	var matched []types.DailySummary
	for i := range rows {
		keep := true
		for _, f := range filters {
			want := strings.ToLower(strings.TrimSpace(f.want))
			if want == "" {
				continue
			}
			if strings.ToLower(strings.TrimSpace(f.get(&rows[i]))) != want {
				keep = false
				break
			}
		}
		if keep {
			matched = append(matched, rows[i])
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(matched); err != nil {
		log.Fatalf("Encode failed: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%d of %d summaries matched\n", len(matched), len(rows))
}
