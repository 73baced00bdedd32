// Package config provides unified configuration for all CityFlow services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeIngest Mode = "ingest"
	ModeAPI    Mode = "api"
)

// Config holds the unified configuration for all CityFlow services.
type Config struct {
	// Mode specifies which services to run: all, ingest, api
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all local work files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Storage configuration (object store holding raw/silver/gold/reports)
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Store configuration (key-value summary store)
	Store StoreConfig `json:"store" yaml:"store"`

	// Ingest configuration (raw feed pollers)
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`

	// Clean configuration
	Clean CleanConfig `json:"clean" yaml:"clean"`

	// Aggregate configuration
	Aggregate AggregateConfig `json:"aggregate" yaml:"aggregate"`

	// Report configuration
	Report ReportConfig `json:"report" yaml:"report"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP address for the query API
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// StoreConfig holds summary store configuration.
type StoreConfig struct {
	// Path is the SQLite database path for daily summaries
	Path string `json:"path" yaml:"path"`
}

// IngestConfig holds raw feed poller configuration.
type IngestConfig struct {
	// FeedURL is the open-data endpoint to poll
	FeedURL string `json:"feed_url" yaml:"feed_url"`

	// Interval is the polling interval
	Interval time.Duration `json:"interval" yaml:"interval"`

	// RawPrefix is the object key prefix for raw batches
	RawPrefix string `json:"raw_prefix" yaml:"raw_prefix"`

	// ExpectedRecords sizes the dedup bloom filter
	ExpectedRecords int `json:"expected_records" yaml:"expected_records"`
}

// CleanConfig holds cleaner configuration.
type CleanConfig struct {
	// WorkDir is the directory for downloaded raw batches and
	// silver partition build output
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// SilverPrefix is the object key prefix for silver partitions
	SilverPrefix string `json:"silver_prefix" yaml:"silver_prefix"`

	// Field alias lists: the first header match wins. Feeds name the
	// same concept differently (bike: Date/Counts/Location_Name,
	// traffic: datetime/vehicleprobemeasurement/id_rva_troncon_fcd_v1_1).
	TimestampFields   []string `json:"timestamp_fields" yaml:"timestamp_fields"`
	MeasurementFields []string `json:"measurement_fields" yaml:"measurement_fields"`
	EntityFields      []string `json:"entity_fields" yaml:"entity_fields"`

	// CoordinateField is a combined "lat,lon" column to decompose
	CoordinateField string `json:"coordinate_field" yaml:"coordinate_field"`

	// DropFields are deprecated/noisy columns removed when present
	DropFields []string `json:"drop_fields" yaml:"drop_fields"`
}

// AggregateConfig holds aggregator configuration.
type AggregateConfig struct {
	// WorkDir is the directory for gold partition build output
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// GoldPrefix is the object key prefix for gold partitions
	GoldPrefix string `json:"gold_prefix" yaml:"gold_prefix"`

	// Speed-related source fields (traffic feeds only)
	SpeedField      string `json:"speed_field" yaml:"speed_field"`
	SpeedLimitField string `json:"speed_limit_field" yaml:"speed_limit_field"`
	TravelTimeField string `json:"travel_time_field" yaml:"travel_time_field"`

	// Descriptive fields carried into summaries when present
	DepartementField string `json:"departement_field" yaml:"departement_field"`
	StreetField      string `json:"street_field" yaml:"street_field"`

	// SpeedRatioFloor: a record is congested when avg speed falls under
	// this fraction of the limit
	SpeedRatioFloor float64 `json:"speed_ratio_floor" yaml:"speed_ratio_floor"`

	// LostTimeCutoffS: a record is also congested past this much lost time
	LostTimeCutoffS float64 `json:"lost_time_cutoff_s" yaml:"lost_time_cutoff_s"`

	// HourlyCongestedRatio: an hour is congested when this share of its
	// records is. Deliberately separate from the daily threshold.
	HourlyCongestedRatio float64 `json:"hourly_congested_ratio" yaml:"hourly_congested_ratio"`

	// DailyCongestedRatio: a day is congested when this share of its
	// hours is
	DailyCongestedRatio float64 `json:"daily_congested_ratio" yaml:"daily_congested_ratio"`
}

// ReportConfig holds reporter configuration.
type ReportConfig struct {
	// WorkDir is the directory for downloaded gold partitions
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// ReportsPrefix is the object key prefix for report artifacts
	ReportsPrefix string `json:"reports_prefix" yaml:"reports_prefix"`

	// TopN is the number of entities per ranking table
	TopN int `json:"top_n" yaml:"top_n"`

	// Schedule is the daily run time, "HH:MM" in UTC
	Schedule string `json:"schedule" yaml:"schedule"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/cityflow",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Ingest: IngestConfig{
			Interval:        3 * time.Minute,
			RawPrefix:       "raw/",
			ExpectedRecords: 500000,
		},
		Clean: CleanConfig{
			SilverPrefix:      "silver/",
			TimestampFields:   []string{"Date", "date", "datetime"},
			MeasurementFields: []string{"Counts", "counts", "vehicleprobemeasurement"},
			EntityFields:      []string{"Location_Name", "name", "id_rva_troncon_fcd_v1_1"},
			CoordinateField:   "Coordinates",
			DropFields:        []string{"isodate", "ISO_Date", "Status", "status", "counter"},
		},
		Aggregate: AggregateConfig{
			GoldPrefix:           "gold/",
			SpeedField:           "averagevehiclespeed",
			SpeedLimitField:      "vitesse_maxi",
			TravelTimeField:      "traveltime",
			DepartementField:     "departement",
			StreetField:          "denomination",
			SpeedRatioFloor:      0.4,
			LostTimeCutoffS:      60,
			HourlyCongestedRatio: 0.5,
			DailyCongestedRatio:  0.3,
		},
		Report: ReportConfig{
			ReportsPrefix: "reports/",
			TopN:          10,
			Schedule:      "06:00",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/cityflow"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "summaries.db")
	}
	if c.Clean.WorkDir == "" {
		c.Clean.WorkDir = filepath.Join(c.DataDir, "clean")
	}
	if c.Aggregate.WorkDir == "" {
		c.Aggregate.WorkDir = filepath.Join(c.DataDir, "aggregate")
	}
	if c.Report.WorkDir == "" {
		c.Report.WorkDir = filepath.Join(c.DataDir, "report")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeIngest, ModeAPI:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, ingest, or api)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if len(c.Clean.TimestampFields) == 0 || len(c.Clean.MeasurementFields) == 0 || len(c.Clean.EntityFields) == 0 {
		return fmt.Errorf("clean field alias lists must not be empty")
	}

	for name, ratio := range map[string]float64{
		"aggregate.hourly_congested_ratio": c.Aggregate.HourlyCongestedRatio,
		"aggregate.daily_congested_ratio":  c.Aggregate.DailyCongestedRatio,
	} {
		if ratio < 0 || ratio > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, ratio)
		}
	}

	if c.Report.TopN <= 0 {
		return fmt.Errorf("report.top_n must be positive, got %d", c.Report.TopN)
	}

	if c.Mode != ModeAPI && c.Mode != ModeAll {
		if c.Ingest.FeedURL == "" {
			return fmt.Errorf("ingest.feed_url is required in ingest mode")
		}
	}

	return nil
}

// ShouldRunIngest returns true if the raw feed poller should run.
func (c *Config) ShouldRunIngest() bool {
	return (c.Mode == ModeAll || c.Mode == ModeIngest) && c.Ingest.FeedURL != ""
}

// ShouldRunAPI returns true if the query API should run.
func (c *Config) ShouldRunAPI() bool {
	return c.Mode == ModeAll || c.Mode == ModeAPI
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CITYFLOW_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CITYFLOW_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("CITYFLOW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("CITYFLOW_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	if v := os.Getenv("CITYFLOW_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CITYFLOW_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("CITYFLOW_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("CITYFLOW_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("CITYFLOW_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}

	if v := os.Getenv("CITYFLOW_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	if v := os.Getenv("CITYFLOW_INGEST_FEED_URL"); v != "" {
		cfg.Ingest.FeedURL = v
	}
	if v := os.Getenv("CITYFLOW_INGEST_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ingest.Interval = d
		}
	}

	if v := os.Getenv("CITYFLOW_REPORT_TOP_N"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Report.TopN)
	}
	if v := os.Getenv("CITYFLOW_REPORT_SCHEDULE"); v != "" {
		cfg.Report.Schedule = v
	}
}

// EnsureDirectories creates all required local directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Clean.WorkDir,
		c.Aggregate.WorkDir,
		c.Report.WorkDir,
	}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
