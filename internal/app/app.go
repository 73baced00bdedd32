// Package app wires the pipeline stages into a single process and runs
// them according to the configured mode: the feed poller and pipeline
// workers, the query API, or both.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/cityflow/cityflow/internal/aggregator"
	apihttp "github.com/cityflow/cityflow/internal/api/http"
	"github.com/cityflow/cityflow/internal/cleaner"
	"github.com/cityflow/cityflow/internal/config"
	"github.com/cityflow/cityflow/internal/ingest"
	"github.com/cityflow/cityflow/internal/reporter"
	"github.com/cityflow/cityflow/internal/server"
	"github.com/cityflow/cityflow/internal/storage"
	"github.com/cityflow/cityflow/internal/store"
	"github.com/cityflow/cityflow/internal/trigger"
)

// App is the assembled CityFlow process.
type App struct {
	cfg    *config.Config
	logger *log.Logger

	objStore  storage.ObjectStorage
	summaries *store.SQLiteStore
	notifier  *trigger.Notifier

	cleaner    *cleaner.Cleaner
	aggregator *aggregator.Aggregator
	reporter   *reporter.Reporter
	poller     *ingest.Poller

	scheduler *gocron.Scheduler
	shutdown  *server.ShutdownManager

	wg sync.WaitGroup
}

// New builds an App from configuration.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	objStore, err := buildStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	summaries, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	notifier := trigger.NewNotifier(64)

	a := &App{
		cfg:       cfg,
		logger:    logger,
		objStore:  objStore,
		summaries: summaries,
		notifier:  notifier,
		shutdown:  server.NewShutdownManager(server.ShutdownConfig{}),
	}

	a.cleaner = cleaner.New(objStore, notifier, cfg.Clean, logger)
	a.aggregator = aggregator.New(objStore, summaries, cfg.Aggregate, cfg.Clean.SilverPrefix, logger)
	a.reporter = reporter.New(objStore, cfg.Report, cfg.Aggregate, logger)

	if cfg.ShouldRunIngest() {
		a.poller = ingest.New(objStore, notifier, cfg.Ingest, filepath.Join(cfg.DataDir, "ingest"), logger)
		if err := a.poller.LoadSeenState(a.seenStatePath()); err != nil {
			logger.Printf("app: %v (starting with an empty dedup filter)", err)
		}
	}

	a.shutdown.RegisterCloser(summaries)
	return a, nil
}

// buildStorage creates the configured object storage backend.
func buildStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "s3":
		s3cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3cfg.Region = cfg.Storage.S3.Region
		}
		if cfg.Storage.S3.Endpoint != "" {
			s3cfg.Endpoint = cfg.Storage.S3.Endpoint
			s3cfg.UsePathStyle = true
		}
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3cfg)
	default:
		return storage.NewLocalStorage(cfg.Storage.Path)
	}
}

// Run starts the configured services and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.shutdown.OnShutdownStart(cancel)

	a.startWorkers(runCtx)

	if a.poller != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.poller.Run(runCtx)
		}()
		a.shutdown.OnShutdownStart(func() {
			if err := a.poller.SaveSeenState(a.seenStatePath()); err != nil {
				a.logger.Printf("app: %v", err)
			}
		})
	}

	if a.cfg.Mode != config.ModeAPI {
		a.startReportSchedule()
	}

	if a.cfg.ShouldRunAPI() {
		if err := a.startHTTP(); err != nil {
			a.shutdown.Shutdown(context.Background())
			return err
		}
	}

	err := a.shutdown.ListenForSignals(runCtx)
	a.wg.Wait()
	return err
}

// startWorkers subscribes the cleaner and aggregator to their triggers.
func (a *App) startWorkers(ctx context.Context) {
	cleanSub := a.notifier.Subscribe("cleaner", trigger.RawBatchStored)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case notif, ok := <-cleanSub.Ch:
				if !ok {
					return
				}
				if _, err := a.cleaner.Clean(ctx, notif.Key); err != nil {
					a.logger.Printf("app: clean %s failed: %v", notif.Key, err)
				}
			}
		}
	}()

	aggSub := a.notifier.Subscribe("aggregator", trigger.SilverWritten)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case notif, ok := <-aggSub.Ch:
				if !ok {
					return
				}
				if _, err := a.aggregator.HandleNotification(ctx, notif); err != nil {
					a.logger.Printf("app: aggregate %s failed: %v", notif.Day, err)
				}
			}
		}
	}()
}

// startReportSchedule runs the reporter for the previous day at the
// configured time, UTC.
func (a *App) startReportSchedule() {
	a.scheduler = gocron.NewScheduler(time.UTC)
	_, err := a.scheduler.Every(1).Day().At(a.cfg.Report.Schedule).Do(func() {
		day := reporter.Yesterday(time.Now())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := a.reporter.Run(ctx, day); err != nil {
			a.logger.Printf("app: scheduled report for %s failed: %v", day, err)
		}
	})
	if err != nil {
		a.logger.Printf("app: failed to schedule daily report: %v", err)
		return
	}
	a.scheduler.StartAsync()
	a.shutdown.OnShutdownStart(a.scheduler.Stop)
	a.logger.Printf("app: daily report scheduled at %s UTC", a.cfg.Report.Schedule)
}

// startHTTP starts the API server in the background.
func (a *App) startHTTP() error {
	router := apihttp.NewRouter(a.summaries, a.cleaner, a.reporter, a.logger)
	handler := server.ShutdownMiddleware(a.shutdown)(router)

	httpServer := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	graceful := server.NewGracefulHTTPServer(httpServer, a.shutdown)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Printf("app: query API listening on %s", a.cfg.HTTP.Addr)
		if err := graceful.ListenAndServe(); err != nil {
			a.logger.Printf("app: http server: %v", err)
			a.shutdown.Shutdown(context.Background())
		}
	}()
	return nil
}

func (a *App) seenStatePath() string {
	return filepath.Join(a.cfg.DataDir, "ingest", "seen.bloom")
}

// Cleaner exposes the cleaner for one-shot CLI use.
func (a *App) Cleaner() *cleaner.Cleaner { return a.cleaner }

// Aggregator exposes the aggregator for one-shot CLI use.
func (a *App) Aggregator() *aggregator.Aggregator { return a.aggregator }

// Reporter exposes the reporter for one-shot CLI use.
func (a *App) Reporter() *reporter.Reporter { return a.reporter }

// Store exposes the summary store for one-shot CLI use.
func (a *App) Store() store.SummaryStore { return a.summaries }

// Close releases the app's resources without running the full shutdown
// sequence. Used by the one-shot CLIs.
func (a *App) Close() error {
	return a.summaries.Close()
}
