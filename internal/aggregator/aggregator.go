// Package aggregator reduces a day's silver partition into per-entity
// daily summaries, writes the gold partition, and upserts each summary
// into the serving store. Aggregation is deterministic: re-running on
// the same silver input overwrites every derived value with the same
// result.
package aggregator

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/cityflow/cityflow/internal/artifact"
	"github.com/cityflow/cityflow/internal/config"
	"github.com/cityflow/cityflow/internal/errors"
	"github.com/cityflow/cityflow/internal/storage"
	"github.com/cityflow/cityflow/internal/store"
	"github.com/cityflow/cityflow/internal/trigger"
	"github.com/cityflow/cityflow/pkg/types"
	"github.com/google/uuid"
)

// Result reports the outcome of aggregating one day.
type Result struct {
	Day       string
	SilverKey string
	GoldKey   string
	Entities  int

	// Upserted counts summaries written to the store; FailedKeys lists
	// the (entity#day) keys whose upsert failed. The gold partition is
	// already durable when FailedKeys is non-empty, so a retry of the
	// whole day recovers.
	Upserted   int
	FailedKeys []string
}

// Aggregator computes daily summaries from silver partitions.
type Aggregator struct {
	storage      storage.ObjectStorage
	summaries    store.SummaryStore
	builder      *artifact.GoldBuilder
	cfg          config.AggregateConfig
	silverPrefix string
	logger       *log.Logger
}

// New creates an Aggregator. silverPrefix locates silver partitions
// when aggregation is invoked by day rather than by key.
func New(objStore storage.ObjectStorage, summaries store.SummaryStore, cfg config.AggregateConfig, silverPrefix string, logger *log.Logger) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{
		storage:      objStore,
		summaries:    summaries,
		builder:      artifact.NewGoldBuilder(cfg.WorkDir),
		cfg:          cfg,
		silverPrefix: silverPrefix,
		logger:       logger,
	}
}

// HandleNotification processes a silver-written trigger.
func (a *Aggregator) HandleNotification(ctx context.Context, notif trigger.Notification) (*Result, error) {
	day := notif.Day
	if day == "" {
		var ok bool
		if day, ok = artifact.DayFromKey(notif.Key); !ok {
			return nil, errors.NewAggregateError(errors.CodeBadSilverPartition,
				fmt.Sprintf("cannot determine day from silver key %s", notif.Key), nil)
		}
	}
	key := notif.Key
	if key == "" {
		key = artifact.SilverKey(a.silverPrefix, day)
	}
	return a.aggregate(ctx, key, day)
}

// AggregateDay aggregates the silver partition of a given day.
func (a *Aggregator) AggregateDay(ctx context.Context, day string) (*Result, error) {
	return a.aggregate(ctx, artifact.SilverKey(a.silverPrefix, day), day)
}

func (a *Aggregator) aggregate(ctx context.Context, silverKey, day string) (*Result, error) {
	localPath := filepath.Join(a.cfg.WorkDir, fmt.Sprintf("silver-in-%s.sqlite", uuid.New().String()[:8]))
	if err := os.MkdirAll(a.cfg.WorkDir, 0755); err != nil {
		return nil, errors.NewAggregateError(errors.CodeBadSilverPartition, "failed to create work directory", err)
	}
	if err := a.storage.Download(ctx, silverKey, localPath); err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to download silver partition %s", silverKey), err)
	}
	defer os.Remove(localPath)

	records, err := artifact.ReadSilver(ctx, localPath)
	if err != nil {
		return nil, errors.NewAggregateError(errors.CodeBadSilverPartition,
			fmt.Sprintf("failed to read silver partition %s", silverKey), err)
	}
	if len(records) == 0 {
		return nil, errors.NewAggregateError(errors.CodeBadSilverPartition,
			fmt.Sprintf("silver partition %s is empty", silverKey), nil)
	}

	summaries := Summarize(records, day, a.cfg)

	goldPath, err := a.builder.Build(ctx, day, summaries)
	if err != nil {
		return nil, errors.NewAggregateError(errors.CodeBadSilverPartition,
			fmt.Sprintf("failed to build gold partition for %s", day), err)
	}
	defer os.Remove(goldPath)

	goldKey := artifact.GoldKey(a.cfg.GoldPrefix, day)
	if err := a.storage.Upload(ctx, goldPath, goldKey); err != nil {
		return nil, errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to upload gold partition %s", goldKey), err)
	}

	result := &Result{
		Day:       day,
		SilverKey: silverKey,
		GoldKey:   goldKey,
		Entities:  len(summaries),
	}

	failed, upsertErr := a.summaries.UpsertBatch(ctx, summaries)
	result.Upserted = len(summaries) - len(failed)
	result.FailedKeys = failed
	if upsertErr != nil {
		// The gold partition is durable; report the partial store write
		a.logger.Printf("aggregate: %s: %d of %d upserts failed: %v", day, len(failed), len(summaries), upsertErr)
		return result, errors.NewAggregateError(errors.CodeUpsertFailed,
			fmt.Sprintf("failed to upsert %d of %d summaries for %s", len(failed), len(summaries), day), upsertErr)
	}

	a.logger.Printf("aggregate: %s: wrote %s (%d entities)", day, goldKey, len(summaries))
	return result, nil
}

// entityAccumulator collects one entity's records before reduction.
type entityAccumulator struct {
	total float64
	count int64

	// Per-hour congestion tallies, present only for traffic entities
	hourRecords   map[int]int
	hourCongested map[int]int
	lostTimeS     float64
	hasTraffic    bool

	departement string
	streetName  string
}

// Summarize reduces cleaned records into one DailySummary per entity.
// Bike-counter entities carry only the count metrics; entities whose
// extras include speed and limit fields additionally get the congestion
// indicators.
func Summarize(records []types.CleanedRecord, day string, cfg config.AggregateConfig) []types.DailySummary {
	accs := make(map[string]*entityAccumulator)

	for i := range records {
		r := &records[i]
		acc := accs[r.EntityID]
		if acc == nil {
			acc = &entityAccumulator{
				hourRecords:   make(map[int]int),
				hourCongested: make(map[int]int),
			}
			accs[r.EntityID] = acc
		}

		acc.total += r.Measurement
		acc.count++
		acc.hourRecords[r.Hour]++

		if acc.departement == "" {
			acc.departement = extraString(r.Extras, cfg.DepartementField)
		}
		if acc.streetName == "" {
			acc.streetName = extraString(r.Extras, cfg.StreetField)
		}

		speed, hasSpeed := extraNumber(r.Extras, cfg.SpeedField)
		limit, hasLimit := extraNumber(r.Extras, cfg.SpeedLimitField)
		if !hasSpeed || !hasLimit || limit <= 0 {
			continue
		}
		acc.hasTraffic = true

		// speed_ratio in [0,1]; lost time grows as the ratio falls
		ratio := clip(speed/limit, 0, 1)
		lost := 0.0
		if travel, ok := extraNumber(r.Extras, cfg.TravelTimeField); ok {
			lost = travel * (1 - ratio)
		}
		acc.lostTimeS += lost

		if speed < cfg.SpeedRatioFloor*limit || lost > cfg.LostTimeCutoffS {
			acc.hourCongested[r.Hour]++
		}
	}

	entityIDs := make([]string, 0, len(accs))
	for id := range accs {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)

	summaries := make([]types.DailySummary, 0, len(accs))
	for _, id := range entityIDs {
		acc := accs[id]
		summary := types.DailySummary{
			EntityID:    id,
			Day:         day,
			Total:       mustDecimal(acc.total),
			Average:     mustDecimal(acc.total / float64(acc.count)),
			RecordCount: acc.count,
			Departement: acc.departement,
			StreetName:  acc.streetName,
		}

		if acc.hasTraffic {
			congestedHours := 0
			for hour, n := range acc.hourRecords {
				if n > 0 && float64(acc.hourCongested[hour])/float64(n) >= cfg.HourlyCongestedRatio {
					congestedHours++
				}
			}
			ratio := float64(congestedHours) / float64(len(acc.hourRecords))

			ratioDec := mustDecimal(ratio)
			lostDec := mustDecimal(acc.lostTimeS)
			congested := ratio >= cfg.DailyCongestedRatio

			summary.CongestedRatio = &ratioDec
			summary.LostTimeS = &lostDec
			summary.IsCongested = &congested
			summary.CongestionLevel = congestionLevel(ratio)
		}

		summaries = append(summaries, summary)
	}
	return summaries
}

// congestionLevel maps the daily congested ratio to its category.
func congestionLevel(ratio float64) string {
	switch {
	case ratio < 0.3:
		return types.CongestionFluide
	case ratio < 0.6:
		return types.CongestionDense
	default:
		return types.CongestionSature
	}
}

func extraNumber(extras map[string]types.Value, field string) (float64, bool) {
	if field == "" {
		return 0, false
	}
	v, ok := extras[field]
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

func extraString(extras map[string]types.Value, field string) string {
	if field == "" {
		return ""
	}
	v, ok := extras[field]
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// mustDecimal converts a finite float to Decimal. The inputs are sums
// and ratios of validated measurements, always finite.
func mustDecimal(f float64) types.Decimal {
	d, err := types.DecimalFromFloat(f)
	if err != nil {
		return types.DecimalFromInt(0)
	}
	return d
}
