// Package cleaner turns raw CSV batches into validated, day-partitioned
// silver artifacts. Cleaning is coerce-and-drop: a row missing any of
// the timestamp, measurement, or entity fields is dropped and counted,
// never passed downstream. Only a batch whose header lacks a required
// column fails outright.
package cleaner

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cityflow/cityflow/internal/artifact"
	"github.com/cityflow/cityflow/internal/config"
	"github.com/cityflow/cityflow/internal/errors"
	"github.com/cityflow/cityflow/internal/storage"
	"github.com/cityflow/cityflow/internal/trigger"
	"github.com/cityflow/cityflow/pkg/types"
	"github.com/google/uuid"
)

// CleanEvent is the storage notification that invokes a cleaning run.
// Bucket is informational; the key alone locates the batch within the
// configured storage.
type CleanEvent struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Result reports the outcome of cleaning one raw batch.
type Result struct {
	RawKey      string
	RowsRead    int
	RowsKept    int
	RowsDropped int

	// Days and SilverKeys list the partitions replaced, one key per day
	// found in the batch.
	Days       []string
	SilverKeys []string

	// TriggersMissed counts downstream subscribers whose aggregation
	// trigger was dropped. The silver partitions are already durable
	// when this is non-zero; re-aggregating the listed days recovers.
	TriggersMissed int
}

// Cleaner validates raw batches and writes silver partitions.
type Cleaner struct {
	storage  storage.ObjectStorage
	builder  *artifact.SilverBuilder
	notifier *trigger.Notifier
	cfg      config.CleanConfig
	logger   *log.Logger
}

// timestampLayouts are tried in order when coercing the timestamp field.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// New creates a Cleaner. The notifier may be nil when no aggregator
// runs in-process (one-shot CLI use).
func New(store storage.ObjectStorage, notifier *trigger.Notifier, cfg config.CleanConfig, logger *log.Logger) *Cleaner {
	if logger == nil {
		logger = log.Default()
	}
	return &Cleaner{
		storage:  store,
		builder:  artifact.NewSilverBuilder(cfg.WorkDir),
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleEvent processes a storage event notification.
func (c *Cleaner) HandleEvent(ctx context.Context, event CleanEvent) (*Result, error) {
	if event.Key == "" {
		return nil, errors.NewCleanError(errors.CodeBadRawBatch, "clean event has no object key", nil)
	}
	return c.Clean(ctx, event.Key)
}

// Clean downloads the raw batch at rawKey, validates it, and replaces
// the silver partition of every day present in the batch. Re-running on
// the same batch produces equivalent partitions.
func (c *Cleaner) Clean(ctx context.Context, rawKey string) (*Result, error) {
	localPath := filepath.Join(c.cfg.WorkDir, fmt.Sprintf("raw-%s.csv", uuid.New().String()[:8]))
	if err := c.storage.Download(ctx, rawKey, localPath); err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to download raw batch %s", rawKey), err)
	}
	defer os.Remove(localPath)

	result := &Result{RawKey: rawKey}
	byDay, err := c.parseBatch(localPath, result)
	if err != nil {
		return nil, err
	}

	if result.RowsKept == 0 {
		// Every row failed validation. Nothing to write; the counts in
		// the result are the signal.
		c.logger.Printf("clean: %s: all %d rows dropped, no silver written", rawKey, result.RowsRead)
		return result, nil
	}

	for _, day := range sortedDays(byDay) {
		records := byDay[day]
		silverPath, err := c.builder.Build(ctx, day, records)
		if err != nil {
			return nil, errors.NewCleanError(errors.CodeBadRawBatch,
				fmt.Sprintf("failed to build silver partition for %s", day), err)
		}

		silverKey := artifact.SilverKey(c.cfg.SilverPrefix, day)
		if err := c.storage.Upload(ctx, silverPath, silverKey); err != nil {
			os.Remove(silverPath)
			return nil, errors.NewStorageError(errors.CodeUploadFailed,
				fmt.Sprintf("failed to upload silver partition %s", silverKey), err)
		}
		os.Remove(silverPath)

		result.Days = append(result.Days, day)
		result.SilverKeys = append(result.SilverKeys, silverKey)

		if c.notifier != nil {
			// Fire-and-forget: a missed trigger never fails the clean
			if missed := c.notifier.Publish(trigger.Notification{
				Kind: trigger.SilverWritten,
				Key:  silverKey,
				Day:  day,
			}); missed > 0 {
				result.TriggersMissed += missed
				c.logger.Printf("clean: %s: aggregation trigger missed by %d subscriber(s)", silverKey, missed)
			}
		}

		c.logger.Printf("clean: %s: wrote %s (%d records)", rawKey, silverKey, len(records))
	}

	return result, nil
}

// parseBatch reads the raw CSV and returns kept records grouped by day.
func (c *Cleaner) parseBatch(localPath string, result *Result) (map[string][]types.CleanedRecord, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, errors.NewCleanError(errors.CodeBadRawBatch, "failed to open raw batch", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.NewSchemaError(errors.CodeEmptyBatch, "raw batch has no header row")
	}

	cols := headerIndex(header)
	tsCol, ok := resolveColumn(cols, c.cfg.TimestampFields)
	if !ok {
		return nil, missingColumn("timestamp", c.cfg.TimestampFields)
	}
	measCol, ok := resolveColumn(cols, c.cfg.MeasurementFields)
	if !ok {
		return nil, missingColumn("measurement", c.cfg.MeasurementFields)
	}
	entityCol, ok := resolveColumn(cols, c.cfg.EntityFields)
	if !ok {
		return nil, missingColumn("entity", c.cfg.EntityFields)
	}

	coordCol := -1
	if c.cfg.CoordinateField != "" {
		if idx, ok := cols[c.cfg.CoordinateField]; ok {
			coordCol = idx
		}
	}
	dropCols := make(map[int]bool)
	for _, name := range c.cfg.DropFields {
		if idx, ok := cols[name]; ok {
			dropCols[idx] = true
		}
	}

	byDay := make(map[string][]types.CleanedRecord)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewCleanError(errors.CodeBadRawBatch, "failed to read raw batch row", err)
		}
		result.RowsRead++

		record, ok := c.cleanRow(row, header, tsCol, measCol, entityCol, coordCol, dropCols)
		if !ok {
			result.RowsDropped++
			continue
		}
		result.RowsKept++
		byDay[record.Day] = append(byDay[record.Day], record)
	}

	if result.RowsRead == 0 {
		return nil, errors.NewSchemaError(errors.CodeEmptyBatch, "raw batch has no data rows")
	}
	return byDay, nil
}

// cleanRow coerces one CSV row into a CleanedRecord, reporting false
// when any required field fails coercion.
func (c *Cleaner) cleanRow(row, header []string, tsCol, measCol, entityCol, coordCol int, dropCols map[int]bool) (types.CleanedRecord, bool) {
	var record types.CleanedRecord

	if tsCol >= len(row) || measCol >= len(row) || entityCol >= len(row) {
		return record, false
	}

	measuredAt, ok := parseTimestamp(row[tsCol])
	if !ok {
		return record, false
	}
	measurement, err := strconv.ParseFloat(strings.TrimSpace(row[measCol]), 64)
	if err != nil {
		return record, false
	}
	entityID := strings.TrimSpace(row[entityCol])
	if entityID == "" {
		return record, false
	}

	record = types.CleanedRecord{
		EntityID:    entityID,
		MeasuredAt:  measuredAt,
		Measurement: measurement,
		Day:         types.DayOf(measuredAt),
		Hour:        measuredAt.UTC().Hour(),
	}

	if coordCol >= 0 && coordCol < len(row) {
		record.Latitude, record.Longitude = splitCoordinates(row[coordCol])
	}

	for i, cell := range row {
		if i == tsCol || i == measCol || i == entityCol || i == coordCol || dropCols[i] || i >= len(header) {
			continue
		}
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if record.Extras == nil {
			record.Extras = make(map[string]types.Value)
		}
		if f, err := strconv.ParseFloat(cell, 64); err == nil {
			record.Extras[header[i]] = types.Num(f)
		} else {
			record.Extras[header[i]] = types.Str(cell)
		}
	}

	return record, true
}

// parseTimestamp coerces a raw timestamp string, treating naive values
// as UTC.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// splitCoordinates decomposes a combined "lat, lon" cell. Malformed
// cells yield nil pointers, not dropped rows.
func splitCoordinates(cell string) (*float64, *float64) {
	parts := strings.Split(cell, ",")
	if len(parts) != 2 {
		return nil, nil
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return nil, nil
	}
	return &lat, &lon
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	return cols
}

// resolveColumn returns the index of the first alias present in the
// header.
func resolveColumn(cols map[string]int, aliases []string) (int, bool) {
	for _, name := range aliases {
		if idx, ok := cols[name]; ok {
			return idx, true
		}
	}
	return -1, false
}

func missingColumn(concept string, aliases []string) error {
	return errors.NewSchemaError(errors.CodeMissingRequiredField,
		fmt.Sprintf("raw batch is missing the %s column (looked for %s)", concept, strings.Join(aliases, ", ")))
}

func sortedDays(byDay map[string][]types.CleanedRecord) []string {
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	// Day keys are YYYY-MM-DD, so lexicographic order is chronological
	sort.Strings(days)
	return days
}
