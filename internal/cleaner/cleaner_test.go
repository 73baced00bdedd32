package cleaner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cityflow/cityflow/internal/artifact"
	"github.com/cityflow/cityflow/internal/config"
	"github.com/cityflow/cityflow/internal/errors"
	"github.com/cityflow/cityflow/internal/storage"
	"github.com/cityflow/cityflow/internal/trigger"
	"github.com/cityflow/cityflow/pkg/types"
)

func testConfig(t *testing.T) config.CleanConfig {
	t.Helper()
	cfg := config.DefaultConfig().Clean
	cfg.WorkDir = t.TempDir()
	return cfg
}

func newTestStorage(t *testing.T) *storage.LocalStorage {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return store
}

func uploadCSV(t *testing.T, store *storage.LocalStorage, key, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := store.Upload(context.Background(), path, key); err != nil {
		t.Fatalf("Upload: %v", err)
	}
}

func readSilver(t *testing.T, store *storage.LocalStorage, key string) []types.CleanedRecord {
	t.Helper()
	path := filepath.Join(t.TempDir(), "silver.sqlite")
	if err := store.Download(context.Background(), key, path); err != nil {
		t.Fatalf("Download %s: %v", key, err)
	}
	records, err := artifact.ReadSilver(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadSilver: %v", err)
	}
	return records
}

const mixedBatch = `Date,Counts,Location_Name,Coordinates,ISO_Date,sens
2025-09-01 08:00:00,12,SiteA,"48.1147, -1.6794",2025-09-01T08:00:00Z,nord
2025-09-01 09:00:00,abc,SiteB,"48.12, -1.68",2025-09-01T09:00:00Z,sud
2025-09-01 10:00:00,7,SiteB,,2025-09-01T10:00:00Z,sud
not-a-date,5,SiteC,,x,est
2025-09-01 11:00:00,3,,,x,ouest
`

func TestClean_CoerceAndDrop(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	uploadCSV(t, store, "raw/2025/09/01/080000.csv", mixedBatch)

	c := New(store, nil, testConfig(t), nil)
	result, err := c.Clean(ctx, "raw/2025/09/01/080000.csv")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}

	if result.RowsRead != 5 || result.RowsKept != 2 || result.RowsDropped != 3 {
		t.Errorf("counts = read %d / kept %d / dropped %d", result.RowsRead, result.RowsKept, result.RowsDropped)
	}
	if len(result.SilverKeys) != 1 || result.SilverKeys[0] != "silver/date=2025-09-01/clean.sqlite" {
		t.Fatalf("silver keys = %v", result.SilverKeys)
	}

	records := readSilver(t, store, result.SilverKeys[0])
	if len(records) != 2 {
		t.Fatalf("silver has %d records, want 2", len(records))
	}

	siteA := records[0]
	if siteA.EntityID != "SiteA" || siteA.Measurement != 12 {
		t.Errorf("SiteA = %+v", siteA)
	}
	if siteA.Latitude == nil || *siteA.Latitude != 48.1147 || siteA.Longitude == nil || *siteA.Longitude != -1.6794 {
		t.Errorf("SiteA coordinates = %v, %v", siteA.Latitude, siteA.Longitude)
	}
	if !siteA.MeasuredAt.Equal(time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)) || siteA.Hour != 8 {
		t.Errorf("SiteA time = %v hour %d", siteA.MeasuredAt, siteA.Hour)
	}
	// The noisy ISO_Date column is dropped; sens survives as an extra
	if _, ok := siteA.Extras["ISO_Date"]; ok {
		t.Error("ISO_Date should have been dropped")
	}
	if v, ok := siteA.Extras["sens"]; !ok || v.Str != "nord" {
		t.Errorf("SiteA extras = %+v", siteA.Extras)
	}

	if records[1].EntityID != "SiteB" || records[1].Measurement != 7 {
		t.Errorf("SiteB = %+v", records[1])
	}
}

func TestClean_MissingRequiredColumnIsFatal(t *testing.T) {
	store := newTestStorage(t)
	uploadCSV(t, store, "raw/bad.csv", "Date,Location_Name\n2025-09-01,SiteA\n")

	c := New(store, nil, testConfig(t), nil)
	_, err := c.Clean(context.Background(), "raw/bad.csv")
	if err == nil {
		t.Fatal("expected error for missing measurement column")
	}
	if errors.GetCode(err) != errors.CodeMissingRequiredField {
		t.Errorf("code = %s", errors.GetCode(err))
	}
	// No silver partition appears
	keys, _ := store.ListObjects(context.Background(), "silver/")
	if len(keys) != 0 {
		t.Errorf("unexpected silver objects: %v", keys)
	}
}

func TestClean_AllRowsDroppedWritesNothing(t *testing.T) {
	store := newTestStorage(t)
	uploadCSV(t, store, "raw/noise.csv", "Date,Counts,Location_Name\nbad,abc,\nworse,,,\n")

	c := New(store, nil, testConfig(t), nil)
	result, err := c.Clean(context.Background(), "raw/noise.csv")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if result.RowsKept != 0 || result.RowsDropped != 2 {
		t.Errorf("counts = %+v", result)
	}
	if len(result.SilverKeys) != 0 {
		t.Errorf("silver keys = %v", result.SilverKeys)
	}
}

func TestClean_EmptyBatchIsError(t *testing.T) {
	store := newTestStorage(t)
	uploadCSV(t, store, "raw/empty.csv", "Date,Counts,Location_Name\n")

	c := New(store, nil, testConfig(t), nil)
	if _, err := c.Clean(context.Background(), "raw/empty.csv"); errors.GetCode(err) != errors.CodeEmptyBatch {
		t.Errorf("err = %v", err)
	}
}

func TestClean_MultiDayBatchSplitsPartitions(t *testing.T) {
	store := newTestStorage(t)
	uploadCSV(t, store, "raw/multi.csv",
		"Date,Counts,Location_Name\n"+
			"2025-09-01 23:30:00,4,SiteA\n"+
			"2025-09-02 00:15:00,6,SiteA\n")

	c := New(store, nil, testConfig(t), nil)
	result, err := c.Clean(context.Background(), "raw/multi.csv")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(result.Days) != 2 || result.Days[0] != "2025-09-01" || result.Days[1] != "2025-09-02" {
		t.Fatalf("days = %v", result.Days)
	}

	for i, day := range result.Days {
		records := readSilver(t, store, result.SilverKeys[i])
		if len(records) != 1 || records[0].Day != day {
			t.Errorf("partition %s holds %+v", day, records)
		}
	}
}

func TestClean_ReRunReplacesPartition(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	cfg := testConfig(t)
	c := New(store, nil, cfg, nil)

	uploadCSV(t, store, "raw/v1.csv", "Date,Counts,Location_Name\n2025-09-01 08:00:00,30,SiteA\n")
	if _, err := c.Clean(ctx, "raw/v1.csv"); err != nil {
		t.Fatalf("Clean v1: %v", err)
	}

	// A corrected batch for the same day fully replaces the partition
	uploadCSV(t, store, "raw/v2.csv", "Date,Counts,Location_Name\n2025-09-01 08:00:00,25,SiteA\n")
	if _, err := c.Clean(ctx, "raw/v2.csv"); err != nil {
		t.Fatalf("Clean v2: %v", err)
	}

	records := readSilver(t, store, "silver/date=2025-09-01/clean.sqlite")
	if len(records) != 1 || records[0].Measurement != 25 {
		t.Errorf("after re-run: %+v", records)
	}
}

func TestClean_PublishesAggregateTrigger(t *testing.T) {
	store := newTestStorage(t)
	uploadCSV(t, store, "raw/t.csv", "Date,Counts,Location_Name\n2025-09-01 08:00:00,1,SiteA\n")

	notifier := trigger.NewNotifier(4)
	sub := notifier.Subscribe("aggregator", trigger.SilverWritten)
	defer notifier.Unsubscribe("aggregator")

	c := New(store, notifier, testConfig(t), nil)
	result, err := c.Clean(context.Background(), "raw/t.csv")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if result.TriggersMissed != 0 {
		t.Errorf("TriggersMissed = %d", result.TriggersMissed)
	}

	select {
	case notif := <-sub.Ch:
		if notif.Day != "2025-09-01" || notif.Key != "silver/date=2025-09-01/clean.sqlite" {
			t.Errorf("notification = %+v", notif)
		}
	case <-time.After(time.Second):
		t.Fatal("aggregation trigger not published")
	}
}

func TestClean_TrafficFeedAliases(t *testing.T) {
	store := newTestStorage(t)
	uploadCSV(t, store, "raw/traffic.csv",
		"datetime,vehicleprobemeasurement,id_rva_troncon_fcd_v1_1,averagevehiclespeed,vitesse_maxi\n"+
			"2025-09-01T08:00:00Z,42,troncon-42,18,50\n")

	c := New(store, nil, testConfig(t), nil)
	result, err := c.Clean(context.Background(), "raw/traffic.csv")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if result.RowsKept != 1 {
		t.Fatalf("kept = %d", result.RowsKept)
	}

	records := readSilver(t, store, result.SilverKeys[0])
	r := records[0]
	if r.EntityID != "troncon-42" || r.Measurement != 42 {
		t.Errorf("record = %+v", r)
	}
	if v, ok := r.Extras["averagevehiclespeed"]; !ok || v.Num != 18 {
		t.Errorf("speed extra = %+v", r.Extras)
	}
}
