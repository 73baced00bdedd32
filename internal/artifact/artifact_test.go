package artifact

import (
	"context"
	"testing"
	"time"

	"github.com/cityflow/cityflow/pkg/types"
)

func sampleRecords(day string) []types.CleanedRecord {
	lat, lon := 48.1147, -1.6794
	return []types.CleanedRecord{
		{
			EntityID:    "SiteB",
			MeasuredAt:  time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC),
			Measurement: 7,
			Day:         day,
			Hour:        9,
			Extras:      map[string]types.Value{"sens": types.Str("nord")},
		},
		{
			EntityID:    "SiteA",
			MeasuredAt:  time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC),
			Measurement: 12,
			Day:         day,
			Hour:        8,
			Latitude:    &lat,
			Longitude:   &lon,
		},
	}
}

func TestSilver_BuildAndRead(t *testing.T) {
	ctx := context.Background()
	b := NewSilverBuilder(t.TempDir())

	path, err := b.Build(ctx, "2025-09-01", sampleRecords("2025-09-01"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	got, err := ReadSilver(ctx, path)
	if err != nil {
		t.Fatalf("ReadSilver: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d records, want 2", len(got))
	}

	// Records come back sorted by entity
	if got[0].EntityID != "SiteA" || got[1].EntityID != "SiteB" {
		t.Errorf("order = %s, %s", got[0].EntityID, got[1].EntityID)
	}
	if got[0].Measurement != 12 {
		t.Errorf("SiteA measurement = %v", got[0].Measurement)
	}
	if got[0].Latitude == nil || *got[0].Latitude != 48.1147 {
		t.Errorf("SiteA latitude = %v", got[0].Latitude)
	}
	if got[1].Latitude != nil {
		t.Errorf("SiteB latitude should be nil")
	}
	if v, ok := got[1].Extras["sens"]; !ok || v.Str != "nord" {
		t.Errorf("SiteB extras = %+v", got[1].Extras)
	}
	if !got[0].MeasuredAt.Equal(time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("SiteA measured_at = %v", got[0].MeasuredAt)
	}
}

func TestSilver_BuildIsDeterministic(t *testing.T) {
	ctx := context.Background()
	b := NewSilverBuilder(t.TempDir())

	// Same records, different input order
	recs := sampleRecords("2025-09-01")
	reversed := []types.CleanedRecord{recs[1], recs[0]}

	p1, err := b.Build(ctx, "2025-09-01", recs)
	if err != nil {
		t.Fatalf("Build 1: %v", err)
	}
	p2, err := b.Build(ctx, "2025-09-01", reversed)
	if err != nil {
		t.Fatalf("Build 2: %v", err)
	}

	r1, err := ReadSilver(ctx, p1)
	if err != nil {
		t.Fatalf("ReadSilver 1: %v", err)
	}
	r2, err := ReadSilver(ctx, p2)
	if err != nil {
		t.Fatalf("ReadSilver 2: %v", err)
	}

	if len(r1) != len(r2) {
		t.Fatalf("record counts differ: %d vs %d", len(r1), len(r2))
	}
	for i := range r1 {
		if r1[i].EntityID != r2[i].EntityID || r1[i].Measurement != r2[i].Measurement {
			t.Errorf("record %d differs: %+v vs %+v", i, r1[i], r2[i])
		}
	}
}

func TestSilver_RejectsWrongDay(t *testing.T) {
	b := NewSilverBuilder(t.TempDir())
	_, err := b.Build(context.Background(), "2025-09-02", sampleRecords("2025-09-01"))
	if err == nil {
		t.Error("expected error for mismatched partition day")
	}
}

func TestSilver_RejectsEmpty(t *testing.T) {
	b := NewSilverBuilder(t.TempDir())
	if _, err := b.Build(context.Background(), "2025-09-01", nil); err == nil {
		t.Error("expected error for empty partition")
	}
}

func TestGold_BuildAndRead(t *testing.T) {
	ctx := context.Background()
	b := NewGoldBuilder(t.TempDir())

	total, _ := types.ParseDecimal("30")
	avg, _ := types.ParseDecimal("15")
	ratio, _ := types.ParseDecimal("0.5")
	congested := true

	summaries := []types.DailySummary{
		{
			EntityID:        "troncon-42",
			Day:             "2025-09-01",
			Total:           total,
			Average:         avg,
			RecordCount:     2,
			CongestedRatio:  &ratio,
			IsCongested:     &congested,
			Departement:     "35",
			StreetName:      "rue de Brest",
			CongestionLevel: types.CongestionDense,
		},
		{
			EntityID:    "SiteA",
			Day:         "2025-09-01",
			Total:       total,
			Average:     avg,
			RecordCount: 2,
		},
	}

	path, err := b.Build(ctx, "2025-09-01", summaries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	got, err := ReadGold(ctx, path)
	if err != nil {
		t.Fatalf("ReadGold: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d summaries, want 2", len(got))
	}

	// Sorted by entity
	if got[0].EntityID != "SiteA" {
		t.Errorf("first entity = %s", got[0].EntityID)
	}
	if got[0].CongestedRatio != nil || got[0].IsCongested != nil {
		t.Error("bike-style summary should carry no congestion fields")
	}

	tr := got[1]
	if tr.Total.String() != "30" || tr.Average.String() != "15" {
		t.Errorf("metrics = %s / %s", tr.Total.String(), tr.Average.String())
	}
	if tr.CongestedRatio == nil || tr.CongestedRatio.String() != "0.5" {
		t.Errorf("congested_ratio = %v", tr.CongestedRatio)
	}
	if tr.IsCongested == nil || !*tr.IsCongested {
		t.Errorf("is_congested = %v", tr.IsCongested)
	}
	if tr.Departement != "35" || tr.StreetName != "rue de Brest" || tr.CongestionLevel != types.CongestionDense {
		t.Errorf("descriptive fields = %+v", tr)
	}
}

func TestLayout_Keys(t *testing.T) {
	if k := SilverKey("silver/", "2025-09-01"); k != "silver/date=2025-09-01/clean.sqlite" {
		t.Errorf("SilverKey = %s", k)
	}
	if k := GoldKey("gold/", "2025-09-01"); k != "gold/date=2025-09-01/aggregated.sqlite" {
		t.Errorf("GoldKey = %s", k)
	}
	if k := ReportKey("reports/", "2025-09-01", "top10.csv"); k != "reports/2025-09-01/top10.csv" {
		t.Errorf("ReportKey = %s", k)
	}

	day, ok := DayFromKey("gold/date=2025-09-01/aggregated.sqlite")
	if !ok || day != "2025-09-01" {
		t.Errorf("DayFromKey = %s, %v", day, ok)
	}
	if _, ok := DayFromKey("reports/2025-09-01/top10.csv"); ok {
		t.Error("DayFromKey should not match report keys")
	}
}
