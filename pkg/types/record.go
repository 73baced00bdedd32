package types

import (
	"fmt"
	"time"
)

// RawRecord is a single unvalidated record from a source feed.
// There is no fixed schema: the field set drifts with the upstream API.
type RawRecord struct {
	// SourceID is the source-assigned record identifier, used for dedup.
	SourceID string

	// Fields maps source field names to tagged scalar values.
	Fields map[string]Value
}

// CleanedRecord is a validated, typed record.
// Every CleanedRecord carries a non-null timestamp, a non-null numeric
// measurement, and a non-empty entity identifier; records failing any of
// the three are dropped during cleaning, never passed downstream.
type CleanedRecord struct {
	// EntityID is the aggregation entity (counting location or road segment).
	EntityID string

	// MeasuredAt is the timezone-aware measurement instant (UTC).
	MeasuredAt time.Time

	// Measurement is the numeric observation (counts, probe measurement).
	Measurement float64

	// Day is the calendar-day partition key, YYYY-MM-DD in UTC.
	Day string

	// Hour is the hour-of-day in UTC, used for hourly rollups.
	Hour int

	// Latitude/Longitude are split from a combined coordinate field
	// when present; nil when absent or malformed.
	Latitude  *float64
	Longitude *float64

	// Extras holds the remaining optional source fields that survived
	// cleaning, keyed by source field name.
	Extras map[string]Value
}

// Validate checks the three non-null invariants.
func (r *CleanedRecord) Validate() error {
	if r.EntityID == "" {
		return fmt.Errorf("cleaned record: empty entity id")
	}
	if r.MeasuredAt.IsZero() {
		return fmt.Errorf("cleaned record %s: zero timestamp", r.EntityID)
	}
	if r.Day == "" {
		return fmt.Errorf("cleaned record %s: empty day", r.EntityID)
	}
	return nil
}

// DayOf formats t as a calendar-day partition key in UTC.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
