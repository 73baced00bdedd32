package types

import "fmt"

// Congestion level categories derived from the daily congested ratio.
const (
	CongestionFluide = "fluide"
	CongestionDense  = "dense"
	CongestionSature = "sature"
)

// DailySummary is the per-(entity, day) aggregate persisted in the
// summary store. At most one DailySummary exists per key; recomputation
// overwrites the prior value.
type DailySummary struct {
	// EntityID is the aggregation entity.
	EntityID string `json:"entity_id"`

	// Day is the calendar day, ISO date string.
	Day string `json:"date"`

	// Total is the sum of measurements over the day.
	Total Decimal `json:"total"`

	// Average is Total divided by RecordCount.
	Average Decimal `json:"average"`

	// RecordCount is the number of cleaned records aggregated.
	RecordCount int64 `json:"record_count"`

	// Traffic-specific indicators, nil when the feed carries no
	// speed/limit/travel-time fields (e.g. bike counters).
	CongestedRatio *Decimal `json:"congested_ratio,omitempty"`
	LostTimeS      *Decimal `json:"lost_time_s,omitempty"`
	IsCongested    *bool    `json:"is_congested,omitempty"`

	// Optional descriptive attributes carried from the source extras.
	Departement string `json:"departement,omitempty"`
	StreetName  string `json:"nom_rue,omitempty"`

	// CongestionLevel is the derived category (fluide/dense/sature),
	// empty when no congestion data exists for the entity.
	CongestionLevel string `json:"niveau_congestion,omitempty"`
}

// Key returns the composite store key for the summary.
func (s *DailySummary) Key() string {
	return fmt.Sprintf("%s#%s", s.EntityID, s.Day)
}
