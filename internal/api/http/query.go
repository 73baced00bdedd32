package http

import (
	"log"
	"net/http"
	"strings"

	"github.com/cityflow/cityflow/internal/store"
	"github.com/cityflow/cityflow/pkg/types"
)

// sampleSize is the number of filtered items echoed in the debug block.
const sampleSize = 3

// filterParams maps query parameter names to summary field accessors.
// Parameters outside this set are echoed in the debug block but do not
// filter.
var filterParams = map[string]func(*types.DailySummary) string{
	"date":              func(s *types.DailySummary) string { return s.Day },
	"location_name":     func(s *types.DailySummary) string { return s.EntityID },
	"departement":       func(s *types.DailySummary) string { return s.Departement },
	"nom_rue":           func(s *types.DailySummary) string { return s.StreetName },
	"niveau_congestion": func(s *types.DailySummary) string { return s.CongestionLevel },
}

// QueryResponse is the summary query response body.
type QueryResponse struct {
	Debug QueryDebug           `json:"debug"`
	Items []types.DailySummary `json:"items"`
}

// QueryDebug carries the scan diagnostics alongside the items.
type QueryDebug struct {
	ReceivedQueryParams    map[string]string    `json:"received_query_params"`
	TotalItemsInTable      int                  `json:"total_items_in_table"`
	TotalItemsAfterFilter  int                  `json:"total_items_after_filter"`
	SampleItemsAfterFilter []types.DailySummary `json:"sample_items_after_filter"`
}

// QueryHandler serves the daily-summary query endpoint.
type QueryHandler struct {
	store  store.SummaryStore
	logger *log.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(summaries store.SummaryStore, logger *log.Logger) *QueryHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &QueryHandler{store: summaries, logger: logger}
}

// HandleQuery implements GET /v1/summaries. It scans the whole table
// and applies case-insensitive equality filters from the query string;
// a parameter with an empty value matches everything.
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	received := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			received[name] = values[0]
		}
	}

	items, err := h.store.ScanAll(r.Context())
	if err != nil {
		h.logger.Printf("query: scan failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to scan summaries", GetRequestID(r.Context()))
		return
	}
	total := len(items)

	filtered := items
	for name, accessor := range filterParams {
		want, ok := received[name]
		if !ok {
			continue
		}
		want = strings.ToLower(strings.TrimSpace(want))
		if want == "" {
			continue
		}
		var kept []types.DailySummary
		for i := range filtered {
			got := strings.ToLower(strings.TrimSpace(accessor(&filtered[i])))
			if got == want {
				kept = append(kept, filtered[i])
			}
		}
		filtered = kept
	}

	sample := filtered
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}
	if filtered == nil {
		filtered = []types.DailySummary{}
	}
	if sample == nil {
		sample = []types.DailySummary{}
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Debug: QueryDebug{
			ReceivedQueryParams:    received,
			TotalItemsInTable:      total,
			TotalItemsAfterFilter:  len(filtered),
			SampleItemsAfterFilter: sample,
		},
		Items: filtered,
	})
}
