package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/cityflow/cityflow/internal/cleaner"
	"github.com/cityflow/cityflow/internal/reporter"
)

// CleanRunner runs the cleaner on a stored raw batch.
type CleanRunner interface {
	HandleEvent(ctx context.Context, event cleaner.CleanEvent) (*cleaner.Result, error)
}

// ReportRunner builds the report artifacts for a day.
type ReportRunner interface {
	Run(ctx context.Context, day string) (*reporter.Result, error)
}

// PipelineHandler serves the manual pipeline trigger endpoints, the
// HTTP equivalent of the storage-event and schedule invocations.
type PipelineHandler struct {
	cleaner  CleanRunner
	reporter ReportRunner
	logger   *log.Logger
}

// NewPipelineHandler creates a PipelineHandler.
func NewPipelineHandler(clean CleanRunner, report ReportRunner, logger *log.Logger) *PipelineHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &PipelineHandler{cleaner: clean, reporter: report, logger: logger}
}

// HandleClean implements POST /v1/clean: re-clean a stored raw batch.
func (h *PipelineHandler) HandleClean(w http.ResponseWriter, r *http.Request) {
	var event cleaner.CleanEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", GetRequestID(r.Context()))
		return
	}
	if event.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required", GetRequestID(r.Context()))
		return
	}

	result, err := h.cleaner.HandleEvent(r.Context(), event)
	if err != nil {
		h.logger.Printf("api: clean %s failed: %v", event.Key, err)
		writeError(w, http.StatusInternalServerError, err.Error(), GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// reportRequest is the POST /v1/report body. Day defaults to the
// previous UTC day when omitted.
type reportRequest struct {
	Day string `json:"day"`
}

// HandleReport implements POST /v1/report.
func (h *PipelineHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", GetRequestID(r.Context()))
			return
		}
	}
	day := req.Day
	if day == "" {
		day = reporter.Yesterday(time.Now())
	}
	if _, err := time.Parse("2006-01-02", day); err != nil {
		writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD", GetRequestID(r.Context()))
		return
	}

	result, err := h.reporter.Run(r.Context(), day)
	if err != nil {
		h.logger.Printf("api: report %s failed: %v", day, err)
		writeError(w, http.StatusInternalServerError, err.Error(), GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
