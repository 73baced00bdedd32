package http

import (
	"log"
	"net/http"

	"github.com/cityflow/cityflow/internal/store"
	"github.com/gorilla/mux"
)

// NewRouter builds the API router. The pipeline handlers may be nil in
// query-only deployments; their routes are then not registered.
func NewRouter(summaries store.SummaryStore, clean CleanRunner, report ReportRunner, logger *log.Logger) *mux.Router {
	r := mux.NewRouter()
	wrap := DefaultMiddleware()

	query := NewQueryHandler(summaries, logger)
	r.Handle("/v1/summaries", wrap(http.HandlerFunc(query.HandleQuery))).Methods(http.MethodGet)

	if clean != nil && report != nil {
		pipeline := NewPipelineHandler(clean, report, logger)
		r.Handle("/v1/clean", wrap(http.HandlerFunc(pipeline.HandleClean))).Methods(http.MethodPost)
		r.Handle("/v1/report", wrap(http.HandlerFunc(pipeline.HandleReport))).Methods(http.MethodPost)
	}

	r.Handle("/healthz", wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))).Methods(http.MethodGet)

	return r
}
