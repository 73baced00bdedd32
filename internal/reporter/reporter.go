// Package reporter produces the daily report artifacts from a day's
// gold partition: a top-N ranking by total volume, a top-N ranking by
// congestion, and a JSON summary combining both.
package reporter

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cityflow/cityflow/internal/artifact"
	"github.com/cityflow/cityflow/internal/config"
	"github.com/cityflow/cityflow/internal/errors"
	"github.com/cityflow/cityflow/internal/storage"
	"github.com/cityflow/cityflow/pkg/types"
	"github.com/google/uuid"
)

// Report artifact names under reports/<day>/.
const (
	TopVolumeName  = "top10.csv"
	CongestionName = "congestion.csv"
	SummaryName    = "summary.json"
)

// Result reports the outcome of one reporting run.
type Result struct {
	Day      string
	Entities int

	// Empty is true when the day has no gold partition. No report
	// artifacts are written for an empty day.
	Empty bool

	ReportKeys []string
}

// summaryDocument is the shape of summary.json.
type summaryDocument struct {
	Day        string               `json:"day"`
	Entities   int                  `json:"entities"`
	Top        []types.DailySummary `json:"top10"`
	Congestion []types.DailySummary `json:"congestion"`
}

// Reporter builds daily report artifacts.
type Reporter struct {
	storage storage.ObjectStorage
	cfg     config.ReportConfig
	goldCfg config.AggregateConfig
	logger  *log.Logger
}

// New creates a Reporter. The aggregate config supplies the gold prefix
// to list partitions under.
func New(objStore storage.ObjectStorage, cfg config.ReportConfig, goldCfg config.AggregateConfig, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{storage: objStore, cfg: cfg, goldCfg: goldCfg, logger: logger}
}

// Yesterday returns the default reporting day: the previous UTC day.
func Yesterday(now time.Time) string {
	return types.DayOf(now.UTC().AddDate(0, 0, -1))
}

// Run builds the reports for a day. An empty day (no gold partition)
// succeeds with Result.Empty set and writes nothing.
func (r *Reporter) Run(ctx context.Context, day string) (*Result, error) {
	keys, err := r.storage.ListObjects(ctx, artifact.GoldDayPrefix(r.goldCfg.GoldPrefix, day))
	if err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to list gold partitions for %s", day), err)
	}
	if len(keys) == 0 {
		r.logger.Printf("report: %s: no gold partition, nothing to report", day)
		return &Result{Day: day, Empty: true}, nil
	}

	var summaries []types.DailySummary
	for _, key := range keys {
		part, err := r.readGold(ctx, key)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, part...)
	}

	top := rankByVolume(summaries, r.cfg.TopN)
	congestion := rankByCongestion(summaries, r.cfg.TopN)

	result := &Result{Day: day, Entities: len(summaries)}

	if key, err := r.writeVolumeCSV(ctx, day, top); err != nil {
		return nil, err
	} else {
		result.ReportKeys = append(result.ReportKeys, key)
	}
	if key, err := r.writeCongestionCSV(ctx, day, congestion); err != nil {
		return nil, err
	} else {
		result.ReportKeys = append(result.ReportKeys, key)
	}
	if key, err := r.writeSummaryJSON(ctx, day, summaryDocument{
		Day:        day,
		Entities:   len(summaries),
		Top:        top,
		Congestion: congestion,
	}); err != nil {
		return nil, err
	} else {
		result.ReportKeys = append(result.ReportKeys, key)
	}

	r.logger.Printf("report: %s: wrote %d artifacts over %d entities", day, len(result.ReportKeys), len(summaries))
	return result, nil
}

func (r *Reporter) readGold(ctx context.Context, key string) ([]types.DailySummary, error) {
	localPath := filepath.Join(r.cfg.WorkDir, fmt.Sprintf("gold-in-%s.sqlite", uuid.New().String()[:8]))
	if err := os.MkdirAll(r.cfg.WorkDir, 0755); err != nil {
		return nil, errors.NewReportError(errors.CodeBadGoldPartition, "failed to create work directory", err)
	}
	if err := r.storage.Download(ctx, key, localPath); err != nil {
		return nil, errors.NewStorageError(errors.CodeDownloadFailed,
			fmt.Sprintf("failed to download gold partition %s", key), err)
	}
	defer os.Remove(localPath)

	summaries, err := artifact.ReadGold(ctx, localPath)
	if err != nil {
		return nil, errors.NewReportError(errors.CodeBadGoldPartition,
			fmt.Sprintf("failed to read gold partition %s", key), err)
	}
	return summaries, nil
}

// rankByVolume returns the top n summaries by total, descending, with
// entity id as the tiebreak.
func rankByVolume(summaries []types.DailySummary, n int) []types.DailySummary {
	ranked := make([]types.DailySummary, len(summaries))
	copy(ranked, summaries)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].Total.Cmp(ranked[j].Total); c != 0 {
			return c > 0
		}
		return ranked[i].EntityID < ranked[j].EntityID
	})
	return truncate(ranked, n)
}

// rankByCongestion returns the top n summaries ordered by congested
// ratio, falling back to average volume for entities with no congestion
// data.
func rankByCongestion(summaries []types.DailySummary, n int) []types.DailySummary {
	ranked := make([]types.DailySummary, len(summaries))
	copy(ranked, summaries)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, hasI := ratioOf(&ranked[i])
		rj, hasJ := ratioOf(&ranked[j])
		if hasI != hasJ {
			return hasI
		}
		if hasI {
			if c := ri.Cmp(rj); c != 0 {
				return c > 0
			}
		}
		if c := ranked[i].Average.Cmp(ranked[j].Average); c != 0 {
			return c > 0
		}
		return ranked[i].EntityID < ranked[j].EntityID
	})
	return truncate(ranked, n)
}

func ratioOf(s *types.DailySummary) (types.Decimal, bool) {
	if s.CongestedRatio == nil {
		return types.Decimal{}, false
	}
	return *s.CongestedRatio, true
}

func truncate(summaries []types.DailySummary, n int) []types.DailySummary {
	if n > 0 && len(summaries) > n {
		return summaries[:n]
	}
	return summaries
}

func (r *Reporter) writeVolumeCSV(ctx context.Context, day string, rows []types.DailySummary) (string, error) {
	records := [][]string{{"rank", "entity_id", "total", "average", "record_count"}}
	for i, s := range rows {
		records = append(records, []string{
			strconv.Itoa(i + 1), s.EntityID, s.Total.String(), s.Average.String(),
			strconv.FormatInt(s.RecordCount, 10),
		})
	}
	return r.uploadCSV(ctx, day, TopVolumeName, records)
}

func (r *Reporter) writeCongestionCSV(ctx context.Context, day string, rows []types.DailySummary) (string, error) {
	records := [][]string{{"rank", "entity_id", "congested_ratio", "lost_time_s", "niveau_congestion", "nom_rue", "departement"}}
	for i, s := range rows {
		ratio, lost := "", ""
		if s.CongestedRatio != nil {
			ratio = s.CongestedRatio.String()
		}
		if s.LostTimeS != nil {
			lost = s.LostTimeS.String()
		}
		records = append(records, []string{
			strconv.Itoa(i + 1), s.EntityID, ratio, lost, s.CongestionLevel, s.StreetName, s.Departement,
		})
	}
	return r.uploadCSV(ctx, day, CongestionName, records)
}

func (r *Reporter) uploadCSV(ctx context.Context, day, name string, records [][]string) (string, error) {
	localPath := filepath.Join(r.cfg.WorkDir, fmt.Sprintf("%s-%s", uuid.New().String()[:8], name))
	f, err := os.Create(localPath)
	if err != nil {
		return "", errors.NewReportError(errors.CodeBadGoldPartition, "failed to create report file", err)
	}
	defer os.Remove(localPath)

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return "", errors.NewReportError(errors.CodeBadGoldPartition, "failed to write report rows", err)
	}
	if err := f.Close(); err != nil {
		return "", errors.NewReportError(errors.CodeBadGoldPartition, "failed to close report file", err)
	}

	return r.upload(ctx, day, name, localPath)
}

func (r *Reporter) writeSummaryJSON(ctx context.Context, day string, doc summaryDocument) (string, error) {
	localPath := filepath.Join(r.cfg.WorkDir, fmt.Sprintf("%s-%s", uuid.New().String()[:8], SummaryName))
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.NewReportError(errors.CodeBadGoldPartition, "failed to marshal summary", err)
	}
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return "", errors.NewReportError(errors.CodeBadGoldPartition, "failed to write summary file", err)
	}
	defer os.Remove(localPath)

	return r.upload(ctx, day, SummaryName, localPath)
}

func (r *Reporter) upload(ctx context.Context, day, name, localPath string) (string, error) {
	key := artifact.ReportKey(r.cfg.ReportsPrefix, day, name)
	if err := r.storage.Upload(ctx, localPath, key); err != nil {
		return "", errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to upload report %s", key), err)
	}
	return key, nil
}
