// Package ingest polls the open-data feed and lands raw CSV batches in
// object storage. Records carry a source-assigned id; a bloom filter
// keeps already-stored ids from being re-ingested across polls. A bloom
// false positive skips a genuinely new record, at the configured rate
// (1% by default); the feed re-publishes measurements on later polls,
// so the loss is transient.
package ingest

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cityflow/cityflow/internal/bloom"
	"github.com/cityflow/cityflow/internal/config"
	"github.com/cityflow/cityflow/internal/errors"
	"github.com/cityflow/cityflow/internal/storage"
	"github.com/cityflow/cityflow/internal/trigger"
	"github.com/google/uuid"
)

// dedupFPR is the target false positive rate for the seen-id filter.
const dedupFPR = 0.01

// feedResponse mirrors the open-data API envelope.
type feedResponse struct {
	Records []feedRecord `json:"records"`
}

type feedRecord struct {
	RecordID string                 `json:"recordid"`
	Fields   map[string]interface{} `json:"fields"`
}

// Result reports the outcome of one poll.
type Result struct {
	Fetched int
	New     int

	// RawKey is the stored batch key, empty when nothing new arrived.
	RawKey string

	TriggersMissed int
}

// Poller fetches the feed and stores new records as raw CSV batches.
type Poller struct {
	client   *http.Client
	storage  storage.ObjectStorage
	notifier *trigger.Notifier
	cfg      config.IngestConfig
	workDir  string
	seen     *bloom.Filter
	logger   *log.Logger

	// now is stubbed in tests to pin batch keys
	now func() time.Time
}

// New creates a Poller. The notifier may be nil when no cleaner runs
// in-process.
func New(objStore storage.ObjectStorage, notifier *trigger.Notifier, cfg config.IngestConfig, workDir string, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		client:   &http.Client{Timeout: 60 * time.Second},
		storage:  objStore,
		notifier: notifier,
		cfg:      cfg,
		workDir:  workDir,
		seen:     bloom.NewWithEstimates(cfg.ExpectedRecords, dedupFPR),
		logger:   logger,
		now:      time.Now,
	}
}

// Run polls the feed at the configured interval until ctx is cancelled.
// Poll failures are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Printf("ingest: polling %s every %s", p.cfg.FeedURL, p.cfg.Interval)
	for {
		if result, err := p.PollOnce(ctx); err != nil {
			p.logger.Printf("ingest: poll failed: %v", err)
		} else if result.New > 0 {
			p.logger.Printf("ingest: stored %d new records (of %d fetched) as %s", result.New, result.Fetched, result.RawKey)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce fetches the feed once and stores any records not seen
// before. A poll with no new records stores nothing.
func (p *Poller) PollOnce(ctx context.Context) (*Result, error) {
	records, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{Fetched: len(records)}

	var fresh []feedRecord
	for _, r := range records {
		if r.RecordID == "" || p.seen.Contains([]byte(r.RecordID)) {
			continue
		}
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		return result, nil
	}

	localPath, err := p.writeCSV(fresh)
	if err != nil {
		return nil, err
	}
	defer os.Remove(localPath)

	rawKey := p.cfg.RawPrefix + p.now().UTC().Format("2006/01/02/150405") + ".csv"
	if err := p.storage.Upload(ctx, localPath, rawKey); err != nil {
		return nil, errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to upload raw batch %s", rawKey), err)
	}

	// Mark ids seen only after the batch is durable
	for _, r := range fresh {
		p.seen.Add([]byte(r.RecordID))
	}

	result.New = len(fresh)
	result.RawKey = rawKey

	if p.notifier != nil {
		result.TriggersMissed = p.notifier.Publish(trigger.Notification{
			Kind: trigger.RawBatchStored,
			Key:  rawKey,
		})
	}
	return result, nil
}

func (p *Poller) fetch(ctx context.Context) ([]feedRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.FeedURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryIngest, errors.CodeFeedUnavailable, "failed to build feed request", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryIngest, errors.CodeFeedUnavailable, "feed request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.New(errors.ErrCategoryIngest, errors.CodeFeedUnavailable,
			fmt.Sprintf("feed returned status %d", resp.StatusCode))
	}

	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryIngest, errors.CodeFeedUnavailable, "failed to decode feed response", err)
	}
	return feed.Records, nil
}

// writeCSV flattens feed records into a CSV batch. Columns are recordid
// followed by the union of field names in sorted order; nested values
// are embedded as JSON.
func (p *Poller) writeCSV(records []feedRecord) (string, error) {
	fieldSet := make(map[string]bool)
	for _, r := range records {
		for name := range r.Fields {
			fieldSet[name] = true
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	if err := os.MkdirAll(p.workDir, 0755); err != nil {
		return "", errors.NewStorageError(errors.CodeUploadFailed, "failed to create work directory", err)
	}
	localPath := filepath.Join(p.workDir, fmt.Sprintf("batch-%s.csv", uuid.New().String()[:8]))
	f, err := os.Create(localPath)
	if err != nil {
		return "", errors.NewStorageError(errors.CodeUploadFailed, "failed to create batch file", err)
	}

	w := csv.NewWriter(f)
	header := append([]string{"recordid"}, fields...)
	if err := w.Write(header); err != nil {
		f.Close()
		return "", errors.NewStorageError(errors.CodeUploadFailed, "failed to write batch header", err)
	}
	for _, r := range records {
		row := make([]string, 0, len(header))
		row = append(row, r.RecordID)
		for _, name := range fields {
			row = append(row, cellValue(r.Fields[name]))
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return "", errors.NewStorageError(errors.CodeUploadFailed, "failed to write batch row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return "", errors.NewStorageError(errors.CodeUploadFailed, "failed to flush batch", err)
	}
	if err := f.Close(); err != nil {
		return "", errors.NewStorageError(errors.CodeUploadFailed, "failed to close batch file", err)
	}
	return localPath, nil
}

func cellValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// SaveSeenState persists the dedup filter so a restart does not re-store
// the whole feed.
func (p *Poller) SaveSeenState(path string) error {
	data, err := p.seen.Serialize()
	if err != nil {
		return fmt.Errorf("ingest: failed to serialize dedup filter: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("ingest: failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("ingest: failed to write dedup state: %w", err)
	}
	return nil
}

// LoadSeenState restores a persisted dedup filter. A missing file is
// not an error; the poller starts with an empty filter.
func (p *Poller) LoadSeenState(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest: failed to read dedup state: %w", err)
	}
	filter, err := bloom.Deserialize(data)
	if err != nil {
		return fmt.Errorf("ingest: failed to restore dedup filter: %w", err)
	}
	p.seen = filter
	return nil
}
