package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cityflow/cityflow/pkg/types"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SilverBuilder creates silver SQLite partitions from cleaned records.
type SilverBuilder struct {
	workDir string
}

// NewSilverBuilder creates a builder writing into workDir.
func NewSilverBuilder(workDir string) *SilverBuilder {
	return &SilverBuilder{workDir: workDir}
}

const createSilverTableSQL = `
	CREATE TABLE records (
		entity_id TEXT NOT NULL,
		measured_at INTEGER NOT NULL,
		measurement REAL NOT NULL,
		day TEXT NOT NULL,
		hour INTEGER NOT NULL,
		latitude REAL,
		longitude REAL,
		extras BLOB
	)
`

// Build writes a silver partition for one day and returns the local file
// path. Records are inserted in a stable order so re-cleaning the same
// batch yields the same partition content.
func (b *SilverBuilder) Build(ctx context.Context, day string, records []types.CleanedRecord) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("artifact: cannot build silver partition with no records")
	}
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return "", fmt.Errorf("artifact: %w", err)
		}
		if records[i].Day != day {
			return "", fmt.Errorf("artifact: record day %s does not match partition day %s", records[i].Day, day)
		}
	}

	if err := os.MkdirAll(b.workDir, 0755); err != nil {
		return "", fmt.Errorf("artifact: failed to create work directory: %w", err)
	}

	sorted := make([]types.CleanedRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].EntityID != sorted[j].EntityID {
			return sorted[i].EntityID < sorted[j].EntityID
		}
		if !sorted[i].MeasuredAt.Equal(sorted[j].MeasuredAt) {
			return sorted[i].MeasuredAt.Before(sorted[j].MeasuredAt)
		}
		return sorted[i].Measurement < sorted[j].Measurement
	})

	path := filepath.Join(b.workDir, fmt.Sprintf("silver-%s-%s.sqlite", day, uuid.New().String()[:8]))

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return "", fmt.Errorf("artifact: failed to create silver database: %w", err)
	}
	defer db.Close()

	// WAL for build speed, DELETE mode before finalizing so the file is
	// a single self-contained object
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return "", fmt.Errorf("artifact: failed to set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, createSilverTableSQL); err != nil {
		return "", fmt.Errorf("artifact: failed to create records table: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE INDEX idx_records_entity ON records(entity_id, measured_at)"); err != nil {
		return "", fmt.Errorf("artifact: failed to create index: %w", err)
	}

	stmt, err := db.PrepareContext(ctx,
		`INSERT INTO records (entity_id, measured_at, measurement, day, hour, latitude, longitude, extras)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("artifact: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range sorted {
		extras, err := encodeExtras(r.Extras)
		if err != nil {
			return "", fmt.Errorf("artifact: failed to encode extras: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.EntityID, r.MeasuredAt.UTC().Unix(), r.Measurement, r.Day, r.Hour,
			r.Latitude, r.Longitude, extras,
		); err != nil {
			return "", fmt.Errorf("artifact: failed to insert record: %w", err)
		}
	}

	if err := finalize(ctx, db); err != nil {
		return "", err
	}
	if err := db.Close(); err != nil {
		return "", fmt.Errorf("artifact: failed to close silver database: %w", err)
	}

	return path, nil
}

// ReadSilver loads all records from a silver partition file.
func ReadSilver(ctx context.Context, path string) ([]types.CleanedRecord, error) {
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to open silver partition: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT entity_id, measured_at, measurement, day, hour, latitude, longitude, extras
		 FROM records ORDER BY entity_id, measured_at`)
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to read silver partition: %w", err)
	}
	defer rows.Close()

	var records []types.CleanedRecord
	for rows.Next() {
		var (
			r        types.CleanedRecord
			unixSec  int64
			lat, lon sql.NullFloat64
			extras   []byte
		)
		if err := rows.Scan(&r.EntityID, &unixSec, &r.Measurement, &r.Day, &r.Hour, &lat, &lon, &extras); err != nil {
			return nil, fmt.Errorf("artifact: failed to scan record: %w", err)
		}
		r.MeasuredAt = time.Unix(unixSec, 0).UTC()
		if lat.Valid {
			r.Latitude = &lat.Float64
		}
		if lon.Valid {
			r.Longitude = &lon.Float64
		}
		r.Extras, err = decodeExtras(extras)
		if err != nil {
			return nil, fmt.Errorf("artifact: failed to decode extras: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact: failed to iterate records: %w", err)
	}

	return records, nil
}

// encodeExtras marshals the optional fields as snappy-compressed JSON.
// json.Marshal sorts map keys, keeping the encoding deterministic.
func encodeExtras(extras map[string]types.Value) ([]byte, error) {
	if len(extras) == 0 {
		return nil, nil
	}
	native := make(map[string]interface{}, len(extras))
	for k, v := range extras {
		native[k] = v.Native()
	}
	raw, err := json.Marshal(native)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

// decodeExtras reverses encodeExtras.
func decodeExtras(data []byte) (map[string]types.Value, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, err
	}
	var native map[string]interface{}
	if err := json.Unmarshal(raw, &native); err != nil {
		return nil, err
	}
	extras := make(map[string]types.Value, len(native))
	for k, v := range native {
		extras[k] = types.FromNative(v)
	}
	return extras, nil
}

// finalize checkpoints the WAL and switches to DELETE mode so the
// partition is a single immutable file.
func finalize(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("artifact: failed to checkpoint WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return fmt.Errorf("artifact: failed to set journal mode to DELETE: %w", err)
	}
	return nil
}
