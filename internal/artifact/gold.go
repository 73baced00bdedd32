package artifact

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cityflow/cityflow/pkg/types"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// GoldBuilder creates gold SQLite partitions from daily summaries.
type GoldBuilder struct {
	workDir string
}

// NewGoldBuilder creates a builder writing into workDir.
func NewGoldBuilder(workDir string) *GoldBuilder {
	return &GoldBuilder{workDir: workDir}
}

// Decimal metrics are stored as TEXT: the canonical string form is the
// exact fixed-point representation and survives a round-trip unchanged.
const createGoldTableSQL = `
	CREATE TABLE summaries (
		entity_id TEXT NOT NULL,
		day TEXT NOT NULL,
		total TEXT NOT NULL,
		average TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		congested_ratio TEXT,
		lost_time_s TEXT,
		is_congested INTEGER,
		departement TEXT,
		street_name TEXT,
		congestion_level TEXT,
		PRIMARY KEY (entity_id, day)
	) WITHOUT ROWID
`

// Build writes a gold partition for one day and returns the local file
// path. Summaries are inserted sorted by entity so reprocessing the same
// silver input yields an equivalent partition.
func (b *GoldBuilder) Build(ctx context.Context, day string, summaries []types.DailySummary) (string, error) {
	if len(summaries) == 0 {
		return "", fmt.Errorf("artifact: cannot build gold partition with no summaries")
	}
	for i := range summaries {
		if summaries[i].Day != day {
			return "", fmt.Errorf("artifact: summary day %s does not match partition day %s", summaries[i].Day, day)
		}
	}

	if err := os.MkdirAll(b.workDir, 0755); err != nil {
		return "", fmt.Errorf("artifact: failed to create work directory: %w", err)
	}

	sorted := make([]types.DailySummary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EntityID < sorted[j].EntityID
	})

	path := filepath.Join(b.workDir, fmt.Sprintf("gold-%s-%s.sqlite", day, uuid.New().String()[:8]))

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return "", fmt.Errorf("artifact: failed to create gold database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return "", fmt.Errorf("artifact: failed to set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, createGoldTableSQL); err != nil {
		return "", fmt.Errorf("artifact: failed to create summaries table: %w", err)
	}

	stmt, err := db.PrepareContext(ctx,
		`INSERT INTO summaries (entity_id, day, total, average, record_count,
			congested_ratio, lost_time_s, is_congested, departement, street_name, congestion_level)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("artifact: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range sorted {
		if _, err := stmt.ExecContext(ctx,
			s.EntityID, s.Day, s.Total.String(), s.Average.String(), s.RecordCount,
			decimalPtr(s.CongestedRatio), decimalPtr(s.LostTimeS), boolPtr(s.IsCongested),
			nullIfEmpty(s.Departement), nullIfEmpty(s.StreetName), nullIfEmpty(s.CongestionLevel),
		); err != nil {
			return "", fmt.Errorf("artifact: failed to insert summary: %w", err)
		}
	}

	if err := finalize(ctx, db); err != nil {
		return "", err
	}
	if err := db.Close(); err != nil {
		return "", fmt.Errorf("artifact: failed to close gold database: %w", err)
	}

	return path, nil
}

// ReadGold loads all summaries from a gold partition file.
func ReadGold(ctx context.Context, path string) ([]types.DailySummary, error) {
	db, err := sql.Open("sqlite3", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to open gold partition: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT entity_id, day, total, average, record_count,
			congested_ratio, lost_time_s, is_congested, departement, street_name, congestion_level
		 FROM summaries ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("artifact: failed to read gold partition: %w", err)
	}
	defer rows.Close()

	var summaries []types.DailySummary
	for rows.Next() {
		var (
			s                    types.DailySummary
			total, average       string
			ratio, lost          sql.NullString
			congested            sql.NullBool
			dept, street, niveau sql.NullString
		)
		if err := rows.Scan(&s.EntityID, &s.Day, &total, &average, &s.RecordCount,
			&ratio, &lost, &congested, &dept, &street, &niveau); err != nil {
			return nil, fmt.Errorf("artifact: failed to scan summary: %w", err)
		}

		if s.Total, err = types.ParseDecimal(total); err != nil {
			return nil, fmt.Errorf("artifact: bad total for %s: %w", s.EntityID, err)
		}
		if s.Average, err = types.ParseDecimal(average); err != nil {
			return nil, fmt.Errorf("artifact: bad average for %s: %w", s.EntityID, err)
		}
		if s.CongestedRatio, err = parseNullDecimal(ratio); err != nil {
			return nil, fmt.Errorf("artifact: bad congested_ratio for %s: %w", s.EntityID, err)
		}
		if s.LostTimeS, err = parseNullDecimal(lost); err != nil {
			return nil, fmt.Errorf("artifact: bad lost_time_s for %s: %w", s.EntityID, err)
		}
		if congested.Valid {
			v := congested.Bool
			s.IsCongested = &v
		}
		s.Departement = dept.String
		s.StreetName = street.String
		s.CongestionLevel = niveau.String

		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact: failed to iterate summaries: %w", err)
	}

	return summaries, nil
}

func decimalPtr(d *types.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func boolPtr(b *bool) interface{} {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func parseNullDecimal(ns sql.NullString) (*types.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := types.ParseDecimal(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
