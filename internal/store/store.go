// Package store persists per-entity daily summaries in a SQLite
// key-value table keyed by (entity_id, day). The aggregator upserts with
// last-write-wins semantics; the query service scans the full table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cityflow/cityflow/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// SummaryStore is the serving-layer store for daily summaries.
type SummaryStore interface {
	// Upsert writes a summary, overwriting any existing row for the same
	// (entity_id, day) key.
	Upsert(ctx context.Context, summary types.DailySummary) error

	// UpsertBatch writes summaries one by one and returns the keys that
	// failed alongside the first error. A partial failure leaves the
	// successful rows in place.
	UpsertBatch(ctx context.Context, summaries []types.DailySummary) (failed []string, err error)

	// ScanAll returns every summary in the table.
	ScanAll(ctx context.Context) ([]types.DailySummary, error)

	// Count returns the total number of summaries.
	Count(ctx context.Context) (int64, error)

	// Close closes the underlying database connections.
	Close() error
}

// SQLiteStore implements SummaryStore on a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB // single writer
	readDB *sql.DB // concurrent readers
	mu     sync.Mutex
}

const createSummariesTableSQL = `
	CREATE TABLE IF NOT EXISTS daily_summaries (
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
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (entity_id, day)
	) WITHOUT ROWID
`

// NewSQLiteStore opens (creating if needed) a summary store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(createSummariesTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create daily_summaries table: %w", err)
	}

	// Read connection pool for the query service
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	return &SQLiteStore{db: db, readDB: readDB}, nil
}

// Upsert implements SummaryStore.
func (s *SQLiteStore) Upsert(ctx context.Context, summary types.DailySummary) error {
	if summary.EntityID == "" || summary.Day == "" {
		return fmt.Errorf("store: summary is missing its (entity_id, day) key")
	}

	query, args, err := sq.Insert("daily_summaries").
		Columns("entity_id", "day", "total", "average", "record_count",
			"congested_ratio", "lost_time_s", "is_congested",
			"departement", "street_name", "congestion_level", "updated_at").
		Values(summary.EntityID, summary.Day,
			summary.Total.String(), summary.Average.String(), summary.RecordCount,
			decimalArg(summary.CongestedRatio), decimalArg(summary.LostTimeS), boolArg(summary.IsCongested),
			stringArg(summary.Departement), stringArg(summary.StreetName), stringArg(summary.CongestionLevel),
			time.Now().Unix()).
		Suffix(`ON CONFLICT (entity_id, day) DO UPDATE SET
			total = excluded.total,
			average = excluded.average,
			record_count = excluded.record_count,
			congested_ratio = excluded.congested_ratio,
			lost_time_s = excluded.lost_time_s,
			is_congested = excluded.is_congested,
			departement = excluded.departement,
			street_name = excluded.street_name,
			congestion_level = excluded.congestion_level,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: failed to build upsert: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: failed to upsert %s: %w", summary.Key(), err)
	}
	return nil
}

// UpsertBatch implements SummaryStore.
func (s *SQLiteStore) UpsertBatch(ctx context.Context, summaries []types.DailySummary) ([]string, error) {
	var (
		failed   []string
		firstErr error
	)
	for _, summary := range summaries {
		if err := s.Upsert(ctx, summary); err != nil {
			failed = append(failed, summary.Key())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return failed, firstErr
}

// ScanAll implements SummaryStore.
func (s *SQLiteStore) ScanAll(ctx context.Context) ([]types.DailySummary, error) {
	query, args, err := sq.Select("entity_id", "day", "total", "average", "record_count",
		"congested_ratio", "lost_time_s", "is_congested",
		"departement", "street_name", "congestion_level").
		From("daily_summaries").
		OrderBy("entity_id", "day").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("store: failed to build scan: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to scan daily_summaries: %w", err)
	}
	defer rows.Close()

	var summaries []types.DailySummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: failed to iterate daily_summaries: %w", err)
	}
	return summaries, nil
}

// Count implements SummaryStore.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.readDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_summaries").Scan(&count); err != nil {
		return 0, fmt.Errorf("store: failed to count daily_summaries: %w", err)
	}
	return count, nil
}

// Close implements SummaryStore.
func (s *SQLiteStore) Close() error {
	var firstErr error
	if err := s.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func scanSummary(rows *sql.Rows) (types.DailySummary, error) {
	var (
		s                    types.DailySummary
		total, average       string
		ratio, lost          sql.NullString
		congested            sql.NullBool
		dept, street, niveau sql.NullString
		err                  error
	)
	if err := rows.Scan(&s.EntityID, &s.Day, &total, &average, &s.RecordCount,
		&ratio, &lost, &congested, &dept, &street, &niveau); err != nil {
		return s, fmt.Errorf("store: failed to scan summary: %w", err)
	}

	if s.Total, err = types.ParseDecimal(total); err != nil {
		return s, fmt.Errorf("store: bad total for %s: %w", s.EntityID, err)
	}
	if s.Average, err = types.ParseDecimal(average); err != nil {
		return s, fmt.Errorf("store: bad average for %s: %w", s.EntityID, err)
	}
	if ratio.Valid {
		d, err := types.ParseDecimal(ratio.String)
		if err != nil {
			return s, fmt.Errorf("store: bad congested_ratio for %s: %w", s.EntityID, err)
		}
		s.CongestedRatio = &d
	}
	if lost.Valid {
		d, err := types.ParseDecimal(lost.String)
		if err != nil {
			return s, fmt.Errorf("store: bad lost_time_s for %s: %w", s.EntityID, err)
		}
		s.LostTimeS = &d
	}
	if congested.Valid {
		v := congested.Bool
		s.IsCongested = &v
	}
	s.Departement = dept.String
	s.StreetName = street.String
	s.CongestionLevel = niveau.String
	return s, nil
}

func decimalArg(d *types.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func boolArg(b *bool) interface{} {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func stringArg(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
