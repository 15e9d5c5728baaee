// Package postgres persists usage records in the query_usage table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/duckmesh/querygate/internal/usage"
	"github.com/duckmesh/querygate/internal/warehouse"
)

const defaultListLimit = 100

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping usage log db: %w", err)
	}
	return nil
}

func (s *Store) ReportUsage(ctx context.Context, stats warehouse.UsageStats, usageCtx warehouse.UsageContext) error {
	_, err := s.Insert(ctx, usage.NewRecord(stats, usageCtx))
	return err
}

func (s *Store) Insert(ctx context.Context, record usage.Record) (usage.Record, error) {
	query := `
INSERT INTO query_usage (job_id, request_id, query_key, data_source, kind, bytes_processed, bytes_billed, slot_millis, cache_hit, duration_ms, started_at, ended_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING usage_id, recorded_at`
	err := s.db.QueryRowContext(ctx, query,
		record.JobID,
		nullString(record.RequestID),
		nullString(record.QueryKey),
		nullString(record.DataSource),
		record.Kind,
		record.BytesProcessed,
		record.BytesBilled,
		record.SlotMillis,
		record.CacheHit,
		record.DurationMS,
		nullTime(record.StartedAt),
		nullTime(record.EndedAt),
	).Scan(&record.ID, &record.RecordedAt)
	if err != nil {
		return usage.Record{}, fmt.Errorf("insert usage record: %w", err)
	}
	return record, nil
}

// ListRecent returns the newest records first, optionally filtered by kind.
func (s *Store) ListRecent(ctx context.Context, kind string, limit int) ([]usage.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT usage_id, job_id, COALESCE(request_id, ''), COALESCE(query_key, ''), COALESCE(data_source, ''), kind,
       bytes_processed, bytes_billed, slot_millis, cache_hit, duration_ms, recorded_at
FROM query_usage
WHERE ($1 = '' OR kind = $1)
ORDER BY usage_id DESC
LIMIT $2`, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]usage.Record, 0)
	for rows.Next() {
		var record usage.Record
		if err := rows.Scan(
			&record.ID,
			&record.JobID,
			&record.RequestID,
			&record.QueryKey,
			&record.DataSource,
			&record.Kind,
			&record.BytesProcessed,
			&record.BytesBilled,
			&record.SlotMillis,
			&record.CacheHit,
			&record.DurationMS,
			&record.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage rows: %w", err)
	}
	return records, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value time.Time) sql.NullTime {
	return sql.NullTime{Time: value, Valid: !value.IsZero()}
}
