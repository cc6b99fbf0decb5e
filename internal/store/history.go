package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-trading/enricher/internal/token"
)

// ScanRecord is one finished enrichment cycle.
type ScanRecord struct {
	ID         string    `json:"id"`
	Pipeline   string    `json:"pipeline"`
	Strategy   string    `json:"strategy"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Selected       int64 `json:"selected"`
	Processed      int64 `json:"processed"`
	Successful     int64 `json:"successful"`
	APIErrors      int64 `json:"api_errors"`
	NoData         int64 `json:"no_data"`
	RateLimited    int64 `json:"rate_limited"`
	Snapshots      int64 `json:"snapshots"`
	SnapshotErrors int64 `json:"snapshot_errors"`
	StoreErrors    int64 `json:"store_errors"`
	Panics         int64 `json:"panics"`
}

// RecordScanHistory persists a cycle summary. An empty ID gets a UUID.
func (s *Store) RecordScanHistory(ctx context.Context, r ScanRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO scan_history (
				id, pipeline, strategy, started_at, finished_at,
				selected, processed, successful, api_errors, no_data, rate_limited,
				snapshots, snapshot_errors, store_errors, panics
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Pipeline, r.Strategy, token.FormatTime(r.StartedAt), token.FormatTime(r.FinishedAt),
			r.Selected, r.Processed, r.Successful, r.APIErrors, r.NoData, r.RateLimited,
			r.Snapshots, r.SnapshotErrors, r.StoreErrors, r.Panics,
		)
		if err != nil {
			return fmt.Errorf("store: record scan %s: %w", r.ID, err)
		}
		return nil
	})
	return r.ID, err
}

// RecentScans returns the latest cycles of a pipeline, newest first. An
// empty pipeline returns every pipeline.
func (s *Store) RecentScans(ctx context.Context, pipeline string, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []ScanRecord
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT id, pipeline, strategy, started_at, finished_at,
				selected, processed, successful, api_errors, no_data, rate_limited,
				snapshots, snapshot_errors, store_errors, panics
			FROM scan_history
			WHERE ? = '' OR pipeline = ?
			ORDER BY started_at DESC
			LIMIT ?`, pipeline, pipeline, limit)
		if err != nil {
			return fmt.Errorf("store: recent scans: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r               ScanRecord
				started, finish string
			)
			if err := rows.Scan(&r.ID, &r.Pipeline, &r.Strategy, &started, &finish,
				&r.Selected, &r.Processed, &r.Successful, &r.APIErrors, &r.NoData, &r.RateLimited,
				&r.Snapshots, &r.SnapshotErrors, &r.StoreErrors, &r.Panics); err != nil {
				return fmt.Errorf("store: recent scans scan: %w", err)
			}
			if r.StartedAt, err = token.ParseTime(started); err != nil {
				return err
			}
			if r.FinishedAt, err = token.ParseTime(finish); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}
