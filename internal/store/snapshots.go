package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nexus-trading/enricher/internal/token"
)

// Snapshot copies the current row of address into tokens_hist stamped with
// now and reason. Returns false when the token does not exist.
func (s *Store) Snapshot(ctx context.Context, address, reason string) (bool, error) {
	query := `INSERT INTO tokens_hist (snapshot_timestamp, snapshot_reason, ` + tokenColumnList + `)
		SELECT ?, ?, ` + tokenColumnList + ` FROM tokens WHERE address = ?`
	ts := token.FormatTime(s.stamp())

	var ok bool
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, ts, reason, address)
		if err != nil {
			return fmt.Errorf("store: snapshot %s: %w", address, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: snapshot %s: %w", address, err)
		}
		ok = n > 0
		return nil
	})
	return ok, err
}

// PriorNoData returns how many no-data results source has recorded for
// address since the given time, counting back from the current row until
// the last state that carried source data.
//
// Every no-data write clears last_update and stamps a fresh last_checked, so
// each distinct last_checked seen in the snapshots (and the live row) with
// an empty last_update is one earlier no-data. Duplicate snapshots of an
// unchanged row, left by failed attempts, count once. The attempt in
// progress is not included.
func (s *Store) PriorNoData(ctx context.Context, address string, source token.Source, since time.Time) (int, error) {
	if err := knownSource(source); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
		WITH states AS (
			SELECT snapshot_id AS seq, %[1]s AS lu, %[2]s AS lc
			FROM tokens_hist WHERE address = ? AND snapshot_reason = ?
			UNION ALL
			SELECT 9223372036854775807, %[1]s, %[2]s FROM tokens WHERE address = ?
		)
		SELECT COUNT(DISTINCT lc) FROM states
		WHERE (lu IS NULL OR lu = '')
		  AND lc IS NOT NULL AND lc <> ''
		  AND julianday(lc) >= julianday(?)
		  AND seq > COALESCE((SELECT MAX(seq) FROM states WHERE lu IS NOT NULL AND lu <> ''), 0)`,
		source.LastUpdateColumn(), source.LastCheckedColumn())

	var n int
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		err := conn.QueryRowContext(ctx, query,
			address, source.SnapshotReason(), address, token.FormatTime(since),
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("store: count prior no-data %s: %w", address, err)
		}
		return nil
	})
	return n, err
}

// Snapshots returns the snapshot history of address, oldest first.
func (s *Store) Snapshots(ctx context.Context, address string) ([]Snapshot, error) {
	query := `SELECT snapshot_id, snapshot_timestamp, snapshot_reason, ` + tokenColumnList + `
		FROM tokens_hist WHERE address = ? ORDER BY snapshot_id ASC`

	var out []Snapshot
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, address)
		if err != nil {
			return fmt.Errorf("store: snapshots %s: %w", address, err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				snap Snapshot
				ts   string
			)
			t, err := scanToken(prefixScanner{rows, []any{&snap.ID, &ts, &snap.Reason}})
			if err != nil {
				return fmt.Errorf("store: snapshots scan: %w", err)
			}
			if snap.Timestamp, err = token.ParseTime(ts); err != nil {
				return err
			}
			snap.Token = *t
			out = append(out, snap)
		}
		return rows.Err()
	})
	return out, err
}

// Snapshot is one tokens_hist row.
type Snapshot struct {
	ID        int64       `json:"snapshot_id"`
	Timestamp time.Time   `json:"snapshot_timestamp"`
	Reason    string      `json:"snapshot_reason"`
	Token     token.Token `json:"token"`
}

// prefixScanner prepends extra destinations to a token scan.
type prefixScanner struct {
	rows   *sql.Rows
	prefix []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append(p.prefix, dest...)...)
}
