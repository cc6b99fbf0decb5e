package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-trading/enricher/internal/token"
)

// NewToken describes a discovered token handed in by a collaborator.
type NewToken struct {
	Address  string
	Symbol   string
	Name     string
	Decimals int

	// DiscoveredAt defaults to now.
	DiscoveredAt time.Time
}

// AddToken inserts a token with status new. An existing row keeps its
// status and first_discovered_at; only empty identity fields are filled.
// Reports whether a row was created.
func (s *Store) AddToken(ctx context.Context, nt NewToken) (bool, error) {
	if strings.TrimSpace(nt.Address) == "" {
		return false, fmt.Errorf("store: add token: empty address")
	}
	now := s.stamp()
	discovered := nt.DiscoveredAt
	if discovered.IsZero() {
		discovered = now
	}

	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens WHERE address = ?`, nt.Address).Scan(&exists)
		if err != nil {
			return fmt.Errorf("store: add token %s: %w", nt.Address, err)
		}
		created = exists == 0

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tokens (address, symbol, name, decimals, status, first_discovered_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				symbol = CASE WHEN tokens.symbol IS NULL OR TRIM(tokens.symbol) = '' THEN excluded.symbol ELSE tokens.symbol END,
				name = CASE WHEN tokens.name IS NULL OR TRIM(tokens.name) = '' THEN excluded.name ELSE tokens.name END,
				decimals = CASE WHEN tokens.decimals = 0 THEN excluded.decimals ELSE tokens.decimals END`,
			nt.Address, nullString(nt.Symbol), nullString(nt.Name), nt.Decimals,
			string(token.StatusNew), token.FormatTime(discovered), token.FormatTime(now),
		)
		if err != nil {
			return fmt.Errorf("store: add token %s: %w", nt.Address, err)
		}
		return nil
	})
	return created, err
}

// EnsureToken makes sure a row exists for address.
func (s *Store) EnsureToken(ctx context.Context, address string) (bool, error) {
	return s.AddToken(ctx, NewToken{Address: address})
}

// Get loads one token.
func (s *Store) Get(ctx context.Context, address string) (*token.Token, error) {
	var t *token.Token
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		var err error
		t, err = getToken(ctx, conn, address)
		return err
	})
	return t, err
}

func getToken(ctx context.Context, q execer, address string) (*token.Token, error) {
	row := q.QueryRowContext(ctx, `SELECT `+tokenColumnList+` FROM tokens WHERE address = ?`, address)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", address, err)
	}
	return t, nil
}

// ApplyRecord upserts a successful fetch: the source namespace and the
// generic columns it owns are overwritten, empty identity fields are
// filled, the source's last_update and last_checked are stamped, status
// becomes active and the invest score is recomputed from the merged row.
// Applying the same record twice changes nothing but the timestamps.
func (s *Store) ApplyRecord(ctx context.Context, rec *token.Record) (*token.Token, error) {
	if rec == nil {
		return nil, fmt.Errorf("store: apply: nil record")
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("store: apply: %w", err)
	}
	assigns, err := recordAssignments(rec)
	if err != nil {
		return nil, err
	}

	now := token.FormatTime(s.stamp())

	cols := []string{"address", "symbol", "name", "decimals", "status", "first_discovered_at", "updated_at"}
	args := []any{
		rec.Address, nullString(rec.Symbol), nullString(rec.Name), rec.Decimals,
		string(token.StatusActive), now, now,
	}
	updates := []string{
		"symbol = CASE WHEN tokens.symbol IS NULL OR TRIM(tokens.symbol) = '' THEN excluded.symbol ELSE tokens.symbol END",
		"name = CASE WHEN tokens.name IS NULL OR TRIM(tokens.name) = '' THEN excluded.name ELSE tokens.name END",
		"decimals = CASE WHEN tokens.decimals = 0 THEN excluded.decimals ELSE tokens.decimals END",
		"status = excluded.status",
		"updated_at = excluded.updated_at",
	}
	for _, a := range assigns {
		cols = append(cols, a.column)
		args = append(args, a.value)
		updates = append(updates, a.column+" = excluded."+a.column)
	}
	for _, c := range []string{rec.Source.LastUpdateColumn(), rec.Source.LastCheckedColumn()} {
		cols = append(cols, c)
		args = append(args, now)
		updates = append(updates, c+" = excluded."+c)
	}

	query := fmt.Sprintf(`INSERT INTO tokens (%s) VALUES (%s) ON CONFLICT(address) DO UPDATE SET %s`,
		strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(updates, ", "))

	var merged *token.Token
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: upsert %s from %s: %w", rec.Address, rec.Source, err)
		}

		t, err := getToken(ctx, tx, rec.Address)
		if err != nil {
			return err
		}
		t.InvestScore = token.InvestScore(t, s.weights)
		if _, err := tx.ExecContext(ctx, `UPDATE tokens SET invest_score = ? WHERE address = ?`, t.InvestScore, rec.Address); err != nil {
			return fmt.Errorf("store: update invest score %s: %w", rec.Address, err)
		}
		merged = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// MarkNoData records that source had nothing for address: status is set,
// the source's last_checked is stamped and its last_update cleared. No
// other column changes.
func (s *Store) MarkNoData(ctx context.Context, address string, source token.Source, status token.Status) error {
	if err := knownSource(source); err != nil {
		return err
	}
	if _, err := token.ParseStatus(string(status)); err != nil {
		return fmt.Errorf("store: mark no data: %w", err)
	}
	now := token.FormatTime(s.stamp())

	query := fmt.Sprintf(`UPDATE tokens SET status = ?, %s = NULL, %s = ?, updated_at = ? WHERE address = ?`,
		source.LastUpdateColumn(), source.LastCheckedColumn())

	return s.withConn(ctx, func(conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, query, string(status), now, now, address)
		if err != nil {
			return fmt.Errorf("store: mark no data %s: %w", address, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("store: mark no data %s: %w", address, err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// StatusCounts returns the number of tokens per status.
func (s *Store) StatusCounts(ctx context.Context) (map[token.Status]int64, error) {
	counts := make(map[token.Status]int64)
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM tokens GROUP BY status`)
		if err != nil {
			return fmt.Errorf("store: status counts: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var n int64
			if err := rows.Scan(&status, &n); err != nil {
				return fmt.Errorf("store: status counts: %w", err)
			}
			counts[token.Status(status)] = n
		}
		return rows.Err()
	})
	return counts, err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
