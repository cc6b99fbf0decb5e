package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-trading/enricher/internal/token"
)

// placeholderSymbols are symbols discovery tools write before metadata is
// known. Compared upper-cased and trimmed.
var placeholderSymbols = []string{"", "UNKNOWN", "???", "N/A"}

// SelectOptions drives one selection.
type SelectOptions struct {
	Source   token.Source
	Strategy token.Strategy

	// Limit <= 0 means no limit.
	Limit int

	// MinStaleness excludes tokens checked by Source more recently than
	// now-MinStaleness. Ignored by force_all.
	MinStaleness time.Duration

	// AllowedStatuses defaults to every status.
	AllowedStatuses []token.Status

	// RecentWindow bounds the recent strategy. Default 24h.
	RecentWindow time.Duration
}

// Select returns token addresses to enrich. Each call re-evaluates the
// table; nothing is carried between calls.
func (s *Store) Select(ctx context.Context, opts SelectOptions) ([]string, error) {
	query, args, err := s.selectQuery(opts)
	if err != nil {
		return nil, err
	}

	var out []string
	err = s.withConn(ctx, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("store: select %s/%s: %w", opts.Source, opts.Strategy, err)
		}
		defer rows.Close()
		for rows.Next() {
			var addr string
			if err := rows.Scan(&addr); err != nil {
				return fmt.Errorf("store: select scan: %w", err)
			}
			out = append(out, addr)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) selectQuery(opts SelectOptions) (string, []any, error) {
	if err := knownSource(opts.Source); err != nil {
		return "", nil, err
	}
	if _, err := token.ParseStrategy(string(opts.Strategy)); err != nil {
		return "", nil, fmt.Errorf("store: %w", err)
	}
	statuses := opts.AllowedStatuses
	if len(statuses) == 0 {
		statuses = token.AllStatuses()
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 24 * time.Hour
	}

	lu := opts.Source.LastUpdateColumn()
	lc := opts.Source.LastCheckedColumn()
	now := s.now().UTC()

	var (
		where []string
		args  []any
	)

	where = append(where, "symbol IS NOT NULL",
		"UPPER(TRIM(symbol)) NOT IN ("+placeholders(len(placeholderSymbols))+")")
	for _, p := range placeholderSymbols {
		args = append(args, p)
	}

	where = append(where, "status IN ("+placeholders(len(statuses))+")")
	for _, st := range statuses {
		args = append(args, string(st))
	}

	if opts.Strategy.HonoursStaleness() {
		cutoff := token.FormatTime(now.Add(-opts.MinStaleness))
		for _, col := range []string{lc, lu} {
			// Compared as instants: rows written by other tools may hold
			// RFC 3339 text. Unparsable values count as stale.
			where = append(where, fmt.Sprintf("(%[1]s IS NULL OR %[1]s = '' OR COALESCE(julianday(%[1]s) < julianday(?), 1))", col))
			args = append(args, cutoff)
		}
	}

	// Never-checked rows sort first.
	oldestFirst := fmt.Sprintf("COALESCE(julianday(%s), 0) ASC, first_discovered_at ASC, address ASC", lc)

	var order string
	switch opts.Strategy {
	case token.StrategyNeverUpdated:
		where = append(where, fmt.Sprintf("(%s IS NULL OR %s = '')", lu, lu))
		order = "first_discovered_at DESC, address ASC"
	case token.StrategyOldest, token.StrategyForceAll:
		order = oldestFirst
	case token.StrategyRecent:
		where = append(where, "julianday(first_discovered_at) >= julianday(?)")
		args = append(args, token.FormatTime(now.Add(-opts.RecentWindow)))
		order = "first_discovered_at DESC, address ASC"
	case token.StrategyRandom:
		order = "RANDOM()"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	query := `SELECT address FROM tokens WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + order + ` LIMIT ?`
	return query, args, nil
}
