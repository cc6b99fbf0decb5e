package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-trading/enricher/internal/token"
)

// tokenColumns lists every tokens column in table order. tokens_hist
// carries the same columns after its snapshot_* header.
var tokenColumns = []string{
	"address", "symbol", "name", "decimals",
	"price_usd", "market_cap", "liquidity_usd", "volume_24h",
	"invest_score", "rug_score", "holders", "top10_holder_pct", "holder_concentration",
	"status", "first_discovered_at", "updated_at",

	"dexscreener_pair_address", "dexscreener_dex_id",
	"dexscreener_price_usd", "dexscreener_price_native",
	"dexscreener_liquidity_quote", "dexscreener_liquidity_base",
	"dexscreener_market_cap", "dexscreener_fdv",
	"dexscreener_volume_1h", "dexscreener_volume_6h", "dexscreener_volume_24h",
	"dexscreener_price_change_1h", "dexscreener_price_change_6h", "dexscreener_price_change_24h",
	"dexscreener_buys_24h", "dexscreener_sells_24h", "dexscreener_pair_created_at",
	"dexscreener_last_update", "dexscreener_last_checked",

	"pump_fun_market_cap_usd", "pump_fun_complete", "pump_fun_creator", "pump_fun_bonding_curve",
	"pump_fun_reply_count", "pump_fun_king_of_the_hill_ts",
	"pump_fun_last_update", "pump_fun_last_checked",

	"jupiter_price_usd", "jupiter_price_impact_pct", "jupiter_route_count",
	"jupiter_last_update", "jupiter_last_checked",

	"solscan_holders", "solscan_top10_pct",
	"solscan_last_update", "solscan_last_checked",

	"rugcheck_score", "rugcheck_score_normalised",
	"rugcheck_last_update", "rugcheck_last_checked",
}

var tokenColumnList = strings.Join(tokenColumns, ", ")

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanToken reads one row selected with tokenColumnList.
func scanToken(row rowScanner) (*token.Token, error) {
	var (
		t                   token.Token
		symbol, name        sql.NullString
		status              string
		firstSeen, updated  string
		complete            int64
		lastUpdate, checked [5]sql.NullString
	)
	d, p, j, sc, r := &t.DexScreener, &t.PumpFun, &t.Jupiter, &t.Solscan, &t.RugCheck

	err := row.Scan(
		&t.Address, &symbol, &name, &t.Decimals,
		&t.PriceUSD, &t.MarketCap, &t.LiquidityUSD, &t.Volume24h,
		&t.InvestScore, &t.RugScore, &t.Holders, &t.Top10HolderPct, &t.HolderConcentration,
		&status, &firstSeen, &updated,

		&d.PairAddress, &d.DexID,
		&d.PriceUSD, &d.PriceNative,
		&d.LiquidityQuote, &d.LiquidityBase,
		&d.MarketCap, &d.FDV,
		&d.Volume1h, &d.Volume6h, &d.Volume24h,
		&d.PriceChange1h, &d.PriceChange6h, &d.PriceChange24h,
		&d.Buys24h, &d.Sells24h, &d.PairCreatedAt,
		&lastUpdate[0], &checked[0],

		&p.MarketCapUSD, &complete, &p.Creator, &p.BondingCurve,
		&p.ReplyCount, &p.KingOfTheHillTS,
		&lastUpdate[1], &checked[1],

		&j.PriceUSD, &j.PriceImpactPct, &j.RouteCount,
		&lastUpdate[2], &checked[2],

		&sc.Holders, &sc.Top10Pct,
		&lastUpdate[3], &checked[3],

		&r.Score, &r.ScoreNormalised,
		&lastUpdate[4], &checked[4],
	)
	if err != nil {
		return nil, err
	}

	t.Symbol = symbol.String
	t.Name = name.String
	t.Status = token.Status(status)
	t.PumpFun.Complete = complete != 0
	if t.FirstDiscoveredAt, err = token.ParseTime(firstSeen); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = token.ParseTime(updated); err != nil {
		return nil, err
	}

	t.LastUpdate = make(map[token.Source]time.Time)
	t.LastChecked = make(map[token.Source]time.Time)
	for i, src := range token.AllSources() {
		if err := putTime(t.LastUpdate, src, lastUpdate[i]); err != nil {
			return nil, err
		}
		if err := putTime(t.LastChecked, src, checked[i]); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func putTime(m map[token.Source]time.Time, src token.Source, v sql.NullString) error {
	if !v.Valid || v.String == "" {
		return nil
	}
	ts, err := token.ParseTime(v.String)
	if err != nil {
		return err
	}
	m[src] = ts
	return nil
}

// assignment is one column write.
type assignment struct {
	column string
	value  any
}

// recordAssignments maps a record onto its namespace columns plus the
// generic columns that source owns. Bookkeeping timestamps are not included.
func recordAssignments(rec *token.Record) ([]assignment, error) {
	switch rec.Source {
	case token.SourceDexScreener:
		d := rec.DexScreener
		return []assignment{
			{"dexscreener_pair_address", d.PairAddress},
			{"dexscreener_dex_id", d.DexID},
			{"dexscreener_price_usd", d.PriceUSD},
			{"dexscreener_price_native", d.PriceNative},
			{"dexscreener_liquidity_quote", d.LiquidityQuote},
			{"dexscreener_liquidity_base", d.LiquidityBase},
			{"dexscreener_market_cap", d.MarketCap},
			{"dexscreener_fdv", d.FDV},
			{"dexscreener_volume_1h", d.Volume1h},
			{"dexscreener_volume_6h", d.Volume6h},
			{"dexscreener_volume_24h", d.Volume24h},
			{"dexscreener_price_change_1h", d.PriceChange1h},
			{"dexscreener_price_change_6h", d.PriceChange6h},
			{"dexscreener_price_change_24h", d.PriceChange24h},
			{"dexscreener_buys_24h", d.Buys24h},
			{"dexscreener_sells_24h", d.Sells24h},
			{"dexscreener_pair_created_at", d.PairCreatedAt},
			{"price_usd", d.PriceUSD},
			{"market_cap", d.MarketCap},
			{"liquidity_usd", d.LiquidityQuote},
			{"volume_24h", d.Volume24h},
		}, nil

	case token.SourcePumpFun:
		p := rec.PumpFun
		complete := 0
		if p.Complete {
			complete = 1
		}
		return []assignment{
			{"pump_fun_market_cap_usd", p.MarketCapUSD},
			{"pump_fun_complete", complete},
			{"pump_fun_creator", p.Creator},
			{"pump_fun_bonding_curve", p.BondingCurve},
			{"pump_fun_reply_count", p.ReplyCount},
			{"pump_fun_king_of_the_hill_ts", p.KingOfTheHillTS},
		}, nil

	case token.SourceJupiter:
		j := rec.Jupiter
		return []assignment{
			{"jupiter_price_usd", j.PriceUSD},
			{"jupiter_price_impact_pct", j.PriceImpactPct},
			{"jupiter_route_count", j.RouteCount},
		}, nil

	case token.SourceSolscan:
		s := rec.Solscan
		return []assignment{
			{"solscan_holders", s.Holders},
			{"solscan_top10_pct", s.Top10Pct},
			{"holders", s.Holders},
			{"top10_holder_pct", s.Top10Pct},
			{"holder_concentration", token.ConcentrationLabel(s.Top10Pct)},
		}, nil

	case token.SourceRugCheck:
		r := rec.RugCheck
		return []assignment{
			{"rugcheck_score", r.Score},
			{"rugcheck_score_normalised", r.ScoreNormalised},
			{"rug_score", r.ScoreNormalised},
		}, nil
	}
	return nil, fmt.Errorf("store: unknown source %q", rec.Source)
}

// knownSource guards column-name interpolation.
func knownSource(src token.Source) error {
	for _, s := range token.AllSources() {
		if s == src {
			return nil
		}
	}
	return fmt.Errorf("store: unknown source %q", src)
}
