package token

import (
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// Source identifies an upstream data provider. The value doubles as the
// column prefix of the provider's namespace in the tokens table.
type Source string

const (
	SourceDexScreener Source = "dexscreener"
	SourcePumpFun     Source = "pump_fun"
	SourceJupiter     Source = "jupiter"
	SourceSolscan     Source = "solscan"
	SourceRugCheck    Source = "rugcheck"
)

// AllSources returns every supported source in a stable order.
func AllSources() []Source {
	return []Source{SourceDexScreener, SourcePumpFun, SourceJupiter, SourceSolscan, SourceRugCheck}
}

// ParseSource accepts the canonical name plus a few common spellings
// ("pumpfun", "pump.fun").
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dexscreener", "dex":
		return SourceDexScreener, nil
	case "pump_fun", "pumpfun", "pump.fun":
		return SourcePumpFun, nil
	case "jupiter", "jup":
		return SourceJupiter, nil
	case "solscan":
		return SourceSolscan, nil
	case "rugcheck":
		return SourceRugCheck, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// LastUpdateColumn is the column holding the time of the last successful
// write from this source. NULL means the source has no current data.
func (s Source) LastUpdateColumn() string { return string(s) + "_last_update" }

// LastCheckedColumn is the column holding the time of the last attempt that
// reached a definitive outcome (data or no data). Selection staleness is
// evaluated against it.
func (s Source) LastCheckedColumn() string { return string(s) + "_last_checked" }

// SnapshotReason is the reason stamped on the snapshot taken before this
// source writes to a token.
func (s Source) SnapshotReason() string { return "before " + string(s) + " update" }

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status is the lifecycle state of a token row.
type Status string

const (
	StatusActive    Status = "active"
	StatusNew       Status = "new"
	StatusNoDexData Status = "no_dex_data"
	StatusArchived  Status = "archived"
	StatusInactive  Status = "inactive"
)

// AllStatuses returns every status value.
func AllStatuses() []Status {
	return []Status{StatusActive, StatusNew, StatusNoDexData, StatusArchived, StatusInactive}
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// ---------------------------------------------------------------------------
// Selection strategy
// ---------------------------------------------------------------------------

// Strategy is the token selection policy for one enrichment cycle.
type Strategy string

const (
	StrategyOldest       Strategy = "oldest"
	StrategyNeverUpdated Strategy = "never_updated"
	StrategyRecent       Strategy = "recent"
	StrategyRandom       Strategy = "random"
	StrategyForceAll     Strategy = "force_all"
)

// ParseStrategy validates a strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyOldest, StrategyNeverUpdated, StrategyRecent, StrategyRandom, StrategyForceAll:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q (want oldest|never_updated|recent|random|force_all)", s)
}

// HonoursStaleness reports whether recently updated tokens are skipped.
func (s Strategy) HonoursStaleness() bool { return s != StrategyForceAll }

// ---------------------------------------------------------------------------
// Token row
// ---------------------------------------------------------------------------

// Token is the central mutable row keyed by on-chain address.
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals int    `json:"decimals"`

	PriceUSD     float64 `json:"price_usd"`
	MarketCap    float64 `json:"market_cap"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	Volume24h    float64 `json:"volume_24h"`

	InvestScore         float64 `json:"invest_score"` // >= 0, unbounded above
	RugScore            float64 `json:"rug_score"`    // 0-100
	Holders             int64   `json:"holders"`
	Top10HolderPct      float64 `json:"top10_holder_pct"`
	HolderConcentration string  `json:"holder_concentration"`

	Status            Status    `json:"status"`
	FirstDiscoveredAt time.Time `json:"first_discovered_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	DexScreener DexScreenerFields `json:"dexscreener"`
	PumpFun     PumpFunFields     `json:"pump_fun"`
	Jupiter     JupiterFields     `json:"jupiter"`
	Solscan     SolscanFields     `json:"solscan"`
	RugCheck    RugCheckFields    `json:"rugcheck"`

	// Per-source bookkeeping, keyed by source. A missing entry means NULL.
	LastUpdate  map[Source]time.Time `json:"last_update,omitempty"`
	LastChecked map[Source]time.Time `json:"last_checked,omitempty"`
}

// Age returns how long ago the token was first discovered.
func (t *Token) Age(now time.Time) time.Duration {
	if t.FirstDiscoveredAt.IsZero() {
		return 0
	}
	return now.Sub(t.FirstDiscoveredAt)
}

// ConcentrationLabel buckets the top-10 holder share.
func ConcentrationLabel(top10Pct float64) string {
	switch {
	case top10Pct >= 50:
		return "high"
	case top10Pct >= 25:
		return "medium"
	case top10Pct > 0:
		return "low"
	}
	return ""
}

// DexScreenerFields is the dexscreener_* namespace.
type DexScreenerFields struct {
	PairAddress    string  `json:"pair_address"`
	DexID          string  `json:"dex_id"`
	PriceUSD       float64 `json:"price_usd"`
	PriceNative    float64 `json:"price_native"`
	LiquidityQuote float64 `json:"liquidity_quote"` // pair liquidity quoted in USD
	LiquidityBase  float64 `json:"liquidity_base"`
	MarketCap      float64 `json:"market_cap"`
	FDV            float64 `json:"fdv"`
	Volume1h       float64 `json:"volume_1h"`
	Volume6h       float64 `json:"volume_6h"`
	Volume24h      float64 `json:"volume_24h"`
	PriceChange1h  float64 `json:"price_change_1h"`
	PriceChange6h  float64 `json:"price_change_6h"`
	PriceChange24h float64 `json:"price_change_24h"`
	Buys24h        int64   `json:"buys_24h"`
	Sells24h       int64   `json:"sells_24h"`
	PairCreatedAt  int64   `json:"pair_created_at"` // unix ms
}

// PumpFunFields is the pump_fun_* namespace.
type PumpFunFields struct {
	MarketCapUSD    float64 `json:"market_cap_usd"`
	Complete        bool    `json:"complete"`
	Creator         string  `json:"creator"`
	BondingCurve    string  `json:"bonding_curve"`
	ReplyCount      int64   `json:"reply_count"`
	KingOfTheHillTS int64   `json:"king_of_the_hill_ts"`
}

// JupiterFields is the jupiter_* namespace.
type JupiterFields struct {
	PriceUSD       float64 `json:"price_usd"`
	PriceImpactPct float64 `json:"price_impact_pct"`
	RouteCount     int64   `json:"route_count"`
}

// SolscanFields is the solscan_* namespace.
type SolscanFields struct {
	Holders  int64   `json:"holders"`
	Top10Pct float64 `json:"top10_pct"`
}

// RugCheckFields is the rugcheck_* namespace.
type RugCheckFields struct {
	Score           float64 `json:"score"`
	ScoreNormalised float64 `json:"score_normalised"`
}

// ---------------------------------------------------------------------------
// Partial record
// ---------------------------------------------------------------------------

// Record is the normalized result of one successful source fetch. Exactly
// one of the namespace pointers matching Source is set.
type Record struct {
	Source   Source `json:"source"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals,omitempty"`

	DexScreener *DexScreenerFields `json:"dexscreener,omitempty"`
	PumpFun     *PumpFunFields     `json:"pump_fun,omitempty"`
	Jupiter     *JupiterFields     `json:"jupiter,omitempty"`
	Solscan     *SolscanFields     `json:"solscan,omitempty"`
	RugCheck    *RugCheckFields    `json:"rugcheck,omitempty"`
}

// Validate checks that the namespace payload matches the declared source.
func (r *Record) Validate() error {
	var ok bool
	switch r.Source {
	case SourceDexScreener:
		ok = r.DexScreener != nil
	case SourcePumpFun:
		ok = r.PumpFun != nil
	case SourceJupiter:
		ok = r.Jupiter != nil
	case SourceSolscan:
		ok = r.Solscan != nil
	case SourceRugCheck:
		ok = r.RugCheck != nil
	default:
		return fmt.Errorf("record: unknown source %q", r.Source)
	}
	if !ok {
		return fmt.Errorf("record: missing %s payload", r.Source)
	}
	if r.Address == "" {
		return fmt.Errorf("record: empty address")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Timestamps
// ---------------------------------------------------------------------------

// TimeLayout is the fixed-width UTC layout used for every persisted
// timestamp, so that lexical order equals chronological order.
const TimeLayout = "2006-01-02 15:04:05.000000"

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout string. Empty input yields the zero time.
// RFC3339 is accepted for rows written by other tools.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(TimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
