package sources

import (
	"context"
	"net/url"

	"github.com/nexus-trading/enricher/internal/token"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Pump.fun: GET {base}/coins/{address} across API mirrors
// ---------------------------------------------------------------------------

// PumpFun fetches bonding-curve coin data.
type PumpFun struct {
	*fetcher
}

// NewPumpFun creates a pump.fun client.
func NewPumpFun(cfg Config) *PumpFun {
	return &PumpFun{fetcher: newFetcher(token.SourcePumpFun, cfg)}
}

func (c *PumpFun) Name() token.Source { return token.SourcePumpFun }

// Fetch tries every mirror in order.
func (c *PumpFun) Fetch(ctx context.Context, address string) (*token.Record, error) {
	return c.tryEndpoints(ctx, func(ctx context.Context, base string) (*token.Record, error) {
		body, err := c.get(ctx, base+"/coins/"+url.PathEscape(address))
		if err != nil {
			return nil, err
		}
		return ExtractPumpFun(address, body)
	})
}

// ExtractPumpFun accepts the coin object itself, {"coin": {...}}, or a list
// of coins, and selects the first record whose mint equals address.
func ExtractPumpFun(address string, body []byte) (*token.Record, error) {
	doc, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	if wrapped := Path(doc, "coin"); wrapped != nil {
		doc = wrapped
	}

	var coin map[string]any
	for _, candidate := range objects(doc) {
		if FirstPresent(candidate, PumpFunMintRules) == address {
			coin = candidate
			break
		}
	}
	if coin == nil {
		return nil, ErrNoData
	}

	fields := &token.PumpFunFields{
		MarketCapUSD:    usdAmount(coin["usd_market_cap"]),
		Complete:        Bool(coin["complete"]),
		Creator:         String(coin["creator"]),
		BondingCurve:    String(coin["bonding_curve"]),
		ReplyCount:      Int(coin["reply_count"]),
		KingOfTheHillTS: Int(coin["king_of_the_hill_timestamp"]),
	}

	return &token.Record{
		Source:   token.SourcePumpFun,
		Address:  address,
		Symbol:   String(coin["symbol"]),
		Name:     String(coin["name"]),
		Decimals: 6,
		PumpFun:  fields,
	}, nil
}

// usdAmount parses a dollar amount through decimal and rounds it to cents.
func usdAmount(v any) float64 {
	d, err := decimal.NewFromString(String(v))
	if err != nil {
		return Float(v)
	}
	return d.Round(2).InexactFloat64()
}
