package sources

import (
	"context"
	"net/url"

	"github.com/nexus-trading/enricher/internal/token"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// DexScreener: GET {base}/latest/dex/tokens/{address}
// ---------------------------------------------------------------------------

// DexScreener fetches pair data and keeps the most liquid Solana pair.
type DexScreener struct {
	*fetcher
}

// NewDexScreener creates a DexScreener client.
func NewDexScreener(cfg Config) *DexScreener {
	return &DexScreener{fetcher: newFetcher(token.SourceDexScreener, cfg)}
}

func (c *DexScreener) Name() token.Source { return token.SourceDexScreener }

// Fetch returns the best pair for address.
func (c *DexScreener) Fetch(ctx context.Context, address string) (*token.Record, error) {
	return c.tryEndpoints(ctx, func(ctx context.Context, base string) (*token.Record, error) {
		body, err := c.get(ctx, base+"/latest/dex/tokens/"+url.PathEscape(address))
		if err != nil {
			return nil, err
		}
		return ExtractDexScreener(address, body)
	})
}

// ExtractDexScreener parses a tokens response. An absent or empty pairs
// list, or one holding only non-Solana pairs, is ErrNoData.
func ExtractDexScreener(address string, body []byte) (*token.Record, error) {
	doc, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}

	var pairs []map[string]any
	for _, p := range objects(Path(doc, "pairs")) {
		if chain := String(p["chainId"]); chain != "" && chain != "solana" {
			continue
		}
		pairs = append(pairs, p)
	}
	best := BestPair(pairs)
	if best == nil {
		return nil, ErrNoData
	}

	fields := &token.DexScreenerFields{
		PairAddress:    String(best["pairAddress"]),
		DexID:          String(best["dexId"]),
		PriceUSD:       Float(best["priceUsd"]),
		PriceNative:    Float(best["priceNative"]),
		LiquidityQuote: Float(Path(best, "liquidity", "usd")),
		LiquidityBase:  Float(Path(best, "liquidity", "base")),
		MarketCap:      Float(best["marketCap"]),
		FDV:            Float(best["fdv"]),
		Volume1h:       Float(Path(best, "volume", "h1")),
		Volume6h:       Float(Path(best, "volume", "h6")),
		Volume24h:      Float(Path(best, "volume", "h24")),
		PriceChange1h:  Float(Path(best, "priceChange", "h1")),
		PriceChange6h:  Float(Path(best, "priceChange", "h6")),
		PriceChange24h: Float(Path(best, "priceChange", "h24")),
		Buys24h:        Int(Path(best, "txns", "h24", "buys")),
		Sells24h:       Int(Path(best, "txns", "h24", "sells")),
		PairCreatedAt:  Int(best["pairCreatedAt"]),
	}
	if fields.MarketCap == 0 {
		fields.MarketCap = fields.FDV
	}

	rec := &token.Record{
		Source:      token.SourceDexScreener,
		Address:     address,
		DexScreener: fields,
	}
	// Identity only when the token is the pair's base side.
	if base, ok := best["baseToken"].(map[string]any); ok {
		if ba := String(base["address"]); ba == "" || ba == address {
			rec.Symbol = String(base["symbol"])
			rec.Name = String(base["name"])
		}
	}

	log.Debug().
		Str("token", token.Short(address)).
		Int("pairs", len(pairs)).
		Str("dex", fields.DexID).
		Float64("liquidity_usd", fields.LiquidityQuote).
		Msg("dexscreener: best pair selected")

	return rec, nil
}

// BestPair returns the pair with the highest liquidity.usd. Ties keep the
// earliest pair. Returns nil for an empty list.
func BestPair(pairs []map[string]any) map[string]any {
	var best map[string]any
	bestLiq := -1.0
	for _, p := range pairs {
		liq := Float(Path(p, "liquidity", "usd"))
		if liq > bestLiq {
			best, bestLiq = p, liq
		}
	}
	return best
}
