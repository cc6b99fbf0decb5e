package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/nexus-trading/enricher/internal/token"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Solscan: GET {base}/token/holders?tokenAddress=&limit=
// ---------------------------------------------------------------------------

// Solscan fetches holder distribution.
type Solscan struct {
	*fetcher
}

// NewSolscan creates a Solscan client. The API token, when configured, is
// sent in the APIKeyHeader header.
func NewSolscan(cfg Config) *Solscan {
	return &Solscan{fetcher: newFetcher(token.SourceSolscan, cfg)}
}

func (c *Solscan) Name() token.Source { return token.SourceSolscan }

func (c *Solscan) Fetch(ctx context.Context, address string) (*token.Record, error) {
	return c.tryEndpoints(ctx, func(ctx context.Context, base string) (*token.Record, error) {
		q := url.Values{}
		q.Set("tokenAddress", address)
		q.Set("limit", fmt.Sprintf("%d", c.config.HolderLimit))
		body, err := c.get(ctx, base+"/token/holders?"+q.Encode())
		if err != nil {
			return nil, err
		}
		return ExtractSolscan(address, body)
	})
}

// ExtractSolscan parses a holders page. Both the flat {"total", "data": [...]}
// shape and the nested {"data": {"total", "items": [...]}} shape are
// accepted. The top-10 share comes from per-holder percentages when
// present, else from amounts against a top-level supply.
func ExtractSolscan(address string, body []byte) (*token.Record, error) {
	doc, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}

	total := Path(doc, "total")
	list := Path(doc, "data")
	if nested, ok := list.(map[string]any); ok {
		if total == nil {
			total = nested["total"]
		}
		list = nested["items"]
	}
	items, _ := list.([]any)
	holders := objects(items)

	count := Int(total)
	if count == 0 {
		count = int64(len(holders))
	}
	if count == 0 {
		return nil, ErrNoData
	}

	top := holders
	if len(top) > 10 {
		top = top[:10]
	}

	pct := decimal.Zero
	havePct := false
	for _, h := range top {
		if v, ok := h["percentage"]; ok {
			havePct = true
			pct = pct.Add(decimal.NewFromFloat(Float(v)))
		}
	}
	if !havePct {
		if supply := decimal.NewFromFloat(Float(Path(doc, "supply"))); supply.IsPositive() {
			sum := decimal.Zero
			for _, h := range top {
				sum = sum.Add(decimal.NewFromFloat(Float(h["amount"])))
			}
			pct = sum.Div(supply).Mul(decimal.NewFromInt(100))
		}
	}

	return &token.Record{
		Source:  token.SourceSolscan,
		Address: address,
		Solscan: &token.SolscanFields{
			Holders:  count,
			Top10Pct: pct.Round(4).InexactFloat64(),
		},
	}, nil
}
