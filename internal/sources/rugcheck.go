package sources

import (
	"context"
	"net/url"

	"github.com/nexus-trading/enricher/internal/token"
)

// RugCheck fetches the risk report: GET {base}/v1/tokens/{address}/report.
type RugCheck struct {
	*fetcher
}

func NewRugCheck(cfg Config) *RugCheck {
	return &RugCheck{fetcher: newFetcher(token.SourceRugCheck, cfg)}
}

func (c *RugCheck) Name() token.Source { return token.SourceRugCheck }

func (c *RugCheck) Fetch(ctx context.Context, address string) (*token.Record, error) {
	return c.tryEndpoints(ctx, func(ctx context.Context, base string) (*token.Record, error) {
		body, err := c.get(ctx, base+"/v1/tokens/"+url.PathEscape(address)+"/report")
		if err != nil {
			return nil, err
		}
		return ExtractRugCheck(address, body)
	})
}

// ExtractRugCheck parses a report. A report carrying neither score is
// ErrNoData. The normalised score is clamped to 0-100.
func ExtractRugCheck(address string, body []byte) (*token.Record, error) {
	doc, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	report, ok := doc.(map[string]any)
	if !ok {
		return nil, ErrNoData
	}
	raw, hasRaw := report["score"]
	norm, hasNorm := report["score_normalised"]
	if !hasRaw && !hasNorm {
		return nil, ErrNoData
	}

	n := Float(norm)
	if n < 0 {
		n = 0
	} else if n > 100 {
		n = 100
	}

	rec := &token.Record{
		Source:  token.SourceRugCheck,
		Address: address,
		Symbol:  String(Path(doc, "tokenMeta", "symbol")),
		Name:    String(Path(doc, "tokenMeta", "name")),
		RugCheck: &token.RugCheckFields{
			Score:           Float(raw),
			ScoreNormalised: n,
		},
	}
	if d := Int(Path(doc, "token", "decimals")); d > 0 {
		rec.Decimals = int(d)
	}
	return rec, nil
}
