package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nexus-trading/enricher/internal/token"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Jupiter V6 quote: price a token by quoting one whole unit into USDC
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------

// usdcDecimals is the USDC mint's decimals.
const usdcDecimals = 6

// Jupiter derives a USD price from a swap quote.
type Jupiter struct {
	*fetcher
}

// NewJupiter creates a Jupiter client.
func NewJupiter(cfg Config) *Jupiter {
	return &Jupiter{fetcher: newFetcher(token.SourceJupiter, cfg)}
}

func (c *Jupiter) Name() token.Source { return token.SourceJupiter }

// Fetch quotes one whole unit assuming the configured InputDecimals.
func (c *Jupiter) Fetch(ctx context.Context, address string) (*token.Record, error) {
	return c.FetchWithHints(ctx, address, Hints{})
}

// FetchWithHints quotes 10^decimals base units of address into the quote
// mint, using the stored decimals when known and InputDecimals otherwise.
func (c *Jupiter) FetchWithHints(ctx context.Context, address string, hints Hints) (*token.Record, error) {
	decimals := c.config.InputDecimals
	if hints.Decimals > 0 {
		decimals = hints.Decimals
	}
	amount := decimal.New(1, int32(decimals))

	return c.tryEndpoints(ctx, func(ctx context.Context, base string) (*token.Record, error) {
		queryURL, err := url.Parse(base + "/v6/quote")
		if err != nil {
			return nil, fmt.Errorf("jupiter: parse URL: %w", err)
		}
		q := queryURL.Query()
		q.Set("inputMint", address)
		q.Set("outputMint", c.config.QuoteMint)
		q.Set("amount", amount.String())
		q.Set("slippageBps", fmt.Sprintf("%d", c.config.SlippageBps))
		queryURL.RawQuery = q.Encode()

		body, err := c.get(ctx, queryURL.String())
		if err != nil {
			// Unroutable mints come back as 400 with a route error code.
			var se *StatusError
			if errors.As(err, &se) && se.Code == 400 && isNoRouteBody(se.Body) {
				return nil, ErrNoData
			}
			return nil, err
		}
		return ExtractJupiter(address, decimals, body)
	})
}

func isNoRouteBody(body string) bool {
	upper := strings.ToUpper(body)
	return strings.Contains(upper, "COULD_NOT_FIND_ANY_ROUTE") ||
		strings.Contains(upper, "TOKEN_NOT_TRADABLE") ||
		strings.Contains(upper, "NO ROUTE")
}

// ExtractJupiter parses a quote. price = (outAmount / 10^6) / (inAmount /
// 10^inputDecimals). An error field, zero amounts or an unparseable amount
// mean there is no usable route.
func ExtractJupiter(address string, inputDecimals int, body []byte) (*token.Record, error) {
	doc, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}
	if String(Path(doc, "error")) != "" {
		return nil, ErrNoData
	}

	inAmount, errIn := decimal.NewFromString(String(Path(doc, "inAmount")))
	outAmount, errOut := decimal.NewFromString(String(Path(doc, "outAmount")))
	if errIn != nil || errOut != nil || !inAmount.IsPositive() || !outAmount.IsPositive() {
		return nil, ErrNoData
	}

	in := inAmount.Shift(-int32(inputDecimals))
	out := outAmount.Shift(-usdcDecimals)
	price := out.DivRound(in, 12)

	routes, _ := Path(doc, "routePlan").([]any)
	fields := &token.JupiterFields{
		PriceUSD:       price.InexactFloat64(),
		PriceImpactPct: Float(Path(doc, "priceImpactPct")),
		RouteCount:     int64(len(routes)),
	}

	log.Debug().
		Str("token", token.Short(address)).
		Str("in_amount", inAmount.String()).
		Str("out_amount", outAmount.String()).
		Str("price_usd", price.String()).
		Int("routes", len(routes)).
		Msg("jupiter: quote received")

	return &token.Record{
		Source:  token.SourceJupiter,
		Address: address,
		Jupiter: fields,
	}, nil
}
