// Package sources implements the upstream API clients that turn a token
// address into a normalized token.Record.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-trading/enricher/internal/ratelimit"
	"github.com/nexus-trading/enricher/internal/retry"
	"github.com/nexus-trading/enricher/internal/token"
)

// Client fetches one source's view of a token.
//
// Outcomes:
//   - record, nil: the source has data for the address
//   - nil, ErrNoData: 404, empty payload or no matching record
//   - nil, ErrRateLimited: 429 responses survived every retry
//   - nil, other: transport or upstream failure after retries
type Client interface {
	Name() token.Source
	Fetch(ctx context.Context, address string) (*token.Record, error)
}

// Hints carries what the store already knows about a token. Zero fields
// are unknown.
type Hints struct {
	Decimals int
}

// HintedClient is a Client whose request depends on stored token metadata.
type HintedClient interface {
	Client
	FetchWithHints(ctx context.Context, address string, hints Hints) (*token.Record, error)
}

var (
	// ErrNoData means the source definitively has nothing for the address.
	ErrNoData = errors.New("sources: no data")
	// ErrRateLimited means the upstream kept answering 429.
	ErrRateLimited = errors.New("sources: rate limited")
	// ErrMalformed means the payload could not be decoded at all.
	ErrMalformed = errors.New("sources: malformed payload")
)

// StatusError is an unexpected HTTP status from upstream.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sources: HTTP %d from %s: %s", e.Code, e.URL, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool { return e.Code >= 500 }

// TransportError wraps a network-level failure.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sources: request %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config parameterizes one upstream client.
type Config struct {
	// BaseURLs are tried in order; the first endpoint with data wins.
	BaseURLs []string `yaml:"base_urls"`

	Timeout time.Duration `yaml:"timeout"`

	// APIKey is sent in APIKeyHeader when both are set.
	APIKey       string `yaml:"api_key"`
	APIKeyHeader string `yaml:"api_key_header"`

	UserAgent string `yaml:"user_agent"`

	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Retry     retry.Config     `yaml:"retry"`

	// Jupiter: quote mint and the decimals assumed for the input token.
	QuoteMint     string `yaml:"quote_mint"`
	InputDecimals int    `yaml:"input_decimals"`
	SlippageBps   int    `yaml:"slippage_bps"`

	// Solscan: number of top holders requested.
	HolderLimit int `yaml:"holder_limit"`
}

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "nexus-enricher/1.0"

	// USDCMint is the default Jupiter quote mint.
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// DefaultConfig returns production defaults for a source.
func DefaultConfig(source token.Source) Config {
	cfg := Config{
		Timeout:   defaultTimeout,
		UserAgent: defaultUserAgent,
		RateLimit: ratelimit.DefaultConfig(string(source)),
		Retry:     retry.DefaultConfig(),
	}
	switch source {
	case token.SourceDexScreener:
		cfg.BaseURLs = []string{"https://api.dexscreener.com"}
		cfg.RateLimit.MaxCalls = 300
	case token.SourcePumpFun:
		cfg.BaseURLs = []string{
			"https://frontend-api-v3.pump.fun",
			"https://frontend-api-v2.pump.fun",
			"https://frontend-api.pump.fun",
		}
	case token.SourceJupiter:
		cfg.BaseURLs = []string{"https://quote-api.jup.ag"}
		cfg.QuoteMint = USDCMint
		cfg.InputDecimals = 6
		cfg.SlippageBps = 50
	case token.SourceSolscan:
		cfg.BaseURLs = []string{"https://public-api.solscan.io"}
		cfg.APIKeyHeader = "token"
		cfg.HolderLimit = 10
	case token.SourceRugCheck:
		cfg.BaseURLs = []string{"https://api.rugcheck.xyz"}
	}
	return cfg
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults(source token.Source) Config {
	def := DefaultConfig(source)
	if len(c.BaseURLs) == 0 {
		c.BaseURLs = def.BaseURLs
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = def.APIKeyHeader
	}
	if c.RateLimit.Name == "" {
		c.RateLimit.Name = string(source)
	}
	if c.RateLimit.MaxCalls <= 0 {
		c.RateLimit.MaxCalls = def.RateLimit.MaxCalls
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = def.Retry
	}
	if c.QuoteMint == "" {
		c.QuoteMint = def.QuoteMint
	}
	if c.InputDecimals <= 0 {
		c.InputDecimals = def.InputDecimals
	}
	if c.SlippageBps <= 0 {
		c.SlippageBps = def.SlippageBps
	}
	if c.HolderLimit <= 0 {
		c.HolderLimit = def.HolderLimit
	}
	return c
}

// New builds the client for source.
func New(source token.Source, cfg Config) (Client, error) {
	switch source {
	case token.SourceDexScreener:
		return NewDexScreener(cfg), nil
	case token.SourcePumpFun:
		return NewPumpFun(cfg), nil
	case token.SourceJupiter:
		return NewJupiter(cfg), nil
	case token.SourceSolscan:
		return NewSolscan(cfg), nil
	case token.SourceRugCheck:
		return NewRugCheck(cfg), nil
	}
	return nil, fmt.Errorf("sources: unknown source %q", source)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// Stats reports client counters.
type Stats struct {
	Source      token.Source    `json:"source"`
	Requests    int64           `json:"requests"`
	APIErrors   int64           `json:"api_errors"`
	RateLimited int64           `json:"rate_limited"`
	NoData      int64           `json:"no_data"`
	Limiter     ratelimit.Stats `json:"limiter"`
}

// StatsReporter is implemented by every client in this package.
type StatsReporter interface {
	Stats() Stats
}
