package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/nexus-trading/enricher/internal/ratelimit"
	"github.com/nexus-trading/enricher/internal/retry"
	"github.com/nexus-trading/enricher/internal/token"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 8 << 20

// ---------------------------------------------------------------------------
// Shared HTTP fetcher: limiter -> request -> status classification -> retry
// ---------------------------------------------------------------------------

type fetcher struct {
	source     token.Source
	config     Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter

	requests    atomic.Int64
	apiErrors   atomic.Int64
	rateLimited atomic.Int64
	noData      atomic.Int64
}

func newFetcher(source token.Source, cfg Config) *fetcher {
	cfg = cfg.withDefaults(source)
	return &fetcher{
		source: source,
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: ratelimit.New(cfg.RateLimit),
	}
}

// get fetches url and returns the 200 body. 404 maps to ErrNoData; 429s
// and 5xx are retried; exhausted 429s surface as ErrRateLimited.
func (f *fetcher) get(ctx context.Context, url string) ([]byte, error) {
	op := string(f.source) + " GET"
	body, err := retry.DoValue(ctx, f.config.Retry, op, isRetryable, func(ctx context.Context) ([]byte, error) {
		return f.once(ctx, url)
	})
	if err == nil {
		return body, nil
	}

	switch {
	case errors.Is(err, ErrNoData):
		return nil, ErrNoData
	case errors.Is(err, ErrRateLimited):
		return nil, fmt.Errorf("%s: %w", f.source, err)
	}
	f.apiErrors.Add(1)
	return nil, err
}

func (f *fetcher) once(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", f.source, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.config.UserAgent)
	if f.config.APIKey != "" && f.config.APIKeyHeader != "" {
		req.Header.Set(f.config.APIKeyHeader, f.config.APIKey)
	}

	f.requests.Add(1)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		f.limiter.Reset()
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoData
	case resp.StatusCode == http.StatusTooManyRequests:
		f.rateLimited.Add(1)
		if err := f.limiter.Handle429(ctx); err != nil {
			return nil, err
		}
		return nil, ErrRateLimited
	}

	log.Debug().
		Str("source", string(f.source)).
		Int("status", resp.StatusCode).
		Str("url", url).
		Msg("sources: unexpected status")
	return nil, &StatusError{Code: resp.StatusCode, URL: url, Body: snippet(body)}
}

// isRetryable: 429, 5xx and transport errors are retried. Limiter waits
// interrupted by cancellation are not; the retry loop stops on a done ctx.
func isRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	var te *TransportError
	return errors.As(err, &te)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// Stats reports counters for this client.
func (f *fetcher) Stats() Stats {
	return Stats{
		Source:      f.source,
		Requests:    f.requests.Load(),
		APIErrors:   f.apiErrors.Load(),
		RateLimited: f.rateLimited.Load(),
		NoData:      f.noData.Load(),
		Limiter:     f.limiter.Stats(),
	}
}

// baseURLs returns the configured endpoints without trailing slashes.
func (f *fetcher) baseURLs() []string {
	out := make([]string, 0, len(f.config.BaseURLs))
	for _, b := range f.config.BaseURLs {
		if b = strings.TrimRight(strings.TrimSpace(b), "/"); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Multi-endpoint fallback
// ---------------------------------------------------------------------------

// tryEndpoints calls fn against each configured base in order and returns
// the first record. ErrNoData is returned only when every endpoint reported
// no data; if any endpoint failed with another error and none had data,
// the first such error is returned.
func (f *fetcher) tryEndpoints(ctx context.Context, fn func(ctx context.Context, base string) (*token.Record, error)) (*token.Record, error) {
	var firstErr error
	for _, base := range f.baseURLs() {
		rec, err := fn(ctx, base)
		if err == nil {
			return rec, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, ErrNoData) {
			continue
		}
		log.Debug().
			Err(err).
			Str("source", string(f.source)).
			Str("endpoint", base).
			Msg("sources: endpoint failed, trying next")
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	f.noData.Add(1)
	return nil, ErrNoData
}
