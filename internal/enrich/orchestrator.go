// Package enrich drives source clients against the token store: select a
// batch, snapshot and enrich each token, apply the status state machine and
// aggregate cycle statistics.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/enricher/internal/sources"
	"github.com/nexus-trading/enricher/internal/store"
	"github.com/nexus-trading/enricher/internal/token"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// Store is the persistence surface the orchestrator needs.
type Store interface {
	Select(ctx context.Context, opts store.SelectOptions) ([]string, error)
	Snapshot(ctx context.Context, address, reason string) (bool, error)
	Get(ctx context.Context, address string) (*token.Token, error)
	PriorNoData(ctx context.Context, address string, source token.Source, since time.Time) (int, error)
	ApplyRecord(ctx context.Context, rec *token.Record) (*token.Token, error)
	MarkNoData(ctx context.Context, address string, source token.Source, status token.Status) error
	RecordScanHistory(ctx context.Context, r store.ScanRecord) (string, error)
}

// Observer receives per-token and per-cycle outcomes (metrics, health).
type Observer interface {
	TokenDone(source token.Source, r Result)
	CycleDone(stats *CycleStats)
}

type nopObserver struct{}

func (nopObserver) TokenDone(token.Source, Result) {}
func (nopObserver) CycleDone(*CycleStats)         {}

type multiObserver []Observer

func (m multiObserver) TokenDone(src token.Source, r Result) {
	for _, o := range m {
		o.TokenDone(src, r)
	}
}

func (m multiObserver) CycleDone(stats *CycleStats) {
	for _, o := range m {
		o.CycleDone(stats)
	}
}

// Observers fans results out to several observers; nil entries are skipped.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	if len(m) == 0 {
		return nopObserver{}
	}
	return m
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config configures one pipeline (one source).
type Config struct {
	Strategy        token.Strategy `yaml:"strategy"`
	BatchSize       int            `yaml:"batch_size"`
	AllowedStatuses []token.Status `yaml:"allowed_statuses"`

	// InterTokenDelay spaces out tokens within a cycle.
	InterTokenDelay time.Duration `yaml:"inter_token_delay"`

	// RecordHistory persists each cycle to scan_history.
	RecordHistory bool `yaml:"record_history"`

	Policy token.Policy `yaml:"policy"`
}

// DefaultConfig returns an oldest-first pipeline of 50 tokens per cycle.
func DefaultConfig() Config {
	return Config{
		Strategy:        token.StrategyOldest,
		BatchSize:       50,
		InterTokenDelay: 200 * time.Millisecond,
		RecordHistory:   true,
		Policy:          token.DefaultPolicy(),
	}
}

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// Orchestrator enriches tokens from one source.
type Orchestrator struct {
	config   Config
	client   sources.Client
	store    Store
	observer Observer

	interrupted atomic.Bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

const storeTimeout = 30 * time.Second

// NewOrchestrator wires a pipeline. observer may be nil.
func NewOrchestrator(config Config, client sources.Client, st Store, observer Observer) *Orchestrator {
	if config.Strategy == "" {
		config.Strategy = token.StrategyOldest
	}
	if config.Policy == (token.Policy{}) {
		config.Policy = token.DefaultPolicy()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Orchestrator{
		config:   config,
		client:   client,
		store:    st,
		observer: observer,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Source returns the pipeline's source.
func (o *Orchestrator) Source() token.Source { return o.client.Name() }

// Config returns the pipeline configuration.
func (o *Orchestrator) Config() Config { return o.config }

// Interrupt makes the running cycle stop after the token in flight.
func (o *Orchestrator) Interrupt() { o.interrupted.Store(true) }

// EnrichToken runs the per-token sequence: snapshot, fetch, then apply the
// record or the no-data transition. Fetch errors leave the row untouched.
func (o *Orchestrator) EnrichToken(ctx context.Context, address string) Result {
	src := o.client.Name()
	start := o.now()
	res := Result{Address: address}
	defer func() { res.Duration = o.now().Sub(start) }()

	ok, err := o.store.Snapshot(ctx, address, src.SnapshotReason())
	switch {
	case err != nil:
		res.SnapshotErr = err
		log.Warn().Err(err).Str("source", string(src)).Str("token", token.Short(address)).
			Msg("enrich: snapshot failed, continuing")
	case !ok:
		log.Debug().Str("source", string(src)).Str("token", token.Short(address)).
			Msg("enrich: token missing at snapshot time")
	default:
		res.Snapshot = true
	}

	rec, err := o.fetch(ctx, address)

	// A completed fetch is written even if a stop arrived meanwhile.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	switch {
	case err == nil:
		o.applySuccess(wctx, rec, &res)
	case errors.Is(err, sources.ErrNoData):
		o.applyNoData(wctx, address, &res)
	case ctx.Err() != nil:
		res.Outcome = OutcomeCancelled
		res.Err = err
	case errors.Is(err, sources.ErrRateLimited):
		res.Outcome = OutcomeRateLimited
		res.Err = err
		log.Warn().Err(err).Str("source", string(src)).Str("token", token.Short(address)).
			Msg("enrich: rate limited, row left unchanged")
	default:
		res.Outcome = OutcomeAPIError
		res.Err = err
		log.Warn().Err(err).Str("source", string(src)).Str("token", token.Short(address)).
			Msg("enrich: fetch failed, row left unchanged")
	}
	return res
}

func (o *Orchestrator) applySuccess(ctx context.Context, rec *token.Record, res *Result) {
	src := o.client.Name()
	merged, err := o.store.ApplyRecord(ctx, rec)
	if err != nil {
		res.Outcome = OutcomeStoreError
		res.Err = err
		log.Error().Err(err).Str("source", string(src)).Str("token", token.Short(res.Address)).
			Msg("enrich: store write failed")
		return
	}
	res.Outcome = OutcomeSuccess
	res.Status, _ = token.NextStatus(token.OutcomeSuccess, o.config.Policy, 0, 0)
	res.Token = merged

	log.Info().
		Str("source", string(src)).
		Str("token", token.Short(res.Address)).
		Str("symbol", merged.Symbol).
		Float64("price_usd", merged.PriceUSD).
		Float64("liquidity_usd", merged.LiquidityUSD).
		Float64("invest_score", merged.InvestScore).
		Msg("enrich: token updated")
}

// fetch passes stored metadata to clients that need it. A token that cannot
// be read is fetched without hints.
func (o *Orchestrator) fetch(ctx context.Context, address string) (*token.Record, error) {
	hc, ok := o.client.(sources.HintedClient)
	if !ok {
		return o.client.Fetch(ctx, address)
	}
	tok, err := o.store.Get(ctx, address)
	if err != nil {
		return o.client.Fetch(ctx, address)
	}
	return hc.FetchWithHints(ctx, address, sources.Hints{Decimals: tok.Decimals})
}

func (o *Orchestrator) applyNoData(ctx context.Context, address string, res *Result) {
	src := o.client.Name()
	res.Outcome = OutcomeNoData

	tok, err := o.store.Get(ctx, address)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug().Str("source", string(src)).Str("token", token.Short(address)).
			Msg("enrich: no data for a token that no longer exists")
		return
	}
	if err != nil {
		res.Outcome = OutcomeStoreError
		res.Err = err
		return
	}

	now := o.now()
	prior, err := o.store.PriorNoData(ctx, address, src, now.Add(-o.config.Policy.FailureWindow))
	if err != nil {
		res.Outcome = OutcomeStoreError
		res.Err = err
		log.Error().Err(err).Str("source", string(src)).Str("token", token.Short(address)).
			Msg("enrich: failure count failed")
		return
	}
	failures := prior + 1
	status, _ := token.NextStatus(token.OutcomeNoData, o.config.Policy, prior, tok.Age(now))

	if err := o.store.MarkNoData(ctx, address, src, status); err != nil {
		res.Outcome = OutcomeStoreError
		res.Err = err
		log.Error().Err(err).Str("source", string(src)).Str("token", token.Short(address)).
			Msg("enrich: store write failed")
		return
	}
	res.Status = status
	res.Failures = failures

	log.Info().
		Str("source", string(src)).
		Str("token", token.Short(address)).
		Str("status", string(status)).
		Int("failures", failures).
		Dur("age", tok.Age(now)).
		Msg("enrich: no data")
}

// safeEnrich turns a panic while enriching one token into a counted outcome.
func (o *Orchestrator) safeEnrich(ctx context.Context, address string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Address: address,
				Outcome: OutcomePanic,
				Err:     fmt.Errorf("panic: %v", r),
			}
			log.Error().
				Str("source", string(o.client.Name())).
				Str("token", token.Short(address)).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("enrich: recovered panic")
		}
	}()
	return o.EnrichToken(ctx, address)
}

// RunCycle selects a batch and enriches it sequentially. It fails only when
// the batch cannot be selected; per-token failures are counted.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleStats, error) {
	src := o.client.Name()
	stats := newCycleStats(uuid.NewString(), src, o.config.Strategy, o.now())

	addrs, err := o.store.Select(ctx, store.SelectOptions{
		Source:          src,
		Strategy:        o.config.Strategy,
		Limit:           o.config.BatchSize,
		MinStaleness:    o.config.Policy.MinStaleness,
		AllowedStatuses: o.config.AllowedStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("enrich: select %s batch: %w", src, err)
	}
	stats.Selected = int64(len(addrs))

	log.Info().
		Str("run_id", stats.RunID).
		Str("source", string(src)).
		Str("strategy", string(o.config.Strategy)).
		Int("selected", len(addrs)).
		Msg("enrich: cycle started")

	for i, addr := range addrs {
		if ctx.Err() != nil || o.interrupted.Load() {
			break
		}
		res := o.safeEnrich(ctx, addr)
		if res.Outcome == OutcomeCancelled {
			break
		}
		stats.Add(res)
		o.observer.TokenDone(src, res)

		if i < len(addrs)-1 && o.config.InterTokenDelay > 0 {
			if err := o.sleep(ctx, o.config.InterTokenDelay); err != nil {
				break
			}
		}
	}

	stats.FinishedAt = o.now()
	stats.log()

	if o.config.RecordHistory {
		// The cycle's own ctx may be done at shutdown; the summary is still kept.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		if _, err := o.store.RecordScanHistory(hctx, stats.ScanRecord()); err != nil {
			log.Warn().Err(err).Str("run_id", stats.RunID).Msg("enrich: scan history not recorded")
		}
		cancel()
	}
	o.observer.CycleDone(stats)
	return stats, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
