package enrich

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/enricher/internal/store"
	"github.com/nexus-trading/enricher/internal/token"
)

// Outcome classifies the handling of one token.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNoData      Outcome = "no_data"
	OutcomeAPIError    Outcome = "api_error"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeStoreError  Outcome = "store_error"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomePanic       Outcome = "panic"
)

// Result is the outcome of enriching one token.
type Result struct {
	Address string
	Outcome Outcome

	// Status is the status written to the row; empty when nothing was written.
	Status   token.Status
	// Failures counts consecutive no-data results, this one included.
	Failures int

	Snapshot    bool
	SnapshotErr error

	Err      error
	Duration time.Duration

	// Token is the merged row after a successful write.
	Token *token.Token
}

// CycleStats aggregates one cycle of a pipeline.
type CycleStats struct {
	RunID      string
	Pipeline   token.Source
	Strategy   token.Strategy
	StartedAt  time.Time
	FinishedAt time.Time

	Selected       int64
	Processed      int64
	Successful     int64
	APIErrors      int64
	NoData         int64
	RateLimited    int64
	Snapshots      int64
	SnapshotErrors int64
	StoreErrors    int64
	Panics         int64

	// Statuses counts the statuses written during the cycle.
	Statuses map[token.Status]int64
}

func newCycleStats(runID string, src token.Source, strategy token.Strategy, started time.Time) *CycleStats {
	return &CycleStats{
		RunID:     runID,
		Pipeline:  src,
		Strategy:  strategy,
		StartedAt: started,
		Statuses:  make(map[token.Status]int64),
	}
}

// Add folds one token result into the cycle.
func (c *CycleStats) Add(r Result) {
	c.Processed++
	switch r.Outcome {
	case OutcomeSuccess:
		c.Successful++
	case OutcomeNoData:
		c.NoData++
	case OutcomeAPIError:
		c.APIErrors++
	case OutcomeRateLimited:
		c.RateLimited++
	case OutcomeStoreError:
		c.StoreErrors++
	case OutcomePanic:
		c.Panics++
	}
	if r.Snapshot {
		c.Snapshots++
	}
	if r.SnapshotErr != nil {
		c.SnapshotErrors++
	}
	if r.Status != "" {
		c.Statuses[r.Status]++
	}
}

// Duration of the cycle; zero while it is running.
func (c *CycleStats) Duration() time.Duration {
	if c.FinishedAt.IsZero() {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// SuccessRate is the percentage of processed tokens that were updated.
func (c *CycleStats) SuccessRate() float64 {
	if c.Processed == 0 {
		return 0
	}
	return float64(c.Successful) / float64(c.Processed) * 100
}

// Throughput in tokens per second.
func (c *CycleStats) Throughput() float64 {
	d := c.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(c.Processed) / d
}

// ScanRecord converts the cycle into its persisted form.
func (c *CycleStats) ScanRecord() store.ScanRecord {
	return store.ScanRecord{
		ID:             c.RunID,
		Pipeline:       string(c.Pipeline),
		Strategy:       string(c.Strategy),
		StartedAt:      c.StartedAt,
		FinishedAt:     c.FinishedAt,
		Selected:       c.Selected,
		Processed:      c.Processed,
		Successful:     c.Successful,
		APIErrors:      c.APIErrors,
		NoData:         c.NoData,
		RateLimited:    c.RateLimited,
		Snapshots:      c.Snapshots,
		SnapshotErrors: c.SnapshotErrors,
		StoreErrors:    c.StoreErrors,
		Panics:         c.Panics,
	}
}

func (c *CycleStats) log() {
	statuses := zerolog.Dict()
	for s, n := range c.Statuses {
		statuses.Int64(string(s), n)
	}
	log.Info().
		Dict("statuses", statuses).
		Str("run_id", c.RunID).
		Str("source", string(c.Pipeline)).
		Str("strategy", string(c.Strategy)).
		Int64("selected", c.Selected).
		Int64("processed", c.Processed).
		Int64("successful", c.Successful).
		Int64("no_data", c.NoData).
		Int64("api_errors", c.APIErrors).
		Int64("rate_limited", c.RateLimited).
		Int64("store_errors", c.StoreErrors).
		Int64("snapshot_errors", c.SnapshotErrors).
		Int64("panics", c.Panics).
		Float64("success_rate", c.SuccessRate()).
		Float64("tokens_per_sec", c.Throughput()).
		Dur("duration", c.Duration()).
		Msg("enrich: cycle finished")
}
