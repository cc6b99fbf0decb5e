package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/enricher/internal/enrich"
	"github.com/nexus-trading/enricher/internal/ratelimit"
	"github.com/nexus-trading/enricher/internal/sources"
	"github.com/nexus-trading/enricher/internal/token"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func finishedCycle(src token.Source, processed, successful int64) *enrich.CycleStats {
	return &enrich.CycleStats{
		RunID:      "run-1",
		Pipeline:   src,
		Strategy:   token.StrategyOldest,
		StartedAt:  t0,
		FinishedAt: t0.Add(30 * time.Second),
		Selected:   processed,
		Processed:  processed,
		Successful: successful,
		APIErrors:  processed - successful,
		Statuses:   map[token.Status]int64{},
	}
}

func TestMetrics_TokenDone(t *testing.T) {
	m := NewMetrics("")
	src := token.SourceDexScreener

	m.TokenDone(src, enrich.Result{Outcome: enrich.OutcomeSuccess, Status: token.StatusActive, Snapshot: true, Duration: time.Second})
	m.TokenDone(src, enrich.Result{Outcome: enrich.OutcomeNoData, Status: token.StatusNoDexData, Snapshot: true})
	m.TokenDone(src, enrich.Result{Outcome: enrich.OutcomeAPIError, SnapshotErr: errors.New("locked")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensProcessed.WithLabelValues("dexscreener", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensProcessed.WithLabelValues("dexscreener", "api_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusWrites.WithLabelValues("dexscreener", "no_dex_data")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Snapshots.WithLabelValues("dexscreener", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Snapshots.WithLabelValues("dexscreener", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TokenDuration))
}

func TestMetrics_CycleDone(t *testing.T) {
	m := NewMetrics("test")
	m.CycleDone(finishedCycle(token.SourcePumpFun, 4, 3))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("pump_fun")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CycleSelected.WithLabelValues("pump_fun")))
	assert.Equal(t, 75.0, testutil.ToFloat64(m.CycleSuccessRate.WithLabelValues("pump_fun")))
	assert.Equal(t, float64(t0.Add(30*time.Second).Unix()), testutil.ToFloat64(m.LastCycle.WithLabelValues("pump_fun")))
}

type fixedStats sources.Stats

func (f fixedStats) Stats() sources.Stats { return sources.Stats(f) }

func TestMetrics_HandlerExportsSourceCounters(t *testing.T) {
	m := NewMetrics("")
	require.NoError(t, m.WatchSources("", fixedStats{
		Source:      token.SourceJupiter,
		Requests:    12,
		APIErrors:   2,
		RateLimited: 1,
		Limiter:     ratelimit.Stats{Multiplier: 2, Available: 40, Waited: 1500 * time.Millisecond},
	}))
	m.CycleDone(finishedCycle(token.SourceJupiter, 1, 1))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, want := range []string{
		`enricher_source_requests_total{source="jupiter"} 12`,
		`enricher_source_api_errors_total{source="jupiter"} 2`,
		`enricher_source_backoff_multiplier{source="jupiter"} 2`,
		`enricher_source_limiter_wait_seconds_total{source="jupiter"} 1.5`,
		`enricher_cycle_runs_total{source="jupiter"} 1`,
		`go_goroutines`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
}

func TestMetrics_ImplementsObserver(t *testing.T) {
	var _ enrich.Observer = NewMetrics("")
	var _ enrich.Observer = NewHealthMonitor()
}
