package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/enricher/internal/token"
)

func selectAll(t *testing.T, s *Store, opts SelectOptions) []string {
	t.Helper()
	if opts.Source == "" {
		opts.Source = token.SourceDexScreener
	}
	got, err := s.Select(context.Background(), opts)
	require.NoError(t, err)
	return got
}

func TestSelect_ForceAllIgnoresStalenessOldestHonoursIt(t *testing.T) {
	s, clock := newTestStore(t)
	addToken(t, s, "FRESH", "FRSH", time.Time{})
	_, err := s.ApplyRecord(context.Background(), dexRecord("FRESH", 1))
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	oldest := selectAll(t, s, SelectOptions{Strategy: token.StrategyOldest, MinStaleness: time.Hour})
	assert.NotContains(t, oldest, "FRESH")

	forced := selectAll(t, s, SelectOptions{Strategy: token.StrategyForceAll, MinStaleness: time.Hour})
	assert.Contains(t, forced, "FRESH")
}

func TestSelect_StalenessFilterHoldsForEveryNonForceStrategy(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	addToken(t, s, "STALE", "STL", time.Time{})
	addToken(t, s, "NEVER", "NVR", time.Time{})
	_, err := s.ApplyRecord(ctx, dexRecord("STALE", 1))
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	addToken(t, s, "RECENT", "RCT", time.Time{})
	_, err = s.ApplyRecord(ctx, dexRecord("RECENT", 1))
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	for _, strategy := range []token.Strategy{
		token.StrategyOldest, token.StrategyNeverUpdated, token.StrategyRecent, token.StrategyRandom,
	} {
		got := selectAll(t, s, SelectOptions{Strategy: strategy, MinStaleness: time.Hour})
		assert.NotContains(t, got, "RECENT", strategy)
	}

	assert.Equal(t, []string{"NEVER", "STALE"},
		selectAll(t, s, SelectOptions{Strategy: token.StrategyOldest, MinStaleness: time.Hour}),
		"never-checked rows sort first")
	assert.Equal(t, []string{"NEVER"},
		selectAll(t, s, SelectOptions{Strategy: token.StrategyNeverUpdated, MinStaleness: time.Hour}))
}

func TestSelect_NoDataTokensWaitOutStaleness(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	addToken(t, s, "EMPTY", "EMP", time.Time{})
	require.NoError(t, s.MarkNoData(ctx, "EMPTY", token.SourceDexScreener, token.StatusNoDexData))

	assert.Empty(t, selectAll(t, s, SelectOptions{Strategy: token.StrategyNeverUpdated, MinStaleness: time.Hour}))

	clock.Advance(2 * time.Hour)
	assert.Equal(t, []string{"EMPTY"},
		selectAll(t, s, SelectOptions{Strategy: token.StrategyNeverUpdated, MinStaleness: time.Hour}))
}

func TestSelect_StalenessComparesForeignTimestampsAsInstants(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addToken(t, s, "ISO_STALE", "ISO1", time.Time{})
	addToken(t, s, "ISO_FRESH", "ISO2", time.Time{})

	// Written by another tool in RFC 3339, same day as the cutoff.
	set := func(address, ts string) {
		t.Helper()
		_, err := s.db.ExecContext(ctx,
			`UPDATE tokens SET dexscreener_last_update = ?, dexscreener_last_checked = ? WHERE address = ?`,
			ts, ts, address)
		require.NoError(t, err)
	}
	set("ISO_STALE", t0.Add(-3*time.Hour).Format(time.RFC3339))
	set("ISO_FRESH", t0.Add(-10*time.Minute).Format(time.RFC3339))

	got := selectAll(t, s, SelectOptions{Strategy: token.StrategyOldest, MinStaleness: time.Hour})
	assert.Equal(t, []string{"ISO_STALE"}, got)
}

func TestSelect_EligibilityFilters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	addToken(t, s, "GOOD", "GOOD", time.Time{})
	addToken(t, s, "NOSYM", "", time.Time{})
	addToken(t, s, "UNK", "unknown", time.Time{})
	addToken(t, s, "Q", "???", time.Time{})
	addToken(t, s, "NA", " N/A ", time.Time{})
	addToken(t, s, "ARCH", "ARCH", time.Time{})
	require.NoError(t, s.MarkNoData(ctx, "ARCH", token.SourcePumpFun, token.StatusArchived))

	got := selectAll(t, s, SelectOptions{Strategy: token.StrategyForceAll})
	assert.ElementsMatch(t, []string{"GOOD", "ARCH"}, got)

	got = selectAll(t, s, SelectOptions{
		Strategy:        token.StrategyForceAll,
		AllowedStatuses: []token.Status{token.StatusNew, token.StatusActive},
	})
	assert.Equal(t, []string{"GOOD"}, got)
}

func TestSelect_RecentWindowAndOrder(t *testing.T) {
	s, _ := newTestStore(t)
	addToken(t, s, "OLD", "OLD", t0.Add(-72*time.Hour))
	addToken(t, s, "MID", "MID", t0.Add(-12*time.Hour))
	addToken(t, s, "NEW", "NEW", t0.Add(-time.Hour))

	got := selectAll(t, s, SelectOptions{Strategy: token.StrategyRecent, MinStaleness: time.Hour})
	assert.Equal(t, []string{"NEW", "MID"}, got)
}

func TestSelect_LimitAndRestartable(t *testing.T) {
	s, _ := newTestStore(t)
	for _, a := range []string{"A", "B", "C", "D"} {
		addToken(t, s, a, a+a, t0.Add(-time.Hour))
	}

	first := selectAll(t, s, SelectOptions{Strategy: token.StrategyOldest, Limit: 2})
	again := selectAll(t, s, SelectOptions{Strategy: token.StrategyOldest, Limit: 2})
	assert.Equal(t, []string{"A", "B"}, first)
	assert.Equal(t, first, again, "no cursor between calls")

	assert.Len(t, selectAll(t, s, SelectOptions{Strategy: token.StrategyRandom, Limit: 3}), 3)
	assert.Len(t, selectAll(t, s, SelectOptions{Strategy: token.StrategyRandom}), 4)
}

func TestSelect_RejectsUnknownInputs(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Select(context.Background(), SelectOptions{Source: "x", Strategy: token.StrategyOldest})
	assert.Error(t, err)
	_, err = s.Select(context.Background(), SelectOptions{Source: token.SourceJupiter, Strategy: "sideways"})
	assert.Error(t, err)
}
