package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/enricher/internal/token"
)

func TestAddToken_CreatesOnce(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	discovered := t0.Add(-48 * time.Hour)

	created, err := s.AddToken(ctx, NewToken{Address: "A", Symbol: "", DiscoveredAt: discovered})
	require.NoError(t, err)
	assert.True(t, created)

	clock.Advance(time.Hour)
	created, err = s.AddToken(ctx, NewToken{Address: "A", Symbol: "AAA", Name: "Alpha", Decimals: 9})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, token.StatusNew, got.Status)
	assert.Equal(t, discovered, got.FirstDiscoveredAt, "first discovery never moves")
	assert.Equal(t, "AAA", got.Symbol, "empty identity gets filled")
	assert.Equal(t, 9, got.Decimals)

	created, err = s.EnsureToken(ctx, "A")
	require.NoError(t, err)
	assert.False(t, created)
	got, err = s.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "AAA", got.Symbol, "known identity is kept")
}

func TestGet_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyRecord_IdempotentExceptTimestamps(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	addToken(t, s, "A", "AAA", time.Time{})

	_, err := s.ApplyRecord(ctx, dexRecord("A", 0.0042))
	require.NoError(t, err)
	first, err := s.Get(ctx, "A")
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	_, err = s.ApplyRecord(ctx, dexRecord("A", 0.0042))
	require.NoError(t, err)
	second, err := s.Get(ctx, "A")
	require.NoError(t, err)

	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.True(t, second.LastUpdate[token.SourceDexScreener].After(first.LastUpdate[token.SourceDexScreener]))

	second.UpdatedAt = first.UpdatedAt
	second.LastUpdate = first.LastUpdate
	second.LastChecked = first.LastChecked
	assert.Equal(t, first, second)
}

func TestApplyRecord_WritesNamespaceAndGenericColumns(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addToken(t, s, "A", "AAA", time.Time{})

	merged, err := s.ApplyRecord(ctx, dexRecord("A", 0.0042))
	require.NoError(t, err)
	assert.Equal(t, token.StatusActive, merged.Status)
	assert.Equal(t, 0.0042, merged.PriceUSD)
	assert.Equal(t, 15000.0, merged.LiquidityUSD)
	assert.Equal(t, 52000.0, merged.Volume24h)
	assert.Equal(t, 420000.0, merged.MarketCap)
	assert.Equal(t, "raydium", merged.DexScreener.DexID)
	assert.Greater(t, merged.InvestScore, 0.0)

	_, err = s.ApplyRecord(ctx, &token.Record{
		Source:  token.SourceSolscan,
		Address: "A",
		Solscan: &token.SolscanFields{Holders: 1500, Top10Pct: 62.5},
	})
	require.NoError(t, err)
	_, err = s.ApplyRecord(ctx, &token.Record{
		Source:   token.SourceRugCheck,
		Address:  "A",
		RugCheck: &token.RugCheckFields{Score: 4601, ScoreNormalised: 37},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.Holders)
	assert.Equal(t, 62.5, got.Top10HolderPct)
	assert.Equal(t, "high", got.HolderConcentration)
	assert.Equal(t, 37.0, got.RugScore)
	assert.Equal(t, 0.0042, got.PriceUSD, "other sources leave price alone")
	assert.Equal(t, token.InvestScore(got, token.DefaultScoreWeights()), got.InvestScore)

	for _, src := range []token.Source{token.SourceDexScreener, token.SourceSolscan, token.SourceRugCheck} {
		assert.Contains(t, got.LastUpdate, src)
		assert.Contains(t, got.LastChecked, src)
	}
	assert.NotContains(t, got.LastUpdate, token.SourcePumpFun)
}

func TestApplyRecord_IdentityOnlyFillsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addToken(t, s, "A", "KEEP", time.Time{})

	got, err := s.ApplyRecord(ctx, dexRecord("A", 1))
	require.NoError(t, err)
	assert.Equal(t, "KEEP", got.Symbol)
	assert.Equal(t, "Dex Name", got.Name)
}

func TestApplyRecord_InsertsUnknownToken(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.ApplyRecord(ctx, dexRecord("NEW", 1))
	require.NoError(t, err)
	assert.Equal(t, "DEX", got.Symbol)
	assert.Equal(t, token.StatusActive, got.Status)
	assert.False(t, got.FirstDiscoveredAt.IsZero())
}

func TestApplyRecord_RejectsMismatchedPayload(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.ApplyRecord(context.Background(), &token.Record{Source: token.SourceJupiter, Address: "A"})
	assert.Error(t, err)
}

func TestMarkNoData_WritesOnlyStatusAndTimestamps(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	addToken(t, s, "A", "AAA", time.Time{})
	_, err := s.ApplyRecord(ctx, dexRecord("A", 0.5))
	require.NoError(t, err)
	before, err := s.Get(ctx, "A")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.NoError(t, s.MarkNoData(ctx, "A", token.SourceDexScreener, token.StatusNoDexData))

	after, err := s.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, token.StatusNoDexData, after.Status)
	assert.NotContains(t, after.LastUpdate, token.SourceDexScreener)
	assert.True(t, after.LastChecked[token.SourceDexScreener].After(before.LastChecked[token.SourceDexScreener]))
	assert.Equal(t, before.PriceUSD, after.PriceUSD)
	assert.Equal(t, before.DexScreener, after.DexScreener)
	assert.Equal(t, before.InvestScore, after.InvestScore)

	err = s.MarkNoData(ctx, "missing", token.SourceDexScreener, token.StatusNoDexData)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.MarkNoData(ctx, "A", token.Source("bogus"), token.StatusNoDexData)
	assert.Error(t, err)
}
