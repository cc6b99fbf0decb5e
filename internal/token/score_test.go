package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvestScore_EmptyTokenIsZero(t *testing.T) {
	assert.Zero(t, InvestScore(&Token{}, DefaultScoreWeights()))
}

func TestInvestScore_NeverNegative(t *testing.T) {
	tok := &Token{
		LiquidityUSD:   10,
		RugScore:       100,
		Top10HolderPct: 100,
		DexScreener:    DexScreenerFields{PriceChange24h: -500},
	}
	assert.GreaterOrEqual(t, InvestScore(tok, DefaultScoreWeights()), 0.0)

	negative := ScoreWeights{Liquidity: -10}
	tok.LiquidityUSD = 1_000_000
	assert.Zero(t, InvestScore(tok, negative))
}

func TestInvestScore_HealthyBeatsThin(t *testing.T) {
	w := DefaultScoreWeights()
	healthy := &Token{
		PriceUSD:       0.01,
		LiquidityUSD:   500_000,
		Volume24h:      800_000,
		Holders:        5_000,
		RugScore:       5,
		Top10HolderPct: 20,
		DexScreener:    DexScreenerFields{PriceChange24h: 30},
	}
	thin := &Token{
		PriceUSD:       0.01,
		LiquidityUSD:   800,
		Volume24h:      50,
		Holders:        12,
		RugScore:       80,
		Top10HolderPct: 95,
		DexScreener:    DexScreenerFields{PriceChange24h: -60},
	}
	assert.Greater(t, InvestScore(healthy, w), InvestScore(thin, w))
}

func TestInvestScore_Deterministic(t *testing.T) {
	tok := &Token{PriceUSD: 1, LiquidityUSD: 15000, Volume24h: 52000, Holders: 300}
	w := DefaultScoreWeights()
	assert.Equal(t, InvestScore(tok, w), InvestScore(tok, w))
}

func TestInvestScore_GraduationBonus(t *testing.T) {
	w := DefaultScoreWeights()
	base := &Token{PriceUSD: 0.001, LiquidityUSD: 20000}
	graduated := *base
	graduated.PumpFun.Complete = true
	assert.InDelta(t, InvestScore(base, w)+5, InvestScore(&graduated, w), 0.011)
}
