package token

import "math"

// ---------------------------------------------------------------------------
// Invest score: weighted heuristic over the merged row
// Liquidity 30% + Volume 25% + Holders 15% + Safety 20% + Momentum 10%
// ---------------------------------------------------------------------------

// ScoreWeights defines the weight of each dimension.
type ScoreWeights struct {
	Liquidity float64 `yaml:"liquidity"`
	Volume    float64 `yaml:"volume"`
	Holders   float64 `yaml:"holders"`
	Safety    float64 `yaml:"safety"`
	Momentum  float64 `yaml:"momentum"`
}

// DefaultScoreWeights returns the stock weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Liquidity: 0.30,
		Volume:    0.25,
		Holders:   0.15,
		Safety:    0.20,
		Momentum:  0.10,
	}
}

// InvestScore computes the score of a merged token row. The result is
// clamped at 0 and has no upper bound (weights are not normalized).
func InvestScore(t *Token, w ScoreWeights) float64 {
	liq := t.LiquidityUSD
	if liq <= 0 && t.PriceUSD <= 0 && t.PumpFun.MarketCapUSD <= 0 {
		return 0
	}

	// $1M liquidity saturates.
	liqScore := clamp(math.Log10(math.Max(liq, 0)+1)/6*100, 0, 100)

	// 24h turnover of 2x liquidity saturates.
	var volScore float64
	if liq > 0 {
		volScore = clamp(t.Volume24h/liq*50, 0, 100)
	}

	// 10k holders saturate.
	holderScore := clamp(math.Log10(float64(max64(t.Holders, 0))+1)/4*100, 0, 100)

	// RugScore is a risk reading; concentration above 50% costs up to 40.
	safety := 100 - clamp(t.RugScore, 0, 100)
	if t.Top10HolderPct > 50 {
		safety -= clamp((t.Top10HolderPct-50)*0.8, 0, 40)
	}
	safety = clamp(safety, 0, 100)

	momentum := clamp(50+t.DexScreener.PriceChange24h/2, 0, 100)

	score := liqScore*w.Liquidity +
		volScore*w.Volume +
		holderScore*w.Holders +
		safety*w.Safety +
		momentum*w.Momentum

	if t.PumpFun.Complete {
		score += 5 // graduated from the bonding curve
	}

	if math.IsNaN(score) || score < 0 {
		return 0
	}
	return math.Round(score*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
