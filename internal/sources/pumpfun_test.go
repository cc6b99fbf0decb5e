package sources

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pumpCoin(mintKey, mint string) map[string]any {
	return map[string]any{
		mintKey:                      mint,
		"symbol":                     "PUMP",
		"name":                       "Pump Coin",
		"usd_market_cap":             "51234.5678",
		"complete":                   true,
		"creator":                    "creator-1",
		"bonding_curve":              "curve-1",
		"reply_count":                17,
		"king_of_the_hill_timestamp": 1700000000000,
	}
}

func TestPumpFun_FallsBackAcrossMirrors(t *testing.T) {
	down, downHits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	up, upHits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/"+testMint, r.URL.Path)
		writeJSON(w, []any{pumpCoin("mint", "some-other-mint"), pumpCoin("mint", testMint)})
	})

	client := NewPumpFun(testConfig(down.URL, up.URL))
	rec, err := client.Fetch(context.Background(), testMint)
	require.NoError(t, err)
	require.NoError(t, rec.Validate())

	assert.Equal(t, int64(1), downHits.Load())
	assert.Equal(t, int64(1), upHits.Load())
	assert.Equal(t, "PUMP", rec.Symbol)
	assert.Equal(t, 51234.57, rec.PumpFun.MarketCapUSD)
	assert.True(t, rec.PumpFun.Complete)
	assert.Equal(t, "curve-1", rec.PumpFun.BondingCurve)
	assert.Equal(t, int64(17), rec.PumpFun.ReplyCount)
	assert.Equal(t, int64(1700000000000), rec.PumpFun.KingOfTheHillTS)
}

func TestPumpFun_FirstMirrorWinsOnData(t *testing.T) {
	first, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, pumpCoin("mint", testMint))
	})
	second, secondHits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, pumpCoin("mint", testMint))
	})

	_, err := NewPumpFun(testConfig(first.URL, second.URL)).Fetch(context.Background(), testMint)
	require.NoError(t, err)
	assert.Zero(t, secondHits.Load())
}

func TestPumpFun_AllMirrorsEmptyIsNoData(t *testing.T) {
	a, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	b, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{})
	})

	client := NewPumpFun(testConfig(a.URL, b.URL))
	_, err := client.Fetch(context.Background(), testMint)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, int64(1), client.Stats().NoData)
}

func TestPumpFun_ErrorWithoutDataIsSurfaced(t *testing.T) {
	broken, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	empty, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := NewPumpFun(testConfig(broken.URL, empty.URL)).Fetch(context.Background(), testMint)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoData)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}

func TestExtractPumpFun_PayloadShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"object", `{"mint": "` + testMint + `", "symbol": "A"}`},
		{"wrapped", `{"coin": {"address": "` + testMint + `", "symbol": "A"}}`},
		{"list", `[{"tokenAddress": "x"}, {"tokenAddress": "` + testMint + `", "symbol": "A"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ExtractPumpFun(testMint, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, "A", rec.Symbol)
			assert.Equal(t, 6, rec.Decimals)
		})
	}
}

func TestExtractPumpFun_NoMatchingMint(t *testing.T) {
	_, err := ExtractPumpFun(testMint, []byte(`{"mint": "other"}`))
	assert.ErrorIs(t, err, ErrNoData)

	_, err = ExtractPumpFun(testMint, []byte(`"just a string"`))
	assert.ErrorIs(t, err, ErrNoData)
}
