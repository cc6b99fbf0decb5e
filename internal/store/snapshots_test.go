package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/enricher/internal/token"
)

func TestSnapshot_MissingTokenReturnsFalse(t *testing.T) {
	s, _ := newTestStore(t)
	ok, err := s.Snapshot(context.Background(), "ghost", "before dexscreener update")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshot_PrecedesUpdate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addToken(t, s, "A", "AAA", time.Time{})

	ok, err := s.Snapshot(ctx, "A", token.SourceDexScreener.SnapshotReason())
	require.NoError(t, err)
	require.True(t, ok)
	merged, err := s.ApplyRecord(ctx, dexRecord("A", 2))
	require.NoError(t, err)

	snaps, err := s.Snapshots(ctx, "A")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "before dexscreener update", snaps[0].Reason)
	assert.True(t, snaps[0].Timestamp.Before(merged.UpdatedAt))
	assert.Equal(t, token.StatusNew, snaps[0].Token.Status, "snapshot holds the pre-update row")
	assert.Zero(t, snaps[0].Token.PriceUSD)
}

func TestPriorNoData_CountsEarlierNoDataWrites(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	src := token.SourceDexScreener
	reason := src.SnapshotReason()
	addToken(t, s, "A", "AAA", time.Time{})

	prior := func() int {
		t.Helper()
		n, err := s.PriorNoData(ctx, "A", src, clock.Now().Add(-7*24*time.Hour))
		require.NoError(t, err)
		return n
	}
	snap := func(r string) {
		t.Helper()
		clock.Advance(time.Minute)
		ok, err := s.Snapshot(ctx, "A", r)
		require.NoError(t, err)
		require.True(t, ok)
	}
	noData := func() {
		t.Helper()
		snap(reason)
		require.NoError(t, s.MarkNoData(ctx, "A", src, token.StatusNoDexData))
	}

	// The untouched initial row is not a failure.
	snap(reason)
	assert.Equal(t, 0, prior())

	noData()
	assert.Equal(t, 1, prior())

	// Failed attempts snapshot the same row again; it still counts once.
	snap(reason)
	snap(reason)
	assert.Equal(t, 1, prior())

	noData()
	assert.Equal(t, 2, prior())

	// Another source's history never counts.
	require.NoError(t, s.MarkNoData(ctx, "A", token.SourcePumpFun, token.StatusNoDexData))
	snap(token.SourcePumpFun.SnapshotReason())
	assert.Equal(t, 2, prior())

	// A success ends the run.
	snap(reason)
	_, err := s.ApplyRecord(ctx, dexRecord("A", 1))
	require.NoError(t, err)
	assert.Equal(t, 0, prior())

	noData()
	assert.Equal(t, 1, prior())

	// Outside the window nothing counts.
	clock.Advance(8 * 24 * time.Hour)
	assert.Equal(t, 0, prior())
}

func TestPriorNoData_WithoutSnapshots(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	addToken(t, s, "A", "AAA", time.Time{})

	// The live row alone records the last no-data.
	require.NoError(t, s.MarkNoData(ctx, "A", token.SourceJupiter, token.StatusNoDexData))
	n, err := s.PriorNoData(ctx, "A", token.SourceJupiter, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.PriorNoData(ctx, "ghost", token.SourceJupiter, t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPriorNoData_UnknownSource(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.PriorNoData(context.Background(), "A", "nope", t0)
	assert.Error(t, err)
}
