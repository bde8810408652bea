package gauge

import (
	"context"
	"testing"
	"time"

	"github.com/yourorg/defi-risk-gauge/internal/model"
	"github.com/yourorg/defi-risk-gauge/internal/registry"
	"github.com/yourorg/defi-risk-gauge/internal/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTVLSource struct {
	tvl     model.Result[float64]
	history model.Result[[]model.TVLPoint]
	calls   int
}

func (f *fakeTVLSource) FetchTVL(_ context.Context, _ string, _ time.Duration) model.Result[float64] {
	f.calls++
	return f.tvl
}

func (f *fakeTVLSource) FetchTVLHistory(_ context.Context, _ string, _ time.Duration) model.Result[[]model.TVLPoint] {
	f.calls++
	return f.history
}

type fakeMarketSource struct {
	market    model.Result[model.MarketData]
	calls     int
	preDelays []time.Duration
}

func (f *fakeMarketSource) FetchMarketData(_ context.Context, _ string, preDelay time.Duration) model.Result[model.MarketData] {
	f.calls++
	f.preDelays = append(f.preDelays, preDelay)
	return f.market
}

func testGauge(t *testing.T, tvlSrc *fakeTVLSource, marketSrc *fakeMarketSource) *Gauge {
	t.Helper()
	reg, err := registry.New(registry.Defaults())
	require.NoError(t, err)
	return New(reg, tvlSrc, marketSrc, Options{
		CacheTTL:        time.Minute,
		CacheMaxEntries: 16,
		InterCallDelay:  250 * time.Millisecond,
	})
}

func marketData(vol24h, vol7d float64) model.MarketData {
	return model.MarketData{
		Volatility24h:       vol24h,
		Volatility7d:        vol7d,
		CompositeVolatility: score.CompositeVolatility(vol24h, vol7d),
		CurrentPrice:        100,
		MarketCap:           2e9,
	}
}

func TestSnapshot(t *testing.T) {
	tvlSrc := &fakeTVLSource{tvl: model.Ok(2e9)}
	marketSrc := &fakeMarketSource{market: model.Ok(marketData(5, 14))}
	g := testGauge(t, tvlSrc, marketSrc)

	report, err := g.Snapshot(context.Background(), "aave")
	require.NoError(t, err)

	assert.Equal(t, "aave", report.ID)
	assert.Equal(t, 2e9, report.TVLUSD)
	assert.Equal(t, 0.85, report.AuditScore)
	assert.True(t, report.TVLAvailable)
	assert.True(t, report.MarketAvailable)

	expected := score.Score(2e9, report.CompositeVolatility, 0.85)
	assert.Equal(t, expected.Total, report.RiskScore)
	assert.Equal(t, expected, report.RiskBreakdown)
	assert.Equal(t, score.Level(expected.Total), report.RiskLevel)
	assert.False(t, report.FetchedAt.IsZero())
}

func TestSnapshotUnknownProtocol(t *testing.T) {
	g := testGauge(t, &fakeTVLSource{}, &fakeMarketSource{})

	_, err := g.Snapshot(context.Background(), "dogswap")
	require.ErrorIs(t, err, ErrUnknownProtocol)
	assert.Contains(t, err.Error(), "dogswap")
}

func TestSnapshotCachesFetches(t *testing.T) {
	tvlSrc := &fakeTVLSource{tvl: model.Ok(2e9)}
	marketSrc := &fakeMarketSource{market: model.Ok(marketData(5, 14))}
	g := testGauge(t, tvlSrc, marketSrc)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := g.Snapshot(ctx, "aave")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, tvlSrc.calls)
	assert.Equal(t, 1, marketSrc.calls)

	stats := g.CacheStats()
	assert.Equal(t, uint64(2), stats["tvl"].Hits)
	assert.Equal(t, uint64(2), stats["market"].Hits)
}

func TestSnapshotSpacesMarketCall(t *testing.T) {
	tvlSrc := &fakeTVLSource{tvl: model.Ok(2e9)}
	marketSrc := &fakeMarketSource{market: model.Ok(marketData(5, 14))}
	g := testGauge(t, tvlSrc, marketSrc)

	_, err := g.Snapshot(context.Background(), "aave")
	require.NoError(t, err)

	require.Len(t, marketSrc.preDelays, 1)
	assert.Equal(t, 250*time.Millisecond, marketSrc.preDelays[0])
}

func TestSnapshotDegradedInputs(t *testing.T) {
	tvlSrc := &fakeTVLSource{tvl: model.Unavailable[float64]("defillama down")}
	marketSrc := &fakeMarketSource{market: model.Unavailable[model.MarketData]("coingecko down")}
	g := testGauge(t, tvlSrc, marketSrc)

	report, err := g.Snapshot(context.Background(), "aave")
	require.NoError(t, err, "degraded upstream data is not an error")

	assert.False(t, report.TVLAvailable)
	assert.False(t, report.MarketAvailable)
	assert.Zero(t, report.TVLUSD)

	// Zero inputs land in the worst liquidity tier with no market contribution.
	assert.Equal(t, 24.0, report.RiskBreakdown.LiquidityRisk)
	assert.Zero(t, report.RiskBreakdown.MarketRisk)
}

func TestHistory(t *testing.T) {
	points := []model.TVLPoint{
		{Date: time.Unix(1700000000, 0).UTC(), TVLUSD: 100},
		{Date: time.Unix(1700086400, 0).UTC(), TVLUSD: 200},
	}
	tvlSrc := &fakeTVLSource{history: model.Ok(points)}
	g := testGauge(t, tvlSrc, &fakeMarketSource{})

	res, err := g.History(context.Background(), "aave")
	require.NoError(t, err)
	require.True(t, res.Available)
	assert.Equal(t, points, res.Value)

	_, err = g.History(context.Background(), "dogswap")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestScenario(t *testing.T) {
	tvlSrc := &fakeTVLSource{tvl: model.Ok(2e9)}
	marketSrc := &fakeMarketSource{market: model.Ok(marketData(5, 14))}
	g := testGauge(t, tvlSrc, marketSrc)

	points, err := g.Scenario(context.Background(), "aave", nil)
	require.NoError(t, err)
	require.Len(t, points, len(score.DefaultShockMultipliers))

	custom, err := g.Scenario(context.Background(), "aave", []float64{2})
	require.NoError(t, err)
	require.Len(t, custom, 1)
	assert.Equal(t, 2.0, custom[0].Multiplier)

	_, err = g.Scenario(context.Background(), "dogswap", nil)
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}
