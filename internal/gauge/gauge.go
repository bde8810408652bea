// Package gauge assembles per-protocol risk reports: it resolves a protocol
// id through the registry, retrieves TVL and market data through the caches,
// and computes the risk score and breakdown.
package gauge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/defi-risk-gauge/internal/cache"
	"github.com/yourorg/defi-risk-gauge/internal/config"
	"github.com/yourorg/defi-risk-gauge/internal/model"
	"github.com/yourorg/defi-risk-gauge/internal/otel"
	"github.com/yourorg/defi-risk-gauge/internal/registry"
	"github.com/yourorg/defi-risk-gauge/internal/score"
	"github.com/sirupsen/logrus"
)

// ErrUnknownProtocol is returned when an id has no registry entry. It is the
// only error the gauge produces; degraded upstream data is reported through
// availability flags, never as an error.
var ErrUnknownProtocol = errors.New("unknown protocol")

// TVLSource retrieves TVL figures for a DefiLlama protocol slug.
type TVLSource interface {
	FetchTVL(ctx context.Context, slug string, preDelay time.Duration) model.Result[float64]
	FetchTVLHistory(ctx context.Context, slug string, preDelay time.Duration) model.Result[[]model.TVLPoint]
}

// MarketSource retrieves market data for a CoinGecko coin id.
type MarketSource interface {
	FetchMarketData(ctx context.Context, geckoID string, preDelay time.Duration) model.Result[model.MarketData]
}

// Options tunes the gauge's caches and call spacing.
type Options struct {
	// CacheTTL bounds how long fetch results are reused.
	CacheTTL time.Duration

	// CacheMaxEntries bounds each cache's entry count.
	CacheMaxEntries int

	// InterCallDelay spaces the market call after the TVL call for the same
	// protocol, applied only when the market fetch actually goes out.
	InterCallDelay time.Duration
}

// OptionsFromConfig builds gauge options from the application configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		CacheTTL:        cfg.CacheTTL,
		CacheMaxEntries: cfg.CacheMaxEntries,
		InterCallDelay:  cfg.InterCallDelay,
	}
}

// Gauge owns the registry, the upstream sources and the result caches.
type Gauge struct {
	registry  *registry.Registry
	tvlSrc    TVLSource
	marketSrc MarketSource
	opts      Options

	tvlCache     *cache.Cache[float64]
	marketCache  *cache.Cache[model.MarketData]
	historyCache *cache.Cache[[]model.TVLPoint]
}

// New creates a gauge over the given registry and upstream sources.
func New(reg *registry.Registry, tvlSrc TVLSource, marketSrc MarketSource, opts Options) *Gauge {
	return &Gauge{
		registry:     reg,
		tvlSrc:       tvlSrc,
		marketSrc:    marketSrc,
		opts:         opts,
		tvlCache:     cache.New[float64]("tvl", opts.CacheTTL, opts.CacheMaxEntries),
		marketCache:  cache.New[model.MarketData]("market", opts.CacheTTL, opts.CacheMaxEntries),
		historyCache: cache.New[[]model.TVLPoint]("history", opts.CacheTTL, opts.CacheMaxEntries),
	}
}

// Registry exposes the protocol catalog backing this gauge.
func (g *Gauge) Registry() *registry.Registry {
	return g.registry
}

// Snapshot produces the full risk report for one protocol. Degraded fetches
// flow into the score as zero-valued inputs; the availability flags tell the
// caller which inputs were real.
func (g *Gauge) Snapshot(ctx context.Context, id string) (model.ProtocolReport, error) {
	ctx, span := otel.Tracer().Start(ctx, "gauge.Snapshot")
	defer span.End()

	proto, ok := g.registry.Get(id)
	if !ok {
		return model.ProtocolReport{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, id)
	}

	start := time.Now()
	tvl := g.tvlCache.GetOrFetch(ctx, "tvl:"+proto.LlamaSlug, func(ctx context.Context) model.Result[float64] {
		return g.tvlSrc.FetchTVL(ctx, proto.LlamaSlug, 0)
	})
	market := g.marketCache.GetOrFetch(ctx, "market:"+proto.GeckoID, func(ctx context.Context) model.Result[model.MarketData] {
		return g.marketSrc.FetchMarketData(ctx, proto.GeckoID, g.opts.InterCallDelay)
	})

	breakdown := score.Score(tvl.Value, market.Value.CompositeVolatility, proto.AuditScore)

	report := model.ProtocolReport{
		ID:                  proto.ID,
		Description:         proto.Description,
		TVLUSD:              tvl.Value,
		Volatility24h:       market.Value.Volatility24h,
		Volatility7d:        market.Value.Volatility7d,
		CompositeVolatility: market.Value.CompositeVolatility,
		CurrentPrice:        market.Value.CurrentPrice,
		MarketCap:           market.Value.MarketCap,
		AuditScore:          proto.AuditScore,
		RiskScore:           breakdown.Total,
		RiskLevel:           score.Level(breakdown.Total),
		RiskBreakdown:       breakdown,
		TVLAvailable:        tvl.Available,
		MarketAvailable:     market.Available,
		FetchedAt:           time.Now(),
	}

	logrus.WithFields(logrus.Fields{
		"protocol":         proto.ID,
		"risk_score":       report.RiskScore,
		"risk_level":       report.RiskLevel,
		"tvl_available":    report.TVLAvailable,
		"market_available": report.MarketAvailable,
		"duration":         time.Since(start),
	}).Info("Snapshot assembled")

	return report, nil
}

// History returns the chronological TVL series for one protocol.
func (g *Gauge) History(ctx context.Context, id string) (model.Result[[]model.TVLPoint], error) {
	proto, ok := g.registry.Get(id)
	if !ok {
		return model.Result[[]model.TVLPoint]{}, fmt.Errorf("%w: %s", ErrUnknownProtocol, id)
	}

	history := g.historyCache.GetOrFetch(ctx, "history:"+proto.LlamaSlug, func(ctx context.Context) model.Result[[]model.TVLPoint] {
		return g.tvlSrc.FetchTVLHistory(ctx, proto.LlamaSlug, 0)
	})
	return history, nil
}

// Scenario evaluates the protocol's risk score under scaled volatility.
// A nil multiplier slice uses the default shock grid.
func (g *Gauge) Scenario(ctx context.Context, id string, multipliers []float64) ([]model.ScenarioPoint, error) {
	report, err := g.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return score.VolatilityShock(report.TVLUSD, report.CompositeVolatility, report.AuditScore, multipliers), nil
}

// CacheStats reports activity counters for each of the gauge's caches.
func (g *Gauge) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		"tvl":     g.tvlCache.Stats(),
		"market":  g.marketCache.Stats(),
		"history": g.historyCache.Stats(),
	}
}
