package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yourorg/defi-risk-gauge/internal/circuitbreaker"
	"github.com/yourorg/defi-risk-gauge/internal/model"
	"github.com/sirupsen/logrus"
)

// DefiLlamaClient retrieves protocol TVL and TVL history from the DefiLlama
// API. Docs: https://defillama.com/docs/api
type DefiLlamaClient struct {
	baseURL string
	opts    Options
	breaker *circuitbreaker.Breaker
}

// NewDefiLlamaClient creates a DefiLlama client. The breaker may be nil.
func NewDefiLlamaClient(baseURL string, opts Options, breaker *circuitbreaker.Breaker) *DefiLlamaClient {
	return &DefiLlamaClient{
		baseURL: baseURL,
		opts:    opts,
		breaker: breaker,
	}
}

// llamaPayload matches the parts of the protocol response we consume. The
// tvl field is sometimes a history array and sometimes a raw number, so it is
// decoded lazily.
type llamaPayload struct {
	TVL json.RawMessage `json:"tvl"`
}

// llamaTVLEntry is one element of the tvl history array.
type llamaTVLEntry struct {
	Date              float64 `json:"date"`
	TotalLiquidityUSD float64 `json:"totalLiquidityUSD"`
}

// FetchTVL retrieves the current TVL in USD for a protocol slug. The latest
// history entry wins when the upstream returns a series; a missing tvl field
// degrades to zero rather than failing.
func (c *DefiLlamaClient) FetchTVL(ctx context.Context, slug string, preDelay time.Duration) model.Result[float64] {
	logrus.Debugf("Fetching TVL for %s", slug)

	if c.breaker != nil && !c.breaker.Allow() {
		return model.Unavailable[float64]("defillama circuit open")
	}

	body, attempts, err := c.getProtocol(ctx, slug, preDelay)
	if err != nil {
		if c.breaker != nil {
			c.breaker.Failure()
		}
		logrus.WithFields(logrus.Fields{
			"slug":     slug,
			"attempts": attempts,
		}).Warnf("TVL fetch failed: %v", err)
		return model.Unavailable[float64](err.Error()).WithAttempts(attempts)
	}
	if c.breaker != nil {
		c.breaker.Success()
	}

	var payload llamaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Unavailable[float64]("malformed tvl payload: " + err.Error()).WithAttempts(attempts)
	}

	tvl, ok := latestTVL(payload.TVL)
	if !ok {
		return model.Unavailable[float64]("unrecognized tvl payload shape").WithAttempts(attempts)
	}

	logrus.WithFields(logrus.Fields{
		"slug":    slug,
		"tvl_usd": tvl,
	}).Info("Fetched TVL")
	return model.Ok(tvl).WithAttempts(attempts)
}

// FetchTVLHistory retrieves the chronological TVL series for a protocol slug.
func (c *DefiLlamaClient) FetchTVLHistory(ctx context.Context, slug string, preDelay time.Duration) model.Result[[]model.TVLPoint] {
	logrus.Debugf("Fetching TVL history for %s", slug)

	if c.breaker != nil && !c.breaker.Allow() {
		return model.Unavailable[[]model.TVLPoint]("defillama circuit open")
	}

	body, attempts, err := c.getProtocol(ctx, slug, preDelay)
	if err != nil {
		if c.breaker != nil {
			c.breaker.Failure()
		}
		logrus.WithFields(logrus.Fields{
			"slug":     slug,
			"attempts": attempts,
		}).Warnf("TVL history fetch failed: %v", err)
		return model.Unavailable[[]model.TVLPoint](err.Error()).WithAttempts(attempts)
	}
	if c.breaker != nil {
		c.breaker.Success()
	}

	var payload llamaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Unavailable[[]model.TVLPoint]("malformed tvl payload: " + err.Error()).WithAttempts(attempts)
	}

	var entries []llamaTVLEntry
	if err := json.Unmarshal(payload.TVL, &entries); err != nil || len(entries) == 0 {
		return model.Unavailable[[]model.TVLPoint]("no tvl history series").WithAttempts(attempts)
	}

	points := make([]model.TVLPoint, 0, len(entries))
	for _, e := range entries {
		points = append(points, model.TVLPoint{
			Date:   time.Unix(int64(e.Date), 0).UTC(),
			TVLUSD: math.Max(e.TotalLiquidityUSD, 0),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	logrus.WithFields(logrus.Fields{
		"slug":   slug,
		"points": len(points),
	}).Info("Fetched TVL history")
	return model.Ok(points).WithAttempts(attempts)
}

func (c *DefiLlamaClient) getProtocol(ctx context.Context, slug string, preDelay time.Duration) ([]byte, int, error) {
	url := fmt.Sprintf("%s/protocol/%s", c.baseURL, slug)
	return get(ctx, c.opts, url, preDelay)
}

// latestTVL extracts the current TVL from the polymorphic tvl field: the
// last entry of a history array, a raw number, or zero when absent.
func latestTVL(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		// Absent field falls back to the documented zero default.
		return 0, true
	}

	var entries []llamaTVLEntry
	if err := json.Unmarshal(raw, &entries); err == nil {
		if len(entries) == 0 {
			return 0, true
		}
		return math.Max(entries[len(entries)-1].TotalLiquidityUSD, 0), true
	}

	var direct float64
	if err := json.Unmarshal(raw, &direct); err == nil {
		return math.Max(direct, 0), true
	}

	return 0, false
}
