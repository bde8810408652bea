package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/yourorg/defi-risk-gauge/internal/circuitbreaker"
	"github.com/yourorg/defi-risk-gauge/internal/model"
	"github.com/yourorg/defi-risk-gauge/internal/score"
	"github.com/sirupsen/logrus"
)

// CoinGeckoClient retrieves token market data from the CoinGecko API.
// Docs: https://www.coingecko.com/en/api/documentation
type CoinGeckoClient struct {
	baseURL string
	opts    Options
	breaker *circuitbreaker.Breaker
}

// NewCoinGeckoClient creates a CoinGecko client. The breaker may be nil.
func NewCoinGeckoClient(baseURL string, opts Options, breaker *circuitbreaker.Breaker) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL: baseURL,
		opts:    opts,
		breaker: breaker,
	}
}

// geckoPayload matches the parts of the coin response we consume. Price
// change fields can be null, so they decode into pointers.
type geckoPayload struct {
	MarketData *struct {
		PriceChange24h *float64           `json:"price_change_percentage_24h"`
		PriceChange7d  *float64           `json:"price_change_percentage_7d"`
		CurrentPrice   map[string]float64 `json:"current_price"`
		MarketCap      map[string]float64 `json:"market_cap"`
	} `json:"market_data"`
}

// FetchMarketData retrieves volatility and market figures for a coin id.
// Absent or null fields degrade to zero; volatilities are absolute values.
func (c *CoinGeckoClient) FetchMarketData(ctx context.Context, geckoID string, preDelay time.Duration) model.Result[model.MarketData] {
	logrus.Debugf("Fetching market data for %s", geckoID)

	if c.breaker != nil && !c.breaker.Allow() {
		return model.Unavailable[model.MarketData]("coingecko circuit open")
	}

	url := fmt.Sprintf(
		"%s/api/v3/coins/%s?localization=false&tickers=false&market_data=true&community_data=false&developer_data=false&sparkline=false",
		c.baseURL, geckoID,
	)
	body, attempts, err := get(ctx, c.opts, url, preDelay)
	if err != nil {
		if c.breaker != nil {
			c.breaker.Failure()
		}
		logrus.WithFields(logrus.Fields{
			"coin":     geckoID,
			"attempts": attempts,
		}).Warnf("Market data fetch failed: %v", err)
		return model.Unavailable[model.MarketData](err.Error()).WithAttempts(attempts)
	}
	if c.breaker != nil {
		c.breaker.Success()
	}

	var payload geckoPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.Unavailable[model.MarketData]("malformed market payload: " + err.Error()).WithAttempts(attempts)
	}

	md := model.MarketData{}
	if payload.MarketData != nil {
		if payload.MarketData.PriceChange24h != nil {
			md.Volatility24h = math.Abs(*payload.MarketData.PriceChange24h)
		}
		if payload.MarketData.PriceChange7d != nil {
			md.Volatility7d = math.Abs(*payload.MarketData.PriceChange7d)
		}
		md.CurrentPrice = math.Max(payload.MarketData.CurrentPrice["usd"], 0)
		md.MarketCap = math.Max(payload.MarketData.MarketCap["usd"], 0)
	} else {
		logrus.Warnf("No market_data in response for %s, defaulting to zero", geckoID)
	}
	md.CompositeVolatility = score.CompositeVolatility(md.Volatility24h, md.Volatility7d)

	logrus.WithFields(logrus.Fields{
		"coin":          geckoID,
		"vol_24h":       md.Volatility24h,
		"vol_7d":        md.Volatility7d,
		"composite_vol": md.CompositeVolatility,
		"price_usd":     md.CurrentPrice,
	}).Info("Fetched market data")

	return model.Ok(md).WithAttempts(attempts)
}
