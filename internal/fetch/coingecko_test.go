package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geckoServer(t *testing.T, handler http.HandlerFunc) *CoinGeckoClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCoinGeckoClient(srv.URL, testOptions(), nil)
}

func TestFetchMarketData(t *testing.T) {
	client := geckoServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/coins/aave", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("market_data"))
		assert.Equal(t, "false", r.URL.Query().Get("tickers"))
		w.Write([]byte(`{"market_data":{
			"price_change_percentage_24h":-10,
			"price_change_percentage_7d":21,
			"current_price":{"usd":95.5,"eur":88},
			"market_cap":{"usd":1.4e9}
		}}`))
	})

	res := client.FetchMarketData(context.Background(), "aave", 0)
	require.True(t, res.Available)
	assert.Equal(t, 10.0, res.Value.Volatility24h, "volatility is the absolute change")
	assert.Equal(t, 21.0, res.Value.Volatility7d)
	assert.InDelta(t, 7.9, res.Value.CompositeVolatility, 1e-9)
	assert.Equal(t, 95.5, res.Value.CurrentPrice)
	assert.Equal(t, 1.4e9, res.Value.MarketCap)
}

func TestFetchMarketDataMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "null price changes", body: `{"market_data":{"price_change_percentage_24h":null,"current_price":{"usd":10}}}`},
		{name: "no market_data section", body: `{"id":"aave"}`},
		{name: "empty market_data", body: `{"market_data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := geckoServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})

			res := client.FetchMarketData(context.Background(), "aave", 0)
			require.True(t, res.Available, "absent fields degrade to zero, not to failure")
			assert.Zero(t, res.Value.Volatility24h)
			assert.Zero(t, res.Value.Volatility7d)
			assert.Zero(t, res.Value.CompositeVolatility)
		})
	}
}

func TestFetchMarketDataMalformedBody(t *testing.T) {
	client := geckoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	res := client.FetchMarketData(context.Background(), "aave", 0)
	assert.False(t, res.Available)
	assert.Contains(t, res.Reason, "malformed")
}

func TestFetchMarketDataUpstreamError(t *testing.T) {
	client := geckoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	res := client.FetchMarketData(context.Background(), "aave", 0)
	assert.False(t, res.Available)
	assert.Equal(t, 3, res.Attempts)
}
