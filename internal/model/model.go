// Package model defines the core data structures for the defi-risk-gauge.
package model

import (
	"time"
)

// Result is the outcome of a single fetch against an upstream API. The fetch
// boundary absorbs every transient failure into an unavailable Result instead
// of returning an error, so callers can always render something. Available
// distinguishes "the upstream said zero" from "we never got an answer".
type Result[T any] struct {
	// Value holds the fetched data; the zero value when unavailable.
	Value T `json:"value"`

	// Available is true when the fetch produced a usable value.
	Available bool `json:"available"`

	// Reason describes why the value is unavailable. Empty on success.
	Reason string `json:"reason,omitempty"`

	// Attempts is the number of HTTP requests issued for this result.
	Attempts int `json:"attempts,omitempty"`

	// FetchedAt is when this result was produced.
	FetchedAt time.Time `json:"fetched_at"`
}

// Ok wraps a successfully fetched value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Value: v, Available: true, FetchedAt: time.Now()}
}

// Unavailable produces the degraded sentinel for a failed fetch.
func Unavailable[T any](reason string) Result[T] {
	return Result[T]{Available: false, Reason: reason, FetchedAt: time.Now()}
}

// WithAttempts records how many requests were issued for this result.
func (r Result[T]) WithAttempts(n int) Result[T] {
	r.Attempts = n
	return r
}

// MarketData holds the volatility and market figures for a protocol token.
// All fields are non-negative; absent upstream fields default to zero.
type MarketData struct {
	// Volatility24h is the absolute 24h price change in percent.
	Volatility24h float64 `json:"volatility_24h"`

	// Volatility7d is the absolute 7d price change in percent.
	Volatility7d float64 `json:"volatility_7d"`

	// CompositeVolatility blends the 24h and 7d changes, weighting the
	// 24h change far more heavily.
	CompositeVolatility float64 `json:"composite_volatility"`

	// CurrentPrice is the token price in USD.
	CurrentPrice float64 `json:"current_price"`

	// MarketCap is the token market capitalization in USD.
	MarketCap float64 `json:"market_cap"`
}

// TVLPoint is one entry of a protocol's historical TVL series.
type TVLPoint struct {
	Date   time.Time `json:"date"`
	TVLUSD float64   `json:"tvl_usd"`
}

// RiskBreakdown is the explainable decomposition of a risk score into its
// three weighted contributions. Total is the clamped sum of the parts.
type RiskBreakdown struct {
	// MarketRisk is the volatility contribution, at most 40.
	MarketRisk float64 `json:"market_risk_contribution"`

	// LiquidityRisk is the TVL-tier contribution, at most 24.
	LiquidityRisk float64 `json:"liquidity_risk_contribution"`

	// ProtocolRisk is the audit contribution, at most 30.
	ProtocolRisk float64 `json:"protocol_risk_contribution"`

	// Total is clamp(sum of contributions, 0, 100).
	Total float64 `json:"total"`
}

// ProtocolReport is the per-protocol record produced for the presentation
// layer. Availability flags let consumers decide whether a score computed
// from degraded zero-valued inputs should be displayed at all.
type ProtocolReport struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`

	TVLUSD              float64 `json:"tvl_usd"`
	Volatility24h       float64 `json:"volatility_24h"`
	Volatility7d        float64 `json:"volatility_7d"`
	CompositeVolatility float64 `json:"composite_volatility"`
	CurrentPrice        float64 `json:"current_price"`
	MarketCap           float64 `json:"market_cap"`
	AuditScore          float64 `json:"audit_score"`

	RiskScore     float64       `json:"risk_score"`
	RiskLevel     string        `json:"risk_level"`
	RiskBreakdown RiskBreakdown `json:"risk_breakdown"`

	// TVLAvailable and MarketAvailable report fetch success separately from
	// the score, since a zero TVL from a failed fetch is indistinguishable
	// from a genuine zero inside the scoring function itself.
	TVLAvailable    bool `json:"tvl_available"`
	MarketAvailable bool `json:"market_available"`

	History []TVLPoint `json:"history,omitempty"`

	FetchedAt time.Time `json:"fetched_at"`
}

// ComparisonEntry is one row of a multi-protocol comparison.
type ComparisonEntry struct {
	ID            string  `json:"id"`
	RiskScore     float64 `json:"risk_score"`
	TVLUSD        float64 `json:"tvl_usd"`
	Volatility24h float64 `json:"volatility_24h"`
	AuditScore    float64 `json:"audit_score"`
}

// Comparison is an ordered-by-risk-ascending set of comparison entries.
// Protocols whose fetch chain degraded to zero are dropped and counted.
type Comparison struct {
	Entries []ComparisonEntry `json:"entries"`
	Skipped int               `json:"skipped"`
}

// ScenarioPoint is one row of a volatility-shock scenario analysis.
type ScenarioPoint struct {
	Multiplier float64 `json:"multiplier"`
	Volatility float64 `json:"volatility"`
	RiskScore  float64 `json:"risk_score"`
}
