// Package score implements the deterministic risk model: it maps raw protocol
// metrics to a bounded 0-100 score with an explainable three-factor breakdown.
package score

import (
	"math"

	"github.com/yourorg/defi-risk-gauge/internal/model"
	"github.com/sirupsen/logrus"
)

// Factor weights. Market risk dominates, liquidity and protocol risk split
// the remainder evenly.
const (
	MarketWeight    = 40.0
	LiquidityWeight = 30.0
	ProtocolWeight  = 30.0
)

// Risk level band boundaries on the total score.
const (
	lowRiskBound      = 30.0
	moderateRiskBound = 60.0
)

// TVL tier boundaries in USD. Bounds are closed on the lower end: a TVL of
// exactly 1e9 lands in the highest tier.
const (
	tierHighTVL = 1e9
	tierMidTVL  = 100e6
	tierLowTVL  = 10e6
)

// DefaultShockMultipliers is the volatility scenario grid used by the
// sensitivity analysis.
var DefaultShockMultipliers = []float64{0.5, 1, 1.5, 2, 3}

// CompositeVolatility blends the 24h and 7d absolute price changes. The 24h
// change is weighted far more heavily than the day-normalized share of the
// 7d change.
func CompositeVolatility(vol24h, vol7d float64) float64 {
	return math.Abs(vol24h)*0.7 + math.Abs(vol7d)*0.3/7
}

// LiquidityFactor buckets TVL into a risk tier. Lower TVL means higher risk;
// a zero TVL (including a degraded fetch defaulted to zero) lands in the
// worst tier.
func LiquidityFactor(tvlUSD float64) float64 {
	switch {
	case tvlUSD >= tierHighTVL:
		return 0.2
	case tvlUSD >= tierMidTVL:
		return 0.4
	case tvlUSD >= tierLowTVL:
		return 0.6
	default:
		return 0.8
	}
}

// MarketFactor normalizes composite volatility to a 0-1 risk factor,
// saturating at 100% volatility.
func MarketFactor(compositeVol float64) float64 {
	if compositeVol <= 0 {
		return 0
	}
	return math.Min(compositeVol/100.0, 1.0)
}

// ProtocolFactor converts an audit score to a risk factor; higher audit
// quality means lower risk.
func ProtocolFactor(auditScore float64) float64 {
	return 1.0 - auditScore
}

// Score computes the weighted composite risk score and its breakdown.
// Pure and deterministic: same inputs always produce the same breakdown.
func Score(tvlUSD, compositeVol, auditScore float64) model.RiskBreakdown {
	b := model.RiskBreakdown{
		MarketRisk:    MarketFactor(compositeVol) * MarketWeight,
		LiquidityRisk: LiquidityFactor(tvlUSD) * LiquidityWeight,
		ProtocolRisk:  ProtocolFactor(auditScore) * ProtocolWeight,
	}
	b.Total = clamp(b.MarketRisk+b.LiquidityRisk+b.ProtocolRisk, 0, 100)

	logrus.WithFields(logrus.Fields{
		"tvl_usd":        tvlUSD,
		"composite_vol":  compositeVol,
		"audit_score":    auditScore,
		"market_risk":    b.MarketRisk,
		"liquidity_risk": b.LiquidityRisk,
		"protocol_risk":  b.ProtocolRisk,
		"total":          b.Total,
	}).Debug("Risk score computed")

	return b
}

// Level classifies a total score into the display band.
func Level(total float64) string {
	switch {
	case total < lowRiskBound:
		return "low"
	case total < moderateRiskBound:
		return "moderate"
	default:
		return "high"
	}
}

// VolatilityShock evaluates the risk score under scaled volatility scenarios.
// A nil multiplier slice uses DefaultShockMultipliers.
func VolatilityShock(tvlUSD, compositeVol, auditScore float64, multipliers []float64) []model.ScenarioPoint {
	if len(multipliers) == 0 {
		multipliers = DefaultShockMultipliers
	}

	points := make([]model.ScenarioPoint, 0, len(multipliers))
	for _, m := range multipliers {
		shocked := compositeVol * m
		points = append(points, model.ScenarioPoint{
			Multiplier: m,
			Volatility: shocked,
			RiskScore:  Score(tvlUSD, shocked, auditScore).Total,
		})
	}
	return points
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
