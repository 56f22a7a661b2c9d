// Package routing implements the weighted multi-criteria route engine:
// fan-out across adapters, per-quote scoring and ranking.
package routing

import (
	"time"

	"github.com/DimaJoyti/dex-router/internal/core"
)

// Weights holds the five scoring dimensions. Must sum to 1.0.
type Weights struct {
	Output      float64
	Fees        float64
	GasEstimate float64
	Latency     float64
	Reliability float64
}

// DefaultWeights mirrors the router's out-of-the-box tuning.
func DefaultWeights() Weights {
	return Weights{Output: 0.40, Fees: 0.25, GasEstimate: 0.15, Latency: 0.15, Reliability: 0.05}
}

// Envelopes holds the normalization constants scoring divides by before
// clamping to [0, 1]. These were magic numbers; config makes them tunable
// per deployment instead of requiring a code change.
type Envelopes struct {
	OutputAmount float64
	FeeSaturation float64
	GasEstimate   float64
	LatencyMs     float64
}

// DefaultEnvelopes mirrors the router's out-of-the-box normalization.
func DefaultEnvelopes() Envelopes {
	return Envelopes{OutputAmount: 1e12, FeeSaturation: 0.01, GasEstimate: 200000.0, LatencyMs: 3000.0}
}

const defaultGasUnits = 100000

// reliabilityTable is the static per-provider reliability prior. Looked
// up directly; there is no constant fallback path that shadows it.
var reliabilityTable = map[string]float64{
	"jupiter": 0.95,
	"okx":     0.90,
}

const defaultReliability = 0.5

// reliabilityFor returns the provider's static reliability score,
// falling back to defaultReliability only for providers absent from the
// table.
func reliabilityFor(provider string) float64 {
	if score, ok := reliabilityTable[provider]; ok {
		return score
	}
	return defaultReliability
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes the five sub-scores and the weighted totalScore for one
// ranked candidate, per the router's normalization envelopes.
func Score(quote core.NormalizedQuote, responseTime time.Duration, weights Weights, envelopes Envelopes) core.RouteScore {
	outAmountF, _ := quote.OutAmount.Float64()
	outputScore := clampUnit(outAmountF / envelopes.OutputAmount)

	var feesScore float64
	if quote.PlatformFee != nil && !quote.InAmount.IsZero() {
		ratio := quote.PlatformFee.Amount.Div(quote.InAmount)
		ratioF, _ := ratio.Float64()
		feesScore = clampUnit((ratioF) / envelopes.FeeSaturation)
	}

	gasUnits := quote.GasEstimate
	if gasUnits <= 0 {
		gasUnits = defaultGasUnits
	}
	gasScore := clampUnit(float64(gasUnits) / envelopes.GasEstimate)

	latencyMs := float64(responseTime / time.Millisecond)
	latencyScore := clampUnit(latencyMs / envelopes.LatencyMs)

	reliabilityScore := reliabilityFor(quote.Provider)

	total := weights.Output*outputScore +
		weights.Fees*(1-feesScore) +
		weights.GasEstimate*(1-gasScore) +
		weights.Latency*(1-latencyScore) +
		weights.Reliability*reliabilityScore

	return core.RouteScore{
		OutputAmount: outputScore,
		Fees:         feesScore,
		GasEstimate:  gasScore,
		Latency:      latencyScore,
		Reliability:  reliabilityScore,
		TotalScore:   clampUnit(total),
	}
}

// lowLatencyMetric implements the favorLowLatency policy: a
// latency-biased linear combination distinct from the weighted total.
func lowLatencyMetric(score core.RouteScore) float64 {
	return 0.6*(1-score.Latency) + 0.4*score.OutputAmount
}

// rankingMetric returns the metric ranking is ordered by, given the
// active policy.
func rankingMetric(ranked core.RankedQuote, favorLowLatency bool) float64 {
	if favorLowLatency {
		return lowLatencyMetric(ranked.Score)
	}
	return ranked.Score.TotalScore
}
