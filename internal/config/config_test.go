package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Route: RouteConfig{
			SlippageToleranceBps: 50,
			Weights:              WeightsConfig{Output: 0.40, Fees: 0.25, GasEstimate: 0.15, Latency: 0.15, Reliability: 0.05},
			Envelopes:            EnvelopesConfig{OutputAmount: 1e12, FeeSaturation: 0.01, GasEstimate: 200000, LatencyMs: 3000},
		},
		Breaker: BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2},
	}
}

func TestValidate_AcceptsDefaultShapedConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsWeightsNotSummingToOne(t *testing.T) {
	cfg := validConfig()
	cfg.Route.Weights.Output = 0.9
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveEnvelope(t *testing.T) {
	cfg := validConfig()
	cfg.Route.Envelopes.GasEstimate = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeSlippage(t *testing.T) {
	cfg := validConfig()
	cfg.Route.SlippageToleranceBps = 0
	assert.Error(t, cfg.Validate())

	cfg2 := validConfig()
	cfg2.Route.SlippageToleranceBps = 10001
	assert.Error(t, cfg2.Validate())
}

func TestValidate_RejectsNonPositiveBreakerThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Breaker.FailureThreshold = 0
	assert.Error(t, cfg.Validate())
}
