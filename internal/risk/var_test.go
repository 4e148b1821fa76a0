package risk

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/warrant-risk-engine/internal/marketdata"
	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
)

// fixedReturnsProvider serves a canned return series for every symbol.
type fixedReturnsProvider struct {
	returns []float64
}

func (p *fixedReturnsProvider) GetSnapshot(ctx context.Context, underlying string) (models.MarketSnapshot, error) {
	return models.MarketSnapshot{Underlying: underlying, SpotPrice: 50000, Volatility: 0.30}, nil
}

func (p *fixedReturnsProvider) GetHistoricalReturns(ctx context.Context, underlying string, windowDays int) ([]float64, error) {
	return p.returns, nil
}

func (p *fixedReturnsProvider) GetRiskFreeRate(ctx context.Context) (float64, error) {
	return 0.0376, nil
}

func tailHeavySample() []float64 {
	// Five known losses in the tail, the rest small gains. With 100
	// observations at 95% confidence the quantile lands on the fifth
	// smallest return.
	sample := []float64{-0.10, -0.09, -0.08, -0.07, -0.06}
	for len(sample) < 100 {
		sample = append(sample, 0.01)
	}
	return sample
}

func TestHistoricalVaRKnownSample(t *testing.T) {
	engine := NewMonteCarloRiskEngine(&fixedReturnsProvider{returns: tailHeavySample()}, 252, 2)

	res, err := engine.CalculateVaR(context.Background(), VaRRequest{
		Symbols:         []string{"VIC"},
		ConfidenceLevel: 0.95,
		HorizonDays:     1,
		Method:          HistoricalVaR,
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.06, res.VaRValue, 1e-12)
	assert.InDelta(t, 0.08, res.ExpectedShortfall, 1e-12)
	assert.Equal(t, "historical", res.Method)
}

func TestParametricVaRSquareRootOfTimeScaling(t *testing.T) {
	provider := &fixedReturnsProvider{returns: tailHeavySample()}
	engine := NewMonteCarloRiskEngine(provider, 252, 2)

	base := VaRRequest{
		Symbols:         []string{"VIC"},
		ConfidenceLevel: 0.99,
		HorizonDays:     1,
		Method:          ParametricVaR,
	}
	oneDay, err := engine.CalculateVaR(context.Background(), base)
	require.NoError(t, err)

	base.HorizonDays = 10
	tenDay, err := engine.CalculateVaR(context.Background(), base)
	require.NoError(t, err)

	assert.InDelta(t, math.Sqrt(10), tenDay.VaRValue/oneDay.VaRValue, 1e-9)
	assert.InDelta(t, math.Sqrt(10), tenDay.ExpectedShortfall/oneDay.ExpectedShortfall, 1e-9)
}

func TestExpectedShortfallDominatesVaR(t *testing.T) {
	provider := marketdata.NewSimulatedProvider(0.0376)
	engine := NewMonteCarloRiskEngine(provider, 252, 4)

	for _, method := range []VaRMethod{HistoricalVaR, ParametricVaR, MonteCarloVaR} {
		res, err := engine.CalculateVaR(context.Background(), VaRRequest{
			Symbols:         []string{"VIC", "VHM", "HPG"},
			ConfidenceLevel: 0.95,
			HorizonDays:     1,
			Method:          method,
			NumSimulations:  5000,
		})
		require.NoError(t, err, method.String())
		assert.GreaterOrEqual(t, res.ExpectedShortfall, res.VaRValue, method.String())
		assert.Greater(t, res.VaRValue, 0.0, method.String())
	}
}

func TestMonteCarloVaRIsReproducible(t *testing.T) {
	provider := marketdata.NewSimulatedProvider(0.0376)
	engine := NewMonteCarloRiskEngine(provider, 252, 4)

	req := VaRRequest{
		Symbols:         []string{"VIC"},
		ConfidenceLevel: 0.95,
		HorizonDays:     5,
		Method:          MonteCarloVaR,
		NumSimulations:  8000,
	}
	first, err := engine.CalculateVaR(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.CalculateVaR(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.VaRValue, second.VaRValue)
	assert.Equal(t, first.ExpectedShortfall, second.ExpectedShortfall)
	assert.Equal(t, 8000, first.NumSimulations)
}

func TestVaRRequestValidation(t *testing.T) {
	engine := NewMonteCarloRiskEngine(marketdata.NewSimulatedProvider(0.0376), 252, 2)

	cases := []struct {
		name string
		req  VaRRequest
	}{
		{"no symbols", VaRRequest{ConfidenceLevel: 0.95, HorizonDays: 1}},
		{"confidence too low", VaRRequest{Symbols: []string{"VIC"}, ConfidenceLevel: 0, HorizonDays: 1}},
		{"confidence too high", VaRRequest{Symbols: []string{"VIC"}, ConfidenceLevel: 1, HorizonDays: 1}},
		{"bad horizon", VaRRequest{Symbols: []string{"VIC"}, ConfidenceLevel: 0.95, HorizonDays: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.CalculateVaR(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
		})
	}
}

func TestSampleMetricsOnSimulatedReturns(t *testing.T) {
	engine := NewMonteCarloRiskEngine(marketdata.NewSimulatedProvider(0.0376), 252, 2)

	res, err := engine.CalculateVaR(context.Background(), VaRRequest{
		Symbols:         []string{"VIC"},
		ConfidenceLevel: 0.95,
		HorizonDays:     1,
		Method:          HistoricalVaR,
	})
	require.NoError(t, err)

	// The simulated feed draws from a 30% annualized vol process.
	assert.InDelta(t, 0.30, res.RiskMetrics.Volatility, 0.06)
	assert.False(t, math.IsNaN(res.RiskMetrics.Skewness))
	assert.False(t, math.IsNaN(res.RiskMetrics.Kurtosis))
}

func TestParseVaRMethod(t *testing.T) {
	m, ok := ParseVaRMethod("monte_carlo")
	assert.True(t, ok)
	assert.Equal(t, MonteCarloVaR, m)

	_, ok = ParseVaRMethod("bootstrap")
	assert.False(t, ok)
}
