package pricing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
)

func vnFallbackParams() models.HestonParameters {
	return models.HestonParameters{Kappa: 3.0, Theta: 0.10, Sigma: 0.40, Rho: -0.60, V0: 0.12}
}

func TestHestonDegenerateLimitMatchesBlackScholes(t *testing.T) {
	// With vanishing vol of vol and v0 pinned to theta, Heston collapses
	// to constant volatility sqrt(theta).
	params := models.HestonParameters{Kappa: 3.0, Theta: 0.09, Sigma: 0.001, Rho: 0, V0: 0.09}

	pricer := NewHestonPricer()
	engine := NewGreeksEngine()

	for _, optType := range []models.OptionType{models.Call, models.Put} {
		in := PricingInput{
			Spot:            50000,
			Strike:          50000,
			TimeToMaturity:  0.5,
			RiskFreeRate:    0.0376,
			Volatility:      0.30, // sqrt(0.09)
			ConversionRatio: 1,
			Type:            optType,
		}

		hestonPrice, err := pricer.Price(params, in)
		require.NoError(t, err)

		bs, err := engine.PriceAndGreeks(in)
		require.NoError(t, err)

		assert.InDelta(t, bs.Price, hestonPrice, 1.0,
			"%s price diverges from the constant-vol limit", optType)
	}
}

func TestHestonDegenerateLimitAcrossStrikes(t *testing.T) {
	params := models.HestonParameters{Kappa: 2.0, Theta: 0.0625, Sigma: 0.001, Rho: 0, V0: 0.0625}

	pricer := NewHestonPricer()
	engine := NewGreeksEngine()

	for _, strike := range []float64{40000, 45000, 50000, 55000, 60000} {
		in := PricingInput{
			Spot:            50000,
			Strike:          strike,
			TimeToMaturity:  1.0,
			RiskFreeRate:    0.0376,
			Volatility:      0.25,
			ConversionRatio: 1,
			Type:            models.Call,
		}
		hestonPrice, err := pricer.Price(params, in)
		require.NoError(t, err)
		bs, err := engine.PriceAndGreeks(in)
		require.NoError(t, err)
		assert.InDelta(t, bs.Price, hestonPrice, 1.0, "strike %v", strike)
	}
}

func TestHestonPutCallParity(t *testing.T) {
	params := vnFallbackParams()
	pricer := NewHestonPricer()

	in := PricingInput{
		Spot:            50000,
		Strike:          48000,
		TimeToMaturity:  0.75,
		RiskFreeRate:    0.0376,
		ConversionRatio: 1,
		Type:            models.Call,
	}
	call, err := pricer.Price(params, in)
	require.NoError(t, err)

	in.Type = models.Put
	put, err := pricer.Price(params, in)
	require.NoError(t, err)

	forward := in.Spot - in.Strike*math.Exp(-in.RiskFreeRate*in.TimeToMaturity)
	assert.InDelta(t, forward, call-put, 1e-6)
}

func TestHestonPriceBounds(t *testing.T) {
	params := vnFallbackParams()
	pricer := NewHestonPricer()

	in := PricingInput{
		Spot:            50000,
		Strike:          45000,
		TimeToMaturity:  0.5,
		RiskFreeRate:    0.0376,
		ConversionRatio: 1,
		Type:            models.Call,
	}
	price, err := pricer.Price(params, in)
	require.NoError(t, err)

	intrinsicFwd := in.Spot - in.Strike*math.Exp(-in.RiskFreeRate*in.TimeToMaturity)
	assert.Greater(t, price, intrinsicFwd)
	assert.Less(t, price, in.Spot)
}

func TestHestonConversionRatio(t *testing.T) {
	params := vnFallbackParams()
	pricer := NewHestonPricer()

	in := PricingInput{
		Spot:            50000,
		Strike:          50000,
		TimeToMaturity:  0.5,
		RiskFreeRate:    0.0376,
		ConversionRatio: 1,
		Type:            models.Call,
	}
	base, err := pricer.Price(params, in)
	require.NoError(t, err)

	in.ConversionRatio = 5
	scaled, err := pricer.Price(params, in)
	require.NoError(t, err)
	assert.InDelta(t, base/5, scaled, 1e-9)
}

func TestHestonRejectsInvalidParams(t *testing.T) {
	pricer := NewHestonPricer()
	in := PricingInput{Spot: 50000, Strike: 50000, TimeToMaturity: 0.5, ConversionRatio: 1}

	bad := []models.HestonParameters{
		{Kappa: 0, Theta: 0.1, Sigma: 0.4, Rho: -0.6, V0: 0.12},
		{Kappa: 3, Theta: 0, Sigma: 0.4, Rho: -0.6, V0: 0.12},
		{Kappa: 3, Theta: 0.1, Sigma: 0.4, Rho: -1.5, V0: 0.12},
		{Kappa: 3, Theta: 0.1, Sigma: 0.4, Rho: -0.6, V0: 0},
	}
	for i, params := range bad {
		_, err := pricer.Price(params, in)
		require.Error(t, err, "case %d", i)
		assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput), "case %d", i)
	}
}

func TestFellerCondition(t *testing.T) {
	assert.True(t, vnFallbackParams().FellerSatisfied())
	assert.False(t, models.HestonParameters{
		Kappa: 0.5, Theta: 0.04, Sigma: 0.8, Rho: 0, V0: 0.04,
	}.FellerSatisfied())
}

func TestCalibrationImprovesFit(t *testing.T) {
	trueParams := vnFallbackParams()
	// Coarser grid keeps the objective cheap without hurting accuracy
	// at these maturities.
	pricer := NewHestonPricer(WithGrid(0.75, 0.25, 1024))
	calibrator := NewHestonCalibrator(pricer, 200, 1e-6)

	const (
		spot = 50000.0
		r    = 0.0376
		q    = 0.0
	)
	strikes := []float64{45000, 47500, 50000, 52500, 55000}
	quotes := make([]models.WarrantQuote, 0, len(strikes))
	for _, k := range strikes {
		price, err := pricer.Price(trueParams, PricingInput{
			Spot: spot, Strike: k, TimeToMaturity: 0.5,
			RiskFreeRate: r, ConversionRatio: 1, Type: models.Call,
		})
		require.NoError(t, err)
		quotes = append(quotes, models.WarrantQuote{
			Strike: k, TimeToMaturity: 0.5, Type: models.Call, MarketPrice: price,
		})
	}

	initial := models.HestonParameters{Kappa: 2.0, Theta: 0.06, Sigma: 0.30, Rho: -0.30, V0: 0.08}
	initialRMSE := calibrator.RMSE(initial, quotes, spot, r, q)

	result, err := calibrator.Calibrate(context.Background(), quotes, spot, r, q, initial)
	require.NoError(t, err)

	assert.NoError(t, result.Params.Validate())
	assert.LessOrEqual(t, result.RMSE, initialRMSE)
	assert.Greater(t, result.Iterations, 0)
}

func TestCalibrationRejectsEmptyQuotes(t *testing.T) {
	pricer := NewHestonPricer(WithGrid(0.75, 0.25, 1024))
	calibrator := NewHestonCalibrator(pricer, 100, 1e-6)

	_, err := calibrator.Calibrate(context.Background(), nil, 50000, 0.0376, 0, vnFallbackParams())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}
