package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/warrant-risk-engine/internal/marketdata"
	"github.com/rzzdr/warrant-risk-engine/internal/pricing"
	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
)

var valuationTime = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

func testWarrant(symbol, underlying string, conversionRatio float64) models.WarrantSpec {
	return models.WarrantSpec{
		Symbol:          symbol,
		Underlying:      underlying,
		Issuer:          "SSI",
		Type:            models.Call,
		Strike:          50000,
		Maturity:        valuationTime.AddDate(0, 6, 0),
		ConversionRatio: conversionRatio,
	}
}

func newTestAggregator(t *testing.T, warrants ...models.WarrantSpec) *Aggregator {
	t.Helper()
	store := NewWarrantStore()
	provider := marketdata.NewSimulatedProvider(0.0376)
	for _, w := range warrants {
		require.NoError(t, store.Upsert(w))
		provider.SetBasePrice(w.Underlying, 52000)
	}
	agg := NewAggregator(store, provider, pricing.NewGreeksEngine())
	agg.now = func() time.Time { return valuationTime }
	return agg
}

func TestAggregateQuantityWeighting(t *testing.T) {
	agg := newTestAggregator(t, testWarrant("CVIC2501", "VIC", 1))

	single, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CVIC2501", Quantity: 1000},
	})
	require.NoError(t, err)

	double, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CVIC2501", Quantity: 2000},
	})
	require.NoError(t, err)

	assert.InDelta(t, 2*single.NetDelta, double.NetDelta, 1e-9)
	assert.InDelta(t, 2*single.NetVega, double.NetVega, 1e-9)
	assert.InDelta(t, 2*single.GrossNotional, double.GrossNotional, 1e-6)
	assert.Equal(t, 1, single.PositionCount)
}

func TestAggregateConversionRatio(t *testing.T) {
	agg := newTestAggregator(t,
		testWarrant("CVIC2501", "VIC", 1),
		testWarrant("CVIC2502", "VIC", 4),
	)

	full, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CVIC2501", Quantity: 1000},
	})
	require.NoError(t, err)

	quarter, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CVIC2502", Quantity: 1000},
	})
	require.NoError(t, err)

	// A 4:1 conversion ratio entitles each warrant to a quarter of a
	// share, so every greek shrinks by the same factor.
	assert.InDelta(t, full.NetDelta/4, quarter.NetDelta, 1e-9)
	assert.InDelta(t, full.NetGamma/4, quarter.NetGamma, 1e-12)
}

func TestAggregateShortPositionFlipsSign(t *testing.T) {
	agg := newTestAggregator(t, testWarrant("CVIC2501", "VIC", 1))

	long, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CVIC2501", Quantity: 1000},
	})
	require.NoError(t, err)

	short, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CVIC2501", Quantity: -1000},
	})
	require.NoError(t, err)

	assert.InDelta(t, -long.NetDelta, short.NetDelta, 1e-9)
	// Notional is exposure magnitude regardless of direction.
	assert.InDelta(t, long.GrossNotional, short.GrossNotional, 1e-6)
}

func TestAggregateMultiplePositionsSum(t *testing.T) {
	agg := newTestAggregator(t,
		testWarrant("CVIC2501", "VIC", 1),
		testWarrant("CHPG2501", "HPG", 2),
	)

	vicOnly, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CVIC2501", Quantity: 1000},
	})
	require.NoError(t, err)
	hpgOnly, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CHPG2501", Quantity: 500},
	})
	require.NoError(t, err)

	both, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CVIC2501", Quantity: 1000},
		{WarrantSymbol: "CHPG2501", Quantity: 500},
	})
	require.NoError(t, err)

	assert.InDelta(t, vicOnly.NetDelta+hpgOnly.NetDelta, both.NetDelta, 1e-9)
	assert.InDelta(t, vicOnly.NetTheta+hpgOnly.NetTheta, both.NetTheta, 1e-9)
	assert.Equal(t, 2, both.PositionCount)
	assert.Len(t, both.Positions, 2)
}

func TestAggregateUnknownWarrant(t *testing.T) {
	agg := newTestAggregator(t, testWarrant("CVIC2501", "VIC", 1))

	_, err := agg.Aggregate(context.Background(), []models.PortfolioPosition{
		{WarrantSymbol: "CXXX9999", Quantity: 100},
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestAggregateEmptyPortfolio(t *testing.T) {
	agg := newTestAggregator(t, testWarrant("CVIC2501", "VIC", 1))

	_, err := agg.Aggregate(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestUnderlyingsDistinctFirstSeen(t *testing.T) {
	agg := newTestAggregator(t,
		testWarrant("CVIC2501", "VIC", 1),
		testWarrant("CVIC2502", "VIC", 4),
		testWarrant("CHPG2501", "HPG", 2),
	)

	out, err := agg.Underlyings([]models.PortfolioPosition{
		{WarrantSymbol: "CVIC2501", Quantity: 1},
		{WarrantSymbol: "CHPG2501", Quantity: 1},
		{WarrantSymbol: "CVIC2502", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"VIC", "HPG"}, out)
}

func TestWarrantStoreValidation(t *testing.T) {
	store := NewWarrantStore()

	err := store.Upsert(models.WarrantSpec{Symbol: "", ConversionRatio: 1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))

	err = store.Upsert(models.WarrantSpec{Symbol: "CVIC2501", ConversionRatio: 0})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}
