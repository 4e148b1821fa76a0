package portfolio

import (
	"context"
	"math"
	"time"

	"github.com/rzzdr/warrant-risk-engine/internal/marketdata"
	"github.com/rzzdr/warrant-risk-engine/internal/pricing"
	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

// Aggregator rolls per-warrant greeks up to portfolio level. The
// per-unit greeks already carry their conversion ratio, so aggregation
// is a plain quantity-weighted sum.
type Aggregator struct {
	warrants *WarrantStore
	provider marketdata.Provider
	engine   *pricing.GreeksEngine
	log      *logger.Logger
	now      func() time.Time
}

func NewAggregator(warrants *WarrantStore, provider marketdata.Provider, engine *pricing.GreeksEngine) *Aggregator {
	return &Aggregator{
		warrants: warrants,
		provider: provider,
		engine:   engine,
		log:      logger.GetLogger("portfolio.aggregator"),
		now:      time.Now,
	}
}

// Aggregate prices each position and sums quantity-weighted greeks.
// A position whose valuation produces a non-finite number fails the
// whole aggregation; partial sums are never returned.
func (a *Aggregator) Aggregate(ctx context.Context, positions []models.PortfolioPosition) (models.PortfolioGreeks, error) {
	if len(positions) == 0 {
		return models.PortfolioGreeks{}, errors.InvalidInput("portfolio has no positions")
	}

	now := a.now()
	pg := models.PortfolioGreeks{
		Positions: make([]models.PositionGreeks, 0, len(positions)),
		Timestamp: now,
	}

	for _, pos := range positions {
		warrant, err := a.warrants.Get(pos.WarrantSymbol)
		if err != nil {
			return models.PortfolioGreeks{}, err
		}
		snapshot, err := a.provider.GetSnapshot(ctx, warrant.Underlying)
		if err != nil {
			return models.PortfolioGreeks{}, errors.Wrapf(err, "snapshot for %s", warrant.Underlying)
		}

		greeks, err := a.engine.PriceAndGreeks(pricing.NewPricingInput(warrant, snapshot, now))
		if err != nil {
			return models.PortfolioGreeks{}, errors.Wrapf(err, "pricing %s", pos.WarrantSymbol)
		}

		q := pos.Quantity
		pg.NetDelta += q * greeks.Delta
		pg.NetGamma += q * greeks.Gamma
		pg.NetVega += q * greeks.Vega
		pg.NetTheta += q * greeks.Theta
		pg.NetRho += q * greeks.Rho
		pg.NetVanna += q * greeks.Vanna
		pg.NetVolga += q * greeks.Volga

		notional := math.Abs(q) * greeks.Price
		pg.GrossNotional += notional
		pg.PositionCount++
		pg.Positions = append(pg.Positions, models.PositionGreeks{
			WarrantSymbol: pos.WarrantSymbol,
			Underlying:    warrant.Underlying,
			Quantity:      q,
			PerUnit:       greeks,
			Notional:      notional,
		})
	}

	a.log.Debugf("aggregated %d positions: delta=%.2f gamma=%.6f vega=%.2f",
		pg.PositionCount, pg.NetDelta, pg.NetGamma, pg.NetVega)
	return pg, nil
}

// Underlyings returns the distinct underlying symbols of the
// positions, in first-seen order.
func (a *Aggregator) Underlyings(positions []models.PortfolioPosition) ([]string, error) {
	seen := make(map[string]bool)
	out := make([]string, 0, len(positions))
	for _, pos := range positions {
		w, err := a.warrants.Get(pos.WarrantSymbol)
		if err != nil {
			return nil, err
		}
		if !seen[w.Underlying] {
			seen[w.Underlying] = true
			out = append(out, w.Underlying)
		}
	}
	return out, nil
}
