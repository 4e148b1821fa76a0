package risk

import (
	"math"

	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

// StressInput carries the portfolio state a stress run evaluates
// against. Spot is the reference underlying level the greeks were
// computed at; BaseValue is the current portfolio value.
type StressInput struct {
	Greeks      models.PortfolioGreeks
	Spot        float64
	BaseValue   float64
	HorizonDays int
}

// StressTestEngine revalues the portfolio under hypothetical market
// moves through a greeks expansion. Every scenario is evaluated on
// every run; the result always names a worst case.
type StressTestEngine struct {
	log *logger.Logger
}

func NewStressTestEngine() *StressTestEngine {
	return &StressTestEngine{
		log: logger.GetLogger("risk.stress"),
	}
}

// DefaultScenarios is the standing scenario book applied when a caller
// does not supply its own.
func DefaultScenarios() []models.StressScenario {
	return []models.StressScenario{
		{Name: "market_crash", PriceShock: -0.20, VolShock: 0.15, RateShock: 0.005},
		{Name: "market_rally", PriceShock: 0.15, VolShock: -0.05, RateShock: 0},
		{Name: "vol_spike", PriceShock: -0.05, VolShock: 0.25, RateShock: 0},
		{Name: "vol_crush", PriceShock: 0.02, VolShock: -0.15, RateShock: 0},
		{Name: "rate_hike", PriceShock: -0.03, VolShock: 0.02, RateShock: 0.01},
		{Name: "flash_crash", PriceShock: -0.10, VolShock: 0.30, RateShock: 0},
	}
}

// Run applies each scenario to the portfolio greeks. Contributions are
// first order in each factor except gamma, which captures the price
// convexity. The rate shock is carried in the scenario description but
// enters no P&L term; rho exposure of listed warrants is negligible at
// these horizons.
func (e *StressTestEngine) Run(in StressInput, scenarios []models.StressScenario) (models.StressTestReport, error) {
	if in.BaseValue <= 0 {
		return models.StressTestReport{}, errors.InvalidInputf(
			"base portfolio value must be positive, got %v", in.BaseValue)
	}
	if in.Spot <= 0 {
		return models.StressTestReport{}, errors.InvalidInputf(
			"spot price must be positive, got %v", in.Spot)
	}
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	horizon := in.HorizonDays
	if horizon <= 0 {
		horizon = 1
	}

	report := models.StressTestReport{
		Results: make([]models.StressResult, 0, len(scenarios)),
	}

	var worst *models.StressResult
	for _, sc := range scenarios {
		priceMove := sc.PriceShock * in.Spot

		deltaPnL := in.Greeks.NetDelta * priceMove
		gammaPnL := 0.5 * in.Greeks.NetGamma * priceMove * priceMove
		// Vega per percentage point, shock in decimal.
		vegaPnL := in.Greeks.NetVega * 100 * sc.VolShock
		thetaPnL := in.Greeks.NetTheta * float64(horizon)

		total := deltaPnL + gammaPnL + vegaPnL + thetaPnL
		if math.IsNaN(total) || math.IsInf(total, 0) {
			return models.StressTestReport{}, errors.NumericalInstabilityf(
				"scenario %q produced non-finite P&L", sc.Name)
		}

		res := models.StressResult{
			ScenarioName:      sc.Name,
			PortfolioValue:    in.BaseValue + total,
			Loss:              -total,
			LossPct:           -total / in.BaseValue * 100,
			DeltaContribution: deltaPnL,
			GammaContribution: gammaPnL,
			VegaContribution:  vegaPnL,
			ThetaContribution: thetaPnL,
		}
		report.Results = append(report.Results, res)
		if worst == nil || res.Loss > worst.Loss {
			last := report.Results[len(report.Results)-1]
			worst = &last
		}
	}

	report.WorstCase = worst
	report.Recommendations = recommend(worst.LossPct)

	e.log.Infof("stress run over %d scenarios: worst=%s loss=%.2f (%.2f%%)",
		len(scenarios), worst.ScenarioName, worst.Loss, worst.LossPct)
	return report, nil
}

// recommend bands the worst observed loss into an action level.
func recommend(maxLossPct float64) models.StressRecommendation {
	rec := models.StressRecommendation{MaxLossPct: maxLossPct}
	switch {
	case maxLossPct > 30:
		rec.RiskLevel = "CRITICAL"
		rec.RecommendedAction = "Reduce position sizes immediately and add downside hedges"
	case maxLossPct > 20:
		rec.RiskLevel = "HIGH"
		rec.RecommendedAction = "Hedge delta exposure and review concentration limits"
	case maxLossPct > 10:
		rec.RiskLevel = "MEDIUM"
		rec.RecommendedAction = "Monitor exposures closely and prepare hedging orders"
	default:
		rec.RiskLevel = "LOW"
		rec.RecommendedAction = "Exposures within tolerance; no action required"
	}
	return rec
}
