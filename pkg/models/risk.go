package models

import (
	"math"
	"time"
)

// GreeksResult holds the theoretical price and sensitivities of one
// warrant, already scaled by its conversion ratio. Vega and Rho are per
// one percentage point move, Theta is per calendar day.
type GreeksResult struct {
	Price float64 `json:"price"`
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Rho   float64 `json:"rho"`

	// Second order.
	Vanna float64 `json:"vanna"`
	Volga float64 `json:"volga"`
	Charm float64 `json:"charm"`
	Veta  float64 `json:"veta"`

	IntrinsicValue float64 `json:"intrinsic_value"`
	TimeValue      float64 `json:"time_value"`
	Moneyness      float64 `json:"moneyness"`
	Elasticity     float64 `json:"elasticity"`
}

// IsFinite reports whether every field is a usable number. Results
// failing this must never be aggregated.
func (g GreeksResult) IsFinite() bool {
	for _, v := range []float64{
		g.Price, g.Delta, g.Gamma, g.Vega, g.Theta, g.Rho,
		g.Vanna, g.Volga, g.Charm, g.Veta,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PnLBreakdown decomposes a Taylor expansion of the warrant value into
// per-greek terms. Total is the exact sum of the components.
type PnLBreakdown struct {
	DeltaPnL float64 `json:"delta_pnl"`
	GammaPnL float64 `json:"gamma_pnl"`
	VegaPnL  float64 `json:"vega_pnl"`
	VannaPnL float64 `json:"vanna_pnl"`
	VolgaPnL float64 `json:"volga_pnl"`
	ThetaPnL float64 `json:"theta_pnl"`
	Total    float64 `json:"total_pnl"`
}

// PortfolioPosition is a holding of one warrant.
type PortfolioPosition struct {
	WarrantSymbol string  `json:"warrant_symbol"`
	Quantity      float64 `json:"quantity"`
}

// Portfolio is a collection of warrant positions.
type Portfolio struct {
	ID        string              `json:"id"`
	Positions []PortfolioPosition `json:"positions"`
	Updated   time.Time           `json:"updated"`
}

// PositionGreeks is the contribution of one position to the portfolio
// aggregates.
type PositionGreeks struct {
	WarrantSymbol string       `json:"warrant_symbol"`
	Underlying    string       `json:"underlying"`
	Quantity      float64      `json:"quantity"`
	PerUnit       GreeksResult `json:"per_unit"`
	Notional      float64      `json:"notional"`
}

// PortfolioGreeks holds position-weighted net sensitivities.
type PortfolioGreeks struct {
	NetDelta float64 `json:"net_delta"`
	NetGamma float64 `json:"net_gamma"`
	NetVega  float64 `json:"net_vega"`
	NetTheta float64 `json:"net_theta"`
	NetRho   float64 `json:"net_rho"`
	NetVanna float64 `json:"net_vanna"`
	NetVolga float64 `json:"net_volga"`

	GrossNotional float64          `json:"gross_notional"`
	PositionCount int              `json:"position_count"`
	Positions     []PositionGreeks `json:"positions,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// RiskMetrics are distribution diagnostics of the return sample behind
// a VaR figure.
type RiskMetrics struct {
	MeanReturn  float64 `json:"mean_return"`
	Volatility  float64 `json:"volatility"`
	Skewness    float64 `json:"skewness"`
	Kurtosis    float64 `json:"kurtosis"`
	SharpeRatio float64 `json:"sharpe_ratio"`
}

// VaRResult is the outcome of one value-at-risk calculation. VaRValue
// and ExpectedShortfall are positive fractions of portfolio value.
type VaRResult struct {
	VaRValue          float64     `json:"var_value"`
	ExpectedShortfall float64     `json:"expected_shortfall"`
	RiskMetrics       RiskMetrics `json:"risk_metrics"`
	Method            string      `json:"method"`
	ConfidenceLevel   float64     `json:"confidence_level"`
	TimeHorizon       int         `json:"time_horizon"`
	NumSimulations    int         `json:"num_simulations,omitempty"`
}

// CovarianceVaRResult is a greeks-based VaR with its decomposition.
// DiversificationBenefit is the amount saved versus summing the
// component VaRs independently; it is nonnegative whenever |rho| < 1.
type CovarianceVaRResult struct {
	CovarianceVaR          float64 `json:"covariance_var"`
	GammaVaR               float64 `json:"gamma_var"`
	ThetaVaR               float64 `json:"theta_var"`
	TotalVaR               float64 `json:"total_var"`
	DeltaComponentVaR      float64 `json:"delta_component_var"`
	VegaComponentVaR       float64 `json:"vega_component_var"`
	LinearSumVaR           float64 `json:"linear_sum_var"`
	DiversificationBenefit float64 `json:"diversification_benefit"`
	ConfidenceLevel        float64 `json:"confidence_level"`
	TimeHorizon            int     `json:"time_horizon"`
}

// StressScenario is one hypothetical market move. PriceShock and
// VolShock are fractional, RateShock is absolute.
type StressScenario struct {
	Name       string  `json:"name"`
	PriceShock float64 `json:"price_shock"`
	VolShock   float64 `json:"vol_shock"`
	RateShock  float64 `json:"rate_shock"`
}

// StressResult is the portfolio impact of one scenario. Loss is
// positive when the portfolio loses money.
type StressResult struct {
	ScenarioName      string  `json:"scenario_name"`
	PortfolioValue    float64 `json:"portfolio_value"`
	Loss              float64 `json:"loss"`
	LossPct           float64 `json:"loss_pct"`
	DeltaContribution float64 `json:"delta_contribution"`
	GammaContribution float64 `json:"gamma_contribution"`
	VegaContribution  float64 `json:"vega_contribution"`
	ThetaContribution float64 `json:"theta_contribution"`
}

// StressRecommendation summarizes the worst observed outcome into an
// actionable band.
type StressRecommendation struct {
	RiskLevel         string  `json:"risk_level"`
	MaxLossPct        float64 `json:"max_loss_pct"`
	RecommendedAction string  `json:"recommended_action"`
}

// StressTestReport is the full stress run. WorstCase is always set
// when at least one scenario was evaluated.
type StressTestReport struct {
	Results         []StressResult       `json:"stress_results"`
	WorstCase       *StressResult        `json:"worst_case_scenario"`
	Recommendations StressRecommendation `json:"recommendations"`
}
