package pricing

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

var stdNormal = distuv.UnitNormal

// PricingInput is everything a closed-form valuation needs. Rates,
// volatility and yields are annualized decimals; TimeToMaturity is in
// years.
type PricingInput struct {
	Spot            float64
	Strike          float64
	TimeToMaturity  float64
	RiskFreeRate    float64
	Volatility      float64
	DividendYield   float64
	ConversionRatio float64
	Type            models.OptionType
}

// NewPricingInput combines warrant reference data with a market
// snapshot. The snapshot's volatility and rate apply unless the caller
// overrides the spot.
func NewPricingInput(w models.WarrantSpec, m models.MarketSnapshot, now time.Time) PricingInput {
	return PricingInput{
		Spot:            m.SpotPrice,
		Strike:          w.Strike,
		TimeToMaturity:  w.TimeToMaturity(now),
		RiskFreeRate:    m.RiskFreeRate,
		Volatility:      m.Volatility,
		DividendYield:   w.DividendYield,
		ConversionRatio: w.ConversionRatio,
		Type:            w.Type,
	}
}

// Validate rejects inputs outside the pricing domain. Expired or
// degenerate contracts are an error, never clamped to a floor.
func (in PricingInput) Validate() error {
	switch {
	case in.Spot <= 0:
		return errors.InvalidInputf("spot price must be positive, got %v", in.Spot)
	case in.Strike <= 0:
		return errors.InvalidInputf("strike must be positive, got %v", in.Strike)
	case in.TimeToMaturity <= 0:
		return errors.InvalidInputf("time to maturity must be positive, got %v", in.TimeToMaturity)
	case in.Volatility <= 0:
		return errors.InvalidInputf("volatility must be positive, got %v", in.Volatility)
	case in.ConversionRatio <= 0:
		return errors.InvalidInputf("conversion ratio must be positive, got %v", in.ConversionRatio)
	}
	return nil
}

// GreeksEngine values covered warrants under Black-Scholes, including
// the second order greeks needed for Taylor P&L attribution.
type GreeksEngine struct {
	log *logger.Logger
}

func NewGreeksEngine() *GreeksEngine {
	return &GreeksEngine{
		log: logger.GetLogger("pricing.greeks"),
	}
}

func d1d2(in PricingInput) (float64, float64) {
	sqrtT := math.Sqrt(in.TimeToMaturity)
	d1 := (math.Log(in.Spot/in.Strike) +
		(in.RiskFreeRate-in.DividendYield+0.5*in.Volatility*in.Volatility)*in.TimeToMaturity) /
		(in.Volatility * sqrtT)
	return d1, d1 - in.Volatility*sqrtT
}

// callPrice is the forward Black-Scholes value per share of underlying.
func callPrice(in PricingInput, d1, d2 float64) float64 {
	return in.Spot*math.Exp(-in.DividendYield*in.TimeToMaturity)*stdNormal.CDF(d1) -
		in.Strike*math.Exp(-in.RiskFreeRate*in.TimeToMaturity)*stdNormal.CDF(d2)
}

// putFromParity derives the put value from the call. Parity keeps the
// two sides consistent to machine precision.
func putFromParity(in PricingInput, call float64) float64 {
	return call -
		in.Spot*math.Exp(-in.DividendYield*in.TimeToMaturity) +
		in.Strike*math.Exp(-in.RiskFreeRate*in.TimeToMaturity)
}

// PriceAndGreeks returns the warrant price and sensitivities, all
// scaled by the conversion ratio. Vega and Rho are per one percentage
// point; Theta and Charm are per calendar day; Vanna and Volga stay in
// decimal volatility units for use in Taylor expansions.
func (e *GreeksEngine) PriceAndGreeks(in PricingInput) (models.GreeksResult, error) {
	if err := in.Validate(); err != nil {
		return models.GreeksResult{}, err
	}

	S, K, T := in.Spot, in.Strike, in.TimeToMaturity
	r, q, sigma := in.RiskFreeRate, in.DividendYield, in.Volatility
	sqrtT := math.Sqrt(T)
	dfq := math.Exp(-q * T)
	dfr := math.Exp(-r * T)

	d1, d2 := d1d2(in)
	pdf1 := stdNormal.Prob(d1)
	call := callPrice(in, d1, d2)

	var price, delta, thetaAnnual, rho, intrinsic, charmDrift float64

	gamma := dfq * pdf1 / (S * sigma * sqrtT)
	vegaRaw := S * dfq * pdf1 * sqrtT

	// Charm shares a drift term between calls and puts.
	charmDrift = dfq * pdf1 * (2*(r-q)*T - d2*sigma*sqrtT) / (2 * T * sigma * sqrtT)

	var charmAnnual float64
	if in.Type == models.Call {
		price = call
		delta = dfq * stdNormal.CDF(d1)
		thetaAnnual = -S*dfq*pdf1*sigma/(2*sqrtT) -
			r*K*dfr*stdNormal.CDF(d2) +
			q*S*dfq*stdNormal.CDF(d1)
		rho = K * T * dfr * stdNormal.CDF(d2)
		intrinsic = math.Max(S-K, 0)
		charmAnnual = q*dfq*stdNormal.CDF(d1) - charmDrift
	} else {
		price = putFromParity(in, call)
		delta = dfq * (stdNormal.CDF(d1) - 1)
		thetaAnnual = -S*dfq*pdf1*sigma/(2*sqrtT) +
			r*K*dfr*stdNormal.CDF(-d2) -
			q*S*dfq*stdNormal.CDF(-d1)
		rho = -K * T * dfr * stdNormal.CDF(-d2)
		intrinsic = math.Max(K-S, 0)
		charmAnnual = -q*dfq*stdNormal.CDF(-d1) - charmDrift
	}

	vanna := -dfq * pdf1 * d2 / sigma
	volga := vegaRaw * d1 * d2 / sigma
	vetaAnnual := -S * dfq * pdf1 * sqrtT *
		(q + (r-q)*d1/(sigma*sqrtT) - (1+d1*d2)/(2*T))

	cr := in.ConversionRatio
	res := models.GreeksResult{
		Price:          price / cr,
		Delta:          delta / cr,
		Gamma:          gamma / cr,
		Vega:           vegaRaw / 100 / cr,
		Theta:          thetaAnnual / 365 / cr,
		Rho:            rho / 100 / cr,
		Vanna:          vanna / cr,
		Volga:          volga / cr,
		Charm:          charmAnnual / 365 / cr,
		Veta:           vetaAnnual / (100 * 365) / cr,
		IntrinsicValue: intrinsic / cr,
		Moneyness:      S / K,
	}
	res.TimeValue = res.Price - res.IntrinsicValue
	if res.Price != 0 {
		res.Elasticity = res.Delta * S / res.Price
	}

	if !res.IsFinite() {
		return models.GreeksResult{}, errors.NumericalInstabilityf(
			"non-finite greeks for strike %v expiry %vy", K, T)
	}
	return res, nil
}

// TaylorPnL expands the warrant value change for a joint spot, vol and
// time move. dSpot is an absolute price move, dVol a decimal
// volatility move, dTimeYears the elapsed time. Total is the exact sum
// of the component terms.
func (e *GreeksEngine) TaylorPnL(g models.GreeksResult, dSpot, dVol, dTimeYears float64) models.PnLBreakdown {
	b := models.PnLBreakdown{
		DeltaPnL: g.Delta * dSpot,
		GammaPnL: 0.5 * g.Gamma * dSpot * dSpot,
		// Vega is stored per percentage point; dVol arrives in decimal.
		VegaPnL:  g.Vega * 100 * dVol,
		VannaPnL: g.Vanna * dSpot * dVol,
		VolgaPnL: 0.5 * g.Volga * dVol * dVol,
		ThetaPnL: g.Theta * 365 * dTimeYears,
	}
	b.Total = b.DeltaPnL + b.GammaPnL + b.VegaPnL + b.VannaPnL + b.VolgaPnL + b.ThetaPnL
	return b
}

// ImpliedVolatility inverts the pricing formula by Newton-Raphson on
// the raw vega. targetPrice is the observed warrant price (already per
// warrant, i.e. divided by the conversion ratio).
func (e *GreeksEngine) ImpliedVolatility(in PricingInput, targetPrice float64) (float64, error) {
	if targetPrice <= 0 {
		return 0, errors.InvalidInputf("target price must be positive, got %v", targetPrice)
	}
	in.Volatility = 0.3
	if err := in.Validate(); err != nil {
		return 0, err
	}

	const (
		maxIter = 100
		tol     = 1e-8
	)
	target := targetPrice * in.ConversionRatio

	for i := 0; i < maxIter; i++ {
		d1, d2 := d1d2(in)
		price := callPrice(in, d1, d2)
		if in.Type == models.Put {
			price = putFromParity(in, price)
		}
		vega := in.Spot * math.Exp(-in.DividendYield*in.TimeToMaturity) *
			stdNormal.Prob(d1) * math.Sqrt(in.TimeToMaturity)

		diff := price - target
		if math.Abs(diff) < tol {
			return in.Volatility, nil
		}
		if vega < 1e-12 {
			break
		}
		next := in.Volatility - diff/vega
		if next <= 0 {
			next = in.Volatility / 2
		}
		in.Volatility = next
	}
	e.log.Warnf("implied volatility did not converge for strike %v", in.Strike)
	return 0, errors.NumericalInstability("implied volatility iteration did not converge")
}
