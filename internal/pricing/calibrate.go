package pricing

import (
	"context"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

// paramBounds are the admissible calibration ranges for
// (kappa, theta, sigma, rho, v0).
var paramBounds = [5][2]float64{
	{0.1, 20.0},   // kappa
	{0.001, 0.4},  // theta
	{0.01, 0.6},   // sigma
	{-1.0, 1.0},   // rho
	{0.005, 0.25}, // v0
}

// HestonCalibrator fits Heston parameters to observed warrant quotes
// by minimizing price RMSE with Nelder-Mead.
type HestonCalibrator struct {
	pricer  *HestonPricer
	maxIter int
	tol     float64
	log     *logger.Logger
}

func NewHestonCalibrator(pricer *HestonPricer, maxIter int, tol float64) *HestonCalibrator {
	if maxIter <= 0 {
		maxIter = 500
	}
	if tol <= 0 {
		tol = 1e-6
	}
	return &HestonCalibrator{
		pricer:  pricer,
		maxIter: maxIter,
		tol:     tol,
		log:     logger.GetLogger("pricing.calibrate"),
	}
}

// foldIntoBounds maps an unconstrained optimizer coordinate into
// [lo, hi] by reflecting it at the boundaries. The mapping is
// continuous, so the simplex search never sees a discontinuity at a
// bound.
func foldIntoBounds(x, lo, hi float64) float64 {
	width := hi - lo
	r := math.Mod((x-lo)/width, 2)
	if r < 0 {
		r += 2
	}
	if r > 1 {
		r = 2 - r
	}
	return lo + r*width
}

func foldParams(x []float64) models.HestonParameters {
	return models.HestonParameters{
		Kappa: foldIntoBounds(x[0], paramBounds[0][0], paramBounds[0][1]),
		Theta: foldIntoBounds(x[1], paramBounds[1][0], paramBounds[1][1]),
		Sigma: foldIntoBounds(x[2], paramBounds[2][0], paramBounds[2][1]),
		Rho:   foldIntoBounds(x[3], paramBounds[3][0], paramBounds[3][1]),
		V0:    foldIntoBounds(x[4], paramBounds[4][0], paramBounds[4][1]),
	}
}

// RMSE prices every quote under the given parameters and returns the
// root mean squared pricing error. Quotes the transform cannot price
// contribute a large penalty instead of aborting the search.
func (c *HestonCalibrator) RMSE(params models.HestonParameters, quotes []models.WarrantQuote, spot, r, q float64) float64 {
	var sum float64
	for _, quote := range quotes {
		in := PricingInput{
			Spot:            spot,
			Strike:          quote.Strike,
			TimeToMaturity:  quote.TimeToMaturity,
			RiskFreeRate:    r,
			DividendYield:   q,
			ConversionRatio: 1,
			Type:            quote.Type,
		}
		model, err := c.pricer.Price(params, in)
		if err != nil {
			sum += spot * spot
			continue
		}
		diff := model - quote.MarketPrice
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(quotes)))
}

// Calibrate searches for the parameter set minimizing quote RMSE.
// Non-convergence is reported through Converged=false on the result,
// not as an error; the best parameters found are still returned.
func (c *HestonCalibrator) Calibrate(ctx context.Context, quotes []models.WarrantQuote, spot, r, q float64, initial models.HestonParameters) (models.CalibrationResult, error) {
	if len(quotes) == 0 {
		return models.CalibrationResult{}, errors.InvalidInput("calibration requires at least one quote")
	}
	if spot <= 0 {
		return models.CalibrationResult{}, errors.InvalidInputf("spot price must be positive, got %v", spot)
	}
	if err := initial.Validate(); err != nil {
		return models.CalibrationResult{}, errors.Wrap(err, "initial parameters")
	}

	start := time.Now()
	objective := func(x []float64) float64 {
		select {
		case <-ctx.Done():
			// Poison the objective so the search terminates quickly.
			return math.Inf(1)
		default:
		}
		return c.RMSE(foldParams(x), quotes, spot, r, q)
	}

	problem := optimize.Problem{Func: objective}
	x0 := []float64{initial.Kappa, initial.Theta, initial.Sigma, initial.Rho, initial.V0}
	settings := &optimize.Settings{
		MajorIterations: c.maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   c.tol,
			Iterations: 50,
		},
	}

	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return models.CalibrationResult{}, errors.Wrap(ctxErr, "calibration cancelled")
	}
	if result == nil {
		return models.CalibrationResult{}, errors.Wrap(err, "calibration failed")
	}

	converged := err == nil &&
		result.Status != optimize.IterationLimit &&
		result.Status != optimize.RuntimeLimit
	if !converged {
		c.log.Warnf("calibration did not converge: status=%v err=%v", result.Status, err)
	}

	params := foldParams(result.X)
	res := models.CalibrationResult{
		Params:     params,
		RMSE:       result.F,
		Iterations: result.MajorIterations,
		Converged:  converged,
		Feller:     params.FellerSatisfied(),
		Duration:   time.Since(start),
		Source:     "calibrated",
		Timestamp:  time.Now(),
	}
	if !res.Feller {
		c.log.Warnf("calibrated parameters violate the Feller condition: 2*%.4f*%.4f < %.4f^2",
			params.Kappa, params.Theta, params.Sigma)
	}
	c.log.Infof("calibration finished in %s: rmse=%.6f converged=%v", res.Duration, res.RMSE, converged)
	return res, nil
}
