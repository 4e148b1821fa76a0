package risk

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rzzdr/warrant-risk-engine/internal/marketdata"
	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

// VaRMethod selects the estimation technique.
type VaRMethod int

const (
	HistoricalVaR VaRMethod = iota
	ParametricVaR
	MonteCarloVaR
)

func (m VaRMethod) String() string {
	switch m {
	case ParametricVaR:
		return "parametric"
	case MonteCarloVaR:
		return "monte_carlo"
	default:
		return "historical"
	}
}

// ParseVaRMethod maps the wire representation to a VaRMethod.
func ParseVaRMethod(s string) (VaRMethod, bool) {
	switch s {
	case "historical":
		return HistoricalVaR, true
	case "parametric":
		return ParametricVaR, true
	case "monte_carlo", "montecarlo":
		return MonteCarloVaR, true
	}
	return HistoricalVaR, false
}

const tradingDaysPerYear = 252

// VaRRequest describes one value-at-risk calculation over a basket of
// underlyings, equally weighted.
type VaRRequest struct {
	Symbols         []string
	ConfidenceLevel float64
	HorizonDays     int
	Method          VaRMethod
	NumSimulations  int
}

func (r VaRRequest) validate() error {
	if len(r.Symbols) == 0 {
		return errors.InvalidInput("at least one portfolio symbol is required")
	}
	if r.ConfidenceLevel <= 0 || r.ConfidenceLevel >= 1 {
		return errors.InvalidInputf("confidence level must lie in (0, 1), got %v", r.ConfidenceLevel)
	}
	if r.HorizonDays <= 0 {
		return errors.InvalidInputf("time horizon must be positive, got %d", r.HorizonDays)
	}
	return nil
}

// MonteCarloRiskEngine estimates portfolio VaR and expected shortfall
// from historical return series, by resampling, a normal
// approximation, or GBM simulation.
type MonteCarloRiskEngine struct {
	provider       marketdata.Provider
	historicalDays int
	simWorkers     int
	log            *logger.Logger
}

func NewMonteCarloRiskEngine(provider marketdata.Provider, historicalDays, simWorkers int) *MonteCarloRiskEngine {
	if historicalDays <= 0 {
		historicalDays = tradingDaysPerYear
	}
	if simWorkers <= 0 {
		simWorkers = 4
	}
	return &MonteCarloRiskEngine{
		provider:       provider,
		historicalDays: historicalDays,
		simWorkers:     simWorkers,
		log:            logger.GetLogger("risk.var"),
	}
}

// CalculateVaR runs one estimation. VaR and expected shortfall come
// back as positive fractions of portfolio value, scaled to the
// requested horizon.
func (e *MonteCarloRiskEngine) CalculateVaR(ctx context.Context, req VaRRequest) (models.VaRResult, error) {
	if err := req.validate(); err != nil {
		return models.VaRResult{}, err
	}

	returns, err := e.portfolioReturns(ctx, req.Symbols)
	if err != nil {
		return models.VaRResult{}, err
	}
	if len(returns) < 2 {
		return models.VaRResult{}, errors.InvalidInputf(
			"need at least 2 return observations, got %d", len(returns))
	}

	result := models.VaRResult{
		Method:          req.Method.String(),
		ConfidenceLevel: req.ConfidenceLevel,
		TimeHorizon:     req.HorizonDays,
		RiskMetrics:     sampleMetrics(returns),
	}

	switch req.Method {
	case ParametricVaR:
		result.VaRValue, result.ExpectedShortfall = parametricVaR(
			returns, req.ConfidenceLevel, req.HorizonDays)
	case MonteCarloVaR:
		numSims := req.NumSimulations
		if numSims <= 0 {
			numSims = 10000
		}
		result.NumSimulations = numSims
		simulated, err := e.simulateReturns(ctx, returns, req.HorizonDays, numSims)
		if err != nil {
			return models.VaRResult{}, err
		}
		// The horizon is already inside the simulated paths.
		result.VaRValue, result.ExpectedShortfall = historicalVaR(
			simulated, req.ConfidenceLevel, 1)
	default:
		result.VaRValue, result.ExpectedShortfall = historicalVaR(
			returns, req.ConfidenceLevel, req.HorizonDays)
	}

	e.log.Infof("var %s cl=%.2f horizon=%dd: var=%.6f es=%.6f",
		result.Method, req.ConfidenceLevel, req.HorizonDays,
		result.VaRValue, result.ExpectedShortfall)
	return result, nil
}

// portfolioReturns blends the per-underlying daily return series into
// one equally weighted portfolio series, truncated to the shortest
// history.
func (e *MonteCarloRiskEngine) portfolioReturns(ctx context.Context, symbols []string) ([]float64, error) {
	series := make([][]float64, 0, len(symbols))
	minLen := math.MaxInt
	for _, sym := range symbols {
		rets, err := e.provider.GetHistoricalReturns(ctx, sym, e.historicalDays)
		if err != nil {
			return nil, errors.Wrapf(err, "historical returns for %s", sym)
		}
		if len(rets) < minLen {
			minLen = len(rets)
		}
		series = append(series, rets)
	}

	weight := 1.0 / float64(len(series))
	blended := make([]float64, 0, minLen)
	var dropped int
	for i := 0; i < minLen; i++ {
		var sum float64
		for _, s := range series {
			sum += s[i] * weight
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			dropped++
			continue
		}
		blended = append(blended, sum)
	}
	if dropped > 0 {
		e.log.Warnf("dropped %d non-finite return observations", dropped)
	}
	return blended, nil
}

// historicalVaR sorts the sample and reads the loss quantile. The
// expected shortfall is the mean of the tail at and beyond the
// quantile, which keeps ES >= VaR by construction.
func historicalVaR(returns []float64, confidence float64, horizonDays int) (float64, float64) {
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	n := len(sorted)
	idx := int(math.Ceil((1-confidence)*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}

	scale := math.Sqrt(float64(horizonDays))
	varValue := -sorted[idx] * scale

	var tailSum float64
	for i := 0; i <= idx; i++ {
		tailSum += sorted[i]
	}
	es := -tailSum / float64(idx+1) * scale

	if es < varValue {
		es = varValue
	}
	return varValue, es
}

// parametricVaR assumes normal daily returns and scales by the square
// root of the horizon.
func parametricVaR(returns []float64, confidence float64, horizonDays int) (float64, float64) {
	mu := stat.Mean(returns, nil)
	sigma := stat.StdDev(returns, nil)
	z := distuv.UnitNormal.Quantile(confidence)
	scale := math.Sqrt(float64(horizonDays))

	varValue := math.Abs(mu-z*sigma) * scale
	es := math.Abs(mu-sigma*distuv.UnitNormal.Prob(z)/(1-confidence)) * scale
	if es < varValue {
		es = varValue
	}
	return varValue, es
}

// simulateReturns draws GBM terminal returns over the horizon, fanned
// out across workers in fixed batches. Each worker owns a seeded
// source so results are reproducible.
func (e *MonteCarloRiskEngine) simulateReturns(ctx context.Context, sample []float64, horizonDays, numSims int) ([]float64, error) {
	mu := stat.Mean(sample, nil)
	sigma := stat.StdDev(sample, nil)
	if sigma <= 0 || math.IsNaN(sigma) {
		return nil, errors.NumericalInstability("return sample has no usable dispersion")
	}

	t := float64(horizonDays)
	drift := (mu - 0.5*sigma*sigma) * t
	diffusion := sigma * math.Sqrt(t)

	workers := e.simWorkers
	if workers > numSims {
		workers = 1
	}
	batches := make([][]float64, workers)
	perWorker := numSims / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		size := perWorker
		if w == workers-1 {
			size = numSims - perWorker*(workers-1)
		}
		rng := rand.New(rand.NewSource(int64(w) + 1))
		batch := &batches[w]
		g.Go(func() error {
			out := make([]float64, 0, size)
			for i := 0; i < size; i++ {
				if i%1024 == 0 {
					select {
					case <-gctx.Done():
						return gctx.Err()
					default:
					}
				}
				r := math.Exp(drift+diffusion*rng.NormFloat64()) - 1
				if math.IsNaN(r) || math.IsInf(r, 0) {
					continue
				}
				out = append(out, r)
			}
			*batch = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "monte carlo simulation")
	}

	simulated := make([]float64, 0, numSims)
	for _, b := range batches {
		simulated = append(simulated, b...)
	}
	if len(simulated) < 2 {
		return nil, errors.NumericalInstability("simulation produced too few finite returns")
	}
	return simulated, nil
}

// sampleMetrics summarizes the daily return distribution. Volatility
// and Sharpe are annualized.
func sampleMetrics(returns []float64) models.RiskMetrics {
	mu := stat.Mean(returns, nil)
	sigma := stat.StdDev(returns, nil)

	m := models.RiskMetrics{
		MeanReturn: mu,
		Volatility: sigma * math.Sqrt(tradingDaysPerYear),
		Skewness:   stat.Skew(returns, nil),
		Kurtosis:   stat.ExKurtosis(returns, nil),
	}
	if sigma > 0 {
		m.SharpeRatio = mu / sigma * math.Sqrt(tradingDaysPerYear)
	}
	return m
}
