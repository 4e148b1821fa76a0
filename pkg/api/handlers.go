package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/warrant-risk-engine/internal/kafka"
	"github.com/rzzdr/warrant-risk-engine/internal/marketdata"
	"github.com/rzzdr/warrant-risk-engine/internal/portfolio"
	"github.com/rzzdr/warrant-risk-engine/internal/pricing"
	"github.com/rzzdr/warrant-risk-engine/internal/risk"
	"github.com/rzzdr/warrant-risk-engine/pkg/metrics"
	"github.com/rzzdr/warrant-risk-engine/pkg/models"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
	"github.com/rzzdr/warrant-risk-engine/pkg/utils/logger"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	warrants     *portfolio.WarrantStore
	aggregator   *portfolio.Aggregator
	provider     marketdata.Provider
	greeksEngine *pricing.GreeksEngine
	calibrator   *pricing.HestonCalibrator
	calibrations *marketdata.CalibrationCache
	varEngine    *risk.MonteCarloRiskEngine
	covEngine    *risk.CovarianceVaREngine
	stressEngine *risk.StressTestEngine
	publisher    *kafka.RiskPublisher
	recorder     *metrics.Recorder
	log          *logger.Logger
	now          func() time.Time
}

// HandlerDeps bundles the engines the API fronts. Publisher and
// Recorder may be nil.
type HandlerDeps struct {
	Warrants     *portfolio.WarrantStore
	Aggregator   *portfolio.Aggregator
	Provider     marketdata.Provider
	GreeksEngine *pricing.GreeksEngine
	Calibrator   *pricing.HestonCalibrator
	Calibrations *marketdata.CalibrationCache
	VaREngine    *risk.MonteCarloRiskEngine
	CovEngine    *risk.CovarianceVaREngine
	StressEngine *risk.StressTestEngine
	Publisher    *kafka.RiskPublisher
	Recorder     *metrics.Recorder
}

// CreateHandlers creates new API handlers
func CreateHandlers(deps HandlerDeps) *Handlers {
	return &Handlers{
		warrants:     deps.Warrants,
		aggregator:   deps.Aggregator,
		provider:     deps.Provider,
		greeksEngine: deps.GreeksEngine,
		calibrator:   deps.Calibrator,
		calibrations: deps.Calibrations,
		varEngine:    deps.VaREngine,
		covEngine:    deps.CovEngine,
		stressEngine: deps.StressEngine,
		publisher:    deps.Publisher,
		recorder:     deps.Recorder,
		log:          logger.GetLogger("api.handlers"),
		now:          time.Now,
	}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.TypeOf(err) {
	case errors.ErrorTypeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrorTypeRateLimited:
		status = http.StatusTooManyRequests
	case errors.ErrorTypeUpstreamData:
		status = http.StatusBadGateway
	case errors.ErrorTypeNumericalInstability:
		status = http.StatusUnprocessableEntity
	}
	if status >= 500 {
		h.log.Errorf("request failed: %v", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// HealthCheckHandler handles health check requests
func (h *Handlers) HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type calculateVaRRequest struct {
	PortfolioSymbols []string `json:"portfolio_symbols" binding:"required"`
	ConfidenceLevel  float64  `json:"confidence_level"`
	TimeHorizon      int      `json:"time_horizon"`
	Method           string   `json:"method"`
	NumSimulations   int      `json:"num_simulations"`
}

// CalculateVaRHandler estimates portfolio VaR and expected shortfall.
func (h *Handlers) CalculateVaRHandler(c *gin.Context) {
	var req calculateVaRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errors.InvalidInputf("invalid request body: %v", err))
		return
	}
	if req.ConfidenceLevel == 0 {
		req.ConfidenceLevel = 0.95
	}
	if req.TimeHorizon == 0 {
		req.TimeHorizon = 1
	}
	if req.Method == "" {
		req.Method = "historical"
	}
	method, ok := risk.ParseVaRMethod(req.Method)
	if !ok {
		h.writeError(c, errors.InvalidInputf("unknown VaR method %q", req.Method))
		return
	}

	start := h.now()
	result, err := h.varEngine.CalculateVaR(c.Request.Context(), risk.VaRRequest{
		Symbols:         req.PortfolioSymbols,
		ConfidenceLevel: req.ConfidenceLevel,
		HorizonDays:     req.TimeHorizon,
		Method:          method,
		NumSimulations:  req.NumSimulations,
	})
	if err != nil {
		if h.recorder != nil {
			h.recorder.RecordRiskCalculationError("var")
		}
		h.writeError(c, err)
		return
	}
	if h.recorder != nil {
		h.recorder.RecordRiskCalculation("var", result.Method, h.now().Sub(start))
		h.recorder.RecordVaR(result.Method, result.ConfidenceLevel, result.TimeHorizon,
			result.VaRValue, result.ExpectedShortfall)
	}
	if h.publisher != nil {
		if err := h.publisher.PublishVaR(c.Request.Context(), req.PortfolioSymbols, result); err != nil {
			h.log.Warnf("var publish failed: %v", err)
		}
	}

	c.JSON(http.StatusOK, result)
}

type stressTestRequest struct {
	PortfolioSymbols   []string                   `json:"portfolio_symbols" binding:"required"`
	Positions          []models.PortfolioPosition `json:"positions"`
	StressScenarios    []models.StressScenario    `json:"stress_scenarios"`
	BasePortfolioValue float64                    `json:"base_portfolio_value" binding:"required"`
	TimeHorizon        int                        `json:"time_horizon"`
}

// RunStressTestHandler evaluates the scenario book against the current
// portfolio greeks. When explicit positions are omitted, each named
// warrant enters with a standard lot of 10000 units.
func (h *Handlers) RunStressTestHandler(c *gin.Context) {
	var req stressTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errors.InvalidInputf("invalid request body: %v", err))
		return
	}

	positions := req.Positions
	if len(positions) == 0 {
		positions = make([]models.PortfolioPosition, 0, len(req.PortfolioSymbols))
		for _, sym := range req.PortfolioSymbols {
			positions = append(positions, models.PortfolioPosition{WarrantSymbol: sym, Quantity: 10000})
		}
	}

	ctx := c.Request.Context()
	start := h.now()
	pg, err := h.aggregator.Aggregate(ctx, positions)
	if err != nil {
		h.writeError(c, err)
		return
	}
	spot, err := h.referenceSpot(c, positions)
	if err != nil {
		h.writeError(c, err)
		return
	}

	report, err := h.stressEngine.Run(risk.StressInput{
		Greeks:      pg,
		Spot:        spot,
		BaseValue:   req.BasePortfolioValue,
		HorizonDays: req.TimeHorizon,
	}, req.StressScenarios)
	if err != nil {
		if h.recorder != nil {
			h.recorder.RecordRiskCalculationError("stress_test")
		}
		h.writeError(c, err)
		return
	}
	if h.recorder != nil {
		h.recorder.RecordRiskCalculation("stress_test", "taylor", h.now().Sub(start))
	}
	if h.publisher != nil {
		if err := h.publisher.PublishStressAlert(ctx, report); err != nil {
			h.log.Warnf("stress alert publish failed: %v", err)
		}
	}

	c.JSON(http.StatusOK, report)
}

// referenceSpot is the snapshot level of the first position's
// underlying; scenario price shocks are expressed against it.
func (h *Handlers) referenceSpot(c *gin.Context, positions []models.PortfolioPosition) (float64, error) {
	w, err := h.warrants.Get(positions[0].WarrantSymbol)
	if err != nil {
		return 0, err
	}
	snap, err := h.provider.GetSnapshot(c.Request.Context(), w.Underlying)
	if err != nil {
		return 0, err
	}
	return snap.SpotPrice, nil
}

// GetGreeksHandler values one warrant and returns its sensitivities.
// An optional spot_price query parameter overrides the live snapshot.
func (h *Handlers) GetGreeksHandler(c *gin.Context) {
	symbol := c.Param("symbol")
	warrant, err := h.warrants.Get(symbol)
	if err != nil {
		h.writeError(c, err)
		return
	}
	snap, err := h.provider.GetSnapshot(c.Request.Context(), warrant.Underlying)
	if err != nil {
		h.writeError(c, err)
		return
	}

	in := pricing.NewPricingInput(warrant, snap, h.now())
	if raw := c.Query("spot_price"); raw != "" {
		var spot float64
		if err := bindFloat(raw, &spot); err != nil {
			h.writeError(c, errors.InvalidInputf("invalid spot_price %q", raw))
			return
		}
		in.Spot = spot
	}

	greeks, err := h.greeksEngine.PriceAndGreeks(in)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":            symbol,
		"theoretical_price": greeks.Price,
		"greeks": gin.H{
			"delta": greeks.Delta,
			"gamma": greeks.Gamma,
			"vega":  greeks.Vega,
			"theta": greeks.Theta,
			"rho":   greeks.Rho,
			"vanna": greeks.Vanna,
			"volga": greeks.Volga,
			"charm": greeks.Charm,
			"veta":  greeks.Veta,
		},
		"parameters": gin.H{
			"spot_price":       in.Spot,
			"strike_price":     in.Strike,
			"time_to_maturity": in.TimeToMaturity,
			"risk_free_rate":   in.RiskFreeRate,
			"volatility":       in.Volatility,
			"dividend_yield":   in.DividendYield,
			"conversion_ratio": in.ConversionRatio,
			"option_type":      in.Type.String(),
		},
		"stale_market_data": snap.Stale,
	})
}

type taylorSeriesRequest struct {
	Symbol          string  `json:"symbol" binding:"required"`
	SpotPrice       float64 `json:"spot_price"`
	PriceShock      float64 `json:"price_shock"`
	VolatilityShock float64 `json:"volatility_shock"`
	TimeDecay       float64 `json:"time_decay"`
}

// AnalyzeTaylorSeriesHandler compares the greeks expansion of a shock
// against a full revaluation. The residual between the first order
// expansion and the exact reprice is the hedging error; the vanna and
// volga cross terms explain most of it.
func (h *Handlers) AnalyzeTaylorSeriesHandler(c *gin.Context) {
	var req taylorSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errors.InvalidInputf("invalid request body: %v", err))
		return
	}

	warrant, err := h.warrants.Get(req.Symbol)
	if err != nil {
		h.writeError(c, err)
		return
	}
	snap, err := h.provider.GetSnapshot(c.Request.Context(), warrant.Underlying)
	if err != nil {
		h.writeError(c, err)
		return
	}

	in := pricing.NewPricingInput(warrant, snap, h.now())
	if req.SpotPrice > 0 {
		in.Spot = req.SpotPrice
	}
	greeks, err := h.greeksEngine.PriceAndGreeks(in)
	if err != nil {
		h.writeError(c, err)
		return
	}

	dSpot := req.PriceShock * in.Spot
	dVol := req.VolatilityShock
	dTimeYears := req.TimeDecay / 365

	breakdown := h.greeksEngine.TaylorPnL(greeks, dSpot, dVol, dTimeYears)

	// Exact revaluation under the shocked state.
	shocked := in
	shocked.Spot += dSpot
	shocked.Volatility += dVol
	shocked.TimeToMaturity -= dTimeYears
	shockedGreeks, err := h.greeksEngine.PriceAndGreeks(shocked)
	if err != nil {
		h.writeError(c, errors.Wrap(err, "revaluation under shocked state"))
		return
	}

	actualPnL := shockedGreeks.Price - greeks.Price
	firstOrder := breakdown.DeltaPnL + breakdown.GammaPnL + breakdown.VegaPnL + breakdown.ThetaPnL
	hedgingError := actualPnL - firstOrder

	c.JSON(http.StatusOK, gin.H{
		"symbol":             req.Symbol,
		"actual_pnl":         actualPnL,
		"taylor_pnl":         breakdown.Total,
		"delta_contribution": breakdown.DeltaPnL,
		"gamma_contribution": breakdown.GammaPnL,
		"vega_contribution":  breakdown.VegaPnL,
		"theta_contribution": breakdown.ThetaPnL,
		"hedging_error":      hedgingError,
		"error_breakdown": gin.H{
			"vanna_contribution": breakdown.VannaPnL,
			"volga_contribution": breakdown.VolgaPnL,
			"residual":           hedgingError - breakdown.VannaPnL - breakdown.VolgaPnL,
		},
	})
}

type greeksVaRRequest struct {
	Positions       []models.PortfolioPosition `json:"positions" binding:"required"`
	SpotVol         float64                    `json:"spot_vol"`
	VolOfVol        float64                    `json:"vol_of_vol"`
	Correlation     float64                    `json:"correlation"`
	ConfidenceLevel float64                    `json:"confidence_level"`
	TimeHorizon     int                        `json:"time_horizon"`
}

// GreeksVaRHandler computes covariance-based VaR from net portfolio
// greeks.
func (h *Handlers) GreeksVaRHandler(c *gin.Context) {
	var req greeksVaRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errors.InvalidInputf("invalid request body: %v", err))
		return
	}
	if req.SpotVol == 0 {
		req.SpotVol = 0.30
	}
	if req.VolOfVol == 0 {
		req.VolOfVol = 0.40
	}
	if req.Correlation == 0 {
		req.Correlation = -0.50
	}
	if req.ConfidenceLevel == 0 {
		req.ConfidenceLevel = 0.95
	}
	if req.TimeHorizon == 0 {
		req.TimeHorizon = 1
	}

	pg, err := h.aggregator.Aggregate(c.Request.Context(), req.Positions)
	if err != nil {
		h.writeError(c, err)
		return
	}
	spot, err := h.referenceSpot(c, req.Positions)
	if err != nil {
		h.writeError(c, err)
		return
	}

	result, err := h.covEngine.GreeksVaR(pg, spot, risk.CovarianceVaROptions{
		SpotVol:         req.SpotVol,
		VolOfVol:        req.VolOfVol,
		Correlation:     req.Correlation,
		ConfidenceLevel: req.ConfidenceLevel,
		HorizonDays:     req.TimeHorizon,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type portfolioGreeksRequest struct {
	Positions []models.PortfolioPosition `json:"positions" binding:"required"`
}

// PortfolioGreeksHandler aggregates greeks across positions.
func (h *Handlers) PortfolioGreeksHandler(c *gin.Context) {
	var req portfolioGreeksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errors.InvalidInputf("invalid request body: %v", err))
		return
	}
	pg, err := h.aggregator.Aggregate(c.Request.Context(), req.Positions)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pg)
}

type registerWarrantRequest struct {
	Symbol          string  `json:"symbol" binding:"required"`
	Underlying      string  `json:"underlying" binding:"required"`
	Issuer          string  `json:"issuer"`
	OptionType      string  `json:"option_type"`
	Strike          float64 `json:"strike_price" binding:"required"`
	Maturity        string  `json:"maturity" binding:"required"`
	ConversionRatio float64 `json:"conversion_ratio"`
	DividendYield   float64 `json:"dividend_yield"`
}

// RegisterWarrantHandler adds a warrant to the reference store.
func (h *Handlers) RegisterWarrantHandler(c *gin.Context) {
	var req registerWarrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errors.InvalidInputf("invalid request body: %v", err))
		return
	}
	maturity, err := time.Parse("2006-01-02", req.Maturity)
	if err != nil {
		h.writeError(c, errors.InvalidInputf("maturity must be YYYY-MM-DD, got %q", req.Maturity))
		return
	}
	optType := models.Call
	if req.OptionType != "" {
		parsed, ok := models.ParseOptionType(req.OptionType)
		if !ok {
			h.writeError(c, errors.InvalidInputf("unknown option type %q", req.OptionType))
			return
		}
		optType = parsed
	}
	if req.ConversionRatio == 0 {
		req.ConversionRatio = 1
	}

	warrant := models.WarrantSpec{
		Symbol:          req.Symbol,
		Underlying:      req.Underlying,
		Issuer:          req.Issuer,
		Type:            optType,
		Strike:          req.Strike,
		Maturity:        maturity,
		ConversionRatio: req.ConversionRatio,
		DividendYield:   req.DividendYield,
	}
	if err := h.warrants.Upsert(warrant); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"symbol": warrant.Symbol})
}

// ListWarrantsHandler returns all registered warrants.
func (h *Handlers) ListWarrantsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"warrants": h.warrants.List()})
}

type calibrateRequest struct {
	Underlying string `json:"underlying" binding:"required"`
	Quotes     []struct {
		Strike         float64 `json:"strike_price" binding:"required"`
		TimeToMaturity float64 `json:"time_to_maturity" binding:"required"`
		OptionType     string  `json:"option_type"`
		MarketPrice    float64 `json:"market_price" binding:"required"`
	} `json:"quotes" binding:"required"`
	SpotPrice     float64 `json:"spot_price"`
	DividendYield float64 `json:"dividend_yield"`
}

// CalibrateHestonHandler fits Heston parameters to the submitted
// quotes and caches the result for the underlying. A non-converged fit
// still returns 200 with converged=false.
func (h *Handlers) CalibrateHestonHandler(c *gin.Context) {
	var req calibrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, errors.InvalidInputf("invalid request body: %v", err))
		return
	}

	ctx := c.Request.Context()
	snap, err := h.provider.GetSnapshot(ctx, req.Underlying)
	if err != nil {
		h.writeError(c, err)
		return
	}
	spot := snap.SpotPrice
	if req.SpotPrice > 0 {
		spot = req.SpotPrice
	}

	quotes := make([]models.WarrantQuote, 0, len(req.Quotes))
	for _, q := range req.Quotes {
		optType := models.Call
		if q.OptionType != "" {
			parsed, ok := models.ParseOptionType(q.OptionType)
			if !ok {
				h.writeError(c, errors.InvalidInputf("unknown option type %q", q.OptionType))
				return
			}
			optType = parsed
		}
		quotes = append(quotes, models.WarrantQuote{
			Strike:         q.Strike,
			TimeToMaturity: q.TimeToMaturity,
			Type:           optType,
			MarketPrice:    q.MarketPrice,
		})
	}

	initial := h.calibrations.Get(req.Underlying).Params
	result, err := h.calibrator.Calibrate(ctx, quotes, spot, snap.RiskFreeRate, req.DividendYield, initial)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.calibrations.Put(req.Underlying, result)
	if h.recorder != nil {
		h.recorder.RecordCalibration(req.Underlying, result.RMSE, result.Converged, result.Duration)
	}

	c.JSON(http.StatusOK, result)
}

func bindFloat(raw string, out *float64) error {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return err
	}
	*out = v
	return nil
}

// GetHestonParamsHandler returns the cached calibration for an
// underlying, falling back to the configured parameter set.
func (h *Handlers) GetHestonParamsHandler(c *gin.Context) {
	underlying := c.Query("underlying")
	if underlying == "" {
		h.writeError(c, errors.InvalidInput("underlying query parameter is required"))
		return
	}
	c.JSON(http.StatusOK, h.calibrations.Get(underlying))
}
