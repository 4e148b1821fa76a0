package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder handles metrics recording and exposure
type Recorder struct {
	// API metrics
	apiRequestCounter   *prometheus.CounterVec
	apiLatencyHistogram *prometheus.HistogramVec

	// Risk calculation metrics
	riskCalcCounter *prometheus.CounterVec
	riskCalcErrors  *prometheus.CounterVec
	riskCalcLatency *prometheus.HistogramVec
	varGauge        *prometheus.GaugeVec
	esGauge         *prometheus.GaugeVec

	// Calibration metrics
	calibrationCounter *prometheus.CounterVec
	calibrationRMSE    *prometheus.GaugeVec
	calibrationLatency prometheus.Histogram

	// Market data cache metrics
	cacheHitCounter   prometheus.Counter
	cacheMissCounter  prometheus.Counter
	cacheStaleCounter prometheus.Counter
}

// NewRecorder creates a new metrics recorder
func NewRecorder() *Recorder {
	return &Recorder{
		apiRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wre_api_requests_total",
				Help: "The total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		apiLatencyHistogram: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wre_api_latency_seconds",
				Help:    "API request latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "path"},
		),

		riskCalcCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wre_risk_calculations_total",
				Help: "The total number of risk calculations",
			},
			[]string{"type", "method"},
		),
		riskCalcErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wre_risk_calculation_errors_total",
				Help: "Risk calculations that failed",
			},
			[]string{"type"},
		),
		riskCalcLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wre_risk_calc_latency_seconds",
				Help:    "Risk calculation latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"type"},
		),
		varGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wre_var_value",
				Help: "Latest Value at Risk as a fraction of portfolio value",
			},
			[]string{"method", "confidence_level", "horizon"},
		),
		esGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wre_expected_shortfall_value",
				Help: "Latest Expected Shortfall as a fraction of portfolio value",
			},
			[]string{"method", "confidence_level", "horizon"},
		),

		calibrationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wre_calibrations_total",
				Help: "The total number of Heston calibrations",
			},
			[]string{"converged"},
		),
		calibrationRMSE: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "wre_calibration_rmse",
				Help: "RMSE of the latest Heston calibration",
			},
			[]string{"underlying"},
		),
		calibrationLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wre_calibration_latency_seconds",
				Help:    "Heston calibration duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),

		cacheHitCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wre_snapshot_cache_hits_total",
				Help: "Market snapshot cache hits",
			},
		),
		cacheMissCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wre_snapshot_cache_misses_total",
				Help: "Market snapshot cache misses",
			},
		),
		cacheStaleCounter: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wre_snapshot_cache_stale_served_total",
				Help: "Expired snapshots served after upstream failures",
			},
		),
	}
}

// RecordAPIRequest records metrics for an API request
func (r *Recorder) RecordAPIRequest(method, path string, status int, latency time.Duration) {
	r.apiRequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.apiLatencyHistogram.WithLabelValues(method, path).Observe(latency.Seconds())
}

// RecordRiskCalculation records one completed risk calculation
func (r *Recorder) RecordRiskCalculation(calcType, method string, latency time.Duration) {
	r.riskCalcCounter.WithLabelValues(calcType, method).Inc()
	r.riskCalcLatency.WithLabelValues(calcType).Observe(latency.Seconds())
}

// RecordRiskCalculationError records a failed risk calculation
func (r *Recorder) RecordRiskCalculationError(calcType string) {
	r.riskCalcErrors.WithLabelValues(calcType).Inc()
}

// RecordVaR records the latest VaR and ES values
func (r *Recorder) RecordVaR(method string, confidenceLevel float64, horizonDays int, varValue, es float64) {
	cl := strconv.FormatFloat(confidenceLevel, 'f', 2, 64)
	horizon := strconv.Itoa(horizonDays)
	r.varGauge.WithLabelValues(method, cl, horizon).Set(varValue)
	r.esGauge.WithLabelValues(method, cl, horizon).Set(es)
}

// RecordCalibration records the outcome of a Heston calibration
func (r *Recorder) RecordCalibration(underlying string, rmse float64, converged bool, latency time.Duration) {
	r.calibrationCounter.WithLabelValues(strconv.FormatBool(converged)).Inc()
	r.calibrationRMSE.WithLabelValues(underlying).Set(rmse)
	r.calibrationLatency.Observe(latency.Seconds())
}

// RecordCacheOutcome increments one cache outcome counter.
func (r *Recorder) RecordCacheOutcome(outcome string) {
	switch outcome {
	case "hit":
		r.cacheHitCounter.Inc()
	case "miss":
		r.cacheMissCounter.Inc()
	case "stale":
		r.cacheStaleCounter.Inc()
	}
}
