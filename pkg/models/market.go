package models

import (
	"time"

	"github.com/rzzdr/warrant-risk-engine/pkg/utils/errors"
)

// OptionType distinguishes call and put warrants.
type OptionType int

const (
	Call OptionType = iota
	Put
)

func (t OptionType) String() string {
	if t == Put {
		return "put"
	}
	return "call"
}

// ParseOptionType maps the wire representation to an OptionType.
func ParseOptionType(s string) (OptionType, bool) {
	switch s {
	case "call", "c", "C":
		return Call, true
	case "put", "p", "P":
		return Put, true
	}
	return Call, false
}

// WarrantSpec is the static reference data of a covered warrant.
// ConversionRatio is the number of warrants needed for one share of the
// underlying; every per-warrant greek is the per-share greek divided by
// this ratio.
type WarrantSpec struct {
	Symbol          string
	Underlying      string
	Issuer          string
	Type            OptionType
	Strike          float64
	Maturity        time.Time
	ConversionRatio float64
	DividendYield   float64
}

// TimeToMaturity returns the remaining life in years (ACT/365).
func (w WarrantSpec) TimeToMaturity(now time.Time) float64 {
	return w.Maturity.Sub(now).Hours() / (24 * 365)
}

// MarketSnapshot is one observation of the market state for an
// underlying. Stale marks a snapshot served from an expired cache entry
// after an upstream failure.
type MarketSnapshot struct {
	Underlying   string
	SpotPrice    float64
	Volatility   float64
	RiskFreeRate float64
	Timestamp    time.Time
	Source       string
	Stale        bool
}

// WarrantQuote pairs one observed warrant price with its contract
// terms, the unit of calibration input.
type WarrantQuote struct {
	Strike         float64
	TimeToMaturity float64
	Type           OptionType
	MarketPrice    float64
}

// HestonParameters is one point in the Heston model parameter space.
type HestonParameters struct {
	Kappa float64 `json:"kappa"`
	Theta float64 `json:"theta"`
	Sigma float64 `json:"sigma"`
	Rho   float64 `json:"rho"`
	V0    float64 `json:"v0"`
}

// Validate rejects parameter sets outside the model's domain. The
// Feller condition is checked separately because violating it degrades
// accuracy rather than invalidating the price.
func (p HestonParameters) Validate() error {
	switch {
	case p.Kappa <= 0:
		return errors.InvalidInput("kappa must be positive")
	case p.Theta <= 0:
		return errors.InvalidInput("theta must be positive")
	case p.Sigma <= 0:
		return errors.InvalidInput("sigma must be positive")
	case p.V0 <= 0:
		return errors.InvalidInput("v0 must be positive")
	case p.Rho < -1 || p.Rho > 1:
		return errors.InvalidInput("rho must lie in [-1, 1]")
	}
	return nil
}

// FellerSatisfied reports whether 2*kappa*theta >= sigma^2, i.e. the
// variance process stays strictly positive.
func (p HestonParameters) FellerSatisfied() bool {
	return 2*p.Kappa*p.Theta >= p.Sigma*p.Sigma
}

// CalibrationResult is the outcome of fitting Heston parameters to a
// set of warrant quotes. Converged=false still carries the best
// parameters found.
type CalibrationResult struct {
	Params     HestonParameters `json:"params"`
	RMSE       float64          `json:"rmse"`
	Iterations int              `json:"iterations"`
	Converged  bool             `json:"converged"`
	Feller     bool             `json:"feller_satisfied"`
	Duration   time.Duration    `json:"-"`
	Source     string           `json:"source"`
	Timestamp  time.Time        `json:"timestamp"`
}
