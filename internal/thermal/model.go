// Package thermal implements the single-zone recovery model: Newton cooling
// towards the exterior temperature with a constant heater term, and the
// learning rules that calibrate its two coefficients from observed cycles.
//
// RCth is the thermal time constant in hours. RPth is the equivalent heater
// power expressed as the temperature rise it sustains above the exterior.
package thermal

import (
	"math"
	"time"
)

const (
	// Wind thresholds in km/h bounding the low/high wind coefficient pair.
	WindLow  = 10.0
	WindHigh = 60.0

	CoefficientMin = 0.1
	CoefficientMax = 19999.0

	DefaultRCth             = 50.0
	DefaultRPth             = 50.0
	DefaultRelaxationFactor = 2.0

	// TempDecreaseThreshold is the drop in °C that confirms heating really stopped.
	TempDecreaseThreshold = 0.2
	// MaxStopLag caps the measured stop lag at 2h59m59s.
	MaxStopLag = 10799 * time.Second

	// RecoveryMargin is reserved before the target time, in hours.
	RecoveryMargin = 1.0 / 6.0
	// SolverIterations is fixed: no convergence criterion is applied.
	SolverIterations = 20
	// ForecastHours is how many hourly forecast entries are averaged.
	ForecastHours = 3

	minRatio = 0.1
)

// Windchill returns the perceived temperature for tempC and windKmh, rounded
// to one decimal. Outside its validity range (tempC >= 10 or wind <= 4.8 km/h)
// the plain temperature is returned.
func Windchill(tempC, windKmh float64) float64 {
	if tempC < 10 && windKmh > 4.8 {
		w := math.Pow(windKmh, 0.16)
		return math.Round((13.12+0.6215*tempC-11.37*w+0.3965*tempC*w)*10) / 10
	}
	return tempC
}

// Interpolate returns the coefficient for windKmh between the low-wind value
// (at WindLow and below) and the high-wind value (at WindHigh and above).
func Interpolate(low, high, windKmh float64) float64 {
	w := clamp(windKmh, WindLow, WindHigh)
	ratio := (WindHigh - w) / (WindHigh - WindLow)
	return math.Max(CoefficientMin, high+(low-high)*ratio)
}

// Pair holds a coefficient learned separately for low and high wind.
type Pair struct {
	Low  float64
	High float64
}

// At interpolates the pair for the given wind speed.
func (p Pair) At(windKmh float64) float64 {
	return Interpolate(p.Low, p.High, windKmh)
}

// Initialized reports whether both sides hold a usable value.
func (p Pair) Initialized() bool {
	return p.Low > 0 && p.High > 0
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// ClampCoefficient bounds v to [CoefficientMin, CoefficientMax].
func ClampCoefficient(v float64) float64 {
	return clamp(v, CoefficientMin, CoefficientMax)
}
