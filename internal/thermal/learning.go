package thermal

import (
	"math"
	"time"
)

// Checkpoint is an interior/exterior temperature pair observed at a given time.
type Checkpoint struct {
	Time     time.Time
	Interior float64
	Exterior float64
}

// Valid reports whether the checkpoint was ever taken.
func (c Checkpoint) Valid() bool {
	return !c.Time.IsZero()
}

// logRatio returns ln(num/den), failing where the logarithm is undefined.
func logRatio(num, den float64) (float64, bool) {
	if den == 0 {
		return 0, false
	}
	q := num / den
	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return 0, false
	}
	return math.Log(q), true
}

// RCthFromCooling derives the time constant from the free cooling observed
// between the heating stop and the recovery start.
func RCthFromCooling(stop, start Checkpoint) (float64, bool) {
	if !stop.Valid() || !start.Valid() {
		return 0, false
	}
	dt := start.Time.Sub(stop.Time).Hours()
	avgText := (stop.Exterior + start.Exterior) / 2
	l, ok := logRatio(avgText-stop.Interior, avgText-start.Interior)
	if !ok || l == 0 {
		return 0, false
	}
	v := dt / l
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return ClampCoefficient(v), true
}

// RPthFromHeating derives the heater power from the rise observed between the
// recovery start and end, given the time constant for the current wind.
func RPthFromHeating(start, end Checkpoint, rcth float64) (float64, bool) {
	if !start.Valid() || !end.Valid() || rcth == 0 {
		return 0, false
	}
	dt := end.Time.Sub(start.Time).Hours()
	avgText := (start.Exterior + end.Exterior) / 2
	e := math.Exp(dt / rcth)
	den := 1 - e
	if den == 0 || math.IsInf(e, 0) {
		return 0, false
	}
	v := ((avgText-end.Interior)*e - (avgText - start.Interior)) / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return ClampCoefficient(v), true
}

// RCthFast is a running estimate of the time constant taken during the
// cooling phase, from the stop checkpoint to the live temperatures at now.
func RCthFast(stop Checkpoint, now time.Time, interior, exterior float64) (float64, bool) {
	if !stop.Valid() {
		return 0, false
	}
	dt := now.Sub(stop.Time).Hours()
	if dt < 0 {
		dt += 24
	}
	avgText := (stop.Exterior + exterior) / 2
	if !(interior < stop.Interior && interior > avgText) {
		return 0, false
	}
	l, ok := logRatio(avgText-stop.Interior, avgText-interior)
	if !ok {
		return 0, false
	}
	return dt / math.Max(1e-4, l), true
}

// Coefficient is one learned quantity: its global value and its wind pair.
type Coefficient struct {
	Global float64
	Pair
}

// Relax blends a freshly calculated value into c. The residual against what
// the current wind predicts is spread over the low and high wind values with a
// cubic weighting, then each value moves towards its target by r/(1+r).
// It returns the updated coefficient and the residual.
func Relax(c Coefficient, calculated, windKmh, r float64) (Coefficient, float64) {
	x := (windKmh-WindLow)/(WindHigh-WindLow) - 0.5

	predicted := math.Max(CoefficientMin, c.Low+(c.High-c.Low)*(x+0.5))
	residual := calculated - predicted

	x2, x3 := x*x, x*x*x
	lowTarget := math.Max(CoefficientMin, c.Low+residual*(1-5.0/3.0*x-2*x2+8.0/3.0*x3))
	highTarget := math.Max(CoefficientMin, c.High+residual*(1+5.0/3.0*x-2*x2-8.0/3.0*x3))

	var out Coefficient
	out.Low = clamp((c.Low+r*lowTarget)/(1+r), CoefficientMin, CoefficientMax)
	out.High = clamp((c.High+r*highTarget)/(1+r), CoefficientMin, out.Low)
	out.Global = ClampCoefficient((c.Global + r*calculated) / (1 + r))
	return out, residual
}
