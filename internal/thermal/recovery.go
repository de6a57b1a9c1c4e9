package thermal

import (
	"math"
	"time"
)

// RecoveryInput gathers everything the duration solver depends on.
type RecoveryInput struct {
	Interior float64 // current interior temperature
	Exterior float64 // exterior or forecast temperature
	Setpoint float64
	RCth     float64 // wind-interpolated, hours
	RPth     float64 // wind-interpolated, °C
	// Remaining is the time left until the target instant, in hours.
	Remaining float64
}

// ratio returns (rpth+text-tint)/(rpth+text-tsp), failing on a zero denominator.
func ratio(rpth, text, tint, tsp float64) (float64, bool) {
	den := rpth + text - tsp
	if den == 0 {
		return 0, false
	}
	r := (rpth + text - tint) / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}

// RecoveryDuration solves for how long, in hours, heating must run before the
// target so that the interior reaches the setpoint on time.
//
// The start temperature depends on the duration itself, so the estimate is
// refined by a damped fixed-point iteration weighted 2:1 towards the new value.
func RecoveryDuration(in RecoveryInput) float64 {
	maxDuration := math.Max(in.Remaining-RecoveryMargin, 0)

	duration := maxDuration
	if r, ok := ratio(in.RPth, in.Exterior, in.Interior, in.Setpoint); ok && r > minRatio {
		duration = clamp(in.RCth*math.Log(r), 0, maxDuration)
	}

	for i := 0; i < SolverIterations; i++ {
		if in.RCth == 0 {
			break
		}
		decay := math.Exp((in.Remaining - duration) / in.RCth)
		if decay == 0 || math.IsInf(decay, 0) {
			break
		}
		tintStart := in.Exterior + (in.Interior-in.Exterior)/decay
		r, ok := ratio(in.RPth, in.Exterior, tintStart, in.Setpoint)
		if !ok {
			break
		}
		if r > minRatio {
			duration = clamp((duration+2*in.RCth*math.Log(r))/3, 0, maxDuration)
		}
	}
	return duration
}

// RecoveryStart returns target minus the recovery duration, truncated to the second.
func RecoveryStart(target time.Time, durationHours float64) time.Time {
	seconds := int64(durationHours * 3600)
	return target.Add(-time.Duration(seconds) * time.Second)
}
