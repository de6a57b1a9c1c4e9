package simulation

import (
	"context"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
)

// Heating is the part of a heating instance a simulation drives.
type Heating interface {
	Get() heating.Snapshot
	UpdateInteriorTemperature(v float64)
}

// Clock is a simulated clock; Advance fires the timers falling due.
type Clock interface {
	Now() time.Time
	Advance(d time.Duration)
}

// Conditions receives the exterior temperature applied at each step.
type Conditions interface {
	Set(tempC, windKmh float64)
}

type Sample struct {
	Time          time.Time
	Interior      float64
	Exterior      float64
	Heating       bool
	Phase         heating.Phase
	RCth          float64
	RPth          float64
	RecoveryStart time.Time
}

type Runner struct {
	Heating   Heating
	Clock     Clock
	House     *House
	Regulator *Regulator
	// Exterior gives the outdoor temperature at a given time.
	Exterior func(time.Time) float64
	WindKmh  float64
	// Weather is optional.
	Weather Conditions
	Step    time.Duration
}

// heaterAllowed is false while the instance lets the house cool down.
func heaterAllowed(p heating.Phase) bool {
	return p != heating.PhaseDetectingLag && p != heating.PhaseMonitoring
}

// Run steps the house and the heating instance for d, calling record after
// every step. A record error stops the run.
func (r *Runner) Run(ctx context.Context, d time.Duration, record func(Sample) error) error {
	if r.Step <= 0 {
		return ErrInvalidStep
	}
	end := r.Clock.Now().Add(d)
	r.Heating.UpdateInteriorTemperature(r.House.Interior())

	for now := r.Clock.Now(); now.Before(end); now = r.Clock.Now() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ext := r.Exterior(now)
		if r.Weather != nil {
			r.Weather.Set(ext, r.WindKmh)
		}

		snap := r.Heating.Get()
		on := r.Regulator.Demand(snap.Setpoint, r.House.Interior(), heaterAllowed(snap.Phase))
		tint := r.House.Step(ext, on, r.Step)

		r.Clock.Advance(r.Step)
		r.Heating.UpdateInteriorTemperature(tint)

		if record == nil {
			continue
		}
		snap = r.Heating.Get()
		err := record(Sample{
			Time:          r.Clock.Now(),
			Interior:      tint,
			Exterior:      ext,
			Heating:       on,
			Phase:         snap.Phase,
			RCth:          snap.RCth.Global,
			RPth:          snap.RPth.Global,
			RecoveryStart: snap.RecoveryStartHour,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Constant returns an exterior profile fixed at tempC.
func Constant(tempC float64) func(time.Time) float64 {
	return func(time.Time) float64 { return tempC }
}
