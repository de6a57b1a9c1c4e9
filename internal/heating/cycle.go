package heating

import (
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/store"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
)

const (
	// Below this lead time the update trigger backs off to updateBackoff.
	updateNearThreshold = 30 * time.Minute
	updateBackoff       = time.Hour
	updateMaxDelay      = 20 * time.Minute

	// lagEpsilon absorbs float noise around the decrease threshold.
	lagEpsilon = 1e-9
)

// calculateRecoveryLocked solves the recovery duration for the next target
// instant and re-arms the recovery start trigger when the prediction moved.
// During a cooling phase the start only moves earlier: RecoveryStartHour is
// the earliest start predicted since the heating stop. It is a no-op until
// both temperatures are known.
func (c *Coordinator) calculateRecoveryLocked(now time.Time) bool {
	s := &c.s
	if s.Interior == nil || s.Exterior == nil {
		return false
	}
	text := *s.Exterior
	if s.ForecastTemperature != nil {
		text = *s.ForecastTemperature
	}
	wind := c.solverWindLocked()
	target := s.TargetHour.Next(now)

	duration := thermal.RecoveryDuration(thermal.RecoveryInput{
		Interior:  *s.Interior,
		Exterior:  text,
		Setpoint:  s.Setpoint,
		RCth:      s.RCth.At(wind),
		RPth:      s.RPth.At(wind),
		Remaining: target.Sub(now).Hours(),
	})
	start := thermal.RecoveryStart(target, duration)
	s.RecoveryDuration = duration

	// While cooling, a later prediction never postpones an armed start.
	if armedAt, armed := c.sched.Deadline(schedule.KindRecoveryStart); armed && c.coolingLocked() && armedAt.Before(start) {
		start = armedAt
	}

	changed := !start.Equal(s.RecoveryStartHour)
	s.RecoveryStartHour = start
	if _, armed := c.sched.Deadline(schedule.KindRecoveryStart); (changed || !armed) && start.After(now) {
		c.sched.At(schedule.KindRecoveryStart, start, c.onRecoveryStartTrigger)
	}
	c.log.Debugw("recovery time calculated",
		"recovery_start", start.Format(time.RFC3339),
		"duration_h", duration,
		"target", target.Format(time.RFC3339))
	return true
}

// scheduleUpdateLocked arms the next intermediate recalculation. The cadence
// tightens as the predicted start approaches, up to 20 minutes apart.
func (c *Coordinator) scheduleUpdateLocked(now time.Time) bool {
	s := &c.s
	if s.RecoveryStartHour.IsZero() {
		return false
	}
	remaining := s.RecoveryStartHour.Sub(now)
	delay := updateBackoff
	if remaining >= updateNearThreshold {
		delay = min((remaining / 3).Truncate(time.Second), updateMaxDelay)
	}
	s.RecoveryUpdateHour = now.Add(delay)
	c.sched.At(schedule.KindRecoveryUpdate, s.RecoveryUpdateHour, c.onRecoveryUpdateTrigger)
	return true
}

// coolingLocked reports whether a heating stop is being followed.
func (c *Coordinator) coolingLocked() bool {
	return c.s.RecoveryCalcMode || c.s.LagDetection
}

func (c *Coordinator) cancelUpdateLocked() {
	c.sched.Cancel(schedule.KindRecoveryUpdate)
	c.s.RecoveryUpdateHour = time.Time{}
}

func (c *Coordinator) rcthFastLocked(now time.Time) bool {
	s := &c.s
	if s.Interior == nil || s.Exterior == nil {
		return false
	}
	v, ok := thermal.RCthFast(s.HeatingStop, now, *s.Interior, *s.Exterior)
	if ok {
		s.RCthFast = v
	}
	return ok
}

// heatingStopLocked records the heating-stop checkpoint. With detectLag the
// cycle waits for the temperature to actually fall; otherwise the stop is
// taken as confirmed and monitoring starts at once.
func (c *Coordinator) heatingStopLocked(now time.Time, detectLag bool, fx *effects) {
	s := &c.s
	if !s.RCth.Initialized() || s.RCth.Global <= 0 {
		s.RCth = defaultRCth()
	}
	if !s.RPth.Initialized() || s.RPth.Global <= 0 {
		s.RPth = defaultRPth()
	}
	s.HeatingStop = c.checkpointLocked(now)
	s.StopLag = 0
	s.RPCalcMode = false
	c.cancelUpdateLocked()
	c.sched.Cancel(schedule.KindRecoveryStart)

	if detectLag {
		s.LagDetection = true
		s.RecoveryCalcMode = false
		s.Phase = PhaseDetectingLag
	} else {
		s.LagDetection = false
		s.RecoveryCalcMode = true
		s.Phase = PhaseMonitoring
	}
	c.calculateRecoveryLocked(now)
	if s.RecoveryCalcMode {
		c.scheduleUpdateLocked(now)
	}
	fx.persist = true
	c.log.Infow("heating stopped", "phase", s.Phase.String(), "interior", s.HeatingStop.Interior)
}

// lagLocked follows the temperature after the heating stop. A rise moves the
// reference up; a drop of at least the threshold confirms the stop.
func (c *Coordinator) lagLocked(now time.Time, tint float64, fx *effects) {
	s := &c.s
	ref := s.HeatingStop.Interior
	if tint > ref {
		s.HeatingStop.Interior = tint
		fx.persist = true
		return
	}
	if ref-tint < thermal.TempDecreaseThreshold-lagEpsilon {
		return
	}
	lag := now.Sub(s.HeatingStop.Time)
	lag = max(0, min(lag, thermal.MaxStopLag))
	s.StopLag = lag
	s.HeatingStop = c.checkpointLocked(now)
	s.LagDetection = false
	s.RecoveryCalcMode = true
	s.Phase = PhaseMonitoring
	c.calculateRecoveryLocked(now)
	c.scheduleUpdateLocked(now)
	fx.persist = true
	c.log.Infow("temperature decrease confirmed", "stop_lag", lag.String(), "interior", tint)
}

// recoveryStartLocked records the recovery-start checkpoint and, when learn
// is set, derives RCth from the cooling that preceded it.
func (c *Coordinator) recoveryStartLocked(now time.Time, learn bool, fx *effects) {
	s := &c.s
	s.RecoveryStart = c.checkpointLocked(now)
	if learn {
		c.learnRCthLocked(now, fx)
	}
	s.RPCalcMode = true
	s.RecoveryCalcMode = false
	s.LagDetection = false
	s.Phase = PhaseRecovery
	c.cancelUpdateLocked()
	fx.persist = true
	c.log.Infow("recovery started", "interior", s.RecoveryStart.Interior, "rcth_calculated", s.RCthCalculated)
}

// recoveryEndLocked records the recovery-end checkpoint, derives RPth and
// predicts the next night.
func (c *Coordinator) recoveryEndLocked(now time.Time, fx *effects) {
	s := &c.s
	s.RecoveryEnd = c.checkpointLocked(now)
	c.learnRPthLocked(now, fx)
	s.RPCalcMode = false
	s.Phase = PhaseHeatingOn
	fx.persist = true
	c.log.Infow("recovery ended", "interior", s.RecoveryEnd.Interior, "rpth_calculated", s.RPthCalculated)
	c.calculateRecoveryLocked(now)
}

// abortCycleLocked returns to heating_on without learning.
func (c *Coordinator) abortCycleLocked(fx *effects) {
	s := &c.s
	s.LagDetection = false
	s.RecoveryCalcMode = false
	s.RPCalcMode = false
	s.Phase = PhaseHeatingOn
	c.cancelUpdateLocked()
	fx.persist = true
}

func (c *Coordinator) learnRCthLocked(now time.Time, fx *effects) {
	s := &c.s
	v, ok := thermal.RCthFromCooling(s.HeatingStop, s.RecoveryStart)
	if !ok {
		c.log.Warnw("rcth learning skipped", "heating_stop", s.HeatingStop, "recovery_start", s.RecoveryStart)
		return
	}
	s.RCthCalculated = v
	wind := c.learningWindLocked()
	cycle := store.Cycle{
		InstanceID: c.id,
		Kind:       store.CycleRCth,
		OccurredAt: now,
		Calculated: v,
		WindKmh:    wind,
		Relaxation: s.RelaxationFactor,
	}
	if s.Adaptive {
		s.RCth, s.LastRCthError = thermal.Relax(s.RCth, v, wind, s.RelaxationFactor)
		cycle.Error = s.LastRCthError
		cycle.Applied = true
	}
	fx.cycles = append(fx.cycles, cycle)
}

func (c *Coordinator) learnRPthLocked(now time.Time, fx *effects) {
	s := &c.s
	wind := c.learningWindLocked()
	v, ok := thermal.RPthFromHeating(s.RecoveryStart, s.RecoveryEnd, s.RCth.At(wind))
	if !ok {
		c.log.Warnw("rpth learning skipped", "recovery_start", s.RecoveryStart, "recovery_end", s.RecoveryEnd)
		return
	}
	s.RPthCalculated = v
	cycle := store.Cycle{
		InstanceID: c.id,
		Kind:       store.CycleRPth,
		OccurredAt: now,
		Calculated: v,
		WindKmh:    wind,
		Relaxation: s.RelaxationFactor,
	}
	if s.Adaptive {
		s.RPth, s.LastRPthError = thermal.Relax(s.RPth, v, wind, s.RelaxationFactor)
		cycle.Error = s.LastRPthError
		cycle.Applied = true
	}
	fx.cycles = append(fx.cycles, cycle)
}
