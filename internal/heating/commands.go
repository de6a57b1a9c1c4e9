package heating

import (
	"context"
	"strings"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/store"
	"github.com/Agrid-Dev/smarthrt/internal/weather"
)

func (c *Coordinator) SetSetpoint(v float64) error {
	if !validSetpoint(v) {
		return ErrSetpointOutOfRange
	}
	c.update(func(now time.Time, fx *effects) {
		c.s.Setpoint = v
		c.calculateRecoveryLocked(now)
		fx.persist = true
	})
	return nil
}

// SetTargetHour changes the wake time and rebuilds every trigger.
func (c *Coordinator) SetTargetHour(t schedule.TimeOfDay) error {
	if !t.Valid() {
		return schedule.ErrInvalidTimeOfDay
	}
	c.update(func(now time.Time, fx *effects) {
		c.s.TargetHour = t
		c.setupTriggersLocked(now)
		c.calculateRecoveryLocked(now)
		fx.persist = true
	})
	return nil
}

// SetRecoveryCalcHour changes the heating cutoff time and rebuilds every trigger.
func (c *Coordinator) SetRecoveryCalcHour(t schedule.TimeOfDay) error {
	if !t.Valid() {
		return schedule.ErrInvalidTimeOfDay
	}
	c.update(func(now time.Time, fx *effects) {
		c.s.RecoveryCalcHour = t
		c.setupTriggersLocked(now)
		c.calculateRecoveryLocked(now)
		fx.persist = true
	})
	return nil
}

func (c *Coordinator) SetRelaxationFactor(r float64) error {
	if !validRelaxation(r) {
		return ErrInvalidRelaxationFactor
	}
	c.update(func(_ time.Time, fx *effects) {
		c.s.RelaxationFactor = r
		fx.persist = true
	})
	return nil
}

func (c *Coordinator) SetSmartHeating(on bool) {
	c.update(func(_ time.Time, fx *effects) {
		c.s.SmartHeating = on
		fx.persist = true
	})
}

func (c *Coordinator) SetAdaptive(on bool) {
	c.update(func(_ time.Time, fx *effects) {
		c.s.Adaptive = on
		fx.persist = true
	})
}

// UpdateInteriorTemperature records a reading and evaluates the thresholds
// that depend on it: the lag detection after the heating stop, and the end of
// a recovery once the setpoint is reached. Non-finite readings are ignored.
func (c *Coordinator) UpdateInteriorTemperature(v float64) {
	if !finite(v) {
		c.log.Warnw("non-finite interior temperature ignored", "value", v)
		return
	}
	c.update(func(now time.Time, fx *effects) {
		s := &c.s
		s.Interior = ptr(v)
		switch {
		case s.LagDetection:
			c.lagLocked(now, v, fx)
		case s.RPCalcMode && v >= s.Setpoint:
			c.recoveryEndLocked(now, fx)
		case s.RPCalcMode && s.Phase == PhaseRecovery && v > s.RecoveryStart.Interior:
			s.Phase = PhaseHeatingProcess
			fx.persist = true
		}
	})
}

var alarmLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseAlarm(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range alarmLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

// UpdatePhoneAlarm takes the next alarm of a phone, as an ISO-8601 datetime.
// An alarm set for today or tomorrow moves the target hour to its time of day.
func (c *Coordinator) UpdatePhoneAlarm(raw string) {
	c.update(func(now time.Time, fx *effects) {
		s := &c.s
		s.PhoneAlarm = raw
		fx.persist = true

		alarm, ok := parseAlarm(raw, now.Location())
		if !ok {
			c.log.Debugw("unparseable phone alarm ignored", "value", raw)
			return
		}
		today := now.Format(time.DateOnly)
		tomorrow := now.AddDate(0, 0, 1).Format(time.DateOnly)
		if d := alarm.Format(time.DateOnly); d != today && d != tomorrow {
			return
		}
		s.TargetHour = schedule.Of(alarm)
		c.setupTriggersLocked(now)
		c.calculateRecoveryLocked(now)
		c.log.Infow("target hour taken from phone alarm", "target_hour", s.TargetHour.String())
	})
}

func (c *Coordinator) CalculateRecoveryTime() Snapshot {
	return c.update(func(now time.Time, _ *effects) {
		c.calculateRecoveryLocked(now)
	})
}

func (c *Coordinator) CalculateRecoveryUpdateTime() Snapshot {
	return c.update(func(now time.Time, _ *effects) {
		c.scheduleUpdateLocked(now)
	})
}

func (c *Coordinator) CalculateRCthFast() Snapshot {
	return c.update(func(now time.Time, _ *effects) {
		c.rcthFastLocked(now)
	})
}

// OnHeatingStop records a confirmed heating stop and starts monitoring.
func (c *Coordinator) OnHeatingStop() Snapshot {
	return c.update(func(now time.Time, fx *effects) {
		c.heatingStopLocked(now, false, fx)
	})
}

// OnRecoveryStart records the recovery start and learns RCth from the cooling.
func (c *Coordinator) OnRecoveryStart() Snapshot {
	return c.update(func(now time.Time, fx *effects) {
		c.recoveryStartLocked(now, true, fx)
	})
}

// OnRecoveryEnd ends a running recovery and learns RPth. Outside a recovery
// it changes nothing.
func (c *Coordinator) OnRecoveryEnd() Snapshot {
	return c.update(func(now time.Time, fx *effects) {
		if c.s.RPCalcMode {
			c.recoveryEndLocked(now, fx)
		}
	})
}

// ResetLearning restores the default coefficients. Configuration is kept.
func (c *Coordinator) ResetLearning() Snapshot {
	return c.update(func(now time.Time, fx *effects) {
		resetLearning(&c.s)
		c.calculateRecoveryLocked(now)
		fx.persist = true
		c.log.Infow("learning reset")
	})
}

// TriggerCalculation refreshes the exterior conditions and recalculates.
func (c *Coordinator) TriggerCalculation(ctx context.Context) Snapshot {
	var (
		obs weather.Observation
		err = weather.ErrUnavailable
	)
	if c.weather != nil {
		ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		obs, err = c.weather.Current(ctx)
		cancel()
	}
	return c.update(func(now time.Time, _ *effects) {
		if err == nil {
			c.applyObservationLocked(now, obs)
		}
		c.calculateRecoveryLocked(now)
	})
}

// TimeToRecoveryHours is the time left before the predicted recovery start.
func (c *Coordinator) TimeToRecoveryHours() (float64, bool) {
	return c.Get().TimeToRecovery(c.clock.Now())
}

// Cycles lists the most recent learning cycles of this instance.
func (c *Coordinator) Cycles(ctx context.Context, limit int) ([]store.Cycle, error) {
	if c.backend == nil {
		return nil, nil
	}
	return c.backend.Cycles(ctx, c.id, limit)
}
