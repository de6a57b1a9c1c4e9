package heating

import (
	"context"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
	"github.com/Agrid-Dev/smarthrt/internal/weather"
)

// setupTriggersLocked tears down every wall-clock trigger and arms them again
// from the current configuration. The recovery start is left to the next
// calculation.
func (c *Coordinator) setupTriggersLocked(now time.Time) {
	s := &c.s
	for _, k := range []schedule.Kind{
		schedule.KindRecoveryCalcHour,
		schedule.KindTargetHour,
		schedule.KindRecoveryStart,
		schedule.KindRecoveryUpdate,
	} {
		c.sched.Cancel(k)
	}
	c.sched.At(schedule.KindRecoveryCalcHour, s.RecoveryCalcHour.Next(now), c.onRecoveryCalcHourTrigger)
	c.sched.At(schedule.KindTargetHour, s.TargetHour.Next(now), c.onTargetHourTrigger)
	if s.RecoveryCalcMode && s.RecoveryUpdateHour.After(now) {
		c.sched.At(schedule.KindRecoveryUpdate, s.RecoveryUpdateHour, c.onRecoveryUpdateTrigger)
	}
}

func (c *Coordinator) onRecoveryCalcHourTrigger(at time.Time) {
	c.update(func(now time.Time, fx *effects) {
		c.sched.At(schedule.KindRecoveryCalcHour, c.s.RecoveryCalcHour.Next(at), c.onRecoveryCalcHourTrigger)
		if !c.s.SmartHeating {
			c.log.Debugw("recoverycalc hour reached, smart heating disabled")
			return
		}
		c.heatingStopLocked(now, true, fx)
	})
}

func (c *Coordinator) onTargetHourTrigger(at time.Time) {
	c.update(func(now time.Time, fx *effects) {
		c.sched.At(schedule.KindTargetHour, c.s.TargetHour.Next(at), c.onTargetHourTrigger)
		switch {
		case c.s.RPCalcMode:
			c.recoveryEndLocked(now, fx)
		case c.s.RecoveryCalcMode || c.s.LagDetection:
			c.log.Warnw("target hour reached before recovery started", "phase", c.s.Phase.String())
			c.abortCycleLocked(fx)
			c.calculateRecoveryLocked(now)
		}
	})
}

// onRecoveryStartTrigger acts only while a cooling phase is followed and the
// prediction has not moved earlier than at.
func (c *Coordinator) onRecoveryStartTrigger(at time.Time) {
	c.update(func(now time.Time, fx *effects) {
		s := &c.s
		switch {
		case !s.SmartHeating:
			return
		case at.After(s.RecoveryStartHour):
			c.log.Debugw("stale recovery start ignored", "fired", at, "current", s.RecoveryStartHour)
			return
		case s.RPCalcMode || !c.coolingLocked():
			return
		}
		c.recoveryStartLocked(now, s.RecoveryCalcMode, fx)
	})
}

func (c *Coordinator) onRecoveryUpdateTrigger(time.Time) {
	c.update(func(now time.Time, fx *effects) {
		if !c.s.SmartHeating || !c.s.RecoveryCalcMode {
			return
		}
		c.rcthFastLocked(now)
		c.calculateRecoveryLocked(now)
		c.scheduleUpdateLocked(now)
	})
}

func (c *Coordinator) onTick(time.Time) {
	obs, err := c.fetchCurrent()
	c.update(func(now time.Time, fx *effects) {
		if err == nil {
			c.applyObservationLocked(now, obs)
		}
		if c.s.SmartHeating && c.s.RecoveryCalcMode {
			c.rcthFastLocked(now)
			c.calculateRecoveryLocked(now)
		}
	})
}

func (c *Coordinator) onForecast(time.Time) {
	points, err := c.fetchForecast()
	if err != nil {
		return
	}
	c.update(func(time.Time, *effects) {
		c.applyForecastLocked(points)
	})
}

func (c *Coordinator) fetchContext() (context.Context, context.CancelFunc) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	return context.WithTimeout(ctx, fetchTimeout)
}

func (c *Coordinator) fetchCurrent() (weather.Observation, error) {
	if c.weather == nil {
		return weather.Observation{}, weather.ErrUnavailable
	}
	ctx, cancel := c.fetchContext()
	defer cancel()
	obs, err := c.weather.Current(ctx)
	if err != nil {
		c.log.Warnw("weather observation failed", "error", err)
	}
	return obs, err
}

func (c *Coordinator) fetchForecast() ([]weather.ForecastPoint, error) {
	if c.weather == nil {
		return nil, weather.ErrUnavailable
	}
	ctx, cancel := c.fetchContext()
	defer cancel()
	points, err := c.weather.Hourly(ctx)
	if err != nil {
		c.log.Warnw("forecast failed, keeping previous values", "error", err)
	}
	return points, err
}

func (c *Coordinator) applyObservationLocked(now time.Time, obs weather.Observation) {
	if !finite(obs.TemperatureC) || !finite(obs.WindKmh) {
		c.log.Warnw("non-finite weather observation ignored", "temperature", obs.TemperatureC, "wind_kmh", obs.WindKmh)
		return
	}
	s := &c.s
	s.Exterior = ptr(obs.TemperatureC)
	s.WindKmh = obs.WindKmh
	s.Windchill = ptr(thermal.Windchill(obs.TemperatureC, obs.WindKmh))
	c.wind.Add(now, obs.WindKmh)
	if avg, ok := c.wind.Mean(); ok {
		s.WindAverageKmh = ptr(avg)
	}
}

func (c *Coordinator) applyForecastLocked(points []weather.ForecastPoint) {
	temp, wind, ok := weather.Average(points, thermal.ForecastHours)
	if !ok {
		return
	}
	c.s.ForecastTemperature = ptr(temp)
	c.s.ForecastWindKmh = ptr(wind)
}
