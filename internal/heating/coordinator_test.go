package heating_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/store"
	"github.com/Agrid-Dev/smarthrt/internal/testutil"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
	"github.com/Agrid-Dev/smarthrt/internal/weather"
)

// 22:00 the evening before a 06:00 target.
var evening = time.Date(2026, 1, 9, 22, 0, 0, 0, time.UTC)

type harness struct {
	clk   *testutil.FakeClock
	wx    *weather.Static
	store *store.Memory
	c     *heating.Coordinator
}

func baseConfig() heating.Config {
	return heating.Config{
		ID:               "living",
		Name:             "Living room",
		Setpoint:         19,
		TargetHour:       schedule.TimeOfDay{Hour: 6},
		RecoveryCalcHour: schedule.TimeOfDay{Hour: 23},
		RelaxationFactor: 2,
		SmartHeating:     true,
		Adaptive:         true,
	}
}

func newHarness(t *testing.T, now time.Time, interior float64, mutate func(*heating.Config)) *harness {
	t.Helper()
	h := &harness{
		clk:   testutil.NewFakeClock(now),
		wx:    weather.NewStatic(5, 9),
		store: store.NewMemory(),
	}
	h.start(t, interior, mutate)
	return h
}

func (h *harness) start(t *testing.T, interior float64, mutate func(*heating.Config)) {
	t.Helper()
	cfg := baseConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := heating.New(cfg, heating.Deps{Clock: h.clk, Weather: h.wx, Store: h.store})
	require.NoError(t, err)
	c.UpdateInteriorTemperature(interior)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	h.c = c
}

// advanceUntil steps the clock a minute at a time until cond holds.
func (h *harness) advanceUntil(t *testing.T, limit time.Time, cond func(heating.Snapshot) bool) {
	t.Helper()
	for !cond(h.c.Get()) {
		if !h.clk.Now().Before(limit) {
			t.Fatalf("condition not reached by %v, state %+v", limit, h.c.Get())
		}
		h.clk.Advance(time.Minute)
	}
}

func manual(cfg *heating.Config) { cfg.SmartHeating = false }

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*heating.Config)
		want   error
	}{
		{"missing id", func(c *heating.Config) { c.ID = "" }, heating.ErrMissingInstanceID},
		{"setpoint too low", func(c *heating.Config) { c.Setpoint = 12.9 }, heating.ErrSetpointOutOfRange},
		{"setpoint too high", func(c *heating.Config) { c.Setpoint = 26.1 }, heating.ErrSetpointOutOfRange},
		{"negative relaxation", func(c *heating.Config) { c.RelaxationFactor = -1 }, heating.ErrInvalidRelaxationFactor},
		{"nan relaxation", func(c *heating.Config) { c.RelaxationFactor = math.NaN() }, heating.ErrInvalidRelaxationFactor},
		{"bad target hour", func(c *heating.Config) { c.TargetHour = schedule.TimeOfDay{Hour: 24} }, schedule.ErrInvalidTimeOfDay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			_, err := heating.New(cfg, heating.Deps{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, evening, 20, nil)
	assert.ErrorIs(t, h.c.Start(context.Background()), heating.ErrAlreadyStarted)
}

func TestColdStillNightPrediction(t *testing.T) {
	h := newHarness(t, evening, 18.5, func(c *heating.Config) { c.TargetHour = schedule.TimeOfDay{Hour: 6} })
	target := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	s := h.c.CalculateRecoveryTime()
	require.False(t, s.RecoveryStartHour.IsZero())
	assert.True(t, s.RecoveryStartHour.Before(target))
	assert.Greater(t, s.RecoveryDuration, 0.0)
	// 9 km/h is below the low wind threshold.
	assert.InDelta(t, s.RCth.Low, s.RCth.At(*s.WindAverageKmh), 1e-12)
	assert.Equal(t, 5.0, *s.Exterior)
	assert.InDelta(t, 2.9, *s.Windchill, 1e-9)
}

func TestCalculateRecoveryTimeIsIdempotent(t *testing.T) {
	h := newHarness(t, evening, 18.5, nil)
	first := h.c.CalculateRecoveryTime().RecoveryStartHour
	second := h.c.CalculateRecoveryTime().RecoveryStartHour
	assert.True(t, first.Equal(second), "%v != %v", first, second)
}

func TestCalculateRecoveryTimeNeedsBothTemperatures(t *testing.T) {
	clk := testutil.NewFakeClock(evening)
	c, err := heating.New(baseConfig(), heating.Deps{Clock: clk})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	c.UpdateInteriorTemperature(19)
	s := c.CalculateRecoveryTime()
	assert.True(t, s.RecoveryStartHour.IsZero(), "no exterior temperature yet")
	_, ok := c.TimeToRecoveryHours()
	assert.False(t, ok)
}

func TestLagDetection(t *testing.T) {
	h := newHarness(t, evening, 20, nil)
	cutoff := time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC)

	h.clk.AdvanceTo(cutoff)
	s := h.c.Get()
	require.Equal(t, heating.PhaseDetectingLag, s.Phase)
	require.True(t, s.LagDetection)
	require.True(t, s.HeatingStop.Time.Equal(cutoff))
	require.Equal(t, 20.0, s.HeatingStop.Interior)

	h.c.UpdateInteriorTemperature(19.85)
	s = h.c.Get()
	assert.Equal(t, heating.PhaseDetectingLag, s.Phase, "a 0.15 drop is not enough")
	assert.Equal(t, 20.0, s.HeatingStop.Interior)

	h.clk.Advance(30 * time.Minute)
	h.c.UpdateInteriorTemperature(19.79)
	s = h.c.Get()
	assert.Equal(t, heating.PhaseMonitoring, s.Phase)
	assert.False(t, s.LagDetection)
	assert.True(t, s.RecoveryCalcMode)
	assert.Equal(t, 30*time.Minute, s.StopLag)
	assert.Equal(t, 19.79, s.HeatingStop.Interior)
	assert.True(t, s.HeatingStop.Time.Equal(cutoff.Add(30*time.Minute)))
	assert.False(t, s.RecoveryUpdateHour.IsZero())
}

func TestLagDetectionExactThreshold(t *testing.T) {
	h := newHarness(t, evening, 20, nil)
	h.clk.AdvanceTo(time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC))

	h.c.UpdateInteriorTemperature(19.8)
	assert.Equal(t, heating.PhaseMonitoring, h.c.Get().Phase)
}

func TestLagDetectionRiseMovesReference(t *testing.T) {
	h := newHarness(t, evening, 20, nil)
	cutoff := time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC)
	h.clk.AdvanceTo(cutoff)

	h.clk.Advance(10 * time.Minute)
	h.c.UpdateInteriorTemperature(20.4)
	s := h.c.Get()
	assert.Equal(t, heating.PhaseDetectingLag, s.Phase)
	assert.Equal(t, 20.4, s.HeatingStop.Interior)
	assert.True(t, s.HeatingStop.Time.Equal(cutoff), "time is kept when the reference moves up")

	h.c.UpdateInteriorTemperature(20.25)
	assert.Equal(t, heating.PhaseDetectingLag, h.c.Get().Phase)
	h.c.UpdateInteriorTemperature(20.2)
	assert.Equal(t, heating.PhaseMonitoring, h.c.Get().Phase)
}

func TestStopLagIsCapped(t *testing.T) {
	h := newHarness(t, evening, 20, func(c *heating.Config) { c.TargetHour = schedule.TimeOfDay{Hour: 12} })
	h.clk.AdvanceTo(time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC))
	require.Equal(t, heating.PhaseDetectingLag, h.c.Get().Phase)

	h.clk.Advance(4 * time.Hour)
	h.c.UpdateInteriorTemperature(19)
	s := h.c.Get()
	require.Equal(t, heating.PhaseMonitoring, s.Phase)
	assert.Equal(t, thermal.MaxStopLag, s.StopLag)
}

func TestCutoffIgnoredWithoutSmartHeating(t *testing.T) {
	h := newHarness(t, evening, 20, manual)
	h.clk.AdvanceTo(time.Date(2026, 1, 9, 23, 30, 0, 0, time.UTC))
	s := h.c.Get()
	assert.Equal(t, heating.PhaseHeatingOn, s.Phase)
	assert.False(t, s.HeatingStop.Valid())
}

func TestFullCycleLearning(t *testing.T) {
	h := newHarness(t, evening, 20, manual)

	s := h.c.OnHeatingStop()
	require.Equal(t, heating.PhaseMonitoring, s.Phase)
	require.Equal(t, 20.0, s.HeatingStop.Interior)
	require.Equal(t, 5.0, s.HeatingStop.Exterior)

	h.wx.Set(4, 9)
	h.clk.Advance(6 * time.Hour)
	h.c.UpdateInteriorTemperature(17.5)

	s = h.c.OnRecoveryStart()
	want := 6 / math.Log(15.5/13)
	assert.InDelta(t, want, s.RCthCalculated, 1e-6)
	assert.InDelta(t, (50+2*want)/3, s.RCth.Global, 1e-9)
	assert.True(t, s.RPCalcMode)
	assert.False(t, s.RecoveryCalcMode)
	assert.Equal(t, heating.PhaseRecovery, s.Phase)
	assert.LessOrEqual(t, s.RCth.High, s.RCth.Low)

	cycles, err := h.store.Cycles(context.Background(), "living", 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, store.CycleRCth, cycles[0].Kind)
	assert.True(t, cycles[0].Applied)
	assert.InDelta(t, want, cycles[0].Calculated, 1e-6)
}

func TestLearningWithoutAdaptiveKeepsCoefficients(t *testing.T) {
	h := newHarness(t, evening, 20, func(c *heating.Config) {
		c.SmartHeating = false
		c.Adaptive = false
	})
	h.c.OnHeatingStop()
	h.clk.Advance(6 * time.Hour)
	h.c.UpdateInteriorTemperature(17.5)

	s := h.c.OnRecoveryStart()
	assert.Greater(t, s.RCthCalculated, 0.0)
	assert.Equal(t, thermal.DefaultRCth, s.RCth.Global)
	assert.Equal(t, thermal.DefaultRCth, s.RCth.Low)
}

func TestSetpointReachedEndsRecovery(t *testing.T) {
	h := newHarness(t, evening, 20, manual)
	h.c.OnHeatingStop()
	h.clk.Advance(6 * time.Hour)
	h.c.UpdateInteriorTemperature(17)
	h.c.OnRecoveryStart()

	h.clk.Advance(30 * time.Minute)
	h.c.UpdateInteriorTemperature(18)
	require.Equal(t, heating.PhaseHeatingProcess, h.c.Get().Phase)

	h.clk.Advance(30 * time.Minute)
	h.c.UpdateInteriorTemperature(19.0)
	s := h.c.Get()
	assert.False(t, s.RPCalcMode)
	assert.Equal(t, heating.PhaseHeatingOn, s.Phase)
	assert.True(t, s.RecoveryEnd.Valid())
	assert.Equal(t, 19.0, s.RecoveryEnd.Interior)
	assert.GreaterOrEqual(t, s.RPthCalculated, thermal.CoefficientMin)

	cycles, _ := h.store.Cycles(context.Background(), "living", 0)
	require.Len(t, cycles, 2)
	assert.Equal(t, store.CycleRPth, cycles[0].Kind)
}

func TestOnRecoveryEndOutsideRecoveryIsNoop(t *testing.T) {
	h := newHarness(t, evening, 20, manual)
	s := h.c.OnRecoveryEnd()
	assert.False(t, s.RecoveryEnd.Valid())
	assert.Equal(t, heating.PhaseHeatingOn, s.Phase)
}

func TestAutomaticNight(t *testing.T) {
	h := newHarness(t, evening, 20, nil)
	target := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	h.clk.AdvanceTo(time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC))
	h.clk.Advance(30 * time.Minute)
	h.c.UpdateInteriorTemperature(19.7)
	require.Equal(t, heating.PhaseMonitoring, h.c.Get().Phase)

	h.clk.Advance(3 * time.Hour)
	h.c.UpdateInteriorTemperature(18)
	require.Equal(t, heating.PhaseMonitoring, h.c.Get().Phase)

	h.advanceUntil(t, target, func(s heating.Snapshot) bool { return s.Phase == heating.PhaseRecovery })
	s := h.c.Get()
	assert.True(t, s.RPCalcMode)
	assert.Greater(t, s.RCthCalculated, 0.0)
	assert.True(t, s.RecoveryStart.Time.Before(target))
	assert.True(t, s.RecoveryStart.Time.Equal(s.RecoveryStartHour))

	h.clk.AdvanceTo(target)
	s = h.c.Get()
	assert.Equal(t, heating.PhaseHeatingOn, s.Phase)
	assert.False(t, s.RPCalcMode)
	// Flat 18°C with a constant 5°C exterior gives rpth = 18 - 5.
	assert.InDelta(t, 13.0, s.RPthCalculated, 1e-6)
	assert.True(t, s.RecoveryStartHour.After(target), "next night is predicted")

	cycles, err := h.store.Cycles(context.Background(), "living", 0)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, store.CycleRPth, cycles[0].Kind)
	assert.Equal(t, store.CycleRCth, cycles[1].Kind)
}

func TestColdNightCappedRecoveryStarts(t *testing.T) {
	h := &harness{
		clk:   testutil.NewFakeClock(evening),
		wx:    weather.NewStatic(-10, 9),
		store: store.NewMemory(),
	}
	h.start(t, 20, func(c *heating.Config) { c.Setpoint = 22 })
	target := time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)

	h.clk.AdvanceTo(time.Date(2026, 1, 9, 23, 0, 0, 0, time.UTC))
	require.Equal(t, heating.PhaseDetectingLag, h.c.Get().Phase)
	uncapped := h.c.Get().RecoveryStartHour

	h.clk.Advance(time.Minute)
	h.c.UpdateInteriorTemperature(17)
	s := h.c.Get()
	require.Equal(t, heating.PhaseMonitoring, s.Phase)
	// Reaching 22°C from 17°C takes longer than the night: the duration is capped.
	assert.InDelta(t, target.Sub(h.clk.Now()).Hours()-thermal.RecoveryMargin, s.RecoveryDuration, 1e-9)
	first := s.RecoveryStartHour
	assert.True(t, first.Before(uncapped), "an earlier prediction replaces the armed start")

	h.clk.Advance(4 * time.Minute)
	h.c.UpdateInteriorTemperature(16.8)
	assert.True(t, h.c.Get().RecoveryStartHour.Equal(first), "later predictions keep the armed start")

	h.advanceUntil(t, target, func(s heating.Snapshot) bool { return s.Phase == heating.PhaseRecovery })
	s = h.c.Get()
	assert.True(t, s.RecoveryStart.Time.Equal(first), "started at %v, want %v", s.RecoveryStart.Time, first)
	assert.Equal(t, 16.8, s.RecoveryStart.Interior)
	assert.Greater(t, s.RCthCalculated, 0.0)

	h.clk.AdvanceTo(time.Date(2026, 1, 10, 5, 0, 0, 0, time.UTC))
	h.c.UpdateInteriorTemperature(22)
	s = h.c.Get()
	assert.Equal(t, heating.PhaseHeatingOn, s.Phase)
	assert.GreaterOrEqual(t, s.RPthCalculated, thermal.CoefficientMin)

	cycles, err := h.store.Cycles(context.Background(), "living", 0)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, store.CycleRPth, cycles[0].Kind)
	assert.Equal(t, store.CycleRCth, cycles[1].Kind)
}

func TestTargetHourChangeReplacesArmedStart(t *testing.T) {
	h := newHarness(t, evening, 20, nil)
	before := h.c.OnHeatingStop().RecoveryStartHour
	require.False(t, before.IsZero())

	require.NoError(t, h.c.SetTargetHour(schedule.TimeOfDay{Hour: 8}))
	after := h.c.Get().RecoveryStartHour
	assert.True(t, after.After(before), "start %v should follow the later target, was %v", after, before)
}

func TestNonFiniteInteriorIgnored(t *testing.T) {
	h := newHarness(t, evening, 18.5, nil)
	before := h.c.CalculateRecoveryTime()

	h.c.UpdateInteriorTemperature(math.NaN())
	h.c.UpdateInteriorTemperature(math.Inf(-1))

	s := h.c.CalculateRecoveryTime()
	require.NotNil(t, s.Interior)
	assert.Equal(t, 18.5, *s.Interior)
	assert.True(t, s.RecoveryStartHour.Equal(before.RecoveryStartHour))
	assert.Equal(t, before.RecoveryDuration, s.RecoveryDuration)
}

func TestTargetHourAbortsMonitoringWithoutLearning(t *testing.T) {
	h := newHarness(t, time.Date(2026, 1, 10, 4, 0, 0, 0, time.UTC), 20, nil)
	h.c.OnHeatingStop()
	h.c.SetSmartHeating(false)

	h.clk.AdvanceTo(time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC))
	s := h.c.Get()
	assert.Equal(t, heating.PhaseHeatingOn, s.Phase)
	assert.False(t, s.RecoveryCalcMode)
	assert.False(t, s.RecoveryStart.Valid(), "recovery start is ignored without smart heating")

	cycles, _ := h.store.Cycles(context.Background(), "living", 0)
	assert.Empty(t, cycles)
}

func TestRecoveryUpdateCadence(t *testing.T) {
	h := newHarness(t, evening, 20, nil)
	s := h.c.OnHeatingStop()
	require.False(t, s.RecoveryStartHour.IsZero())

	now := h.clk.Now()
	remaining := s.RecoveryStartHour.Sub(now)
	want := min((remaining / 3).Truncate(time.Second), 20*time.Minute)
	if remaining < 30*time.Minute {
		want = time.Hour
	}
	assert.True(t, s.RecoveryUpdateHour.Equal(now.Add(want)), "update at %v, want +%v", s.RecoveryUpdateHour, want)
}

func TestResetLearning(t *testing.T) {
	h := newHarness(t, evening, 20, manual)
	h.c.OnHeatingStop()
	h.clk.Advance(6 * time.Hour)
	h.c.UpdateInteriorTemperature(17.5)
	s := h.c.OnRecoveryStart()
	require.NotEqual(t, thermal.DefaultRCth, s.RCth.Global)
	require.NoError(t, h.c.SetSetpoint(21))

	s = h.c.ResetLearning()
	for name, v := range map[string]float64{
		"rcth": s.RCth.Global, "rcth_lw": s.RCth.Low, "rcth_hw": s.RCth.High,
		"rpth": s.RPth.Global, "rpth_lw": s.RPth.Low, "rpth_hw": s.RPth.High,
	} {
		assert.Equal(t, 50.0, v, name)
	}
	assert.Zero(t, s.LastRCthError)
	assert.Zero(t, s.LastRPthError)
	assert.Equal(t, 21.0, s.Setpoint, "configuration is kept")
}

func TestSetterValidation(t *testing.T) {
	h := newHarness(t, evening, 20, nil)

	assert.ErrorIs(t, h.c.SetSetpoint(30), heating.ErrSetpointOutOfRange)
	assert.ErrorIs(t, h.c.SetSetpoint(12), heating.ErrSetpointOutOfRange)
	assert.ErrorIs(t, h.c.SetRelaxationFactor(-0.5), heating.ErrInvalidRelaxationFactor)
	assert.ErrorIs(t, h.c.SetTargetHour(schedule.TimeOfDay{Hour: 7, Minute: 60}), schedule.ErrInvalidTimeOfDay)
	assert.ErrorIs(t, h.c.SetRecoveryCalcHour(schedule.TimeOfDay{Hour: -1}), schedule.ErrInvalidTimeOfDay)

	require.NoError(t, h.c.SetRelaxationFactor(0))
	require.NoError(t, h.c.SetSetpoint(20.5))
	h.c.SetAdaptive(false)
	s := h.c.Get()
	assert.Equal(t, 0.0, s.RelaxationFactor)
	assert.Equal(t, 20.5, s.Setpoint)
	assert.False(t, s.Adaptive)
}

func TestSetTargetHourMovesPrediction(t *testing.T) {
	h := newHarness(t, evening, 18.5, nil)
	before := h.c.CalculateRecoveryTime().RecoveryStartHour

	require.NoError(t, h.c.SetTargetHour(schedule.TimeOfDay{Hour: 8}))
	after := h.c.Get().RecoveryStartHour
	assert.True(t, after.After(before))
	assert.True(t, after.Before(time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)))
}

func TestSetRecoveryCalcHourRearmsCutoff(t *testing.T) {
	h := newHarness(t, evening, 20, nil)
	require.NoError(t, h.c.SetRecoveryCalcHour(schedule.TimeOfDay{Hour: 22, Minute: 30}))

	h.clk.AdvanceTo(time.Date(2026, 1, 9, 22, 30, 0, 0, time.UTC))
	assert.Equal(t, heating.PhaseDetectingLag, h.c.Get().Phase)
}

func TestPhoneAlarm(t *testing.T) {
	h := newHarness(t, evening, 20, nil)

	h.c.UpdatePhoneAlarm("2026-01-10T07:15:00")
	s := h.c.Get()
	assert.Equal(t, schedule.TimeOfDay{Hour: 7, Minute: 15}, s.TargetHour)
	assert.Equal(t, "2026-01-10T07:15:00", s.PhoneAlarm)

	h.c.UpdatePhoneAlarm("2026-01-20T05:00:00")
	assert.Equal(t, schedule.TimeOfDay{Hour: 7, Minute: 15}, h.c.Get().TargetHour, "alarm too far ahead")

	h.c.UpdatePhoneAlarm("not a date")
	s = h.c.Get()
	assert.Equal(t, schedule.TimeOfDay{Hour: 7, Minute: 15}, s.TargetHour)
	assert.Equal(t, "not a date", s.PhoneAlarm)
}

func TestListenersAreCalledInOrder(t *testing.T) {
	h := newHarness(t, evening, 20, nil)

	var calls []string
	first := h.c.AddListener(func(heating.Snapshot) { calls = append(calls, "first") })
	h.c.AddListener(func(s heating.Snapshot) {
		calls = append(calls, "second")
		assert.False(t, s.Adaptive)
	})

	h.c.SetAdaptive(false)
	assert.Equal(t, []string{"first", "second"}, calls)

	assert.True(t, h.c.RemoveListener(first))
	assert.False(t, h.c.RemoveListener(first))
	calls = nil
	h.c.SetAdaptive(false)
	assert.Equal(t, []string{"second"}, calls)
}

func TestForecastFeedsSolver(t *testing.T) {
	h := &harness{
		clk: testutil.NewFakeClock(evening),
		wx: weather.NewStatic(5, 9,
			weather.ForecastPoint{TemperatureC: 2, WindKmh: 30},
			weather.ForecastPoint{TemperatureC: 3, WindKmh: 40},
			weather.ForecastPoint{TemperatureC: 4, WindKmh: 50},
			weather.ForecastPoint{TemperatureC: 40, WindKmh: 0},
		),
		store: store.NewMemory(),
	}
	h.start(t, 18.5, nil)

	s := h.c.Get()
	require.NotNil(t, s.ForecastTemperature)
	assert.InDelta(t, 3.0, *s.ForecastTemperature, 1e-9)
	assert.InDelta(t, 40.0, *s.ForecastWindKmh, 1e-9)

	withForecast := h.c.CalculateRecoveryTime().RecoveryStartHour
	h.wx.SetForecast()
	h.clk.Advance(30 * time.Minute)
	assert.InDelta(t, 3.0, *h.c.Get().ForecastTemperature, 1e-9, "failed refresh keeps the previous forecast")
	assert.False(t, withForecast.IsZero())
}

func TestWeatherFailureKeepsLastObservation(t *testing.T) {
	h := newHarness(t, evening, 20, nil)
	h.wx.Fail(errors.New("offline"))
	h.clk.Advance(5 * time.Minute)
	s := h.c.Get()
	require.NotNil(t, s.Exterior)
	assert.Equal(t, 5.0, *s.Exterior)

	h.wx.Fail(nil)
	h.wx.Set(-2, 20)
	h.clk.Advance(time.Minute)
	s = h.c.Get()
	assert.Equal(t, -2.0, *s.Exterior)
	assert.Equal(t, 20.0, s.WindKmh)
	assert.Less(t, *s.Windchill, -2.0)
}

func TestTimeToRecovery(t *testing.T) {
	h := newHarness(t, evening, 18.5, nil)
	s := h.c.CalculateRecoveryTime()

	got, ok := h.c.TimeToRecoveryHours()
	require.True(t, ok)
	assert.InDelta(t, s.RecoveryStartHour.Sub(evening).Hours(), got, 1e-9)

	got, ok = s.TimeToRecovery(s.RecoveryStartHour.Add(time.Hour))
	require.True(t, ok)
	assert.Zero(t, got)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	h := newHarness(t, evening, 20, manual)
	stop := h.c.OnHeatingStop().HeatingStop
	require.NoError(t, h.c.SetSetpoint(21))
	require.NoError(t, h.c.SetTargetHour(schedule.TimeOfDay{Hour: 7, Minute: 30}))
	require.NoError(t, h.c.Close())

	h.start(t, 19.5, manual)
	s := h.c.Get()
	assert.Equal(t, 21.0, s.Setpoint)
	assert.Equal(t, schedule.TimeOfDay{Hour: 7, Minute: 30}, s.TargetHour)
	assert.Equal(t, heating.PhaseMonitoring, s.Phase)
	assert.True(t, s.RecoveryCalcMode)
	assert.True(t, s.HeatingStop.Time.Equal(stop.Time))
	assert.Equal(t, stop.Interior, s.HeatingStop.Interior)
	assert.Equal(t, thermal.DefaultRCth, s.RCth.Low)
}

func TestCorruptSavedFieldsFallBackToDefaults(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.Save(context.Background(), "living", store.Record{
		"rcth_lw":     "not-a-number",
		"rcth_hw":     "30",
		"target_hour": "garbage",
		"phase":       "sleeping",
	}))
	clk := testutil.NewFakeClock(evening)
	c, err := heating.New(baseConfig(), heating.Deps{Clock: clk, Store: mem})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	s := c.Get()
	assert.Equal(t, thermal.DefaultRCth, s.RCth.Low)
	assert.Equal(t, 30.0, s.RCth.High)
	assert.Equal(t, heating.DefaultTargetHour, s.TargetHour)
	assert.Equal(t, heating.PhaseHeatingOn, s.Phase)
}
