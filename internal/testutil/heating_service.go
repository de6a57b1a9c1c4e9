package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/store"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
)

// FakeHeatingService is a reusable fake implementing ports.HeatingService.
// Put ONLY what multiple test packages need here.
type FakeHeatingService struct {
	mu sync.Mutex

	S     heating.Snapshot
	Clock time.Time

	// Calls lists every command invoked, by name, in order.
	Calls []string

	SetSetpointCalled bool
	SetSetpointArg    float64
	SetSetpointErr    error

	SetTargetHourCalled bool
	SetTargetHourArg    schedule.TimeOfDay
	SetTargetHourErr    error

	SetRecoveryCalcHourCalled bool
	SetRecoveryCalcHourArg    schedule.TimeOfDay
	SetRecoveryCalcHourErr    error

	SetRelaxationFactorCalled bool
	SetRelaxationFactorArg    float64
	SetRelaxationFactorErr    error

	// Coefficients records every SetCoefficient call, by field name.
	Coefficients      map[string]float64
	SetCoefficientErr error

	SetSmartHeatingCalled bool
	SetSmartHeatingArg    bool

	SetAdaptiveCalled bool
	SetAdaptiveArg    bool

	InteriorUpdates []float64
	AlarmUpdates    []string

	CyclesOut []store.Cycle
	CyclesErr error

	listeners []fakeListener
	nextID    heating.ListenerID
}

type fakeListener struct {
	id heating.ListenerID
	fn func(heating.Snapshot)
}

func NewFakeHeatingService(id string) *FakeHeatingService {
	coeff := thermal.Coefficient{
		Global: thermal.DefaultRCth,
		Pair:   thermal.Pair{Low: thermal.DefaultRCth, High: thermal.DefaultRCth},
	}
	return &FakeHeatingService{
		Clock: time.Date(2026, 1, 9, 22, 0, 0, 0, time.UTC),
		S: heating.Snapshot{
			ID:               id,
			Name:             id,
			Setpoint:         19,
			TargetHour:       heating.DefaultTargetHour,
			RecoveryCalcHour: heating.DefaultRecoveryCalcHour,
			RelaxationFactor: thermal.DefaultRelaxationFactor,
			SmartHeating:     true,
			Adaptive:         true,
			RCth:             coeff,
			RPth:             coeff,
			Phase:            heating.PhaseHeatingOn,
		},
	}
}

func (f *FakeHeatingService) ID() string { return f.S.ID }

func (f *FakeHeatingService) Get() heating.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.S
}

func (f *FakeHeatingService) Now() time.Time { return f.Clock }

func (f *FakeHeatingService) SetSetpoint(v float64) error {
	f.mu.Lock()
	f.SetSetpointCalled = true
	f.SetSetpointArg = v
	if f.SetSetpointErr != nil {
		f.mu.Unlock()
		return f.SetSetpointErr
	}
	f.S.Setpoint = v
	f.mu.Unlock()
	f.Emit()
	return nil
}

func (f *FakeHeatingService) SetTargetHour(t schedule.TimeOfDay) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetTargetHourCalled = true
	f.SetTargetHourArg = t
	if f.SetTargetHourErr != nil {
		return f.SetTargetHourErr
	}
	f.S.TargetHour = t
	return nil
}

func (f *FakeHeatingService) SetRecoveryCalcHour(t schedule.TimeOfDay) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetRecoveryCalcHourCalled = true
	f.SetRecoveryCalcHourArg = t
	if f.SetRecoveryCalcHourErr != nil {
		return f.SetRecoveryCalcHourErr
	}
	f.S.RecoveryCalcHour = t
	return nil
}

func (f *FakeHeatingService) SetRelaxationFactor(r float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetRelaxationFactorCalled = true
	f.SetRelaxationFactorArg = r
	if f.SetRelaxationFactorErr != nil {
		return f.SetRelaxationFactorErr
	}
	f.S.RelaxationFactor = r
	return nil
}

func (f *FakeHeatingService) SetCoefficient(field heating.CoefficientField, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetCoefficientErr != nil {
		return f.SetCoefficientErr
	}
	if f.Coefficients == nil {
		f.Coefficients = map[string]float64{}
	}
	f.Coefficients[field.String()] = v
	switch field {
	case heating.FieldRCth:
		f.S.RCth.Global = v
	case heating.FieldRCthLow:
		f.S.RCth.Low = v
	case heating.FieldRCthHigh:
		f.S.RCth.High = v
	case heating.FieldRPth:
		f.S.RPth.Global = v
	case heating.FieldRPthLow:
		f.S.RPth.Low = v
	case heating.FieldRPthHigh:
		f.S.RPth.High = v
	}
	return nil
}

// Coefficient returns the last value set for name.
func (f *FakeHeatingService) Coefficient(name string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Coefficients[name]
	return v, ok
}

func (f *FakeHeatingService) SetSmartHeating(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetSmartHeatingCalled = true
	f.SetSmartHeatingArg = on
	f.S.SmartHeating = on
}

func (f *FakeHeatingService) SetAdaptive(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetAdaptiveCalled = true
	f.SetAdaptiveArg = on
	f.S.Adaptive = on
}

func (f *FakeHeatingService) UpdateInteriorTemperature(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InteriorUpdates = append(f.InteriorUpdates, v)
	f.S.Interior = &v
}

func (f *FakeHeatingService) UpdatePhoneAlarm(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AlarmUpdates = append(f.AlarmUpdates, raw)
	f.S.PhoneAlarm = raw
}

func (f *FakeHeatingService) record(name string) heating.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, name)
	return f.S
}

// CallNames returns a copy of Calls.
func (f *FakeHeatingService) CallNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

func (f *FakeHeatingService) CalculateRecoveryTime() heating.Snapshot {
	return f.record("calculate_recovery_time")
}

func (f *FakeHeatingService) CalculateRecoveryUpdateTime() heating.Snapshot {
	return f.record("calculate_recovery_update_time")
}

func (f *FakeHeatingService) CalculateRCthFast() heating.Snapshot {
	return f.record("calculate_rcth_fast")
}

func (f *FakeHeatingService) OnHeatingStop() heating.Snapshot { return f.record("on_heating_stop") }

func (f *FakeHeatingService) OnRecoveryStart() heating.Snapshot { return f.record("on_recovery_start") }

func (f *FakeHeatingService) OnRecoveryEnd() heating.Snapshot { return f.record("on_recovery_end") }

func (f *FakeHeatingService) ResetLearning() heating.Snapshot { return f.record("reset_learning") }

func (f *FakeHeatingService) TriggerCalculation(context.Context) heating.Snapshot {
	return f.record("trigger_calculation")
}

func (f *FakeHeatingService) AddListener(fn func(heating.Snapshot)) heating.ListenerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.listeners = append(f.listeners, fakeListener{id: f.nextID, fn: fn})
	return f.nextID
}

func (f *FakeHeatingService) RemoveListener(id heating.ListenerID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, l := range f.listeners {
		if l.id == id {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Listeners is the number of registered listeners.
func (f *FakeHeatingService) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Emit sends the current snapshot to every listener.
func (f *FakeHeatingService) Emit() {
	f.mu.Lock()
	snap := f.S
	ls := append([]fakeListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		l.fn(snap)
	}
}

func (f *FakeHeatingService) Cycles(_ context.Context, limit int) ([]store.Cycle, error) {
	if f.CyclesErr != nil {
		return nil, f.CyclesErr
	}
	if limit > 0 && limit < len(f.CyclesOut) {
		return f.CyclesOut[:limit], nil
	}
	return f.CyclesOut, nil
}
