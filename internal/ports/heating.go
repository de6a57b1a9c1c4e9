package ports

import (
	"context"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/store"
)

// HeatingService is the control-plane port used by controllers (HTTP/MQTT/Modbus)
// and by command dispatch.
type HeatingService interface {
	ID() string
	Get() heating.Snapshot
	Now() time.Time

	SetSetpoint(float64) error
	SetTargetHour(schedule.TimeOfDay) error
	SetRecoveryCalcHour(schedule.TimeOfDay) error
	SetRelaxationFactor(float64) error
	SetCoefficient(heating.CoefficientField, float64) error
	SetSmartHeating(bool)
	SetAdaptive(bool)

	UpdateInteriorTemperature(float64)
	UpdatePhoneAlarm(string)

	CalculateRecoveryTime() heating.Snapshot
	CalculateRecoveryUpdateTime() heating.Snapshot
	CalculateRCthFast() heating.Snapshot
	OnHeatingStop() heating.Snapshot
	OnRecoveryStart() heating.Snapshot
	OnRecoveryEnd() heating.Snapshot
	ResetLearning() heating.Snapshot
	TriggerCalculation(context.Context) heating.Snapshot

	AddListener(func(heating.Snapshot)) heating.ListenerID
	RemoveListener(heating.ListenerID) bool
	Cycles(ctx context.Context, limit int) ([]store.Cycle, error)
}

// Directory finds running instances by identifier.
type Directory interface {
	// Resolve returns the instance for id. An empty id selects the default instance.
	Resolve(id string) (HeatingService, error)
	List() []HeatingService
}

var _ HeatingService = (*heating.Coordinator)(nil)
