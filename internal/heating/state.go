package heating

import (
	"math"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
)

const (
	SetpointMin = 13.0
	SetpointMax = 26.0

	DefaultSetpoint = 19.0

	// Substituted when a checkpoint is taken before any reading arrived.
	fallbackInterior = 17.0
	fallbackExterior = 0.0
)

var (
	DefaultTargetHour       = schedule.TimeOfDay{Hour: 6}
	DefaultRecoveryCalcHour = schedule.TimeOfDay{Hour: 23}
)

// Snapshot is a copy of the thermal state of one instance.
type Snapshot struct {
	ID   string
	Name string

	Setpoint         float64
	TargetHour       schedule.TimeOfDay
	RecoveryCalcHour schedule.TimeOfDay
	RelaxationFactor float64

	SmartHeating     bool
	Adaptive         bool
	RecoveryCalcMode bool
	RPCalcMode       bool
	LagDetection     bool

	RCth           thermal.Coefficient
	RPth           thermal.Coefficient
	RCthFast       float64
	RCthCalculated float64
	RPthCalculated float64
	LastRCthError  float64
	LastRPthError  float64

	// Live measurements; nil until the first reading.
	Interior            *float64
	Exterior            *float64
	WindKmh             float64
	Windchill           *float64
	WindAverageKmh      *float64
	ForecastTemperature *float64
	ForecastWindKmh     *float64
	PhoneAlarm          string

	HeatingStop   thermal.Checkpoint
	RecoveryStart thermal.Checkpoint
	RecoveryEnd   thermal.Checkpoint

	// RecoveryStartHour is zero until a prediction was made.
	RecoveryStartHour  time.Time
	RecoveryUpdateHour time.Time
	// RecoveryDuration is the last solved heating time, in hours.
	RecoveryDuration float64
	Phase            Phase
	StopLag          time.Duration
}

func defaultRCth() thermal.Coefficient {
	return thermal.Coefficient{
		Global: thermal.DefaultRCth,
		Pair:   thermal.Pair{Low: thermal.DefaultRCth, High: thermal.DefaultRCth},
	}
}

func defaultRPth() thermal.Coefficient {
	return thermal.Coefficient{
		Global: thermal.DefaultRPth,
		Pair:   thermal.Pair{Low: thermal.DefaultRPth, High: thermal.DefaultRPth},
	}
}

// TimeToRecovery returns the hours left before the predicted recovery start,
// 0 once it has passed. It fails when no prediction exists.
func (s Snapshot) TimeToRecovery(now time.Time) (float64, bool) {
	if s.RecoveryStartHour.IsZero() {
		return 0, false
	}
	h := s.RecoveryStartHour.Sub(now).Hours()
	if h < 0 {
		h = 0
	}
	return h, true
}

func validSetpoint(v float64) bool {
	return v >= SetpointMin && v <= SetpointMax
}

func validRelaxation(r float64) bool {
	return r >= 0 && !math.IsInf(r, 1)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func ptr[T any](v T) *T { return &v }
