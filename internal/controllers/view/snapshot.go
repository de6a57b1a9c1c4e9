// Package view renders heating snapshots for the outward surfaces.
package view

import (
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
)

type Snapshot struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phase string `json:"phase"`

	Setpoint         float64 `json:"tsp"`
	TargetHour       string  `json:"target_hour"`
	RecoveryCalcHour string  `json:"recoverycalc_hour"`
	RelaxationFactor float64 `json:"relaxation_factor"`

	SmartHeating     bool `json:"smartheating_mode"`
	Adaptive         bool `json:"recovery_adaptive_mode"`
	RecoveryCalcMode bool `json:"recovery_calc_mode"`
	RPCalcMode       bool `json:"rp_calc_mode"`
	LagDetection     bool `json:"temp_lag_detection_active"`

	Interior            *float64 `json:"interior_temp"`
	Exterior            *float64 `json:"exterior_temp"`
	WindKmh             float64  `json:"wind_speed_kmh"`
	Windchill           *float64 `json:"windchill"`
	WindAverageKmh      *float64 `json:"wind_speed_avg_kmh"`
	ForecastTemperature *float64 `json:"forecast_temp"`
	ForecastWindKmh     *float64 `json:"forecast_wind_kmh"`
	PhoneAlarm          string   `json:"phone_alarm,omitempty"`

	RCth           float64 `json:"rcth"`
	RCthLow        float64 `json:"rcth_lw"`
	RCthHigh       float64 `json:"rcth_hw"`
	RPth           float64 `json:"rpth"`
	RPthLow        float64 `json:"rpth_lw"`
	RPthHigh       float64 `json:"rpth_hw"`
	RCthFast       float64 `json:"rcth_fast"`
	RCthCalculated float64 `json:"rcth_calculated"`
	RPthCalculated float64 `json:"rpth_calculated"`
	LastRCthError  float64 `json:"last_rcth_error"`
	LastRPthError  float64 `json:"last_rpth_error"`

	HeatingStop   Checkpoint `json:"recovery_calc"`
	RecoveryStart Checkpoint `json:"recovery_start"`
	RecoveryEnd   Checkpoint `json:"recovery_end"`

	RecoveryStartHour     *string  `json:"recovery_start_hour"`
	RecoveryUpdateHour    *string  `json:"recovery_update_hour"`
	RecoveryDurationHours float64  `json:"recovery_duration_hours"`
	TimeToRecoveryHours   *float64 `json:"time_to_recovery_hours"`
	StopLagSeconds        float64  `json:"stop_lag_seconds"`
}

type Checkpoint struct {
	Time     *string `json:"time"`
	Interior float64 `json:"temp"`
	Exterior float64 `json:"text"`
}

func isoTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	v := t.Format(time.RFC3339)
	return &v
}

func checkpoint(c thermal.Checkpoint) Checkpoint {
	return Checkpoint{Time: isoTime(c.Time), Interior: c.Interior, Exterior: c.Exterior}
}

// FromSnapshot renders s as seen at now.
func FromSnapshot(s heating.Snapshot, now time.Time) Snapshot {
	v := Snapshot{
		ID:                    s.ID,
		Name:                  s.Name,
		Phase:                 s.Phase.String(),
		Setpoint:              s.Setpoint,
		TargetHour:            s.TargetHour.String(),
		RecoveryCalcHour:      s.RecoveryCalcHour.String(),
		RelaxationFactor:      s.RelaxationFactor,
		SmartHeating:          s.SmartHeating,
		Adaptive:              s.Adaptive,
		RecoveryCalcMode:      s.RecoveryCalcMode,
		RPCalcMode:            s.RPCalcMode,
		LagDetection:          s.LagDetection,
		Interior:              s.Interior,
		Exterior:              s.Exterior,
		WindKmh:               s.WindKmh,
		Windchill:             s.Windchill,
		WindAverageKmh:        s.WindAverageKmh,
		ForecastTemperature:   s.ForecastTemperature,
		ForecastWindKmh:       s.ForecastWindKmh,
		PhoneAlarm:            s.PhoneAlarm,
		RCth:                  s.RCth.Global,
		RCthLow:               s.RCth.Low,
		RCthHigh:              s.RCth.High,
		RPth:                  s.RPth.Global,
		RPthLow:               s.RPth.Low,
		RPthHigh:              s.RPth.High,
		RCthFast:              s.RCthFast,
		RCthCalculated:        s.RCthCalculated,
		RPthCalculated:        s.RPthCalculated,
		LastRCthError:         s.LastRCthError,
		LastRPthError:         s.LastRPthError,
		HeatingStop:           checkpoint(s.HeatingStop),
		RecoveryStart:         checkpoint(s.RecoveryStart),
		RecoveryEnd:           checkpoint(s.RecoveryEnd),
		RecoveryStartHour:     isoTime(s.RecoveryStartHour),
		RecoveryUpdateHour:    isoTime(s.RecoveryUpdateHour),
		RecoveryDurationHours: s.RecoveryDuration,
		StopLagSeconds:        s.StopLag.Seconds(),
	}
	if h, ok := s.TimeToRecovery(now); ok {
		v.TimeToRecoveryHours = &h
	}
	return v
}
