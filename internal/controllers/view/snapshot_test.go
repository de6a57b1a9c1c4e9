package view

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
)

func TestFromSnapshot(t *testing.T) {
	now := time.Date(2026, 1, 9, 22, 0, 0, 0, time.UTC)
	interior := 19.5
	s := heating.Snapshot{
		ID:                "living",
		Phase:             heating.PhaseMonitoring,
		Setpoint:          19,
		TargetHour:        schedule.TimeOfDay{Hour: 6, Minute: 30},
		RecoveryCalcHour:  schedule.TimeOfDay{Hour: 23},
		Interior:          &interior,
		HeatingStop:       thermal.Checkpoint{Time: now.Add(-time.Hour), Interior: 20, Exterior: 4},
		RecoveryStartHour: now.Add(5 * time.Hour),
		StopLag:           90 * time.Second,
	}

	b, err := json.Marshal(FromSnapshot(s, now))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}

	checks := map[string]any{
		"phase":                  "monitoring",
		"target_hour":            "06:30",
		"recoverycalc_hour":      "23:00",
		"interior_temp":          19.5,
		"exterior_temp":          nil,
		"recovery_start_hour":    "2026-01-10T03:00:00Z",
		"recovery_update_hour":   nil,
		"time_to_recovery_hours": 5.0,
		"stop_lag_seconds":       90.0,
	}
	for key, want := range checks {
		if got[key] != want {
			t.Fatalf("%s = %v, want %v", key, got[key], want)
		}
	}
	stop, _ := got["recovery_calc"].(map[string]any)
	if stop["time"] != "2026-01-09T21:00:00Z" || stop["temp"] != 20.0 {
		t.Fatalf("unexpected heating stop %v", stop)
	}
}
