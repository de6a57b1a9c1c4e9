package heating

import (
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/store"
	"github.com/Agrid-Dev/smarthrt/internal/thermal"
)

// field describes one persisted attribute of the thermal state.
// A nil def keeps the configured value when the key is absent.
type field struct {
	key  string
	kind store.Kind
	def  any
	get  func(*Snapshot) any
	set  func(*Snapshot, any) bool
}

func bind[T any](key string, kind store.Kind, def any, p func(*Snapshot) *T) field {
	return field{
		key:  key,
		kind: kind,
		def:  def,
		get:  func(s *Snapshot) any { return *p(s) },
		set: func(s *Snapshot, v any) bool {
			t, ok := v.(T)
			if ok {
				*p(s) = t
			}
			return ok
		},
	}
}

func timeOfDayField(key string, fallback schedule.TimeOfDay, p func(*Snapshot) *schedule.TimeOfDay) field {
	return field{
		key:  key,
		kind: store.KindString,
		get:  func(s *Snapshot) any { return p(s).String() },
		set: func(s *Snapshot, v any) bool {
			str, ok := v.(string)
			if ok {
				*p(s) = schedule.ParseTimeOfDayOr(str, fallback)
			}
			return ok
		},
	}
}

// fields is the table read by load and save. Live measurements are not
// persisted: they are refreshed from their sources on start.
var fields = []field{
	bind("tsp", store.KindFloat, nil, func(s *Snapshot) *float64 { return &s.Setpoint }),
	timeOfDayField("target_hour", DefaultTargetHour, func(s *Snapshot) *schedule.TimeOfDay { return &s.TargetHour }),
	timeOfDayField("recoverycalc_hour", DefaultRecoveryCalcHour, func(s *Snapshot) *schedule.TimeOfDay { return &s.RecoveryCalcHour }),
	bind("relaxation_factor", store.KindFloat, nil, func(s *Snapshot) *float64 { return &s.RelaxationFactor }),

	bind("smartheating_mode", store.KindBool, nil, func(s *Snapshot) *bool { return &s.SmartHeating }),
	bind("recovery_adaptive_mode", store.KindBool, nil, func(s *Snapshot) *bool { return &s.Adaptive }),
	bind("recovery_calc_mode", store.KindBool, false, func(s *Snapshot) *bool { return &s.RecoveryCalcMode }),
	bind("rp_calc_mode", store.KindBool, false, func(s *Snapshot) *bool { return &s.RPCalcMode }),
	bind("temp_lag_detection_active", store.KindBool, false, func(s *Snapshot) *bool { return &s.LagDetection }),

	bind("rcth", store.KindFloat, thermal.DefaultRCth, func(s *Snapshot) *float64 { return &s.RCth.Global }),
	bind("rcth_lw", store.KindFloat, thermal.DefaultRCth, func(s *Snapshot) *float64 { return &s.RCth.Low }),
	bind("rcth_hw", store.KindFloat, thermal.DefaultRCth, func(s *Snapshot) *float64 { return &s.RCth.High }),
	bind("rpth", store.KindFloat, thermal.DefaultRPth, func(s *Snapshot) *float64 { return &s.RPth.Global }),
	bind("rpth_lw", store.KindFloat, thermal.DefaultRPth, func(s *Snapshot) *float64 { return &s.RPth.Low }),
	bind("rpth_hw", store.KindFloat, thermal.DefaultRPth, func(s *Snapshot) *float64 { return &s.RPth.High }),
	bind("rcth_fast", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.RCthFast }),
	bind("rcth_calculated", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.RCthCalculated }),
	bind("rpth_calculated", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.RPthCalculated }),
	bind("last_rcth_error", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.LastRCthError }),
	bind("last_rpth_error", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.LastRPthError }),

	bind("time_recovery_calc", store.KindTime, time.Time{}, func(s *Snapshot) *time.Time { return &s.HeatingStop.Time }),
	bind("temp_recovery_calc", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.HeatingStop.Interior }),
	bind("text_recovery_calc", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.HeatingStop.Exterior }),
	bind("time_recovery_start", store.KindTime, time.Time{}, func(s *Snapshot) *time.Time { return &s.RecoveryStart.Time }),
	bind("temp_recovery_start", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.RecoveryStart.Interior }),
	bind("text_recovery_start", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.RecoveryStart.Exterior }),
	bind("time_recovery_end", store.KindTime, time.Time{}, func(s *Snapshot) *time.Time { return &s.RecoveryEnd.Time }),
	bind("temp_recovery_end", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.RecoveryEnd.Interior }),
	bind("text_recovery_end", store.KindFloat, 0.0, func(s *Snapshot) *float64 { return &s.RecoveryEnd.Exterior }),

	bind("recovery_start_hour", store.KindTime, time.Time{}, func(s *Snapshot) *time.Time { return &s.RecoveryStartHour }),
	bind("phone_alarm", store.KindString, nil, func(s *Snapshot) *string { return &s.PhoneAlarm }),
	{
		key:  "stop_lag_duration",
		kind: store.KindFloat,
		def:  0.0,
		get:  func(s *Snapshot) any { return s.StopLag.Seconds() },
		set: func(s *Snapshot, v any) bool {
			f, ok := v.(float64)
			if ok {
				s.StopLag = time.Duration(f * float64(time.Second))
			}
			return ok
		},
	},
	{
		key:  "phase",
		kind: store.KindString,
		get:  func(s *Snapshot) any { return s.Phase.String() },
		set: func(s *Snapshot, v any) bool {
			str, _ := v.(string)
			p, err := ParsePhase(str)
			if err != nil {
				return false
			}
			s.Phase = p
			return true
		},
	},
}

// encodeRecord serializes every field of s.
func encodeRecord(s *Snapshot) (store.Record, error) {
	rec := make(store.Record, len(fields))
	for _, f := range fields {
		v, err := store.Encode(f.kind, f.get(s))
		if err != nil {
			return nil, err
		}
		rec[f.key] = v
	}
	return rec, nil
}

// applyRecord loads rec into s. Missing keys take the field default; keys
// that fail to decode are reported and take the default too.
func applyRecord(s *Snapshot, rec store.Record, loc *time.Location) (bad []string) {
	for _, f := range fields {
		raw, ok := rec[f.key]
		if ok {
			v, err := store.Decode(f.kind, raw)
			if err == nil {
				if t, isTime := v.(time.Time); isTime && !t.IsZero() && loc != nil {
					v = t.In(loc)
				}
				if f.set(s, v) {
					continue
				}
			}
			bad = append(bad, f.key)
		}
		if f.def != nil {
			f.set(s, f.def)
		}
	}
	return bad
}

// resetLearning restores every coefficient and its diagnostics.
func resetLearning(s *Snapshot) {
	s.RCth = defaultRCth()
	s.RPth = defaultRPth()
	s.LastRCthError = 0
	s.LastRPthError = 0
}
