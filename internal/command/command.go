// Package command executes the named operations exposed to automation layers
// against one heating instance and reports a structured result.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/ports"
)

var ErrUnknownCommand = errors.New("unknown command")

// Kind is an integer enum of the supported commands.
type Kind int

const (
	KindUnknown Kind = iota
	KindCalculateRecoveryTime
	KindCalculateRecoveryUpdateTime
	KindCalculateRCthFast
	KindOnHeatingStop
	KindOnRecoveryStart
	KindOnRecoveryEnd
	KindResetLearning
	KindTriggerCalculation
)

// Kinds lists every valid command.
func Kinds() []Kind {
	return []Kind{
		KindCalculateRecoveryTime,
		KindCalculateRecoveryUpdateTime,
		KindCalculateRCthFast,
		KindOnHeatingStop,
		KindOnRecoveryStart,
		KindOnRecoveryEnd,
		KindResetLearning,
		KindTriggerCalculation,
	}
}

func (k Kind) Valid() bool {
	return k >= KindCalculateRecoveryTime && k <= KindTriggerCalculation
}

func (k Kind) String() string {
	switch k {
	case KindCalculateRecoveryTime:
		return "calculate_recovery_time"
	case KindCalculateRecoveryUpdateTime:
		return "calculate_recovery_update_time"
	case KindCalculateRCthFast:
		return "calculate_rcth_fast"
	case KindOnHeatingStop:
		return "on_heating_stop"
	case KindOnRecoveryStart:
		return "on_recovery_start"
	case KindOnRecoveryEnd:
		return "on_recovery_end"
	case KindResetLearning:
		return "reset_learning"
	case KindTriggerCalculation:
		return "trigger_calculation"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// Command targets one instance. An empty InstanceID selects the default one.
type Command struct {
	Kind       Kind
	InstanceID string
}

type Result struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}

func ok(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// isoTime formats t, or returns nil for a time never set.
func isoTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

// Dispatch resolves the target instance and executes cmd on it. Failures are
// reported in the result, never returned.
func Dispatch(ctx context.Context, dir ports.Directory, cmd Command) Result {
	if !cmd.Kind.Valid() {
		return failure(fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind))
	}
	svc, err := dir.Resolve(cmd.InstanceID)
	if err != nil {
		return failure(err)
	}
	return Execute(ctx, svc, cmd.Kind)
}

// Execute runs one command on svc.
func Execute(ctx context.Context, svc ports.HeatingService, kind Kind) Result {
	var s heating.Snapshot
	switch kind {
	case KindCalculateRecoveryTime:
		s = svc.CalculateRecoveryTime()
		return ok(map[string]any{"recovery_start_hour": isoTime(s.RecoveryStartHour)})
	case KindCalculateRecoveryUpdateTime:
		s = svc.CalculateRecoveryUpdateTime()
		return ok(map[string]any{"recovery_update_hour": isoTime(s.RecoveryUpdateHour)})
	case KindCalculateRCthFast:
		s = svc.CalculateRCthFast()
		return ok(map[string]any{"rcth_fast": s.RCthFast})
	case KindOnHeatingStop:
		s = svc.OnHeatingStop()
		return ok(map[string]any{"time_recovery_calc": isoTime(s.HeatingStop.Time)})
	case KindOnRecoveryStart:
		s = svc.OnRecoveryStart()
		return ok(map[string]any{
			"time_recovery_start": isoTime(s.RecoveryStart.Time),
			"rcth_calculated":     s.RCthCalculated,
		})
	case KindOnRecoveryEnd:
		s = svc.OnRecoveryEnd()
		return ok(map[string]any{
			"time_recovery_end": isoTime(s.RecoveryEnd.Time),
			"rpth_calculated":   s.RPthCalculated,
		})
	case KindResetLearning:
		s = svc.ResetLearning()
		res := ok(map[string]any{
			"rcth":    s.RCth.Global,
			"rcth_lw": s.RCth.Low,
			"rcth_hw": s.RCth.High,
			"rpth":    s.RPth.Global,
			"rpth_lw": s.RPth.Low,
			"rpth_hw": s.RPth.High,
		})
		res.Message = "Learning reset to defaults"
		return res
	case KindTriggerCalculation:
		s = svc.TriggerCalculation(ctx)
		var hours any
		if h, known := s.TimeToRecovery(svc.Now()); known {
			hours = h
		}
		return ok(map[string]any{
			"recovery_start_hour":    isoTime(s.RecoveryStartHour),
			"time_to_recovery_hours": hours,
		})
	default:
		return failure(fmt.Errorf("%w: %s", ErrUnknownCommand, kind))
	}
}
