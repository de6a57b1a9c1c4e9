package heating

import "fmt"

// Phase is the label of the overnight cycle state machine.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseHeatingOn
	PhaseDetectingLag
	PhaseMonitoring
	PhaseRecovery
	PhaseHeatingProcess
)

func (p Phase) Valid() bool {
	return p >= PhaseHeatingOn && p <= PhaseHeatingProcess
}

func (p Phase) String() string {
	switch p {
	case PhaseHeatingOn:
		return "heating_on"
	case PhaseDetectingLag:
		return "detecting_lag"
	case PhaseMonitoring:
		return "monitoring"
	case PhaseRecovery:
		return "recovery"
	case PhaseHeatingProcess:
		return "heating_process"
	default:
		return "unknown"
	}
}

func ParsePhase(s string) (Phase, error) {
	switch s {
	case "heating_on":
		return PhaseHeatingOn, nil
	case "detecting_lag":
		return PhaseDetectingLag, nil
	case "monitoring":
		return PhaseMonitoring, nil
	case "recovery":
		return PhaseRecovery, nil
	case "heating_process":
		return PhaseHeatingProcess, nil
	default:
		return PhaseUnknown, fmt.Errorf("invalid phase: %q", s)
	}
}
