package simulation

type RegulatorParams struct {
	TriggerHysteresis float64 // below setpoint minus this, heating starts
	TargetHysteresis  float64 // above setpoint plus this, heating stops
}

func (params *RegulatorParams) Validate() error {
	if params.TargetHysteresis > params.TriggerHysteresis || params.TargetHysteresis < 0 {
		return ErrInvalidRegulatorHysteresis
	}
	return nil
}

// Regulator is an on/off room thermostat with hysteresis.
type Regulator struct {
	params    RegulatorParams
	isHeating bool
}

func NewRegulator(params RegulatorParams) (*Regulator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Regulator{params: params}, nil
}

// Demand latches the heater on below the trigger band and off above the
// target band. A disallowed demand always releases the heater.
func (r *Regulator) Demand(setpoint, interior float64, allowed bool) bool {
	if !allowed {
		r.isHeating = false
		return false
	}
	if !r.isHeating && interior < setpoint-r.params.TriggerHysteresis {
		r.isHeating = true
	}
	if r.isHeating && interior >= setpoint+r.params.TargetHysteresis {
		r.isHeating = false
	}
	return r.isHeating
}

func (r *Regulator) IsHeating() bool { return r.isHeating }
