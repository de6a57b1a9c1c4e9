package simulation

import "errors"

var (
	ErrInvalidTimeConstant        = errors.New("house time constant must be strictly positive")
	ErrNegativeHeatingRise        = errors.New("heating temperature rise must be greater or equal to zero")
	ErrInvalidRegulatorHysteresis = errors.New("trigger hysteresis must be greater or equal to target hysteresis")
	ErrInvalidStep                = errors.New("simulation step must be strictly positive")
)
