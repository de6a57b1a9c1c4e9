package heating

import "errors"

var (
	ErrSetpointOutOfRange      = errors.New("setpoint out of range")
	ErrInvalidRelaxationFactor = errors.New("relaxation factor must be a number >= 0")
	ErrMissingInstanceID       = errors.New("missing instance id")
	ErrAlreadyStarted          = errors.New("coordinator already started")
	ErrUnknownCoefficient      = errors.New("unknown coefficient")
	ErrInvalidCoefficient      = errors.New("coefficient must be a finite number")
)
