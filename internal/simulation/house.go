// Package simulation replays heating nights against a first-order house model.
package simulation

import (
	"math"
	"time"
)

type HouseParams struct {
	// RCth is the cooling time constant, in hours.
	RCth float64
	// RPth is the steady rise above exterior with the heater on, in °C.
	RPth float64
}

func (params *HouseParams) Validate() error {
	if params.RCth <= 0 {
		return ErrInvalidTimeConstant
	}
	if params.RPth < 0 {
		return ErrNegativeHeatingRise
	}
	return nil
}

// House holds the interior temperature of a single thermal zone.
type House struct {
	params   HouseParams
	interior float64
}

func NewHouse(params HouseParams, interior float64) (*House, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &House{params: params, interior: interior}, nil
}

func (h *House) Interior() float64 { return h.interior }

// DeltaTemperature is the exact change of the interior over dt toward the
// equilibrium temperature, exterior plus RPth when heating.
func (h *House) DeltaTemperature(exterior float64, heating bool, dt time.Duration) float64 {
	eq := exterior
	if heating {
		eq += h.params.RPth
	}
	decay := math.Exp(-dt.Hours() / h.params.RCth)
	return (eq - h.interior) * (1 - decay)
}

func (h *House) Step(exterior float64, heating bool, dt time.Duration) float64 {
	h.interior += h.DeltaTemperature(exterior, heating, dt)
	return h.interior
}
