package heating

import (
	"fmt"
	"strings"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/thermal"
)

// CoefficientField names one hand-settable thermal coefficient.
type CoefficientField int

const (
	FieldUnknown CoefficientField = iota
	FieldRCth
	FieldRCthLow
	FieldRCthHigh
	FieldRPth
	FieldRPthLow
	FieldRPthHigh
)

// CoefficientFields lists the settable fields in register order.
func CoefficientFields() []CoefficientField {
	return []CoefficientField{FieldRCth, FieldRCthLow, FieldRCthHigh, FieldRPth, FieldRPthLow, FieldRPthHigh}
}

func (f CoefficientField) Valid() bool {
	return f >= FieldRCth && f <= FieldRPthHigh
}

func (f CoefficientField) String() string {
	switch f {
	case FieldRCth:
		return "rcth"
	case FieldRCthLow:
		return "rcth_lw"
	case FieldRCthHigh:
		return "rcth_hw"
	case FieldRPth:
		return "rpth"
	case FieldRPthLow:
		return "rpth_lw"
	case FieldRPthHigh:
		return "rpth_hw"
	default:
		return "unknown"
	}
}

func ParseCoefficientField(s string) (CoefficientField, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, f := range CoefficientFields() {
		if f.String() == name {
			return f, nil
		}
	}
	return FieldUnknown, fmt.Errorf("%w: %q", ErrUnknownCoefficient, s)
}

// Value reads field f of the snapshot.
func (s Snapshot) Value(f CoefficientField) float64 {
	switch f {
	case FieldRCth:
		return s.RCth.Global
	case FieldRCthLow:
		return s.RCth.Low
	case FieldRCthHigh:
		return s.RCth.High
	case FieldRPth:
		return s.RPth.Global
	case FieldRPthLow:
		return s.RPth.Low
	case FieldRPthHigh:
		return s.RPth.High
	default:
		return 0
	}
}

// SetCoefficient overrides a learned coefficient and recalculates the
// recovery time. Values are clamped to [CoefficientMin, CoefficientMax]. The
// high-wind value never exceeds the low-wind one: a high-wind value above it
// is lowered, and a low-wind value below the high-wind one drags it down.
func (c *Coordinator) SetCoefficient(f CoefficientField, v float64) error {
	if !f.Valid() {
		return ErrUnknownCoefficient
	}
	if !finite(v) {
		return ErrInvalidCoefficient
	}
	v = thermal.ClampCoefficient(v)
	c.update(func(now time.Time, fx *effects) {
		s := &c.s
		switch f {
		case FieldRCth:
			s.RCth.Global = v
		case FieldRCthLow:
			s.RCth.Low = v
			s.RCth.High = min(s.RCth.High, v)
		case FieldRCthHigh:
			s.RCth.High = min(v, s.RCth.Low)
		case FieldRPth:
			s.RPth.Global = v
		case FieldRPthLow:
			s.RPth.Low = v
			s.RPth.High = min(s.RPth.High, v)
		case FieldRPthHigh:
			s.RPth.High = min(v, s.RPth.Low)
		}
		c.calculateRecoveryLocked(now)
		fx.persist = true
		c.log.Infow("coefficient set", "field", f.String(), "value", v)
	})
	return nil
}
