package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/smarthrt/internal/command"
	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/logger"
	"github.com/Agrid-Dev/smarthrt/internal/ports"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
)

// Register map of one instance.
//
// Coils: 0 smartheating_mode and 1 recovery_adaptive_mode are writable.
// 2 recovery_calc_mode, 3 rp_calc_mode and 4 temp_lag_detection_active are
// read only. From 8 on, one write-only coil per command in command.Kinds()
// order runs that command when set.
//
// Holding registers: 0 tsp, 1 target_hour, 2 recoverycalc_hour,
// 3 relaxation_factor, 4..9 rcth, rcth_lw, rcth_hw, rpth, rpth_lw, rpth_hw.
// The coefficient registers mirror input registers 5..10 and override them
// when written.
//
// Input registers: 0 interior, 1 exterior, 2 wind, 3 windchill, 4 phase,
// 5..10 rcth, rcth_lw, rcth_hw, rpth, rpth_lw, rpth_hw, 11 minutes left
// before recovery start, 12 recovery start as minute of day.
//
// Temperatures, wind and the relaxation factor are scaled by
// TemperatureScale, coefficients by CoefficientScale. Hours are minutes
// since midnight.
const (
	coilSmartHeating = 0
	coilAdaptive     = 1
	coilCommandBase  = 8

	hrSetpoint     = 0
	hrTargetHour   = 1
	hrRecoveryCalc = 2
	hrRelaxation   = 3
	hrCoefficients = 4

	inputCount = 13

	// Unavailable marks a missing temperature.
	Unavailable uint16 = 0x8000
	// Unknown marks a missing time value.
	Unknown uint16 = 0xFFFF

	TemperatureScale = 100
	CoefficientScale = 10
)

// Config for the Modbus controller.
type Config struct {
	Addr   string
	UnitID byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
}

type Controller struct {
	svc ports.HeatingService
	cfg Config
	log *logger.Logger

	serv *mbserver.Server
}

func New(svc ports.HeatingService, cfg Config, log *logger.Logger) (*Controller, error) {
	if svc == nil {
		return nil, errors.New("modbus: heating instance is required")
	}
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Controller{svc: svc, cfg: cfg, log: log.With("controller", "modbus", "instance", svc.ID())}, nil
}

func coilCount() int { return coilCommandBase + len(command.Kinds()) }

func holdingCount() int { return hrCoefficients + len(heating.CoefficientFields()) }

// Run starts the Modbus server and registers handlers that apply writes immediately and
// provide reads directly from the heating instance. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races inside mbserver
	// between handler registration and the server's goroutines.
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(3, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return readRegisters(frame, holdingCount(), c.holding(c.svc.Get()))
	})
	serv.RegisterFunctionHandler(4, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return readRegisters(frame, inputCount, c.input(c.svc.Get()))
	})
	serv.RegisterFunctionHandler(5, c.writeCoil)

	// Write Single Register (function 6)
	serv.RegisterFunctionHandler(6, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		data := frame.GetData()
		if len(data) < 4 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		addr := binary.BigEndian.Uint16(data[0:2])
		value := binary.BigEndian.Uint16(data[2:4])
		if ex := c.writeHolding(int(addr), value); ex != nil {
			return []byte{}, ex
		}
		resp := make([]byte, 4)
		copy(resp, data[0:4])
		return resp, &mbserver.Success
	})

	// Write Multiple Registers (function 16)
	serv.RegisterFunctionHandler(16, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		d := frame.GetData()
		if len(d) < 5 {
			return []byte{}, &mbserver.IllegalDataValue
		}
		start := binary.BigEndian.Uint16(d[0:2])
		quantity := binary.BigEndian.Uint16(d[2:4])
		byteCount := int(d[4])
		if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
			return []byte{}, &mbserver.IllegalDataValue
		}
		for i := 0; i < int(quantity); i++ {
			val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
			if ex := c.writeHolding(int(start)+i, val); ex != nil {
				return []byte{}, ex
			}
		}
		resp := make([]byte, 4)
		binary.BigEndian.PutUint16(resp[0:2], start)
		binary.BigEndian.PutUint16(resp[2:4], quantity)
		return resp, &mbserver.Success
	})

	// Now start listening after all handlers are registered.
	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	c.log.Infow("modbus server listening", "addr", c.cfg.Addr)

	// Block until ctx.Done()
	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

// Read Coils (function 1).
func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 2000 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start+qty > coilCount() {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	snap := c.svc.Get()
	bits := []bool{snap.SmartHeating, snap.Adaptive, snap.RecoveryCalcMode, snap.RPCalcMode, snap.LagDetection}

	// response: byte count + packed coil bytes, LSB first
	n := (qty + 7) / 8
	resp := make([]byte, 1+n)
	resp[0] = byte(n)
	for i := 0; i < qty; i++ {
		addr := start + i
		if addr < len(bits) && bits[addr] {
			resp[1+i/8] |= 1 << (i % 8)
		}
	}
	return resp, &mbserver.Success
}

// Write Single Coil (function 5). Command coils run their command on 0xFF00.
func (c *Controller) writeCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := int(binary.BigEndian.Uint16(data[0:2]))
	value := binary.BigEndian.Uint16(data[2:4])

	var on bool
	switch value {
	case 0x0000:
		on = false
	case 0xFF00:
		on = true
	default:
		return []byte{}, &mbserver.IllegalDataValue
	}

	switch {
	case addr == coilSmartHeating:
		c.svc.SetSmartHeating(on)
	case addr == coilAdaptive:
		c.svc.SetAdaptive(on)
	case addr >= coilCommandBase && addr < coilCount():
		if on {
			kind := command.Kinds()[addr-coilCommandBase]
			res := command.Execute(context.Background(), c.svc, kind)
			c.log.Infow("command executed", "command", kind.String(), "success", res.Success)
		}
	default:
		return []byte{}, &mbserver.IllegalDataAddress
	}

	// echo request (address + value)
	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

func (c *Controller) writeHolding(addr int, value uint16) *mbserver.Exception {
	var err error
	switch addr {
	case hrSetpoint:
		err = c.svc.SetSetpoint(decodeTemp(value))
	case hrTargetHour:
		err = c.svc.SetTargetHour(decodeMinutes(value))
	case hrRecoveryCalc:
		err = c.svc.SetRecoveryCalcHour(decodeMinutes(value))
	case hrRelaxation:
		err = c.svc.SetRelaxationFactor(decodeTemp(value))
	default:
		if addr < hrCoefficients || addr >= holdingCount() {
			return &mbserver.IllegalDataAddress
		}
		f := heating.CoefficientFields()[addr-hrCoefficients]
		err = c.svc.SetCoefficient(f, decodeCoefficient(value))
	}
	if err != nil {
		c.log.Debugw("register write rejected", "addr", addr, "value", value, "error", err)
		return &mbserver.IllegalDataValue
	}
	return nil
}

func (c *Controller) holding(s heating.Snapshot) func(int) uint16 {
	return func(addr int) uint16 {
		switch addr {
		case hrSetpoint:
			return encodeTemp(s.Setpoint)
		case hrTargetHour:
			return uint16(s.TargetHour.Minutes())
		case hrRecoveryCalc:
			return uint16(s.RecoveryCalcHour.Minutes())
		case hrRelaxation:
			return encodeTemp(s.RelaxationFactor)
		default:
			return encodeCoefficient(s.Value(heating.CoefficientFields()[addr-hrCoefficients]))
		}
	}
}

func (c *Controller) input(s heating.Snapshot) func(int) uint16 {
	now := c.svc.Now()
	return func(addr int) uint16 {
		switch addr {
		case 0:
			return encodeOptionalTemp(s.Interior)
		case 1:
			return encodeOptionalTemp(s.Exterior)
		case 2:
			return encodeTemp(s.WindKmh)
		case 3:
			return encodeOptionalTemp(s.Windchill)
		case 4:
			return uint16(s.Phase)
		case 5:
			return encodeCoefficient(s.RCth.Global)
		case 6:
			return encodeCoefficient(s.RCth.Low)
		case 7:
			return encodeCoefficient(s.RCth.High)
		case 8:
			return encodeCoefficient(s.RPth.Global)
		case 9:
			return encodeCoefficient(s.RPth.Low)
		case 10:
			return encodeCoefficient(s.RPth.High)
		case 11:
			h, ok := s.TimeToRecovery(now)
			if !ok {
				return Unknown
			}
			return uint16(min(math.Round(h*60), float64(Unknown-1)))
		default:
			if s.RecoveryStartHour.IsZero() {
				return Unknown
			}
			return uint16(schedule.Of(s.RecoveryStartHour.In(now.Location())).Minutes())
		}
	}
}

func readRegisters(frame mbserver.Framer, size int, get func(int) uint16) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 125 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start+qty > size {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	// Build response: byte count + register bytes
	byteCount := qty * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i := 0; i < qty; i++ {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], get(start+i))
	}
	return resp, &mbserver.Success
}

func encodeTemp(v float64) uint16 {
	r := min(max(int(math.Round(v*TemperatureScale)), math.MinInt16), math.MaxInt16)
	return uint16(int16(r))
}

func decodeTemp(u uint16) float64 {
	i := int16(u)
	return float64(i) / TemperatureScale
}

func encodeOptionalTemp(v *float64) uint16 {
	if v == nil {
		return Unavailable
	}
	return encodeTemp(*v)
}

func encodeCoefficient(v float64) uint16 {
	return uint16(min(max(math.Round(v*CoefficientScale), 0), math.MaxUint16))
}

func decodeCoefficient(u uint16) float64 {
	return float64(u) / CoefficientScale
}

func decodeMinutes(u uint16) schedule.TimeOfDay {
	return schedule.TimeOfDay{Hour: int(u) / 60, Minute: int(u) % 60}
}
