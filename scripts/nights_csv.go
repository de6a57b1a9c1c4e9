package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
	"github.com/Agrid-Dev/smarthrt/internal/simulation"
	"github.com/Agrid-Dev/smarthrt/internal/store"
	"github.com/Agrid-Dev/smarthrt/internal/testutil"
	"github.com/Agrid-Dev/smarthrt/internal/weather"
)

// SimulateNights replays consecutive nights of a house with known
// coefficients and writes one CSV row per simulated minute, showing how the
// learned coefficients and the predicted recovery start converge.
func SimulateNights(nights int, filename string, house simulation.HouseParams) error {
	start := time.Date(2026, 1, 5, 18, 0, 0, 0, time.UTC)
	clk := testutil.NewFakeClock(start)
	wx := weather.NewStatic(5, 0)

	c, err := heating.New(heating.Config{
		ID:               "simulated",
		Setpoint:         19,
		TargetHour:       schedule.TimeOfDay{Hour: 6, Minute: 30},
		RecoveryCalcHour: schedule.TimeOfDay{Hour: 22, Minute: 30},
		RelaxationFactor: 2,
		SmartHeating:     true,
		Adaptive:         true,
	}, heating.Deps{Clock: clk, Weather: wx, Store: store.NewMemory()})
	if err != nil {
		return fmt.Errorf("failed to create heating instance: %v", err)
	}

	h, err := simulation.NewHouse(house, 19)
	if err != nil {
		return fmt.Errorf("failed to create house: %v", err)
	}
	reg, err := simulation.NewRegulator(simulation.RegulatorParams{TriggerHysteresis: 0.3, TargetHysteresis: 0.1})
	if err != nil {
		return fmt.Errorf("failed to create regulator: %v", err)
	}

	c.UpdateInteriorTemperature(h.Interior())
	if err := c.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start heating instance: %v", err)
	}
	defer c.Close()

	// Create CSV file
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write CSV header
	if err := writer.Write([]string{"Time", "Interior", "Exterior", "Heating", "Phase", "RCth", "RPth", "RecoveryStart"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	r := &simulation.Runner{
		Heating:   c,
		Clock:     clk,
		House:     h,
		Regulator: reg,
		// colder before dawn
		Exterior: func(t time.Time) float64 {
			return 4 + 3*math.Cos(2*math.Pi*(float64(t.Hour())-15)/24)
		},
		Weather: wx,
		Step:    time.Minute,
	}

	return r.Run(context.Background(), time.Duration(nights)*24*time.Hour, func(s simulation.Sample) error {
		recovery := ""
		if !s.RecoveryStart.IsZero() {
			recovery = s.RecoveryStart.Format(time.RFC3339)
		}
		return writer.Write([]string{
			s.Time.Format(time.RFC3339),
			fmt.Sprintf("%.2f", s.Interior),
			fmt.Sprintf("%.2f", s.Exterior),
			fmt.Sprintf("%t", s.Heating),
			s.Phase.String(),
			fmt.Sprintf("%.2f", s.RCth),
			fmt.Sprintf("%.2f", s.RPth),
			recovery,
		})
	})
}

func main() {
	house := simulation.HouseParams{RCth: 40, RPth: 20}
	if err := SimulateNights(7, "smarthrt_nights.csv", house); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
