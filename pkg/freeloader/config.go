// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package freeloader

import (
	"fmt"
	"math"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

// Machine defaults for a stock Freeloader
const (
	DefaultPitch     = 10.0 // threads per inch of the lead screw
	DefaultGearRatio = 2.0
	DefaultServoID   = 1
	DefaultMaxSpeed  = 70.0 // mm/min

	mmPerInch = 25.4

	// speedUnitsPerRev converts lead-screw turns per minute to servo speed units
	speedUnitsPerRev = 7.95
)

// Config describes the mechanics of a machine
type Config struct {
	Pitch     float64
	GearRatio float64
	ServoID   int
	MaxSpeed  float64 // mm/min; faster requests are clamped
}

// DefaultConfig returns the stock machine configuration
func DefaultConfig() Config {
	return Config{
		Pitch:     DefaultPitch,
		GearRatio: DefaultGearRatio,
		ServoID:   DefaultServoID,
		MaxSpeed:  DefaultMaxSpeed,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case !(c.Pitch > 0) || math.IsInf(c.Pitch, 0):
		return fmt.Errorf("%w: pitch %v", ErrInvalidConfig, c.Pitch)
	case !(c.GearRatio > 0) || math.IsInf(c.GearRatio, 0):
		return fmt.Errorf("%w: gear ratio %v", ErrInvalidConfig, c.GearRatio)
	case c.ServoID < 0 || c.ServoID > dynamixel.MaxID:
		return fmt.Errorf("%w: servo id %d", ErrInvalidConfig, c.ServoID)
	case !(c.MaxSpeed > 0):
		return fmt.Errorf("%w: max speed %v", ErrInvalidConfig, c.MaxSpeed)
	}
	return nil
}

// CountsPerMM returns encoder counts per millimetre of crosshead travel
func (c Config) CountsPerMM() float64 {
	return c.Pitch / mmPerInch * c.GearRatio * dynamixel.CountsPerRevolution
}

// SpeedUnitsPerMMPerMin returns servo speed units per mm/min of travel
func (c Config) SpeedUnitsPerMMPerMin() float64 {
	return c.Pitch / mmPerInch * c.GearRatio * speedUnitsPerRev
}
