// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package profile loads per-machine settings from a plain "key value" file
// and FREELOADER_* environment variables.
//
//	# bench rig B
//	port /dev/ttyUSB1
//	pitch 12
//	gear-ratio 3
package profile

import (
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
	"github.com/Thermoquad/freeloader/pkg/freeloader"
)

// EnvPrefix prefixes environment overrides, e.g. FREELOADER_GEAR_RATIO
const EnvPrefix = "FREELOADER"

// Profile holds the machine and link settings
type Profile struct {
	Port      string
	Baud      int
	ServoID   int
	Pitch     float64
	GearRatio float64
	MaxSpeed  float64
	Timeout   time.Duration // first-byte response timeout, 0 for the default
	Retries   int
}

// Default returns the stock settings
func Default() Profile {
	return Profile{
		Baud:      dynamixel.DefaultBaudRate,
		ServoID:   freeloader.DefaultServoID,
		Pitch:     freeloader.DefaultPitch,
		GearRatio: freeloader.DefaultGearRatio,
		MaxSpeed:  freeloader.DefaultMaxSpeed,
		Retries:   dynamixel.DefaultRetryLimit,
	}
}

func (p *Profile) register(fs *flag.FlagSet) {
	fs.StringVar(&p.Port, "port", p.Port, "serial port")
	fs.IntVar(&p.Baud, "baud", p.Baud, "baud rate")
	fs.IntVar(&p.ServoID, "id", p.ServoID, "servo id")
	fs.Float64Var(&p.Pitch, "pitch", p.Pitch, "lead screw threads per inch")
	fs.Float64Var(&p.GearRatio, "gear-ratio", p.GearRatio, "servo to screw gear ratio")
	fs.Float64Var(&p.MaxSpeed, "max-speed", p.MaxSpeed, "speed limit in mm/min")
	fs.DurationVar(&p.Timeout, "timeout", p.Timeout, "response timeout")
	fs.IntVar(&p.Retries, "retries", p.Retries, "attempts per exchange")
}

// Load reads path (if non-empty) and the environment over the defaults.
// A missing file is an error; an unknown key is an error.
func Load(path string) (Profile, error) {
	p := Default()

	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	p.register(fs)

	opts := []ff.Option{ff.WithEnvVarPrefix(EnvPrefix)}
	if path != "" {
		opts = append(opts,
			ff.WithConfigFile(path),
			ff.WithConfigFileParser(ff.PlainParser),
		)
	}

	if err := ff.Parse(fs, nil, opts...); err != nil {
		return p, fmt.Errorf("load profile: %w", err)
	}
	return p, p.Validate()
}

// Validate checks ranges
func (p Profile) Validate() error {
	if p.Baud <= 0 {
		return fmt.Errorf("invalid profile: baud rate %d", p.Baud)
	}
	if p.Retries < 1 || p.Retries > dynamixel.MaxRetryLimit {
		return fmt.Errorf("invalid profile: retries %d not in [1, %d]", p.Retries, dynamixel.MaxRetryLimit)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("invalid profile: timeout %v", p.Timeout)
	}
	return p.MachineConfig().Validate()
}

// MachineConfig returns the crosshead mechanics
func (p Profile) MachineConfig() freeloader.Config {
	return freeloader.Config{
		Pitch:     p.Pitch,
		GearRatio: p.GearRatio,
		ServoID:   p.ServoID,
		MaxSpeed:  p.MaxSpeed,
	}
}

// LinkOptions returns the link settings as options
func (p Profile) LinkOptions() []dynamixel.LinkOption {
	return []dynamixel.LinkOption{
		dynamixel.WithBaudRate(p.Baud),
		dynamixel.WithResponseTimeout(p.Timeout),
		dynamixel.WithRetryLimit(p.Retries),
	}
}
