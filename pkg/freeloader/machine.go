// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package freeloader drives the crosshead of a Freeloader test machine: it
// turns mm/min speeds and directions into servo speed words and tracks the
// crosshead's linear position from the wrapping servo encoder.
package freeloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

// Servo is the part of dynamixel.Link the machine needs
type Servo interface {
	RawPosition(ctx context.Context, id int) (int, error)
	SetSpeed(ctx context.Context, id, speed int) error
	Close() error
}

// Direction of crosshead travel
type Direction int

const (
	Down Direction = iota
	Up
)

func (d Direction) String() string {
	switch d {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses "up" or "down"
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "up", "UP", "Up":
		return Up, nil
	case "down", "DOWN", "Down":
		return Down, nil
	}
	return Down, fmt.Errorf("invalid direction %q (use up or down)", s)
}

// ConnState is the motor connection state
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Option configures a Machine
type Option func(*Machine)

// WithLogger sets the machine logger (default discards)
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// Machine controls the crosshead motor. It is not safe for concurrent use.
type Machine struct {
	cfg     Config
	servo   Servo
	state   ConnState
	tracker *PositionTracker
	logger  *slog.Logger
}

// NewMachine creates a disconnected machine
func NewMachine(cfg Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		cfg:     cfg,
		tracker: NewPositionTracker(cfg.CountsPerMM()),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the machine configuration
func (m *Machine) Config() Config {
	return m.cfg
}

// State returns the connection state
func (m *Machine) State() ConnState {
	return m.state
}

// Connect takes ownership of servo, checks that the configured servo answers
// and stops it. On failure servo is closed and the machine stays disconnected.
func (m *Machine) Connect(ctx context.Context, servo Servo) error {
	if m.state == Connected {
		return ErrAlreadyConnected
	}

	id := m.cfg.ServoID
	raw, err := servo.RawPosition(ctx, id)
	if err == nil {
		err = servo.SetSpeed(ctx, id, 0)
	}
	if err != nil {
		return errors.Join(fmt.Errorf("%w: %w", ErrProbeFailed, err), servo.Close())
	}

	m.servo = servo
	m.state = Connected
	m.tracker.Reset()
	m.logger.Info("freeloader: motor connected", "servo", id, "raw_position", raw)
	return nil
}

// Disconnect stops the motor and releases the servo link. The link is closed
// even if the stop command fails.
func (m *Machine) Disconnect(ctx context.Context) error {
	if m.state != Connected {
		return nil
	}

	stopErr := m.servo.SetSpeed(ctx, m.cfg.ServoID, 0)
	closeErr := m.servo.Close()
	m.servo = nil
	m.state = Disconnected
	m.logger.Info("freeloader: motor disconnected", "servo", m.cfg.ServoID)

	return errors.Join(stopErr, closeErr)
}

// MoveAt runs the motor at mmPerMin in dir until told otherwise. Speeds above
// the configured maximum are clamped.
func (m *Machine) MoveAt(ctx context.Context, mmPerMin float64, dir Direction) error {
	if m.state != Connected {
		return ErrNotConnected
	}
	speed, err := m.SpeedWord(mmPerMin, dir)
	if err != nil {
		return err
	}
	m.logger.Debug("freeloader: move", "mm_per_min", mmPerMin, "direction", dir, "speed", speed)
	return m.servo.SetSpeed(ctx, m.cfg.ServoID, speed)
}

// SpeedWord converts a crosshead speed to the servo's moving speed word
func (m *Machine) SpeedWord(mmPerMin float64, dir Direction) (int, error) {
	if math.IsNaN(mmPerMin) || mmPerMin < 0 {
		return 0, fmt.Errorf("%w: speed %v mm/min", dynamixel.ErrInvalidParameterValue, mmPerMin)
	}
	mmPerMin = min(mmPerMin, m.cfg.MaxSpeed)
	return EncodeSpeed(int(math.Round(mmPerMin*m.cfg.SpeedUnitsPerMMPerMin())), dir)
}

// EncodeSpeed builds a wheel-mode speed word from a magnitude (0..1023) and
// a direction. Up sets the direction bit.
func EncodeSpeed(magnitude int, dir Direction) (int, error) {
	if magnitude < 0 || magnitude > dynamixel.MaxSpeedMagnitude {
		return 0, fmt.Errorf("%w: speed magnitude %d not in [0, %d]",
			dynamixel.ErrInvalidParameterValue, magnitude, dynamixel.MaxSpeedMagnitude)
	}
	if dir == Up {
		magnitude += dynamixel.SpeedDirectionBit
	}
	return magnitude, nil
}

// Stop halts the motor
func (m *Machine) Stop(ctx context.Context) error {
	if m.state != Connected {
		return ErrNotConnected
	}
	return m.servo.SetSpeed(ctx, m.cfg.ServoID, 0)
}

// RawPosition returns the servo's encoder reading, 0..4095
func (m *Machine) RawPosition(ctx context.Context) (int, error) {
	if m.state != Connected {
		return 0, ErrNotConnected
	}
	return m.servo.RawPosition(ctx, m.cfg.ServoID)
}

// Position samples the encoder and returns the crosshead position in mm.
// It must be called at least twice per servo revolution while moving.
func (m *Machine) Position(ctx context.Context) (float64, error) {
	raw, err := m.RawPosition(ctx)
	if err != nil {
		return m.tracker.Position(), err
	}
	return m.tracker.Update(raw)
}

// ResetPosition zeroes the position; the next sample sets the baseline
func (m *Machine) ResetPosition() {
	m.tracker.Reset()
}
