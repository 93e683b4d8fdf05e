// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dxlsim simulates a single MX-64 servo in wheel mode behind a
// dynamixel.Port, so links, machines and commands can run without hardware.
package dxlsim

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

// RPMPerSpeedUnit is the MX-64 wheel-mode speed resolution
const RPMPerSpeedUnit = 0.114

// Control table size covered by the simulator
const tableSize = 0x32

// Model number reported at address 0 (MX-64)
const modelNumber = 0x0136

// ErrClosed is returned by port operations after Close
var ErrClosed = errors.New("dxlsim: port closed")

// Faults control reply corruption. Counters are consumed one per reply.
type Faults struct {
	DropReplies    int                  // replies silently dropped
	CorruptReplies int                  // replies sent with a bad checksum
	GarbleHeader   int                  // replies sent with a bad second header byte
	Flags          dynamixel.ErrorFlags // flags raised on every reply
}

// Option configures a Servo
type Option func(*Servo)

// WithID sets the servo id (default 1)
func WithID(id uint8) Option {
	return func(s *Servo) { s.table[dynamixel.RegID] = id }
}

// WithPosition sets the initial encoder count
func WithPosition(raw int) Option {
	return func(s *Servo) { s.position = float64(raw % dynamixel.CountsPerRevolution) }
}

// WithClock replaces the time source used to integrate motion
func WithClock(now func() time.Time) Option {
	return func(s *Servo) { s.now = now }
}

// Servo is an in-memory MX-64. It implements dynamixel.Port: instruction
// frames written to it are answered with status frames readable from it.
//
// In wheel mode a speed without the direction bit turns the output counting
// up, with the bit set counting down.
type Servo struct {
	mu      sync.Mutex
	cond    *sync.Cond
	table   [tableSize]byte
	decoder *dynamixel.Decoder
	out     []byte
	timeout time.Duration
	closed  bool

	position   float64 // encoder counts, [0, 4096)
	lastUpdate time.Time
	now        func() time.Time

	faults   Faults
	requests int
}

// New creates a servo at id 1, stopped at position 0
func New(opts ...Option) *Servo {
	s := &Servo{
		decoder: dynamixel.NewDecoder(),
		timeout: -1,
		now:     time.Now,
	}
	s.cond = sync.NewCond(&s.mu)
	s.factoryReset()
	for _, opt := range opts {
		opt(s)
	}
	s.lastUpdate = s.now()
	return s
}

func (s *Servo) factoryReset() {
	s.table = [tableSize]byte{}
	s.table[0x00] = byte(modelNumber & 0xFF)
	s.table[0x01] = byte(modelNumber >> 8)
	s.table[dynamixel.RegID] = 1
	s.table[0x04] = 1 // baud rate register: 1 Mbps
}

// ID returns the current servo id
func (s *Servo) ID() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table[dynamixel.RegID]
}

// Position returns the current encoder count
func (s *Servo) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrate()
	return int(s.position)
}

// SetPosition moves the encoder to raw instantly
func (s *Servo) SetPosition(raw int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrate()
	s.position = float64(((raw % dynamixel.CountsPerRevolution) + dynamixel.CountsPerRevolution) % dynamixel.CountsPerRevolution)
}

// Speed returns the moving speed register
func (s *Servo) Speed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.word(dynamixel.RegMovingSpeed)
}

// InjectFaults replaces the active fault settings
func (s *Servo) InjectFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// Requests returns how many instruction frames were addressed to the servo
func (s *Servo) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// integrate advances the encoder by the wheel-mode speed since the last call
func (s *Servo) integrate() {
	now := s.now()
	elapsed := now.Sub(s.lastUpdate).Minutes()
	s.lastUpdate = now
	if elapsed <= 0 {
		return
	}

	speed := s.word(dynamixel.RegMovingSpeed)
	magnitude := speed & dynamixel.MaxSpeedMagnitude
	counts := float64(magnitude) * RPMPerSpeedUnit * dynamixel.CountsPerRevolution * elapsed
	if speed&dynamixel.SpeedDirectionBit != 0 {
		counts = -counts
	}

	s.position = math.Mod(s.position+counts, dynamixel.CountsPerRevolution)
	if s.position < 0 {
		s.position += dynamixel.CountsPerRevolution
	}
}

func (s *Servo) word(addr int) int {
	return int(s.table[addr]) | int(s.table[addr+1])<<8
}
