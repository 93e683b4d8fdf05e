// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dynamixel implements the Dynamixel 1.0 serial protocol used to drive
// the Freeloader crosshead servo (MX-64).
//
// The package is split in three layers: a pure packet codec (encoder, status
// decoding, checksums and error flags), a TimedReader that assembles status
// frames from a half-duplex port under layered per-byte timeouts, and a Link
// that runs request/response exchanges with a bounded retry ladder.
package dynamixel

// Protocol framing bytes
const (
	HeaderByte = 0xFF
	HeaderSize = 2
)

// Frame offsets, counted from the first header byte
const (
	offsetID     = 2
	offsetLength = 3
	offsetCode   = 4 // instruction or error byte
	offsetParams = 5
)

// Address limits
const (
	MaxID       = 0xFD // highest addressable servo id (253)
	BroadcastID = 0xFE
)

// Parameter limits
const (
	MaxByteValue = 0xFF
	MaxWordValue = 0xFFFF

	// MaxFrameParams bounds the parameter count a length byte can describe.
	MaxFrameParams = 0xFF - 2
)

// Instruction is the instruction byte of an instruction packet.
type Instruction uint8

// Instruction values
const (
	InstPing      Instruction = 0x01
	InstReadData  Instruction = 0x02
	InstWriteData Instruction = 0x03
	InstRegWrite  Instruction = 0x04
	InstAction    Instruction = 0x05
	InstReset     Instruction = 0x06
	InstSyncWrite Instruction = 0x83
)

// Control table addresses used by the machine (MX-64)
const (
	RegID              = 0x03 // 1 byte
	RegGoalPosition    = 0x1E // 2 bytes
	RegMovingSpeed     = 0x20 // 2 bytes
	RegPresentPosition = 0x24 // 2 bytes
	RegMoving          = 0x2E // 1 byte
)

// Encoder and speed register geometry
const (
	CountsPerRevolution = 4096
	HalfRevolution      = CountsPerRevolution / 2
	MaxPosition         = CountsPerRevolution - 1

	// SpeedDirectionBit selects the rotation sense in wheel mode.
	SpeedDirectionBit = 1024
	MaxSpeedMagnitude = SpeedDirectionBit - 1
	MaxSpeed          = 2*SpeedDirectionBit - 1
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateHeader2
	stateID
	stateLength
	stateCode
	stateParams
	stateChecksum
)
