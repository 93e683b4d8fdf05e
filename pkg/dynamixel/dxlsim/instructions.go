// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxlsim

import (
	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

// handle executes one instruction frame and returns the wire reply, or nil
// when the frame is not for this servo or no reply is due.
func (s *Servo) handle(f *dynamixel.Frame) []byte {
	id := s.table[dynamixel.RegID]
	broadcast := f.ID == dynamixel.BroadcastID
	if f.ID != id && !broadcast {
		return nil
	}
	s.requests++
	s.integrate()

	var flags dynamixel.ErrorFlags
	var params []byte

	switch f.Instruction() {
	case dynamixel.InstPing:

	case dynamixel.InstReadData:
		params, flags = s.read(f.Params)

	case dynamixel.InstWriteData:
		flags = s.write(f.Params)

	case dynamixel.InstReset:
		s.factoryReset()

	default:
		flags = dynamixel.FlagInstruction
	}

	if broadcast {
		return nil
	}
	// Replies carry the id the servo had when the request arrived
	return s.reply(id, flags|s.faults.Flags, params)
}

func (s *Servo) read(params []byte) ([]byte, dynamixel.ErrorFlags) {
	if len(params) != 2 {
		return nil, dynamixel.FlagInstruction
	}
	addr, count := int(params[0]), int(params[1])
	if addr+count > tableSize {
		return nil, dynamixel.FlagRange
	}

	pos := int(s.position)
	s.table[dynamixel.RegPresentPosition] = byte(pos)
	s.table[dynamixel.RegPresentPosition+1] = byte(pos >> 8)
	s.table[dynamixel.RegMoving] = 0
	if s.word(dynamixel.RegMovingSpeed)&dynamixel.MaxSpeedMagnitude != 0 {
		s.table[dynamixel.RegMoving] = 1
	}

	return append([]byte(nil), s.table[addr:addr+count]...), 0
}

func (s *Servo) write(params []byte) dynamixel.ErrorFlags {
	if len(params) < 2 {
		return dynamixel.FlagInstruction
	}
	addr, data := int(params[0]), params[1:]
	if addr+len(data) > tableSize {
		return dynamixel.FlagRange
	}

	switch addr {
	case dynamixel.RegID:
		if data[0] > dynamixel.MaxID {
			return dynamixel.FlagRange
		}
	case dynamixel.RegMovingSpeed:
		if len(data) == 2 && (int(data[0])|int(data[1])<<8) > dynamixel.MaxSpeed {
			return dynamixel.FlagRange
		}
	case dynamixel.RegGoalPosition:
		if len(data) == 2 && (int(data[0])|int(data[1])<<8) > dynamixel.MaxPosition {
			return dynamixel.FlagRange
		}
	case dynamixel.RegPresentPosition, dynamixel.RegMoving:
		// read-only
		return dynamixel.FlagRange
	}

	copy(s.table[addr:], data)
	return 0
}

// reply encodes a status frame and applies any pending reply faults
func (s *Servo) reply(id uint8, flags dynamixel.ErrorFlags, params []byte) []byte {
	if s.faults.DropReplies > 0 {
		s.faults.DropReplies--
		return nil
	}

	frame, err := dynamixel.EncodeStatus(int(id), flags, params)
	if err != nil {
		return nil
	}

	if s.faults.CorruptReplies > 0 {
		s.faults.CorruptReplies--
		frame[len(frame)-1] ^= 0xFF
	} else if s.faults.GarbleHeader > 0 {
		s.faults.GarbleHeader--
		frame[1] = 0x00
	}
	return frame
}
