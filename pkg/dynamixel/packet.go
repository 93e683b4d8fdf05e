// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import "time"

// InstructionPacket is a request addressed to a single servo
type InstructionPacket struct {
	id     uint8
	inst   Instruction
	params []byte
}

// NewInstructionPacket validates the id and parameter count and builds a packet.
func NewInstructionPacket(id int, inst Instruction, params ...byte) (*InstructionPacket, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if len(params) > MaxFrameParams {
		return nil, errTooManyParams(len(params))
	}
	return &InstructionPacket{
		id:     uint8(id),
		inst:   inst,
		params: append([]byte(nil), params...),
	}, nil
}

// ID returns the target servo id
func (p *InstructionPacket) ID() uint8 {
	return p.id
}

// Instruction returns the instruction byte
func (p *InstructionPacket) Instruction() Instruction {
	return p.inst
}

// Params returns the parameter bytes
func (p *InstructionPacket) Params() []byte {
	return p.params
}

// Length returns the wire length byte (parameter count + 2)
func (p *InstructionPacket) Length() uint8 {
	return uint8(len(p.params) + 2)
}

// Bytes returns the packet in wire format
func (p *InstructionPacket) Bytes() []byte {
	return appendFrame(nil, p.id, uint8(p.inst), p.params)
}

// StatusPacket is a servo's reply to an instruction packet
type StatusPacket struct {
	id        uint8
	flags     ErrorFlags
	params    []byte
	checksum  byte
	timestamp time.Time
}

// NewStatusPacket creates a status packet with the given fields
func NewStatusPacket(id uint8, flags ErrorFlags, params []byte) *StatusPacket {
	p := &StatusPacket{
		id:        id,
		flags:     flags,
		params:    append([]byte(nil), params...),
		timestamp: time.Now(),
	}
	p.checksum = Checksum(append([]byte{id, uint8(len(params) + 2), uint8(flags)}, params...))
	return p
}

// ID returns the id of the replying servo
func (p *StatusPacket) ID() uint8 {
	return p.id
}

// Flags returns the device error flags
func (p *StatusPacket) Flags() ErrorFlags {
	return p.flags
}

// Params returns the parameter bytes
func (p *StatusPacket) Params() []byte {
	return p.params
}

// Checksum returns the packet's checksum byte
func (p *StatusPacket) Checksum() byte {
	return p.checksum
}

// Timestamp returns the packet's decode timestamp
func (p *StatusPacket) Timestamp() time.Time {
	return p.timestamp
}

// Err returns a *DeviceError if the servo reported any fault
func (p *StatusPacket) Err() error {
	return p.flags.Err()
}

// Bytes returns the packet in wire format
func (p *StatusPacket) Bytes() []byte {
	return appendFrame(nil, p.id, uint8(p.flags), p.params)
}
