// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

// Instruction builders used by Link. They validate ids and value ranges the
// same way EncodeInstruction does.

// NewPing creates a PING packet.
func NewPing(id int) (*InstructionPacket, error) {
	return NewInstructionPacket(id, InstPing)
}

// NewReset creates a RESET packet. The servo restores factory settings,
// including id 1.
func NewReset(id int) (*InstructionPacket, error) {
	return NewInstructionPacket(id, InstReset)
}

// NewReadData creates a READ_DATA packet for count bytes starting at addr.
func NewReadData(id int, addr uint8, count int) (*InstructionPacket, error) {
	n, err := EncodeByte(count)
	if err != nil {
		return nil, err
	}
	return NewInstructionPacket(id, InstReadData, addr, n)
}

// NewWriteByte creates a WRITE_DATA packet storing one byte at addr.
func NewWriteByte(id int, addr uint8, value int) (*InstructionPacket, error) {
	b, err := EncodeByte(value)
	if err != nil {
		return nil, err
	}
	return NewInstructionPacket(id, InstWriteData, addr, b)
}

// NewWriteWord creates a WRITE_DATA packet storing a 16-bit value at addr.
func NewWriteWord(id int, addr uint8, value int) (*InstructionPacket, error) {
	w, err := EncodeWord(value)
	if err != nil {
		return nil, err
	}
	return NewInstructionPacket(id, InstWriteData, addr, w[0], w[1])
}
