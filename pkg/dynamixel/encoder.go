// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"encoding/binary"
	"fmt"
)

// EncodeInstruction creates a complete wire-formatted instruction packet:
// FF FF id len inst params... checksum.
func EncodeInstruction(id int, inst Instruction, params []byte) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if len(params) > MaxFrameParams {
		return nil, errTooManyParams(len(params))
	}
	return appendFrame(make([]byte, 0, len(params)+6), uint8(id), uint8(inst), params), nil
}

// EncodeStatus creates a complete wire-formatted status packet:
// FF FF id len err params... checksum.
func EncodeStatus(id int, flags ErrorFlags, params []byte) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if len(params) > MaxFrameParams {
		return nil, errTooManyParams(len(params))
	}
	return appendFrame(make([]byte, 0, len(params)+6), uint8(id), uint8(flags), params), nil
}

// EncodeWord converts v to the on-wire 16-bit format, low byte first.
func EncodeWord(v int) ([]byte, error) {
	if v < 0 || v > MaxWordValue {
		return nil, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidParameterValue, v, MaxWordValue)
	}
	return binary.LittleEndian.AppendUint16(nil, uint16(v)), nil
}

// EncodeByte converts v to a single parameter byte.
func EncodeByte(v int) (byte, error) {
	if v < 0 || v > MaxByteValue {
		return 0, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidParameterValue, v, MaxByteValue)
	}
	return byte(v), nil
}

// DecodeWord returns the 16-bit value in b, which holds [low, high].
func DecodeWord(b []byte) int {
	return int(binary.LittleEndian.Uint16(b))
}

// appendFrame appends header, body and checksum to dst.
func appendFrame(dst []byte, id uint8, code uint8, params []byte) []byte {
	dst = append(dst, HeaderByte, HeaderByte)
	body := len(dst)
	dst = append(dst, id, uint8(len(params)+2), code)
	dst = append(dst, params...)
	return append(dst, Checksum(dst[body:]))
}

func validateID(id int) error {
	if id < 0 || id > MaxID {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidID, id, MaxID)
	}
	return nil
}

func errTooManyParams(n int) error {
	return fmt.Errorf("%w: %d parameter bytes (max %d)", ErrInvalidParameterValue, n, MaxFrameParams)
}
