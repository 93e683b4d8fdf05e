// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"fmt"
	"strings"
)

// ErrorFlags is the error byte of a status packet.
type ErrorFlags uint8

// Error flag bits
const (
	FlagInputVoltage ErrorFlags = 1 << iota
	FlagAngleLimit
	FlagOverheating
	FlagRange
	FlagChecksum
	FlagOverload
	FlagInstruction
)

const knownFlags = FlagInputVoltage | FlagAngleLimit | FlagOverheating | FlagRange |
	FlagChecksum | FlagOverload | FlagInstruction

var flagNames = []struct {
	flag ErrorFlags
	name string
}{
	{FlagInputVoltage, "InputVoltage"},
	{FlagAngleLimit, "AngleLimit"},
	{FlagOverheating, "Overheating"},
	{FlagRange, "Range"},
	{FlagChecksum, "Checksum"},
	{FlagOverload, "Overload"},
	{FlagInstruction, "Instruction"},
}

// Has reports whether every bit of flag is set.
func (f ErrorFlags) Has(flag ErrorFlags) bool {
	return flag != 0 && f&flag == flag
}

// Names returns the names of the set flags in bit order. Bits outside the
// documented set are reported as Reserved(0xNN).
func (f ErrorFlags) Names() []string {
	names := []string{}
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if unknown := f &^ knownFlags; unknown != 0 {
		names = append(names, fmt.Sprintf("Reserved(0x%02X)", uint8(unknown)))
	}
	return names
}

// String returns the set flag names joined with '|', or "none".
func (f ErrorFlags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}

// Err returns a *DeviceError when any flag is set, nil otherwise.
func (f ErrorFlags) Err() error {
	if f == 0 {
		return nil
	}
	return &DeviceError{Flags: f}
}
