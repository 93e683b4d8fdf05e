// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"fmt"
	"strings"
)

// FormatFrame formats a sniffed frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")

	if f.Kind == KindStatus {
		result := fmt.Sprintf("[%s] <- STATUS id=%d err=%s", timestamp, f.ID, f.Flags())
		if len(f.Params) > 0 {
			result += " params=" + FormatBytes(f.Params)
			if len(f.Params) == 2 {
				result += fmt.Sprintf(" (%d)", DecodeWord(f.Params))
			}
		}
		return result + "\n"
	}

	inst := f.Instruction()
	result := fmt.Sprintf("[%s] -> %s (0x%02X) id=%s", timestamp, FormatInstruction(inst), uint8(inst), formatID(f.ID))
	result += formatInstructionParams(inst, f.Params)
	return result + "\n"
}

// FormatInstruction returns the human-readable name for an instruction
func FormatInstruction(inst Instruction) string {
	switch inst {
	case InstPing:
		return "PING"
	case InstReadData:
		return "READ_DATA"
	case InstWriteData:
		return "WRITE_DATA"
	case InstRegWrite:
		return "REG_WRITE"
	case InstAction:
		return "ACTION"
	case InstReset:
		return "RESET"
	case InstSyncWrite:
		return "SYNC_WRITE"
	default:
		return "UNKNOWN"
	}
}

// FormatRegister returns the human-readable name for a control table address
func FormatRegister(addr uint8) string {
	switch addr {
	case RegID:
		return "ID"
	case RegGoalPosition:
		return "GOAL_POSITION"
	case RegMovingSpeed:
		return "MOVING_SPEED"
	case RegPresentPosition:
		return "PRESENT_POSITION"
	case RegMoving:
		return "MOVING"
	default:
		return fmt.Sprintf("0x%02X", addr)
	}
}

// FormatBytes formats bytes as space-separated hex
func FormatBytes(b []byte) string {
	var sb strings.Builder
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

func formatID(id uint8) string {
	if id == BroadcastID {
		return "BROADCAST"
	}
	return fmt.Sprintf("%d", id)
}

func formatInstructionParams(inst Instruction, params []byte) string {
	switch inst {
	case InstReadData:
		if len(params) == 2 {
			return fmt.Sprintf(" %s count=%d", FormatRegister(params[0]), params[1])
		}
	case InstWriteData, InstRegWrite:
		switch len(params) {
		case 0:
		case 2:
			return fmt.Sprintf(" %s=%d", FormatRegister(params[0]), params[1])
		case 3:
			return fmt.Sprintf(" %s=%d", FormatRegister(params[0]), DecodeWord(params[1:]))
		default:
			return fmt.Sprintf(" %s data=%s", FormatRegister(params[0]), FormatBytes(params[1:]))
		}
	}
	if len(params) > 0 {
		return " params=" + FormatBytes(params)
	}
	return ""
}
