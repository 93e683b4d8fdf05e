// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"fmt"
	"time"
)

// DecodeStatus parses a complete status frame (FF FF id len err params... checksum).
//
// Header and checksum failures are transport faults. A frame that is intact but
// carries error flags decodes successfully; callers surface the flags through
// StatusPacket.Err.
func DecodeStatus(frame []byte) (*StatusPacket, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(frame))
	}
	if frame[0] != HeaderByte || frame[1] != HeaderByte {
		return nil, fmt.Errorf("%w: got 0x%02X 0x%02X", ErrMalformedHeader, frame[0], frame[1])
	}

	length := int(frame[offsetLength])
	if length < 2 {
		return nil, fmt.Errorf("%w: length byte %d (min 2)", ErrMalformedHeader, length)
	}
	if len(frame) != length+4 {
		return nil, fmt.Errorf("%w: length byte %d does not match %d frame bytes", ErrMalformedHeader, length, len(frame))
	}

	body := frame[offsetID : len(frame)-1]
	received := frame[len(frame)-1]
	if calculated := Checksum(body); calculated != received {
		return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksumMismatch, calculated, received)
	}

	return &StatusPacket{
		id:        frame[offsetID],
		flags:     ErrorFlags(frame[offsetCode]),
		params:    append([]byte(nil), frame[offsetParams:len(frame)-1]...),
		checksum:  received,
		timestamp: time.Now(),
	}, nil
}
