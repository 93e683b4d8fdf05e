// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"fmt"
	"time"
)

// FrameKind tells whether a sniffed frame is a request or a reply
type FrameKind int

const (
	KindInstruction FrameKind = iota
	KindStatus
)

func (k FrameKind) String() string {
	if k == KindStatus {
		return "STATUS"
	}
	return "INSTRUCTION"
}

// Frame is a complete frame seen on the bus by the stream Decoder
type Frame struct {
	Kind      FrameKind
	ID        uint8
	Code      uint8 // instruction byte or error byte, depending on Kind
	Params    []byte
	Checksum  byte
	Raw       []byte
	Timestamp time.Time
}

// Instruction returns the instruction byte of a request frame
func (f *Frame) Instruction() Instruction {
	return Instruction(f.Code)
}

// Flags returns the error byte of a reply frame
func (f *Frame) Flags() ErrorFlags {
	return ErrorFlags(f.Code)
}

// Decoder is a byte-wise state machine that pulls Dynamixel frames out of a
// raw bus capture. Unlike TimedReader it has no notion of time and accepts
// both directions of traffic.
//
// On a half-duplex bus a reply always follows the request addressed to the
// same id, which is how Kind is inferred.
type Decoder struct {
	state     int
	frame     *Frame
	remaining int
	rawBuffer []byte

	// id of the last unicast request still awaiting its reply, -1 if none
	awaiting int
}

// NewDecoder creates a new stream decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		rawBuffer: make([]byte, 0, MaxFrameParams+6),
		awaiting:  -1,
	}
}

// Reset returns the decoder to idle and forgets any pending request
func (d *Decoder) Reset() {
	d.resetFrame()
	d.awaiting = -1
}

func (d *Decoder) resetFrame() {
	d.state = stateIdle
	d.frame = nil
	d.remaining = 0
	d.rawBuffer = d.rawBuffer[:0]
}

// GetRawBytes returns the raw bytes accumulated for the frame in progress
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if the frame fails validation; the decoder is then idle.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	switch d.state {
	case stateIdle:
		if b != HeaderByte {
			d.rawBuffer = d.rawBuffer[:0]
			return nil, nil
		}
		d.state = stateHeader2
		return nil, nil

	case stateHeader2:
		if b != HeaderByte {
			d.resetFrame()
			return nil, nil
		}
		d.state = stateID
		return nil, nil

	case stateID:
		if b == HeaderByte {
			// Extra preamble byte; keep the last two as the header
			d.rawBuffer = append(d.rawBuffer[:0], HeaderByte, HeaderByte)
			return nil, nil
		}
		d.frame = &Frame{ID: b}
		d.state = stateLength
		return nil, nil

	case stateLength:
		if b < 2 {
			d.resetFrame()
			return nil, fmt.Errorf("%w: length byte %d (min 2)", ErrMalformedHeader, b)
		}
		d.remaining = int(b) - 2
		d.frame.Params = make([]byte, 0, d.remaining)
		d.state = stateCode
		return nil, nil

	case stateCode:
		d.frame.Code = b
		if d.remaining == 0 {
			d.state = stateChecksum
		} else {
			d.state = stateParams
		}
		return nil, nil

	case stateParams:
		d.frame.Params = append(d.frame.Params, b)
		d.remaining--
		if d.remaining == 0 {
			d.state = stateChecksum
		}
		return nil, nil

	case stateChecksum:
		frame := d.frame
		calculated := Checksum(d.rawBuffer[offsetID : len(d.rawBuffer)-1])
		if calculated != b {
			d.resetFrame()
			return nil, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksumMismatch, calculated, b)
		}
		frame.Checksum = b
		frame.Raw = append([]byte(nil), d.rawBuffer...)
		frame.Timestamp = time.Now()
		d.classify(frame)
		d.resetFrame()
		return frame, nil

	default:
		d.resetFrame()
		return nil, fmt.Errorf("dynamixel: invalid decoder state: %d", d.state)
	}
}

func (d *Decoder) classify(f *Frame) {
	if d.awaiting == int(f.ID) {
		f.Kind = KindStatus
		d.awaiting = -1
		return
	}
	f.Kind = KindInstruction
	if f.ID != BroadcastID {
		d.awaiting = int(f.ID)
	} else {
		d.awaiting = -1
	}
}
