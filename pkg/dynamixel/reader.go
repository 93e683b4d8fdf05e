// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"errors"
	"fmt"
	"time"
)

// Timing holds the layered deadlines used while assembling a status frame.
// Every wait is a multiple of Unit.
type Timing struct {
	Unit          time.Duration
	ScanFactor    int // per-byte wait while hunting for the first header byte
	ScanLimit     int // bytes examined before giving up on the first header byte
	HeaderFactor  int // wait for id + length
	PayloadFactor int // per declared-length byte wait for the rest of the frame
}

// Default timing
const (
	DefaultTimingUnit    = 5 * time.Millisecond
	DefaultScanFactor    = 5
	DefaultScanLimit     = 20
	DefaultHeaderFactor  = 2
	DefaultPayloadFactor = 1
)

// DefaultTiming returns the timing used when no option overrides it
func DefaultTiming() Timing {
	return Timing{
		Unit:          DefaultTimingUnit,
		ScanFactor:    DefaultScanFactor,
		ScanLimit:     DefaultScanLimit,
		HeaderFactor:  DefaultHeaderFactor,
		PayloadFactor: DefaultPayloadFactor,
	}
}

// Validate checks that every field is positive
func (t Timing) Validate() error {
	if t.Unit <= 0 || t.ScanFactor <= 0 || t.ScanLimit <= 0 || t.HeaderFactor <= 0 || t.PayloadFactor <= 0 {
		return fmt.Errorf("%w: timing fields must be positive: %+v", ErrInvalidParameterValue, t)
	}
	return nil
}

// TimedReader buffers bytes from a Port so callers can wait for a count of
// bytes under a deadline and then consume them.
type TimedReader struct {
	port Port
	buf  []byte
	tmp  []byte
}

// NewTimedReader wraps port
func NewTimedReader(port Port) *TimedReader {
	return &TimedReader{
		port: port,
		buf:  make([]byte, 0, MaxFrameParams+6),
		tmp:  make([]byte, 64),
	}
}

// Buffered returns the number of bytes received but not yet consumed
func (r *TimedReader) Buffered() int {
	return len(r.buf)
}

// Discard drops any buffered bytes
func (r *TimedReader) Discard() {
	r.buf = r.buf[:0]
}

// WaitFor blocks until at least n bytes are buffered or timeout elapses.
// Returns ErrWaitTimeout on expiry, or the port's error if a read fails.
func (r *TimedReader) WaitFor(n int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for len(r.buf) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrWaitTimeout
		}
		if err := r.port.SetReadTimeout(remaining); err != nil {
			return err
		}
		read, err := r.port.Read(r.tmp)
		if err != nil {
			return err
		}
		r.buf = append(r.buf, r.tmp[:read]...)
	}
	return nil
}

// ReadExact consumes n buffered bytes. It never touches the port.
func (r *TimedReader) ReadExact(n int) ([]byte, error) {
	if n > len(r.buf) {
		return nil, fmt.Errorf("%w: want %d, have %d", errNotBuffered, n, len(r.buf))
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = append(r.buf[:0], r.buf[n:]...)
	return out, nil
}

// readByte waits up to timeout for one byte and consumes it
func (r *TimedReader) readByte(timeout time.Duration) (byte, error) {
	if err := r.WaitFor(1, timeout); err != nil {
		return 0, err
	}
	b, err := r.ReadExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadStatusFrame assembles one status frame from the port and returns it
// with its header. It does not validate the checksum.
//
// Stages:
//   - scan for 0xFF, waiting Unit*ScanFactor per byte for up to ScanLimit bytes
//   - the second 0xFF within Unit; any other byte is a framing error
//   - id and length within Unit*HeaderFactor
//   - length more bytes (error, params, checksum), each within Unit*length*PayloadFactor
func (r *TimedReader) ReadStatusFrame(t Timing) ([]byte, error) {
	found := false
	for i := 0; i < t.ScanLimit; i++ {
		b, err := r.readByte(t.Unit * time.Duration(t.ScanFactor))
		if err != nil {
			return nil, stageError(err, "first header byte")
		}
		if b == HeaderByte {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no header in %d bytes", ErrFramingTimeout, t.ScanLimit)
	}

	b, err := r.readByte(t.Unit)
	if err != nil {
		return nil, stageError(err, "second header byte")
	}
	if b != HeaderByte {
		return nil, fmt.Errorf("%w: second header byte was 0x%02X", ErrFramingError, b)
	}

	if err := r.WaitFor(2, t.Unit*time.Duration(t.HeaderFactor)); err != nil {
		return nil, stageError(err, "id and length")
	}
	idLen, err := r.ReadExact(2)
	if err != nil {
		return nil, err
	}

	length := int(idLen[1])
	perByte := t.Unit * time.Duration(length*t.PayloadFactor)
	for i := 1; i <= length; i++ {
		if err := r.WaitFor(i, perByte); err != nil {
			return nil, stageError(err, "frame body")
		}
	}
	body, err := r.ReadExact(length)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, length+4)
	frame = append(frame, HeaderByte, HeaderByte)
	frame = append(frame, idLen...)
	return append(frame, body...), nil
}

func stageError(err error, stage string) error {
	if errors.Is(err, ErrWaitTimeout) {
		return fmt.Errorf("%w: waiting for %s", ErrFramingTimeout, stage)
	}
	return err
}
