// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Link exchanges instruction and status packets with the servos on one port.
// It is not safe for concurrent use; callers serialize access.
type Link struct {
	port   Port
	reader *TimedReader
	cfg    *LinkConfig
	stats  *Statistics
	closed bool
}

// Open opens a serial port and returns a Link on it.
func Open(portName string, opts ...LinkOption) (*Link, error) {
	cfg, err := NewLinkConfig(opts...)
	if err != nil {
		return nil, err
	}

	port, err := OpenSerialPort(portName, cfg.BaudRate())
	if err != nil {
		return nil, err
	}

	return newLink(port, cfg), nil
}

// NewLink returns a Link on an already open port. The Link owns the port.
func NewLink(port Port, opts ...LinkOption) (*Link, error) {
	cfg, err := NewLinkConfig(opts...)
	if err != nil {
		return nil, err
	}
	return newLink(port, cfg), nil
}

func newLink(port Port, cfg *LinkConfig) *Link {
	return &Link{
		port:   port,
		reader: NewTimedReader(port),
		cfg:    cfg,
		stats:  NewStatistics(),
	}
}

// Close releases the port. Calling Close more than once is a no-op.
func (l *Link) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.port.Close()
}

// Stats returns a snapshot of the exchange statistics
func (l *Link) Stats() Statistics {
	return *l.stats
}

// Ping checks that servo id answers.
func (l *Link) Ping(ctx context.Context, id int) error {
	_, err := l.interact(ctx, "ping", id, InstPing)
	return err
}

// Reset restores the servo's factory settings. Its id becomes 1.
func (l *Link) Reset(ctx context.Context, id int) error {
	_, err := l.interact(ctx, "reset", id, InstReset)
	return err
}

// RawPosition returns the present encoder position, 0..4095.
func (l *Link) RawPosition(ctx context.Context, id int) (int, error) {
	return l.readWord(ctx, "read position", id, RegPresentPosition)
}

// SetRawPosition sets the goal position, 0..4095.
func (l *Link) SetRawPosition(ctx context.Context, id, position int) error {
	const op = "set position"
	if position < 0 || position > MaxPosition {
		return &OpError{Op: op, ID: id, Err: fmt.Errorf("%w: position %d not in [0, %d]", ErrInvalidParameterValue, position, MaxPosition)}
	}
	return l.writeWord(ctx, op, id, RegGoalPosition, position)
}

// PositionDegrees returns the present position in degrees.
func (l *Link) PositionDegrees(ctx context.Context, id int) (float64, error) {
	raw, err := l.RawPosition(ctx, id)
	if err != nil {
		return 0, err
	}
	return float64(raw) * 360.0 / CountsPerRevolution, nil
}

// SetPositionDegrees sets the goal position in degrees, 0..360.
func (l *Link) SetPositionDegrees(ctx context.Context, id int, deg float64) error {
	if math.IsNaN(deg) || deg < 0 || deg > 360 {
		return &OpError{Op: "set position", ID: id, Err: fmt.Errorf("%w: angle %v not in [0, 360]", ErrInvalidParameterValue, deg)}
	}
	raw := min(int(deg*CountsPerRevolution/360.0), MaxPosition)
	return l.SetRawPosition(ctx, id, raw)
}

// Speed returns the moving speed register, 0..2047.
func (l *Link) Speed(ctx context.Context, id int) (int, error) {
	return l.readWord(ctx, "read speed", id, RegMovingSpeed)
}

// SetSpeed sets the moving speed register. In wheel mode 0 stops the motor,
// bit 10 selects the direction and the low ten bits the magnitude.
func (l *Link) SetSpeed(ctx context.Context, id, speed int) error {
	const op = "set speed"
	if speed < 0 || speed > MaxSpeed {
		return &OpError{Op: op, ID: id, Err: fmt.Errorf("%w: speed %d not in [0, %d]", ErrInvalidParameterValue, speed, MaxSpeed)}
	}
	return l.writeWord(ctx, op, id, RegMovingSpeed, speed)
}

// SetID changes the servo's id. The change persists across power cycles.
func (l *Link) SetID(ctx context.Context, id, newID int) error {
	const op = "set id"
	if err := validateID(newID); err != nil {
		return &OpError{Op: op, ID: id, Err: err}
	}
	pkt, err := NewWriteByte(id, RegID, newID)
	if err != nil {
		return &OpError{Op: op, ID: id, Err: err}
	}
	_, err = l.interact(ctx, op, id, pkt.Instruction(), pkt.Params()...)
	return err
}

// IsMoving reports whether the servo is in motion.
func (l *Link) IsMoving(ctx context.Context, id int) (bool, error) {
	const op = "read moving"
	pkt, err := NewReadData(id, RegMoving, 1)
	if err != nil {
		return false, &OpError{Op: op, ID: id, Err: err}
	}
	status, err := l.interact(ctx, op, id, pkt.Instruction(), pkt.Params()...)
	if err != nil {
		return false, err
	}
	if n := len(status.Params()); n != 1 {
		return false, &OpError{Op: op, ID: id, Err: fmt.Errorf("%w: got %d, want 1", ErrUnexpectedParameterCount, n)}
	}
	return status.Params()[0] != 0, nil
}

func (l *Link) readWord(ctx context.Context, op string, id int, addr uint8) (int, error) {
	pkt, err := NewReadData(id, addr, 2)
	if err != nil {
		return 0, &OpError{Op: op, ID: id, Err: err}
	}
	status, err := l.interact(ctx, op, id, pkt.Instruction(), pkt.Params()...)
	if err != nil {
		return 0, err
	}
	if n := len(status.Params()); n != 2 {
		return 0, &OpError{Op: op, ID: id, Err: fmt.Errorf("%w: got %d, want 2", ErrUnexpectedParameterCount, n)}
	}
	return DecodeWord(status.Params()), nil
}

func (l *Link) writeWord(ctx context.Context, op string, id int, addr uint8, value int) error {
	pkt, err := NewWriteWord(id, addr, value)
	if err != nil {
		return &OpError{Op: op, ID: id, Err: err}
	}
	_, err = l.interact(ctx, op, id, pkt.Instruction(), pkt.Params()...)
	return err
}

// attemptResult classifies the outcome of a single exchange attempt so the
// retry loop can decide whether to retry or stop.
type attemptResult int

const (
	attemptOK    attemptResult = iota // Valid status frame received.
	attemptRetry                      // Transport fault; resend.
	attemptAbort                      // Device error, port error or cancellation.
)

// interact sends one instruction and returns the servo's status reply,
// resending on transport faults up to the retry limit.
func (l *Link) interact(ctx context.Context, op string, id int, inst Instruction, params ...byte) (*StatusPacket, error) {
	if l.closed {
		return nil, &OpError{Op: op, ID: id, Err: ErrLinkClosed}
	}

	frame, err := EncodeInstruction(id, inst, params)
	if err != nil {
		return nil, &OpError{Op: op, ID: id, Err: err}
	}

	limit := l.cfg.RetryLimit()
	timing := l.cfg.Timing()
	logger := l.cfg.Logger()

	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &OpError{Op: op, ID: id, Err: err}
		}

		result, status, err := l.attempt(frame, timing)
		switch result {
		case attemptOK:
			return status, nil
		case attemptAbort:
			return nil, &OpError{Op: op, ID: id, Err: err}
		}

		lastErr = err
		if attempt < limit {
			l.stats.Retries++
			logger.Debug("dynamixel: retrying exchange",
				"op", op, "id", id, "attempt", attempt, "limit", limit, "error", err)
		}
	}

	l.stats.CommFailures++
	logger.Warn("dynamixel: communication failure",
		"op", op, "id", id, "attempts", limit, "error", lastErr)

	return nil, &OpError{Op: op, ID: id, Err: fmt.Errorf("%w after %d attempts: %w", ErrCommunicationFailure, limit, lastErr)}
}

// attempt runs one write/read cycle: clear pending input, send the frame,
// assemble the reply and decode it.
func (l *Link) attempt(frame []byte, timing Timing) (attemptResult, *StatusPacket, error) {
	l.reader.Discard()
	if err := l.port.ResetInputBuffer(); err != nil {
		return attemptAbort, nil, fmt.Errorf("reset input: %w", err)
	}
	if err := writeAll(l.port, frame); err != nil {
		return attemptAbort, nil, fmt.Errorf("write: %w", err)
	}
	if err := l.port.Drain(); err != nil {
		return attemptAbort, nil, fmt.Errorf("drain: %w", err)
	}

	raw, err := l.reader.ReadStatusFrame(timing)
	if err == nil {
		var status *StatusPacket
		status, err = DecodeStatus(raw)
		if err == nil {
			err = status.Err()
			l.stats.Update(err)
			if err != nil {
				return attemptAbort, nil, err
			}
			return attemptOK, status, nil
		}
	}

	l.stats.Update(err)
	if IsTransportFault(err) {
		return attemptRetry, nil, err
	}
	return attemptAbort, nil, err
}

func writeAll(port Port, data []byte) error {
	for len(data) > 0 {
		n, err := port.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("short write")
		}
		data = data[n:]
	}
	return nil
}
