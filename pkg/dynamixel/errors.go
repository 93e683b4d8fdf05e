// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"errors"
	"fmt"
)

// Transport faults. A frame that fails any of these checks was damaged or lost
// on the wire; Link retries the whole exchange when it sees one.
var (
	ErrMalformedHeader  = errors.New("dynamixel: malformed header")
	ErrChecksumMismatch = errors.New("dynamixel: checksum mismatch")
	ErrFramingTimeout   = errors.New("dynamixel: framing timeout")
	ErrFramingError     = errors.New("dynamixel: framing error")
)

// Link and precondition errors. None of these are retried.
var (
	ErrCommunicationFailure     = errors.New("dynamixel: communication failure")
	ErrInvalidID                = errors.New("dynamixel: invalid servo id")
	ErrInvalidParameterValue    = errors.New("dynamixel: invalid parameter value")
	ErrUnexpectedParameterCount = errors.New("dynamixel: unexpected parameter count")
	ErrLinkClosed               = errors.New("dynamixel: link closed")
)

// ErrWaitTimeout is returned by TimedReader.WaitFor when the requested bytes
// did not arrive in time.
var ErrWaitTimeout = errors.New("dynamixel: timed out waiting for bytes")

var errNotBuffered = errors.New("dynamixel: read past buffered data")

// DeviceError reports a status packet that arrived intact but carries one or
// more fault flags raised by the servo itself.
type DeviceError struct {
	Flags ErrorFlags
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	return "dynamixel: device error: " + e.Flags.String()
}

// OpError records which servo operation failed and on which servo id.
type OpError struct {
	Op  string
	ID  int
	Err error
}

// Error implements the error interface
func (e *OpError) Error() string {
	return fmt.Sprintf("%s servo %d: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error
func (e *OpError) Unwrap() error {
	return e.Err
}

// IsTransportFault reports whether err is a wire-level fault (bad header, bad
// checksum, lost or misframed reply) that warrants resending the request.
func IsTransportFault(err error) bool {
	if err == nil || errors.Is(err, ErrCommunicationFailure) {
		return false
	}
	return errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrFramingTimeout) ||
		errors.Is(err, ErrFramingError)
}

// IsDeviceError reports whether err carries servo fault flags and returns them.
func IsDeviceError(err error) (ErrorFlags, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Flags, true
	}
	return 0, false
}
