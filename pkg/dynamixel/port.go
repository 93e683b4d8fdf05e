// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dynamixel

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is a half-duplex byte channel to the servo bus. go.bug.st/serial.Port
// satisfies it; so do the websocket bridge and the simulator.
//
// Read must return (0, nil) when the read timeout elapses with no data.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Drain() error
}

// OpenSerialPort opens a serial port at 8N1 with the given baud rate
func OpenSerialPort(portName string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return port, nil
}

// SerialPorts lists the serial ports present on the system
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
