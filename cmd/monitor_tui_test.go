// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/freeloader/pkg/dynamixel"
)

// feed decodes a capture and passes every result to the model like the reader goroutine does
func feed(t *testing.T, m monitorModel, capture ...[]byte) monitorModel {
	t.Helper()
	decoder := dynamixel.NewDecoder()
	for _, chunk := range capture {
		for _, b := range chunk {
			frame, err := decoder.DecodeByte(b)
			if err == nil && frame == nil {
				continue
			}
			next, _ := m.Update(busFrameMsg{frame: frame, decodeErr: err})
			m = next.(monitorModel)
		}
	}
	return m
}

func TestMonitor_TracksServoState(t *testing.T) {
	read, err := dynamixel.NewReadData(3, dynamixel.RegPresentPosition, 2)
	require.NoError(t, err)
	position, err := dynamixel.EncodeStatus(3, 0, []byte{0x00, 0x08})
	require.NoError(t, err)
	speed, err := dynamixel.NewWriteWord(3, dynamixel.RegMovingSpeed, 1087)
	require.NoError(t, err)
	ack, err := dynamixel.EncodeStatus(3, 0, nil)
	require.NoError(t, err)

	m := initialMonitorModel("Simulated", false)
	next, _ := m.Update(busSyncMsg{})
	m = next.(monitorModel)
	m = feed(t, m, read.Bytes(), position, speed.Bytes(), ack)

	sv := m.servos[3]
	require.NotNil(t, sv)
	assert.True(t, sv.hasPosition)
	assert.Equal(t, 2048, sv.position)
	assert.True(t, sv.hasSpeed)
	assert.Equal(t, 1087, sv.speed)
	assert.Empty(t, m.pending)

	assert.Equal(t, uint64(4), m.stats.TotalFrames)
	assert.Equal(t, uint64(4), m.stats.ValidFrames)

	// Errors-only mode logs nothing but the sync event
	require.Len(t, m.errorLog, 1)
	assert.Equal(t, "Synchronized", m.errorLog[0].message)

	view := m.View()
	assert.Contains(t, view, "BUS MONITOR")
	assert.Contains(t, view, "2048")
	assert.Contains(t, view, "1087")
}

func TestMonitor_LogsErrors(t *testing.T) {
	ping, err := dynamixel.NewPing(1)
	require.NoError(t, err)
	overheated, err := dynamixel.EncodeStatus(1, dynamixel.FlagOverheating, nil)
	require.NoError(t, err)
	corrupt := append([]byte(nil), overheated...)
	corrupt[len(corrupt)-1] ^= 0xFF

	m := initialMonitorModel("Simulated", false)
	m = feed(t, m, ping.Bytes(), overheated, corrupt)

	assert.Equal(t, uint64(3), m.stats.TotalFrames)
	assert.Equal(t, uint64(1), m.stats.DeviceErrors)
	assert.Equal(t, uint64(1), m.stats.ChecksumErrors)
	require.Len(t, m.errorLog, 2)
	assert.True(t, m.errorLog[0].isError)
	assert.Contains(t, m.errorLog[0].message, "ID 1 reported")
	assert.Contains(t, m.errorLog[1].message, "DECODE ERROR")
}

func TestMonitor_AllFramesMode(t *testing.T) {
	ping, err := dynamixel.NewPing(7)
	require.NoError(t, err)

	m := initialMonitorModel("Simulated", true)
	m = feed(t, m, ping.Bytes())

	require.Len(t, m.errorLog, 1)
	assert.False(t, m.errorLog[0].isError)
	assert.Contains(t, m.errorLog[0].message, "PING")
	assert.Equal(t, dynamixel.InstPing, m.servos[7].lastInst)
}
